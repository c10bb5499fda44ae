package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/commcore/internal/config"
	"github.com/mattjoyce/commcore/internal/executors"
)

type checkReport struct {
	Config   string   `json:"config"`
	Passed   bool     `json:"passed"`
	Commands int      `json:"commands"`
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := config.Discover(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	report := checkConfig(path)
	if *strict && len(report.Warnings) > 0 {
		report.Passed = false
	}

	if *jsonOut {
		if code := printJSON(report); code != 0 {
			return code
		}
	} else {
		printCheckReport(report)
	}
	if !report.Passed {
		return 1
	}
	return 0
}

func checkConfig(path string) checkReport {
	report := checkReport{Config: path, Passed: true}

	integrity, err := config.VerifyIntegrity(path)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	} else {
		report.Warnings = append(report.Warnings, integrity.Warnings...)
		report.Errors = append(report.Errors, integrity.Errors...)
	}

	cfg, err := config.Load(path)
	if err != nil {
		// a hash mismatch is already reported above
		if integrity == nil || integrity.Passed {
			report.Errors = append(report.Errors, err.Error())
		}
	} else {
		report.Commands = len(cfg.Commands)
		for _, cmd := range cfg.Commands {
			if err := executors.Check(cmd); err != nil {
				report.Errors = append(report.Errors, err.Error())
			}
			if !cmd.Sync() && cmd.Infinite() && cmd.Executor == "hang" {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("command %q never completes without an external done notice", cmd.Name))
			}
		}
	}

	report.Passed = len(report.Errors) == 0
	return report
}

func printCheckReport(r checkReport) {
	fmt.Printf("Config: %s\n", r.Config)
	fmt.Printf("Commands: %d\n", r.Commands)
	for _, w := range r.Warnings {
		fmt.Printf("  WARN  %s\n", w)
	}
	for _, e := range r.Errors {
		fmt.Printf("  ERROR %s\n", e)
	}
	if r.Passed {
		fmt.Println("Status: Configuration check PASSED.")
	} else {
		fmt.Println("Status: Configuration check FAILED.")
	}
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dryRun := fs.Bool("dry-run", false, "Compute hashes without writing .checksums")
	verbose := fs.Bool("v", false, "List hashed files")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := config.Discover(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	report, err := config.Lock(path, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}

	if *verbose || *dryRun {
		for _, f := range report.Files {
			if !f.Exists {
				fmt.Printf("  missing  %s\n", f.Path)
				continue
			}
			fmt.Printf("  %s  %s\n", f.Hash, f.Filename)
		}
	}
	if *dryRun {
		fmt.Printf("Dry-run: would write %s\n", report.ChecksumPath)
		return 0
	}
	fmt.Printf("Wrote %s\n", report.ChecksumPath)
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	var result any = cfg
	if fs.NArg() > 0 {
		result, err = cfg.GetPath(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	if *jsonOut {
		return printJSON(result)
	}
	data, err := yaml.Marshal(result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render YAML: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

func runConfigSet(args []string) int {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dryRun := fs.Bool("dry-run", false, "Preview changes")
	apply := fs.Bool("apply", false, "Apply changes")

	var kvPair string
	var rest []string
	for _, arg := range args {
		if kvPair == "" && !strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			kvPair = arg
			continue
		}
		rest = append(rest, arg)
	}
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if kvPair == "" {
		fmt.Fprintln(os.Stderr, "Usage: commcore config set <path>=<value> [--dry-run | --apply]")
		return 1
	}
	if *dryRun == *apply {
		fmt.Fprintln(os.Stderr, "Error: exactly one of --dry-run or --apply must be specified for 'config set'.")
		return 1
	}

	path, value, _ := strings.Cut(kvPair, "=")
	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if *dryRun {
		if err := cfg.SetPath(path, value, false); err != nil {
			fmt.Fprintf(os.Stderr, "Dry-run validation failed: %v\n", err)
			return 1
		}
		fmt.Printf("Dry-run: would set %q to %q\n", path, value)
		return 0
	}

	if err := cfg.SetPath(path, value, true); err != nil {
		fmt.Fprintf(os.Stderr, "Apply failed: %v\n", err)
		return 1
	}
	fmt.Printf("Successfully set %q to %q\n", path, value)
	return 0
}

func loadConfigForTool(configPath string) (*config.Config, error) {
	path, err := config.Discover(configPath)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}
