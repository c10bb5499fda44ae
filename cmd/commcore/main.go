package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "slot":
		return runSlotNoun(args)
	case "instruction":
		return runInstructionNoun(args)
	case "journal":
		return runJournalNoun(args)

	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: commcore version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		return printJSON(info)
	}

	fmt.Printf("commcore %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`commcore - fixed-capacity command dispatcher

Usage:
  commcore <noun> <action> [flags]

System Commands:
  system start         Run the dispatcher in the foreground
  system status        Show whether a dispatcher is running and its health
  watch                Live slot monitor TUI

Config Commands:
  config check         Validate syntax, executors, and integrity
  config lock          Write .checksums for the config file
  config show [addr]   Print the config, a path, or command:<name>
  config set p=v       Change a value (--dry-run or --apply)

Slot Commands:
  slot list            Show registered slots and their states

Instruction Commands:
  instruction submit   Submit an instruction (--command or --object/--action)
  instruction done     Report completion of an async instruction

Journal Commands:
  journal list         Show recently completed instructions

General:
  version              Show version information
  help                 Show this help message

Use 'commcore <noun> help' for action-specific flags.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if isHelpToken(a) {
			return true
		}
	}
	return false
}

// nounAction splits args into an action and its arguments, handling help.
// ok is false when the caller should return code.
func nounAction(noun string, args []string, actions string) (action string, rest []string, code int, ok bool) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: commcore %s <%s>\n", noun, actions)
		return "", nil, 1, false
	}
	if isHelpToken(args[0]) {
		fmt.Printf("Usage: commcore %s <%s> [flags]\n", noun, actions)
		return "", nil, 0, false
	}
	return args[0], args[1:], 0, true
}

func unknownAction(noun, action string) int {
	fmt.Fprintf(os.Stderr, "Unknown %s action: %s\n", noun, action)
	return 1
}

func runSystemNoun(args []string) int {
	action, rest, code, ok := nounAction("system", args, "start|status|watch")
	if !ok {
		return code
	}
	switch action {
	case "start":
		return runStart(rest)
	case "status":
		return runSystemStatus(rest)
	case "watch":
		return runWatch(rest)
	default:
		return unknownAction("system", action)
	}
}

func runConfigNoun(args []string) int {
	action, rest, code, ok := nounAction("config", args, "check|lock|show|set")
	if !ok {
		return code
	}
	switch action {
	case "check":
		return runConfigCheck(rest)
	case "lock":
		return runConfigLock(rest)
	case "show":
		return runConfigShow(rest)
	case "set":
		return runConfigSet(rest)
	default:
		return unknownAction("config", action)
	}
}

func runSlotNoun(args []string) int {
	action, rest, code, ok := nounAction("slot", args, "list")
	if !ok {
		return code
	}
	switch action {
	case "list":
		return runSlotList(rest)
	default:
		return unknownAction("slot", action)
	}
}

func runInstructionNoun(args []string) int {
	action, rest, code, ok := nounAction("instruction", args, "submit|done")
	if !ok {
		return code
	}
	switch action {
	case "submit":
		return runInstructionSubmit(rest)
	case "done":
		return runInstructionDone(rest)
	default:
		return unknownAction("instruction", action)
	}
}

func runJournalNoun(args []string) int {
	action, rest, code, ok := nounAction("journal", args, "list")
	if !ok {
		return code
	}
	switch action {
	case "list":
		return runJournalList(rest)
	default:
		return unknownAction("journal", action)
	}
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}
