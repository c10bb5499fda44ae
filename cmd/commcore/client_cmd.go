package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/commcore/internal/api"
	"github.com/mattjoyce/commcore/internal/comm"
	"github.com/mattjoyce/commcore/internal/config"
	"github.com/mattjoyce/commcore/internal/lock"
	"github.com/mattjoyce/commcore/internal/tui"
)

// EnvToken overrides the bearer token used by client commands.
const EnvToken = "COMMCORE_TOKEN"

type clientFlags struct {
	config string
	url    string
	token  string

	cfg *config.Config
}

func (c *clientFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "Path to configuration file or directory")
	fs.StringVar(&c.url, "api", "", "API base URL (default from config api.listen)")
	fs.StringVar(&c.token, "token", "", "Bearer token (default $"+EnvToken+" or config api_key)")
}

// client resolves the API address and token, reading the config only for
// what the flags leave out.
func (c *clientFlags) client() (*api.Client, error) {
	token := c.token
	if token == "" {
		token = os.Getenv(EnvToken)
	}
	if c.url == "" || token == "" {
		cfg, err := loadConfigForTool(c.config)
		if err != nil {
			return nil, fmt.Errorf("resolve API settings: %w", err)
		}
		c.cfg = cfg
		if c.url == "" {
			if !cfg.API.Enabled {
				return nil, errors.New("api is disabled in config; pass --api")
			}
			c.url = "http://" + cfg.API.Listen
		}
		if token == "" {
			token = cfg.API.Auth.APIKey
		}
	}
	return api.NewClient(c.url, token), nil
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	var cf clientFlags
	cf.register(fs)
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(cf.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	type status struct {
		PID     int                  `json:"pid,omitempty"`
		Running bool                 `json:"running"`
		Health  *api.HealthzResponse `json:"health,omitempty"`
		Error   string               `json:"error,omitempty"`
	}
	var st status

	st.PID, st.Running, err = lock.Status(getPIDLockPath(cfg))
	if err != nil {
		st.Error = err.Error()
	}
	if st.Running && cfg.API.Enabled {
		cf.cfg = cfg
		if cf.url == "" {
			cf.url = "http://" + cfg.API.Listen
		}
		c, err := cf.client()
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			h, herr := c.Health(ctx)
			cancel()
			if herr == nil {
				st.Health = &h
			} else {
				st.Error = herr.Error()
			}
		}
	}

	if *jsonOut {
		if code := printJSON(st); code != 0 {
			return code
		}
	} else {
		if !st.Running {
			fmt.Println("Status: stopped")
		} else {
			fmt.Printf("Status: running (pid %d)\n", st.PID)
		}
		if h := st.Health; h != nil {
			fmt.Printf("Uptime: %s\n", time.Duration(h.UptimeSeconds)*time.Second)
			fmt.Printf("Slots: %d/%d registered, %d in flight\n", h.Registered, h.Capacity, h.InFlight)
			if h.Stats != nil {
				fmt.Printf("Outcomes: %d dispatched, %d completed, %d failed, %d timed out\n",
					h.Stats.Dispatched, h.Stats.Completed, h.Stats.Failed, h.Stats.TimedOut)
			}
		}
		if st.Error != "" {
			fmt.Fprintf(os.Stderr, "Error: %s\n", st.Error)
		}
	}
	if !st.Running {
		return 1
	}
	return 0
}

func runSlotList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	var cf clientFlags
	cf.register(fs)
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	c, err := cf.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	resp, err := c.Slots(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "List slots failed: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(resp)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tCOMMAND\tOBJ\tACT\tMODE\tSTATE\tELAPSED\tTIMEOUT")
	for _, s := range resp.Slots {
		mode := "async"
		if s.Sync {
			mode = "sync"
		}
		timeout := strconv.FormatUint(uint64(s.TimeoutTicks), 10)
		if s.TimeoutTicks == comm.InfiniteTicks {
			timeout = "none"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\t%s\t%d\t%s\n",
			s.Index, orDash(s.Command), s.Object, s.Action, mode, s.State, s.ElapsedTicks, timeout)
	}
	_ = tw.Flush()
	fmt.Printf("%d of %d slots registered\n", len(resp.Slots), resp.Capacity)
	return 0
}

func runInstructionSubmit(args []string) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	var cf clientFlags
	cf.register(fs)
	command := fs.String("command", "", "Configured command name (resolves object and action)")
	object := fs.Uint("object", 0, "Object code (0-255)")
	action := fs.Uint("action", 0, "Action code (0-255)")
	para1 := fs.Uint64("para1", 0, "First parameter")
	para2 := fs.Uint64("para2", 0, "Second parameter")
	paraNum := fs.Int("para-num", -1, "Parameter count (default: number of para flags given)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	req, err := buildSubmitRequest(fs, &cf, *command, *object, *action, *para1, *para2, *paraNum)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	c, err := cf.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	resp, err := c.Submit(context.Background(), req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Submit failed: %v\n", err)
		return 1
	}
	fmt.Printf("accepted: slot %d %s\n", resp.Slot, resp.Command)
	return 0
}

func buildSubmitRequest(fs *flag.FlagSet, cf *clientFlags, command string, object, action uint, para1, para2 uint64, paraNum int) (api.SubmitRequest, error) {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var req api.SubmitRequest
	if command != "" {
		if set["object"] || set["action"] {
			return req, errors.New("--command cannot be combined with --object/--action")
		}
		cfg := cf.cfg
		if cfg == nil {
			var err error
			if cfg, err = loadConfigForTool(cf.config); err != nil {
				return req, err
			}
			cf.cfg = cfg
		}
		cmd, ok := cfg.Command(command)
		if !ok {
			return req, fmt.Errorf("command %q not found in config", command)
		}
		req.Object, req.Action = cmd.Object, cmd.Action
	} else {
		if !set["object"] || !set["action"] {
			return req, errors.New("either --command or both --object and --action are required")
		}
		if object > 255 || action > 255 {
			return req, errors.New("object and action must be 0-255")
		}
		req.Object, req.Action = uint8(object), uint8(action)
	}

	if para1 > uint64(^uint32(0)) || para2 > uint64(^uint32(0)) {
		return req, errors.New("parameters must fit in 32 bits")
	}
	req.Para1, req.Para2 = uint32(para1), uint32(para2)

	switch {
	case paraNum > 255:
		return req, errors.New("--para-num must be 0-255")
	case paraNum >= 0:
		req.ParaNum = uint8(paraNum)
	case set["para2"]:
		req.ParaNum = 2
	case set["para1"]:
		req.ParaNum = 1
	}
	return req, nil
}

func runInstructionDone(args []string) int {
	fs := flag.NewFlagSet("done", flag.ContinueOnError)
	var cf clientFlags
	cf.register(fs)
	slot := fs.Int("slot", -1, "Slot index")
	code := fs.String("code", "0", "Result code (decimal or 0x hex)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *slot < 0 {
		fmt.Fprintln(os.Stderr, "Usage: commcore instruction done --slot N [--code C]")
		return 1
	}
	result, err := strconv.ParseUint(strings.TrimSpace(*code), 0, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --code %q: %v\n", *code, err)
		return 1
	}

	c, err := cf.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := c.NotifyDone(context.Background(), *slot, uint32(result)); err != nil {
		fmt.Fprintf(os.Stderr, "Done failed: %v\n", err)
		return 1
	}
	fmt.Printf("notified: slot %d code %d\n", *slot, result)
	return 0
}

func runJournalList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	var cf clientFlags
	cf.register(fs)
	limit := fs.Int("limit", 20, "Number of entries")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	c, err := cf.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	entries, err := c.Journal(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Journal failed: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(entries)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPLETED\tSLOT\tCOMMAND\tOBJ\tACT\tOUTCOME\tCODE\tDURATION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%s\t0x%08X\t%s\n",
			e.CompletedAt.Local().Format(time.DateTime), e.Slot, orDash(e.Command),
			e.Object, e.Action, e.Outcome, e.Code, e.Duration().Round(time.Microsecond))
	}
	_ = tw.Flush()
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	var cf clientFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	c, err := cf.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	if err := tui.Run(ctx, c); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Watch failed: %v\n", err)
		return 1
	}
	return 0
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
