package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Serve   *ServeCommand
	Stats   *StatsCommand
	Today   *TodayCommand
	Domains *DomainsCommand
	Pages   *PagesCommand
	Page    *PageCommand
	Export  *ExportCommand
	Clear   *ClearCommand
	Pause   *PauseCommand
	Resume  *ResumeCommand
	Prune   *PruneCommand
	Status  *StatusCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "dwell"
	parser.LongDescription = "Local accounting of the time you actually spend engaged with browser pages."

	cmds := &commands{
		Serve:   &ServeCommand{globals: &globals, version: version},
		Stats:   &StatsCommand{globals: &globals, version: version},
		Today:   &TodayCommand{globals: &globals, version: version},
		Domains: &DomainsCommand{globals: &globals, version: version},
		Pages:   &PagesCommand{globals: &globals, version: version},
		Page:    &PageCommand{globals: &globals, version: version},
		Export:  &ExportCommand{globals: &globals, version: version},
		Clear:   &ClearCommand{globals: &globals, version: version},
		Pause:   &PauseCommand{globals: &globals, version: version},
		Resume:  &ResumeCommand{globals: &globals, version: version},
		Prune:   &PruneCommand{globals: &globals, version: version},
		Status:  &StatusCommand{globals: &globals, version: version},
	}

	parser.AddCommand("serve", "Run the daemon in the foreground", "Run the tracking daemon (local HTTP service) in the foreground.", cmds.Serve)
	parser.AddCommand("stats", "Show today's total and top domains", "Show today's engaged time and the domains with the most engaged time.", cmds.Stats)
	parser.AddCommand("today", "Show today's engaged time", "Show the engaged time attributed to the current day.", cmds.Today)
	parser.AddCommand("domains", "List domains by engaged time", "List domains ordered by total engaged time.", cmds.Domains)
	parser.AddCommand("pages", "List pages by engaged time", "List tracked pages ordered by total engaged time.", cmds.Pages)
	parser.AddCommand("page", "Show one page and its events", "Show a tracked page and its most recent events.", cmds.Page)
	parser.AddCommand("export", "Export all data as JSON", "Export pages, events, sessions and spans as one JSON document.", cmds.Export)
	parser.AddCommand("clear", "Delete ALL tracking data", "Delete ALL tracking data. Destructive operation with safety prompt.", cmds.Clear)
	parser.AddCommand("pause", "Pause tracking", "Pause tracking in the running daemon.", cmds.Pause)
	parser.AddCommand("resume", "Resume tracking", "Resume tracking in the running daemon.", cmds.Resume)
	parser.AddCommand("prune", "Apply event retention", "Delete events older than the retention period. Page totals are kept.", cmds.Prune)
	parser.AddCommand("status", "Show daemon and database status", "Show database statistics and the running daemon's tracking state.", cmds.Status)

	return parser, &globals, cmds
}

// Run is the main entry point for the dwell CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("dwell %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
