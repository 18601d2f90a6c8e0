package dogu

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
	"golang.org/x/term"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: dogu <command> [arguments]")
	colSuccess.Println("Run 'dogu <command> -h' for command options")
	fmt.Println()
	color.Info.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"setup", "", "Interactive first-run tool selection and install"},
		{"install, i", "[-yes] <tool>...", "Install tool(s) and wire their environment"},
		{"uninstall, r", "[-yes] [--self] <tool>...", "Uninstall managed tool(s), or dogu itself"},
		{"list, ls", "[--all]", "List catalog tools and their state"},
		{"update, u", "[-force] [tool...]", "Update dogu itself, or the named managed tools"},
		{"config", "show|get|set|edit|reset", "Inspect or change dogu configuration"},
		{"export", "[file]", "Write the current toolset as a profile"},
		{"import", "[-yes] <file>", "Install and configure tools from a profile"},
		{"mirror", "push|list", "Manage the artifact mirror bucket"},
		{"version, --version", "", "Version information"},
	}

	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		var usageString string
		if c.Args != "" {
			usageString = fmt.Sprintf("  %s %s", c.Cmd, c.Args)
		} else {
			usageString = fmt.Sprintf("  %s", c.Cmd)
		}

		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}

		pad := columnWidth - len(usageString)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))
		color.Info.Println(c.Desc)
	}
	fmt.Println()
}

// markCritical brackets a phase the signal handler must not interrupt on
// the first Ctrl+C (environment writes, renames, ledger updates).
func markCritical() func() {
	isCriticalAtomic.Store(1)
	return func() { isCriticalAtomic.Store(0) }
}

// Main is the CLI entrypoint for cmd/dogu.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-sigs:
				if isCriticalAtomic.Load() == 1 {
					// Block the first signal during a critical phase;
					// a second one forces exit.
					colArrow.Print("\n-> ")
					colError.Printf("Critical operation in progress. Press Ctrl+C AGAIN to force exit NOW.\n")
					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						colError.Printf("Forced immediate exit.\n")
						os.Exit(130)
					case <-time.After(5 * time.Second):
						continue
					case <-ctx.Done():
						return
					}
				} else {
					colArrow.Print("\n-> ")
					color.Danger.Printf("Received %v. Cancelling gracefully\n", sig)
					cancel()
					time.Sleep(100 * time.Millisecond)
					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						color.Danger.Printf("Second interrupt received. Forcing immediate exit.\n")
						os.Exit(130)
					case <-time.After(2 * time.Second):
						colArrow.Print("\n-> ")
						color.Danger.Printf("Graceful shutdown timeout. Exiting.\n")
						os.Exit(0)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if len(os.Args) < 2 {
		printHelp()
		return
	}

	cfg, err := loadConfig(defaultConfigPath())
	if err != nil {
		cPrintf(colWarn, "Warning: config file not fully read: %v\n", err)
	}
	initConfig(cfg)

	store, err := newProfileStore(EnvFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	ledger := loadLedger(StateFile)
	catalog := newCatalog()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	overlay := make(map[string]string)
	UserExec = &Executor{Context: ctx, Interactive: interactive, Env: overlay}
	RootExec = &Executor{Context: ctx, ShouldRunAsRoot: true, Interactive: interactive, Env: overlay}

	// Consent is never implied: without -yes a prompt that cannot be
	// answered (closed stdin, no TTY) counts as a decline.
	ic := &InstallContext{
		Cfg:     cfg,
		Ledger:  ledger,
		Store:   store,
		Exec:    UserExec,
		Overlay: overlay,
	}

	exitCode := runCommand(ctx, os.Args[1], os.Args[2:], cfg, catalog, ic)
	cancel()
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func runCommand(ctx context.Context, cmd string, args []string, cfg *Config, catalog []Installer, ic *InstallContext) int {
	fail := func(err error) int {
		if err == nil {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	switch cmd {
	case "setup":
		return fail(runSetup(ctx, catalog, ic))

	case "install", "i":
		installCmd := flag.NewFlagSet("install", flag.ExitOnError)
		yes := installCmd.Bool("yes", false, "Answer yes to every prompt.")
		installCmd.Parse(args)
		if installCmd.NArg() == 0 {
			fmt.Fprintln(os.Stderr, "Usage: dogu install [-yes] <tool>...")
			return 1
		}
		ic.Yes = ic.Yes || *yes
		defer markCritical()()
		return fail(installMany(ctx, catalog, ic, installCmd.Args()))

	case "uninstall", "r":
		uninstallCmd := flag.NewFlagSet("uninstall", flag.ExitOnError)
		yes := uninstallCmd.Bool("yes", false, "Answer yes to every prompt.")
		self := uninstallCmd.Bool("self", false, "Uninstall dogu itself.")
		uninstallCmd.Parse(args)
		ic.Yes = ic.Yes || *yes
		if *self {
			defer markCritical()()
			return fail(selfUninstall(ic))
		}
		if uninstallCmd.NArg() == 0 {
			fmt.Fprintln(os.Stderr, "Usage: dogu uninstall [-yes] [--self] <tool>...")
			return 1
		}
		defer markCritical()()
		return fail(uninstallMany(ctx, catalog, ic, uninstallCmd.Args()))

	case "list", "ls":
		listCmd := flag.NewFlagSet("list", flag.ExitOnError)
		all := listCmd.Bool("all", false, "Include tools that are not installed.")
		listCmd.Parse(args)
		return fail(runList(ctx, catalog, ic, *all))

	case "update", "u":
		updateCmd := flag.NewFlagSet("update", flag.ExitOnError)
		force := updateCmd.Bool("force", false, "Reinstall even when already at the latest version.")
		tools := updateCmd.Bool("tools", false, "Update every managed tool instead of dogu itself.")
		updateCmd.Parse(args)
		defer markCritical()()
		if *tools || updateCmd.NArg() > 0 {
			return fail(updateManagedTools(ctx, catalog, ic, updateCmd.Args()))
		}
		return fail(selfUpdate(ctx, *force))

	case "config":
		return fail(runConfigCommand(cfg, args))

	case "export":
		path := "dogu-profile.yaml"
		if len(args) > 0 {
			path = args[0]
		}
		return fail(exportProfile(ctx, path, catalog, ic))

	case "import":
		importCmd := flag.NewFlagSet("import", flag.ExitOnError)
		yes := importCmd.Bool("yes", false, "Answer yes to every prompt.")
		importCmd.Parse(args)
		if importCmd.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "Usage: dogu import [-yes] <file>")
			return 1
		}
		ic.Yes = ic.Yes || *yes
		defer markCritical()()
		return fail(importProfile(ctx, importCmd.Arg(0), catalog, ic))

	case "mirror":
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: dogu mirror push <file|tool>... | dogu mirror list")
			return 1
		}
		switch args[0] {
		case "push":
			return fail(runMirrorPush(ctx, cfg, catalog, args[1:]))
		case "list":
			return fail(runMirrorList(ctx))
		default:
			fmt.Fprintf(os.Stderr, "Unknown mirror subcommand %q\n", args[0])
			return 1
		}

	case "version", "--version":
		colNote.Printf("dogu %s (%s) built %s\n", version, arch, buildDate)
		return 0

	case "help", "-h", "--help":
		printHelp()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		printHelp()
		return 1
	}
}

func runConfigCommand(cfg *Config, args []string) error {
	if len(args) == 0 {
		configShow(cfg)
		return nil
	}
	switch args[0] {
	case "show":
		configShow(cfg)
		return nil
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: dogu config get <key>")
		}
		return configGet(cfg, args[1])
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: dogu config set <key> <value>")
		}
		if !knownConfigKey(args[1]) {
			return fmt.Errorf("unknown config key %q", args[1])
		}
		if err := setConfigValue(ConfigFile, args[1], args[2]); err != nil {
			return err
		}
		cPrintf(colSuccess, "%s updated.\n", args[1])
		return nil
	case "edit":
		return configEdit(ConfigFile)
	case "reset":
		if err := configReset(ConfigFile); err != nil {
			return err
		}
		cPrintln(colSuccess, "Configuration reset to the commented template.")
		return nil
	default:
		return fmt.Errorf("unknown config subcommand %q", args[0])
	}
}

// runList prints one line per catalog tool. Managed installs show their
// recorded path; external ones just the probed version. Without --all,
// absent tools are elided.
func runList(ctx context.Context, catalog []Installer, ic *InstallContext, all bool) error {
	results := detectAll(ctx, catalog, ic.Ledger)

	var lines []string
	shown := 0
	for i, tool := range catalog {
		info := tool.Info()
		res := results[i]
		if res.State == StateNotInstalled && !all {
			continue
		}
		shown++
		switch res.State {
		case StateManaged:
			rec, _ := ic.Ledger.get(info.ID)
			lines = append(lines, fmt.Sprintf("  %-14s %-12s managed   %s", info.ID, res.Version, rec.InstallPath))
		case StateExternal:
			ver := res.Version
			if ver == "" {
				ver = "unknown"
			}
			lines = append(lines, fmt.Sprintf("  %-14s %-12s external", info.ID, ver))
		default:
			lines = append(lines, fmt.Sprintf("  %-14s %-12s %s", info.ID, "-", info.Description))
		}
	}

	if shown == 0 {
		cPrintln(colNote, "No tools installed yet. Run \"dogu setup\" or \"dogu install <tool>\".")
		return nil
	}

	header := fmt.Sprintf("  %-14s %-12s state", "tool", "version")
	return runPager("dogu tools", append([]string{header}, lines...))
}
