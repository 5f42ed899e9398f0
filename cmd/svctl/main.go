// SPDX-License-Identifier: MIT

// svctl is the control-socket supervisor daemon and its companion
// operator CLI, grounded on the teacher's cmd/lyrebird subcommand
// dispatcher. `run` starts the supervision tree and blocks until
// TERM/INT; the remaining subcommands are one-shot operator tools that
// either talk to a running daemon over its control socket or inspect
// configuration/host state without starting anything.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tomtom215/svctl/internal/config"
	"github.com/tomtom215/svctl/internal/control"
	"github.com/tomtom215/svctl/internal/diagnostics"
	"github.com/tomtom215/svctl/internal/engine"
	"github.com/tomtom215/svctl/internal/lock"
	"github.com/tomtom215/svctl/internal/logging"
	"github.com/tomtom215/svctl/internal/menu"
	"github.com/tomtom215/svctl/internal/supervision"
	"github.com/tomtom215/svctl/internal/util"
)

// Version information (set via ldflags during build).
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

const (
	exitSuccess = 0
	exitError   = 1

	defaultLockPath = "/run/svctl.lock"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}

// run is the subcommand dispatcher, extracted for testability exactly
// as the teacher's cmd/lyrebird does.
func run(args []string) error {
	if len(args) == 0 {
		return runHelp()
	}

	command := args[0]
	commandArgs := args[1:]

	switch command {
	case "help", "--help", "-h":
		return runHelp()
	case "version", "--version", "-v":
		return runVersion()
	case "run":
		return runDaemon(commandArgs)
	case "validate":
		return runValidate(commandArgs)
	case "status":
		return runStatus(commandArgs)
	case "setup":
		return runSetup(commandArgs)
	case "diagnose":
		return runDiagnose(commandArgs)
	case "menu":
		return runMenu(commandArgs)
	default:
		return fmt.Errorf("unknown command: %s (run 'svctl help' for usage)", command)
	}
}

func runHelp() error {
	fmt.Printf(`svctl v%s

USAGE:
    svctl [COMMAND] [OPTIONS]

COMMANDS:
    run          Start the supervisor daemon (foreground)
    validate     Validate a configuration file
    status       Query a running daemon's service status
    setup        Interactive configuration wizard
    diagnose     Run host/daemon diagnostics
    menu         Launch the interactive operator menu
    help         Show this help message
    version      Show version information

OPTIONS:
    -config PATH   Path to configuration file (default: %s)

EXAMPLES:
    svctl run -config /etc/svctl/config.yaml
    svctl validate -config /etc/svctl/config.yaml
    svctl status
    svctl setup
    svctl diagnose -quick
    svctl menu
`, Version, config.DefaultConfigPath)
	return nil
}

func runVersion() error {
	fmt.Printf("svctl\n")
	fmt.Printf("  Version:    %s\n", Version)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
	fmt.Printf("  Built:      %s\n", BuildDate)
	return nil
}

// parseConfigFlag extracts -config=PATH / -config PATH / --config=PATH,
// the same shorthand the teacher's subcommands each parse by hand.
func parseConfigFlag(args []string, def string) string {
	path := def
	for i := 0; i < len(args); i++ {
		switch {
		case strings.HasPrefix(args[i], "-config="):
			path = strings.TrimPrefix(args[i], "-config=")
		case strings.HasPrefix(args[i], "--config="):
			path = strings.TrimPrefix(args[i], "--config=")
		case (args[i] == "-config" || args[i] == "--config") && i+1 < len(args):
			path = args[i+1]
			i++
		}
	}
	return path
}

func hasFlag(args []string, names ...string) bool {
	for _, a := range args {
		for _, n := range names {
			if a == n {
				return true
			}
		}
	}
	return false
}

// runDaemon loads config, builds the supervision tree, and blocks until
// SIGTERM or SIGINT. Either signal cancels the whole tree, so the daemon
// also exits on an INT that arrives while children are still alive.
func runDaemon(args []string) error {
	configPath := parseConfigFlag(args, config.DefaultConfigPath)

	// The daemon is the one place SVCTL_-prefixed environment overrides
	// matter (operators templating a YAML file in a container image and
	// overriding a field or two at deploy time), so it loads through the
	// layered koanf Loader rather than the plain config.Load the one-shot
	// CLI tools below use.
	loader, err := config.NewLoader(config.WithFile(configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg, services, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Forced: config.IsDebugEnv(),
	})

	fl, err := lock.NewFileLock(defaultLockPath)
	if err != nil {
		return fmt.Errorf("failed to create lock: %w", err)
	}
	if err := fl.Acquire(lock.DefaultAcquireTimeout); err != nil {
		return fmt.Errorf("another svctl instance holds %s: %w", defaultLockPath, err)
	}
	defer fl.Release()

	sup := engine.New(engine.Config{Umask: cfg.Global.Umask, Logger: logger}, services)
	defer sup.Close()

	ctl, err := control.NewServer(cfg.Global.Listen, sup, logger)
	if err != nil {
		return fmt.Errorf("failed to bind control socket %q: %w", cfg.Global.Listen, err)
	}

	tree := supervision.New(nil, supervision.DefaultTreeConfig(), sup, ctl, cfg.Global.HealthAddr, supervision.NewHealthHandler(sup))

	ctx := setupSignalHandler()
	logger.Logf(5, "svctl %s starting: listen=%s services=%d", Version, cfg.Global.Listen, len(services))

	util.SafeGo("config-reload", os.Stderr, func() {
		watchReloadSignal(ctx, loader, logger)
	}, nil)

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervision tree exited: %w", err)
	}
	logger.Logf(5, "svctl shutting down")
	return nil
}

// setupSignalHandler mirrors the teacher's signal-driven shutdown,
// cancelling the context on SIGINT/SIGTERM.
func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

// watchReloadSignal re-reads the YAML file and environment on SIGHUP and
// logs what changed. The running engine's service table is built once at
// startup (internal/engine has no apply-new-config path), so a reload
// cannot take effect without a restart; this exists to let an operator
// confirm a templated config or env override resolves the way they
// expect before bouncing the daemon.
func watchReloadSignal(ctx context.Context, loader *config.Loader, logger *logging.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			if err := loader.Reload(); err != nil {
				logger.Logf(2, "config reload failed: %v", err)
				continue
			}
			cfg, services, err := loader.Load()
			if err != nil {
				logger.Logf(2, "config reload failed: %v", err)
				continue
			}
			logger.Logf(5, "config reloaded: listen=%s services=%d (restart to apply)", cfg.Global.Listen, len(services))
		}
	}
}

// runValidate loads and validates a configuration file without
// starting anything, exercising the config loader's full error
// taxonomy (spec §6's fatal-error messages).
func runValidate(args []string) error {
	configPath := parseConfigFlag(args, config.DefaultConfigPath)

	fmt.Printf("Validating configuration: %s\n\n", configPath)

	cfg, services, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("Listen:   %s\n", cfg.Global.Listen)
	fmt.Printf("Services: %d\n", len(services))
	for _, sc := range services {
		fmt.Printf("  - %s: %s\n", sc.Name, sc.Cmd)
	}
	return nil
}

// runStatus dials the control socket, sends "status", prints the
// reply, and exits — the same wire exchange cmd/svctl-client performs.
func runStatus(args []string) error {
	configPath := parseConfigFlag(args, config.DefaultConfigPath)
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	resp, err := dialAndSend(cfg.Global.Listen, "status")
	if err != nil {
		return err
	}
	fmt.Print(resp)
	return nil
}

// dialAndSend writes one line to the control endpoint and returns the
// full reply, per spec §4.3's wire protocol.
func dialAndSend(listen, line string) (string, error) {
	network, address, err := control.ParseEndpoint(listen)
	if err != nil {
		return "", fmt.Errorf("invalid listen endpoint %q: %w", listen, err)
	}
	conn, err := net.DialTimeout(network, address, 5*time.Second)
	if err != nil {
		return "", fmt.Errorf("failed to connect to %s: %w", listen, err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return "", fmt.Errorf("failed to send command: %w", err)
	}

	var sb strings.Builder
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return sb.String(), nil
}

// runSetup runs the interactive huh-based configuration wizard,
// writing a YAML config the loader accepts.
func runSetup(args []string) error {
	configPath := parseConfigFlag(args, config.DefaultConfigPath)

	fmt.Println("svctl Setup Wizard")
	fmt.Println("==================")
	fmt.Println()

	if _, err := os.Stat(configPath); err == nil {
		if !menu.Confirm(os.Stdin, os.Stdout, fmt.Sprintf("Configuration already exists at %s. Overwrite?", configPath)) {
			return fmt.Errorf("setup cancelled")
		}
		backupDir := config.GetBackupDir(configPath)
		if path, err := config.BackupConfig(configPath, backupDir); err == nil {
			fmt.Printf("Backed up existing config to %s\n", path)
		}
	}

	listen := menu.Input(os.Stdin, os.Stdout, "Control socket endpoint (e.g. unix:/run/svctl.sock or 127.0.0.1:9001)")
	if listen == "" {
		listen = "unix:/run/svctl.sock"
	}

	cfg := &config.Config{
		Run:    map[string]config.RawService{},
		Global: config.GlobalConfig{Listen: listen},
		Log:    config.LogConfig{Level: 5},
	}

	for {
		name := menu.Input(os.Stdin, os.Stdout, "Service name (blank to finish)")
		if name == "" {
			break
		}
		cmd := menu.Input(os.Stdin, os.Stdout, fmt.Sprintf("Command for %q", name))
		if cmd == "" {
			fmt.Println("  command cannot be empty, skipping")
			continue
		}
		cfg.Run[name] = config.RawService{Cmd: cmd}
	}

	if len(cfg.Run) == 0 {
		return fmt.Errorf("setup cancelled: no services configured")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", configPath)
	fmt.Println("Run 'svctl validate' to verify it, then 'svctl run' to start.")
	return nil
}

// runDiagnose runs the diagnostics.Runner against the configured
// environment, optionally dialing a live daemon for control-socket and
// service-health checks.
func runDiagnose(args []string) error {
	configPath := parseConfigFlag(args, config.DefaultConfigPath)
	quick := hasFlag(args, "-quick", "--quick")
	asJSON := hasFlag(args, "-json", "--json")

	opts := diagnostics.DefaultOptions()
	opts.ConfigPath = configPath
	if quick {
		opts.Mode = diagnostics.ModeQuick
	}

	if cfg, _, err := config.Load(configPath); err == nil {
		opts.ControlListen = cfg.Global.Listen
		opts.Services = func() []diagnostics.ServiceSnapshot {
			resp, err := dialAndSend(cfg.Global.Listen, "status")
			if err != nil {
				return nil
			}
			return parseStatusSnapshots(resp)
		}
	}

	runner := diagnostics.NewRunner(opts)
	report, err := runner.Run(context.Background())
	if err != nil {
		return fmt.Errorf("diagnostics failed: %w", err)
	}

	if asJSON {
		data, err := report.ToJSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	diagnostics.PrintReport(os.Stdout, report)
	if !report.Healthy {
		os.Exit(exitError)
	}
	return nil
}

// parseStatusSnapshots parses the bare "status" verb's reply — one
// "<name> <state> [pid] [uptime|start_count]" line per service, per
// control/session.go's renderAllStatuses — into ServiceSnapshot values.
func parseStatusSnapshots(resp string) []diagnostics.ServiceSnapshot {
	var out []diagnostics.ServiceSnapshot
	for _, line := range strings.Split(resp, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		out = append(out, diagnostics.ServiceSnapshot{Name: fields[0], State: fields[1]})
	}
	return out
}

// runMenu launches the interactive huh-based operator menu, wiring its
// ServiceAction to the same dial-and-send exchange cmd/svctl-client uses.
func runMenu(args []string) error {
	configPath := parseConfigFlag(args, config.DefaultConfigPath)
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	names := make([]string, 0, len(cfg.Run))
	for name := range cfg.Run {
		names = append(names, name)
	}

	dial := func(verb, name string) (string, error) {
		line := verb
		if name != "" {
			line = verb + " " + name
		}
		return dialAndSend(cfg.Global.Listen, line)
	}

	m := menu.CreateMainMenu(configPath, dial, names)
	return m.Display()
}
