package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/clawinfra/pilink/internal/api"
	"github.com/clawinfra/pilink/internal/service"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

const defaultConfigPath = "pilink.json"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pilink", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath, "Path to config file (.json or .yaml)")
	envFile := fs.String("env-file", ".env", "Optional .env file loaded before the environment is read")
	showVersion := fs.Bool("version", false, "Show version")
	fs.Usage = func() { printUsage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "pilink v%s (built %s)\n", version, buildTime)
		return 0
	}

	api.Version = version

	subCmd := fs.Arg(0)
	rest := fs.Args()
	if len(rest) > 0 {
		rest = rest[1:]
	}

	switch subCmd {
	case "", "start":
		return runStart(*configPath, *envFile, stderr)
	case "token":
		return runToken(rest, *configPath, *envFile, stdout, stderr)
	case "install":
		unit, err := service.NewUnit("pilink", "pilink fleet gateway", *configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		unit.Reloadable = true
		if err := service.Install(unit, stdout); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	case "uninstall":
		if err := service.Uninstall("pilink", stdout); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", subCmd)
		printUsage(stderr, fs)
		return 1
	}
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: pilink [flags] [start|token|install|uninstall]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  start      Run the gateway (default)")
	fmt.Fprintln(w, "  token      Print a signed API token (--subject, --role, --ttl)")
	fmt.Fprintln(w, "  install    Install a systemd unit for the gateway")
	fmt.Fprintln(w, "  uninstall  Remove the systemd unit")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fs.PrintDefaults()
}

func runStart(configPath, envFile string, stderr io.Writer) int {
	app, err := setup(configPath, envFile)
	if err != nil {
		fmt.Fprintf(stderr, "Setup failed: %v\n", err)
		return 1
	}

	if err := app.startServices(); err != nil {
		app.Logger.Error("failed to start services", "error", err)
		app.close()
		return 1
	}

	if err := app.waitForShutdown(); err != nil {
		app.Logger.Error("shutdown error", "error", err)
		return 1
	}
	return 0
}
