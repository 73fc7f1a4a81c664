// Package main is the entry point for the ticketwatch monitor.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/dshills/ticketwatch/internal/app"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts, watchFor, args := parseFlags()
	if len(args) == 0 {
		usage()
		return 1
	}
	command := args[0]

	application, err := app.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "add":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: ticketwatch add <url> [--watch 'description']")
			return 1
		}
		err = application.Add(ctx, args[1], watchFor)
	case "list":
		err = application.List(ctx)
	case "remove":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: ticketwatch remove <url>")
			return 1
		}
		err = application.Remove(ctx, args[1])
	case "run":
		err = application.Run(ctx)
		if errors.Is(err, app.ErrEmptyWatchlist) {
			fmt.Println("Watchlist is empty. Use 'ticketwatch add <url>' first.")
			return 0
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		usage()
		return 1
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags() (app.Options, string, []string) {
	var opts app.Options
	var watchFor string
	var showVersion bool

	flag.StringVarP(&opts.ConfigPath, "config", "c", "ticketwatch.yaml", "Path to configuration file")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&opts.LogFile, "log-file", "monitor.log", "Mirror logs to this file (empty to disable)")
	flag.StringVarP(&watchFor, "watch", "w", "", "Track a specific event on the page (add only)")
	flag.BoolVarP(&showVersion, "version", "v", false, "Show version information")
	flag.Usage = usage
	flag.Parse()

	if showVersion {
		fmt.Printf("ticketwatch %s (%s)\n", version, commit)
		os.Exit(0)
	}
	return opts, watchFor, flag.Args()
}

func usage() {
	fmt.Fprintf(os.Stderr, "ticketwatch - AI-powered ticket availability monitor\n\n")
	fmt.Fprintf(os.Stderr, "Usage: ticketwatch [options] <command>\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  add <url>       Analyze the page, create or reuse a plugin, start watching\n")
	fmt.Fprintf(os.Stderr, "  list            Show all watched URLs and their current state\n")
	fmt.Fprintf(os.Stderr, "  remove <url>    Stop watching a URL\n")
	fmt.Fprintf(os.Stderr, "  run             Poll all watched URLs until interrupted\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  ticketwatch add https://tickets.example.com/event/123\n")
	fmt.Fprintf(os.Stderr, "  ticketwatch add https://venue.example.com/shows -w 'Spring Tour Osaka'\n")
	fmt.Fprintf(os.Stderr, "  ticketwatch run\n")
}
