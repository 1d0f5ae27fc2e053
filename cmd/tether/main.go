package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/five82/tether/internal/app"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseArgs(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "tether: %v\n", err)
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "tether: %v\n", err)
		return 1
	}
	return 0
}

func parseArgs(args []string) (app.Options, error) {
	fs := flag.NewFlagSet("tether", flag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "config file path (default ~/.config/tether/config.toml)")
	prefsPath := fs.String("prefs", "", "UI preferences path (default ~/.config/tether/prefs.toml)")
	poll := fs.String("poll", "", "backend probe interval, in seconds or as a duration (default 5s)")
	listen := fs.StringP("listen", "l", "", "proxy listen address (overrides config)")
	headless := fs.Bool("headless", false, "run without the terminal UI")
	verbose := fs.BoolP("verbose", "v", false, "log at debug level")
	if err := fs.Parse(args); err != nil {
		return app.Options{}, err
	}
	if fs.NArg() > 0 {
		return app.Options{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	every, err := parsePoll(*poll)
	if err != nil {
		return app.Options{}, err
	}
	return app.Options{
		ConfigPath: *configPath,
		PrefsPath:  *prefsPath,
		PollEvery:  every,
		Listen:     *listen,
		Headless:   *headless,
		Verbose:    *verbose,
	}, nil
}

// parsePoll accepts a bare number of seconds or a Go duration.
func parsePoll(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("--poll must not be negative")
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("--poll: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("--poll must not be negative")
	}
	return d, nil
}
