package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/tkjaer/tcplat/internal/shared"
	"github.com/tkjaer/tcplat/internal/version"
)

// DefaultAddresses are probed when neither addresses nor a probe file are given
var DefaultAddresses = []string{"google.com:80", "8.8.8.8:53"}

type Args struct {
	Addresses  []string
	ConfigFile string // YAML probe file, re-read on SIGHUP

	// Timing
	Interval       time.Duration
	Repetitions    uint
	Pause          time.Duration
	ConnectTimeout time.Duration

	// Output
	Json     bool   // output json to stdout
	JsonFile string // output json to file alongside the console output
	TUI      bool
	NoTUI    bool
	Listen   string // HTTP listen address for metrics, websocket and API

	// Logging
	Log      string // log file path, empty means no logging
	LogLevel string // log level: debug, info, warn, error
}

func ParseArgs() (Args, error) {
	var args Args
	var showVersion bool

	flag.Usage = func() {
		println("tcplat - TCP connect latency monitor")
		println()
		println("Measures TCP handshake time to a set of endpoints and reports a per-endpoint average every interval.")
		println()
		println("Usage:")
		println("  tcplat [OPTIONS] [HOST:PORT...]")
		println()
		println("Examples:")
		println("  tcplat                                   # Probe google.com:80 and 8.8.8.8:53")
		println("  tcplat -i 5s -r 5 example.com:443        # 5 attempts per 5 second cycle")
		println("  tcplat -J example.com:443                # JSON lines to stdout")
		println("  tcplat -c probes.yaml --listen :8080     # Probe file, reload with SIGHUP, serve metrics")
		println()
		println("Options:")
		flag.PrintDefaults()
	}

	flag.BoolVarP(&showVersion, "version", "v", false, "Show version information")
	flag.StringVarP(&args.ConfigFile, "config", "c", "", "YAML probe file (reloaded on SIGHUP)")
	flag.DurationVarP(&args.Interval, "interval", "i", 3*time.Second, "Cycle interval; results not ready by then are reported as the interval in ms")
	flag.UintVarP(&args.Repetitions, "repetitions", "r", 3, "Connection attempts averaged per address per cycle")
	flag.DurationVarP(&args.Pause, "pause", "p", 100*time.Millisecond, "Pause after each connection attempt")
	flag.DurationVarP(&args.ConnectTimeout, "connect-timeout", "t", 0, "Timeout for a single connection attempt (0 = OS default)")
	flag.BoolVarP(&args.Json, "json", "J", false, "Write JSON output to stdout (disables TUI)")
	flag.StringVarP(&args.JsonFile, "json-file", "j", "", "Write JSON output to file")
	flag.BoolVar(&args.TUI, "tui", false, "Force the interactive display")
	flag.BoolVar(&args.NoTUI, "no-tui", false, "Print plain text even on a terminal")
	flag.StringVar(&args.Listen, "listen", "", "HTTP address for /metrics, /ws and /api (empty = disabled)")
	flag.StringVarP(&args.Log, "log", "l", "", "Diagnostic log file (empty = no logging in TUI mode)")
	flag.StringVar(&args.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	if showVersion {
		fmt.Println(version.FullVersion())
		os.Exit(0)
	}

	args.Addresses = flag.Args()
	timingChanged := flag.CommandLine.Changed("interval") ||
		flag.CommandLine.Changed("repetitions") ||
		flag.CommandLine.Changed("pause")

	switch {
	case args.ConfigFile != "" && (len(args.Addresses) > 0 || timingChanged):
		return args, errors.New("cannot combine --config with addresses or timing flags")
	case args.Json && args.JsonFile != "":
		return args, errors.New("cannot use both --json and --json-file")
	case args.TUI && args.NoTUI:
		return args, errors.New("cannot use both --tui and --no-tui")
	case args.TUI && args.Json:
		return args, errors.New("cannot use --tui with --json")
	case args.Repetitions < 1:
		return args, errors.New("repetitions must be at least 1")
	case args.Repetitions > math.MaxUint32:
		return args, errors.New("repetitions is too large")
	case args.Interval < 0 || args.Pause < 0 || args.ConnectTimeout < 0:
		return args, errors.New("durations must not be negative")
	case (args.Interval > 0 && args.Interval < time.Millisecond) || (args.Pause > 0 && args.Pause < time.Millisecond):
		return args, errors.New("interval and pause must be 0 or at least 1ms")
	case args.Interval.Milliseconds() > math.MaxUint32 || args.Pause.Milliseconds() > math.MaxUint32:
		return args, errors.New("interval and pause must fit in 32-bit milliseconds")
	}

	if args.Listen != "" {
		if _, _, err := net.SplitHostPort(args.Listen); err != nil {
			return args, errors.New("listen address must be host:port or :port")
		}
	}

	if args.ConfigFile == "" && len(args.Addresses) == 0 {
		args.Addresses = append([]string(nil), DefaultAddresses...)
	}

	return args, nil
}

// ProbeConfiguration builds the initial probe configuration from the flags
func (a Args) ProbeConfiguration() shared.ProbeConfiguration {
	return shared.ProbeConfiguration{
		Addresses:   append([]string(nil), a.Addresses...),
		IntervalMs:  uint32(a.Interval.Milliseconds()),
		Repetitions: uint32(a.Repetitions),
		PauseMs:     uint32(a.Pause.Milliseconds()),
	}
}

// UseTUI reports whether the interactive display should be shown
func (a Args) UseTUI(isTerminal bool) bool {
	switch {
	case a.TUI:
		return true
	case a.NoTUI, a.Json:
		return false
	}
	return isTerminal
}

// OutputMode returns the console mode: "tui", "json" or "text"
func (a Args) OutputMode(isTerminal bool) string {
	if a.Json {
		return "json"
	}
	if a.UseTUI(isTerminal) {
		return "tui"
	}
	return "text"
}
