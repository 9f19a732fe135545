package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/tkjaer/tcplat/internal/config"
	"github.com/tkjaer/tcplat/internal/output"
	"github.com/tkjaer/tcplat/internal/probe"
	"github.com/tkjaer/tcplat/internal/server"
	"github.com/tkjaer/tcplat/internal/shared"
)

func main() {
	args, err := config.ParseArgs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	mode := args.OutputMode(term.IsTerminal(int(os.Stdout.Fd())))

	// Setup logging
	logFile, err := config.SetupLogging(args, mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logging: %v\n", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	if err := run(args, mode); err != nil {
		slog.Error("tcplat failed", "err", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if logFile != nil {
			logFile.Close()
		}
		os.Exit(1)
	}
	slog.Debug("tcplat stopped")
}

func run(args config.Args, mode string) error {
	cfg, err := initialConfiguration(args)
	if err != nil {
		return err
	}

	slog.Debug("Starting TCP connect latency probe",
		"addresses", cfg.Addresses,
		"interval_ms", cfg.IntervalMs,
		"repetitions", cfg.Repetitions,
		"pause_ms", cfg.PauseMs,
		"output", mode,
	)

	pm, err := probe.NewProbeManager(cfg, probe.WithConnector(probe.TCPConnector{Timeout: args.ConnectTimeout}))
	if err != nil {
		return fmt.Errorf("failed to create probe manager: %w", err)
	}

	outs, err := setupOutputs(args, mode)
	if err != nil {
		return err
	}
	if outs.tui != nil {
		outs.tui.Start()
	}

	consumed := make(chan struct{})
	go func() {
		outs.manager.Consume(pm.Reports())
		close(consumed)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Run only returns after Stop; cancel the group so the other members exit
		defer stop()
		return pm.Run()
	})

	if args.Listen != "" {
		srv := server.New(args.Listen, server.Handlers{
			Gatherer: outs.metrics.Registry(),
			LiveFeed: outs.ws,
			Probes:   pm,
		})
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	if args.ConfigFile != "" {
		g.Go(func() error {
			watchReload(gctx, args.ConfigFile, pm)
			return nil
		})
	}

	var quit <-chan struct{}
	if outs.tui != nil {
		quit = outs.tui.QuitChan()
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			slog.Debug("Received interrupt signal, stopping...")
		case <-quit:
			slog.Debug("TUI quit, stopping...")
		}
		pm.Stop()
		return nil
	})

	err = g.Wait()
	<-consumed
	outs.manager.Close()
	return err
}

// initialConfiguration loads the probe file when one is given, else uses the flags
func initialConfiguration(args config.Args) (shared.ProbeConfiguration, error) {
	if args.ConfigFile == "" {
		return args.ProbeConfiguration(), nil
	}
	return config.LoadProbeFile(args.ConfigFile)
}

type outputs struct {
	manager *output.OutputManager
	tui     *output.TUIOutput
	metrics *output.MetricsOutput
	ws      *output.WebSocketOutput
}

func setupOutputs(args config.Args, mode string) (outputs, error) {
	outs := outputs{manager: &output.OutputManager{}}

	switch mode {
	case "json":
		jsonOut, err := output.NewJSONOutput("")
		if err != nil {
			return outs, err
		}
		outs.manager.Register(jsonOut)
	case "tui":
		outs.tui = output.NewTUIOutput()
		outs.manager.Register(outs.tui)
	default:
		outs.manager.Register(output.NewTextOutput(os.Stdout))
	}

	if args.JsonFile != "" {
		jsonOut, err := output.NewJSONOutput(args.JsonFile)
		if err != nil {
			outs.manager.Close()
			return outs, fmt.Errorf("failed to create JSON output: %w", err)
		}
		outs.manager.Register(jsonOut)
	}

	if args.Listen != "" {
		outs.metrics = output.NewMetricsOutput()
		outs.ws = output.NewWebSocketOutput()
		outs.manager.Register(outs.metrics)
		outs.manager.Register(outs.ws)
	}

	return outs, nil
}

// updater accepts a new probe configuration for the next cycle
type updater interface {
	Update(cfg shared.ProbeConfiguration) error
}

// reload re-reads the probe file and hands it to the probe manager. A
// broken file keeps the current configuration.
func reload(path string, u updater) {
	cfg, err := config.LoadProbeFile(path)
	if err != nil {
		slog.Error("Failed to reload probe file, keeping current configuration", "path", path, "err", err)
		return
	}
	if err := u.Update(cfg); err != nil {
		slog.Error("Probe configuration rejected", "path", path, "err", err)
		return
	}
	slog.Info("Probe file reloaded", "path", path, "addresses", len(cfg.Addresses))
}
