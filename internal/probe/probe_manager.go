package probe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tkjaer/tcplat/internal/shared"
)

const reportBuffer = 16

// ProbeManager runs the measurement cycles: it dispatches one worker per
// address, sleeps for the cycle interval and collects whatever arrived.
type ProbeManager struct {
	// Coordination
	wg       sync.WaitGroup // in-flight workers
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	// Channels
	updates chan shared.ProbeConfiguration
	reports chan shared.CycleReport

	worker *Worker
	now    func() time.Time

	// Reports dropped since the consumer last kept up; only touched by the loop
	dropped uint64

	// Snapshot of the configuration in effect, for readers outside the loop
	mu      sync.RWMutex
	current shared.ProbeConfiguration
	running bool
	cycle   uint64
}

// Option customizes a ProbeManager
type Option func(*ProbeManager)

// WithConnector replaces the TCP connector used by the workers
func WithConnector(c Connector) Option {
	return func(pm *ProbeManager) {
		pm.worker.connector = c
	}
}

// WithClock replaces the clock used for latency measurement and report timestamps
func WithClock(now func() time.Time) Option {
	return func(pm *ProbeManager) {
		pm.now = now
		pm.worker.now = now
	}
}

// NewProbeManager creates a probe manager for the initial configuration
func NewProbeManager(cfg shared.ProbeConfiguration, opts ...Option) (*ProbeManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	pm := &ProbeManager{
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		updates: make(chan shared.ProbeConfiguration, 1),
		reports: make(chan shared.CycleReport, reportBuffer),
		worker:  NewWorker(nil, nil),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(pm)
	}

	pm.current = cfg.Clone()
	pm.current.Nonce = 1

	return pm, nil
}

// Reports returns the channel carrying one report per completed cycle. It is
// closed when Run returns.
func (pm *ProbeManager) Reports() <-chan shared.CycleReport {
	return pm.reports
}

// Configuration returns the configuration used by the most recent cycle
func (pm *ProbeManager) Configuration() shared.ProbeConfiguration {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.current.Clone()
}

// Update queues a replacement configuration. It takes effect at the next cycle
// boundary; an update that has not been picked up yet is replaced.
func (pm *ProbeManager) Update(cfg shared.ProbeConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.Clone()

	for {
		select {
		case pm.updates <- cfg:
			return nil
		default:
		}
		// Drop the stale pending update and retry
		select {
		case old := <-pm.updates:
			slog.Debug("Replacing pending configuration update", "addresses", len(old.Addresses))
		default:
		}
	}
}

// Run executes cycles until Stop is called
func (pm *ProbeManager) Run() error {
	pm.mu.Lock()
	if pm.running {
		pm.mu.Unlock()
		return errors.New("probe manager is already running")
	}
	pm.running = true
	cfg := pm.current.Clone()
	pm.mu.Unlock()

	defer close(pm.done)
	defer close(pm.reports)

	slog.Debug("Starting probe manager",
		"addresses", len(cfg.Addresses),
		"interval", cfg.Interval(),
		"repetitions", cfg.Repetitions,
		"pause", cfg.Pause(),
	)

	for {
		var ok bool
		cfg, ok = pm.runCycle(cfg)
		if !ok {
			break
		}
	}

	// Stragglers were cancelled through pm.ctx, wait for them to notice
	pm.wg.Wait()
	slog.Debug("Probe manager stopped")
	return nil
}

// Stop ends the control loop and cancels in-flight workers
func (pm *ProbeManager) Stop() {
	pm.stopOnce.Do(func() {
		slog.Debug("Stopping probe manager")
		close(pm.stop)
		pm.cancel()
	})

	pm.mu.RLock()
	running := pm.running
	pm.mu.RUnlock()
	if running {
		<-pm.done
	}
}

// runCycle performs one dispatch, sleep, collect and emit round. It returns the
// configuration to use for the next cycle and false once the manager is stopped.
func (pm *ProbeManager) runCycle(cfg shared.ProbeConfiguration) (shared.ProbeConfiguration, bool) {
	select {
	case <-pm.stop:
		return cfg, false
	default:
	}

	// Pick up a pending update without waiting for one
	select {
	case next := <-pm.updates:
		next.Nonce = cfg.Nonce + 1
		cfg = next
		slog.Info("Applied configuration update",
			"nonce", cfg.Nonce,
			"addresses", len(cfg.Addresses),
			"interval", cfg.Interval(),
			"repetitions", cfg.Repetitions,
			"pause", cfg.Pause(),
		)
	default:
	}

	pm.mu.Lock()
	pm.current = cfg.Clone()
	pm.cycle++
	cycle := pm.cycle
	pm.mu.Unlock()

	// Dispatch one worker per address, keeping result channels in address order
	cycleCtx, cancelCycle := context.WithCancel(pm.ctx)
	defer cancelCycle()

	results := make([]chan int64, len(cfg.Addresses))
	for i, addr := range cfg.Addresses {
		results[i] = make(chan int64, 1)
		pm.wg.Add(1)
		go func(addr string, out chan<- int64) {
			defer pm.wg.Done()
			pm.worker.run(cycleCtx, addr, cfg.Repetitions, cfg.Pause(), out)
		}(addr, results[i])
	}

	// Fixed budget, independent of how many workers are done
	timer := time.NewTimer(cfg.Interval())
	select {
	case <-timer.C:
	case <-pm.stop:
		timer.Stop()
		return cfg, false
	}

	report := shared.CycleReport{
		ID:         ulid.Make().String(),
		Cycle:      cycle,
		Nonce:      cfg.Nonce,
		IntervalMs: cfg.IntervalMs,
		Timestamp:  pm.now(),
		Entries:    make([]shared.Entry, len(results)),
	}
	sentinels := 0
	for i, ch := range results {
		entry := shared.Entry{Address: cfg.Addresses[i]}
		select {
		case us := <-ch:
			entry.Value = us
		default:
			// Still running or every attempt failed
			entry.Value = int64(cfg.IntervalMs)
			entry.Sentinel = true
			sentinels++
		}
		report.Entries[i] = entry
	}
	cancelCycle()

	slog.Debug("Cycle complete", "cycle", cycle, "entries", len(report.Entries), "sentinels", sentinels)
	pm.emit(report)

	return cfg, true
}

// emit hands the report to the consumer without blocking the loop
func (pm *ProbeManager) emit(report shared.CycleReport) {
	select {
	case pm.reports <- report:
		if pm.dropped > 0 {
			slog.Info("Report consumer caught up", "dropped", pm.dropped, "cycle", report.Cycle)
			pm.dropped = 0
		}
	default:
		if pm.dropped == 0 {
			slog.Warn("Report consumer is not receiving, dropping cycle reports", "cycle", report.Cycle)
		}
		pm.dropped++
	}
}
