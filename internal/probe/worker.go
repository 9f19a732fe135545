package probe

import (
	"context"
	"log/slog"
	"time"
)

// Worker measures connection latency to a single address
type Worker struct {
	connector Connector
	now       func() time.Time
}

// NewWorker returns a worker using the given connector and clock
func NewWorker(c Connector, now func() time.Time) *Worker {
	if c == nil {
		c = TCPConnector{}
	}
	if now == nil {
		now = time.Now
	}
	return &Worker{connector: c, now: now}
}

// Probe performs repetitions connection attempts to address, pausing after each
// one, and returns the average handshake time of the successful attempts in
// microseconds. ok is false when no attempt succeeded.
func (w *Worker) Probe(ctx context.Context, address string, repetitions uint32, pause time.Duration) (us int64, ok bool) {
	var sum time.Duration
	var successes int64

	for range repetitions {
		start := w.now()
		conn, err := w.connector.Connect(ctx, address)
		if err == nil {
			sum += w.now().Sub(start)
			successes++
			conn.Close()
		} else {
			slog.Debug("Connection attempt failed", "address", address, "error", err)
		}

		if !sleep(ctx, pause) {
			slog.Debug("Probe cancelled", "address", address, "successes", successes)
			break
		}
	}

	if successes == 0 {
		return 0, false
	}
	// Average first, then truncate to whole microseconds
	return int64(sum/time.Duration(successes)) / int64(time.Microsecond), true
}

// run probes address and delivers the result on out, which must have room for
// one value. Nothing is sent when every attempt failed.
func (w *Worker) run(ctx context.Context, address string, repetitions uint32, pause time.Duration, out chan<- int64) {
	us, ok := w.Probe(ctx, address, repetitions, pause)
	if !ok {
		return
	}
	select {
	case out <- us:
	default:
		// Collector already moved on
	}
}

// sleep waits for d or until ctx is done. It reports whether the full duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
