package shared

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ProbeConfiguration describes one measurement cycle
type ProbeConfiguration struct {
	Addresses   []string `json:"addrs" yaml:"addresses"`        // host:port, order defines report order
	IntervalMs  uint32   `json:"interval" yaml:"interval_ms"`   // Cycle time budget, also the sentinel value
	Repetitions uint32   `json:"avg_across" yaml:"repetitions"` // Connection attempts per worker per cycle
	PauseMs     uint32   `json:"pause" yaml:"pause_ms"`         // Delay after each attempt
	Nonce       uint32   `json:"nonce" yaml:"-"`                // Configuration generation, set by the probe manager
}

// Interval returns the cycle budget as a duration
func (c ProbeConfiguration) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// Pause returns the inter-attempt pause as a duration
func (c ProbeConfiguration) Pause() time.Duration {
	return time.Duration(c.PauseMs) * time.Millisecond
}

// Clone returns a copy that does not share the address slice
func (c ProbeConfiguration) Clone() ProbeConfiguration {
	c.Addresses = append(make([]string, 0, len(c.Addresses)), c.Addresses...)
	return c
}

// Validate checks the configuration invariants
func (c ProbeConfiguration) Validate() error {
	if c.Repetitions < 1 {
		return errors.New("repetitions must be at least 1")
	}
	for _, addr := range c.Addresses {
		_, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", addr, err)
		}
		if port == "" {
			return fmt.Errorf("invalid address %q: missing port", addr)
		}
	}
	return nil
}

// Entry is the outcome for a single address in one cycle
type Entry struct {
	Address  string `json:"address"`
	Value    int64  `json:"value"`    // Average latency in microseconds, or the sentinel
	Sentinel bool   `json:"sentinel"` // No measurement arrived before collection
}

// CycleReport holds one entry per configured address, in configuration order
type CycleReport struct {
	ID         string    `json:"id"`
	Cycle      uint64    `json:"cycle"`
	Nonce      uint32    `json:"nonce"`
	IntervalMs uint32    `json:"interval_ms"`
	Timestamp  time.Time `json:"timestamp"`
	Entries    []Entry   `json:"entries"`
}

// Values returns the bare value sequence of the report
func (r CycleReport) Values() []int64 {
	values := make([]int64, len(r.Entries))
	for i, e := range r.Entries {
		values[i] = e.Value
	}
	return values
}

// FormatMillis renders microseconds as milliseconds truncated to one decimal,
// e.g. 11000 -> "11.0", 12345 -> "12.3".
func FormatMillis(us int64) string {
	return fmt.Sprintf("%d.%d", us/1000, (us%1000)/100)
}
