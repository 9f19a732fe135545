package output

import (
	"log/slog"

	"github.com/tkjaer/tcplat/internal/shared"
)

// Output interface for different output types
type Output interface {
	Report(report shared.CycleReport)
	Close() error
}

// OutputManager manages multiple outputs
type OutputManager struct {
	outputs []Output
}

func (om *OutputManager) Register(o Output) {
	om.outputs = append(om.outputs, o)
}

func (om *OutputManager) Report(report shared.CycleReport) {
	for _, o := range om.outputs {
		o.Report(report)
	}
}

// Consume forwards reports to every output until the channel is closed
func (om *OutputManager) Consume(reports <-chan shared.CycleReport) {
	for report := range reports {
		om.Report(report)
	}
	slog.Debug("Report channel closed, output manager done")
}

func (om *OutputManager) Close() {
	for _, o := range om.outputs {
		if err := o.Close(); err != nil {
			slog.Warn("Failed to close output", "err", err)
		}
	}
}
