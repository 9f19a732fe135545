package output

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/tkjaer/tcplat/internal/shared"
)

// JSONOutput writes one JSON object per cycle report to a file or stdout
type JSONOutput struct {
	mu       sync.Mutex
	file     io.WriteCloser
	enc      sonic.Encoder
	toStdout bool
}

func NewJSONOutput(filename string) (*JSONOutput, error) {
	if filename == "" {
		return &JSONOutput{
			file:     os.Stdout,
			enc:      sonic.ConfigDefault.NewEncoder(os.Stdout),
			toStdout: true,
		}, nil
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return &JSONOutput{
		file:     f,
		enc:      sonic.ConfigDefault.NewEncoder(f),
		toStdout: false,
	}, nil
}

func (j *JSONOutput) Report(report shared.CycleReport) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.enc.Encode(report); err != nil {
		slog.Warn("Failed to write JSON report", "cycle", report.Cycle, "err", err)
	}
}

func (j *JSONOutput) Close() error {
	if j.toStdout {
		return nil
	}
	return j.file.Close()
}
