package output

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/tkjaer/tcplat/internal/shared"
)

// TextOutput prints one line per address followed by a blank line per cycle
type TextOutput struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func NewTextOutput(w io.Writer) *TextOutput {
	return &TextOutput{w: bufio.NewWriter(w)}
}

func (t *TextOutput) Report(report shared.CycleReport) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range report.Entries {
		fmt.Fprintf(t.w, "Connection to %s took %s ms.\n", e.Address, shared.FormatMillis(e.Value))
	}
	fmt.Fprintln(t.w)
	_ = t.w.Flush()
}

func (t *TextOutput) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.Flush()
}
