package output

import (
	"errors"
	"testing"

	"github.com/tkjaer/tcplat/internal/shared"
)

// mockOutput is a mock implementation of Output for testing
type mockOutput struct {
	reports    []shared.CycleReport
	closeCalls int
	closeErr   error
}

func (m *mockOutput) Report(report shared.CycleReport) {
	m.reports = append(m.reports, report)
}

func (m *mockOutput) Close() error {
	m.closeCalls++
	return m.closeErr
}

func testReport(cycle uint64) shared.CycleReport {
	return shared.CycleReport{
		ID:         "01HZZZZZZZZZZZZZZZZZZZZZZZ",
		Cycle:      cycle,
		Nonce:      1,
		IntervalMs: 3000,
		Entries: []shared.Entry{
			{Address: "example.com:443", Value: 11000},
			{Address: "192.0.2.1:22", Value: 3000, Sentinel: true},
		},
	}
}

func TestOutputManager_Register(t *testing.T) {
	om := &OutputManager{}
	mock1 := &mockOutput{}
	mock2 := &mockOutput{}

	om.Register(mock1)
	if len(om.outputs) != 1 {
		t.Errorf("Register() outputs count = %d, want 1", len(om.outputs))
	}

	om.Register(mock2)
	if len(om.outputs) != 2 {
		t.Errorf("Register() outputs count = %d, want 2", len(om.outputs))
	}
}

func TestOutputManager_Report(t *testing.T) {
	om := &OutputManager{}
	mock1 := &mockOutput{}
	mock2 := &mockOutput{}
	om.Register(mock1)
	om.Register(mock2)

	om.Report(testReport(7))

	for i, m := range []*mockOutput{mock1, mock2} {
		if len(m.reports) != 1 {
			t.Fatalf("mock%d Report calls = %d, want 1", i+1, len(m.reports))
		}
		if m.reports[0].Cycle != 7 {
			t.Errorf("mock%d cycle = %d, want 7", i+1, m.reports[0].Cycle)
		}
		if len(m.reports[0].Entries) != 2 {
			t.Errorf("mock%d entries = %d, want 2", i+1, len(m.reports[0].Entries))
		}
	}
}

func TestOutputManager_Consume(t *testing.T) {
	om := &OutputManager{}
	mock := &mockOutput{}
	om.Register(mock)

	reports := make(chan shared.CycleReport, 3)
	for i := range 3 {
		reports <- testReport(uint64(i + 1))
	}
	close(reports)

	om.Consume(reports)

	if len(mock.reports) != 3 {
		t.Fatalf("Report calls = %d, want 3", len(mock.reports))
	}
	for i, r := range mock.reports {
		if r.Cycle != uint64(i+1) {
			t.Errorf("report %d cycle = %d, want %d", i, r.Cycle, i+1)
		}
	}
}

func TestOutputManager_Close(t *testing.T) {
	om := &OutputManager{}
	mock1 := &mockOutput{closeErr: errors.New("disk full")}
	mock2 := &mockOutput{}
	om.Register(mock1)
	om.Register(mock2)

	om.Close()

	if mock1.closeCalls != 1 {
		t.Errorf("mock1 Close calls = %d, want 1", mock1.closeCalls)
	}
	if mock2.closeCalls != 1 {
		t.Errorf("mock2 Close calls = %d, want 1 after an earlier output failed", mock2.closeCalls)
	}
}

func TestOutputManager_Empty(t *testing.T) {
	om := &OutputManager{}

	// Should not panic with no outputs
	om.Report(testReport(1))
	om.Close()
}
