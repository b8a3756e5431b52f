// Package metrics collects counters for ingestion runs. Counters use atomic
// operations so concurrent attempts can update them without coordination.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics tracks pipeline activity across all ingestion attempts in the
// process.
type Metrics struct {
	runsCompleted int64
	runsFailed    int64
	runsDuplicate int64
	rowsCommitted int64

	startTime time.Time
}

func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RunCompleted records a run that committed all rows.
func (m *Metrics) RunCompleted(rows int) {
	atomic.AddInt64(&m.runsCompleted, 1)
	atomic.AddInt64(&m.rowsCommitted, int64(rows))
}

// RunFailed records a run that ended in the failed ledger state.
func (m *Metrics) RunFailed() {
	atomic.AddInt64(&m.runsFailed, 1)
}

// RunDuplicate records an attempt short-circuited by the idempotency ledger.
func (m *Metrics) RunDuplicate() {
	atomic.AddInt64(&m.runsDuplicate, 1)
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	RunsCompleted int64         `json:"runsCompleted"`
	RunsFailed    int64         `json:"runsFailed"`
	RunsDuplicate int64         `json:"runsDuplicate"`
	RowsCommitted int64         `json:"rowsCommitted"`
	Uptime        time.Duration `json:"uptime"`
}

// Read returns the current counter values.
func (m *Metrics) Read() Snapshot {
	return Snapshot{
		RunsCompleted: atomic.LoadInt64(&m.runsCompleted),
		RunsFailed:    atomic.LoadInt64(&m.runsFailed),
		RunsDuplicate: atomic.LoadInt64(&m.runsDuplicate),
		RowsCommitted: atomic.LoadInt64(&m.rowsCommitted),
		Uptime:        time.Since(m.startTime),
	}
}
