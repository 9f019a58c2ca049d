// Package metrics counts what a prune did and reports it through plog.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulschiretz/pgl-snapshot/pkg/plog"
)

// Retention collects snapshot deletion statistics.
type Retention interface {
	AddSnapshotsDeleted(n int64)
	AddSnapshotsFailed(n int64)
	LogSummary(msg string)
	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// RetentionMetrics holds the atomic counters of one prune.
type RetentionMetrics struct {
	SnapshotsDeleted atomic.Int64
	SnapshotsFailed  atomic.Int64

	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

func (m *RetentionMetrics) AddSnapshotsDeleted(n int64) { m.SnapshotsDeleted.Add(n) }
func (m *RetentionMetrics) AddSnapshotsFailed(n int64)  { m.SnapshotsFailed.Add(n) }

// StartProgress logs the counters every interval until StopProgress.
func (m *RetentionMetrics) StartProgress(msg string, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopChan != nil {
		return
	}
	m.stopChan = make(chan struct{})
	m.done = make(chan struct{})

	ticker := time.NewTicker(interval)
	go func(stop, done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary(msg)
			case <-stop:
				return
			}
		}
	}(m.stopChan, m.done)
}

// StopProgress stops the progress goroutine and waits for it to exit.
func (m *RetentionMetrics) StopProgress() {
	m.mu.Lock()
	stop, done := m.stopChan, m.done
	m.stopChan, m.done = nil, nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

func (m *RetentionMetrics) LogSummary(msg string) {
	plog.Info(msg,
		"snapshotsDeleted", m.SnapshotsDeleted.Load(),
		"snapshotsFailed", m.SnapshotsFailed.Load(),
	)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) AddSnapshotsDeleted(n int64)                      {}
func (NoopMetrics) AddSnapshotsFailed(n int64)                       {}
func (NoopMetrics) LogSummary(msg string)                            {}
func (NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (NoopMetrics) StopProgress()                                    {}

var _ Retention = (*RetentionMetrics)(nil)
var _ Retention = NoopMetrics{}
