package util

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// DebugLevel controls the verbosity of debug output.
type DebugLevel int

const (
	DebugOff      DebugLevel = 0 // No debug output
	DebugSummary  DebugLevel = 1 // Stage-level timing summaries
	DebugDetailed DebugLevel = 2 // Per-operation detailed timing
)

// Global debug state
var (
	globalDebugLevel  DebugLevel = DebugOff
	globalDebugWriter io.Writer  = os.Stderr
	globalDebugMu     sync.RWMutex
)

func init() {
	switch os.Getenv("DOCRAG_DEBUG") {
	case "1", "summary":
		globalDebugLevel = DebugSummary
	case "2", "detailed":
		globalDebugLevel = DebugDetailed
	}
}

// SetDebugLevel sets the global debug level.
func SetDebugLevel(level DebugLevel) {
	globalDebugMu.Lock()
	defer globalDebugMu.Unlock()
	globalDebugLevel = level
}

// GetDebugLevel returns the current global debug level.
func GetDebugLevel() DebugLevel {
	globalDebugMu.RLock()
	defer globalDebugMu.RUnlock()
	return globalDebugLevel
}

// SetDebugWriter sets the global debug output writer.
func SetDebugWriter(w io.Writer) {
	globalDebugMu.Lock()
	defer globalDebugMu.Unlock()
	globalDebugWriter = w
}

// Debugf prints a debug message if the current level >= minLevel.
func Debugf(minLevel DebugLevel, format string, args ...interface{}) {
	globalDebugMu.RLock()
	level := globalDebugLevel
	writer := globalDebugWriter
	globalDebugMu.RUnlock()

	if level >= minLevel {
		_, _ = fmt.Fprintf(writer, "[DEBUG] "+format+"\n", args...)
	}
}

// Timer measures the duration of an operation.
type Timer struct {
	name  string
	start time.Time
}

// NewTimer creates and starts a new timer.
func NewTimer(name string) *Timer {
	return &Timer{
		name:  name,
		start: time.Now(),
	}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// StopAndLog stops the timer and logs at the specified level.
func (t *Timer) StopAndLog(minLevel DebugLevel) time.Duration {
	elapsed := t.Stop()
	Debugf(minLevel, "%s: %v", t.name, elapsed)
	return elapsed
}

// TimingStats collects per-stage timing for one pipeline invocation.
type TimingStats struct {
	mu     sync.Mutex
	level  DebugLevel
	writer io.Writer
	stages map[string]*stageStats
	order  []string // Preserve insertion order for stages
}

type stageStats struct {
	totalDuration time.Duration
	count         int64
}

// NewTimingStats creates a new timing stats collector.
func NewTimingStats(level DebugLevel) *TimingStats {
	globalDebugMu.RLock()
	writer := globalDebugWriter
	globalDebugMu.RUnlock()
	return &TimingStats{
		level:  level,
		writer: writer,
		stages: make(map[string]*stageStats),
	}
}

// RecordStage records timing for a named stage.
func (s *TimingStats) RecordStage(name string, d time.Duration, count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, exists := s.stages[name]
	if !exists {
		stats = &stageStats{}
		s.stages[name] = stats
		s.order = append(s.order, name)
	}

	stats.totalDuration += d
	stats.count += count
}

// Summary returns a formatted summary of all timing stats.
func (s *TimingStats) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.stages) == 0 {
		return ""
	}

	var totalTime time.Duration
	for _, stats := range s.stages {
		totalTime += stats.totalDuration
	}

	result := "Pipeline stages:\n"
	for _, name := range s.order {
		stats := s.stages[name]
		pct := float64(stats.totalDuration) / float64(totalTime) * 100
		result += fmt.Sprintf("  %-18s %8v (%d items, %.0f%%)\n",
			name+":", stats.totalDuration.Round(time.Millisecond), stats.count, pct)
	}

	return result
}

// PrintSummary prints the timing summary to the configured writer.
func (s *TimingStats) PrintSummary() {
	if s.level < DebugSummary {
		return
	}

	if summary := s.Summary(); summary != "" {
		_, _ = fmt.Fprint(s.writer, "[DEBUG] "+summary)
	}
}
