package performance

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Profiler collects timing metrics for named operations. A nil or disabled
// profiler is safe to use everywhere and records nothing.
type Profiler struct {
	mu        sync.RWMutex
	metrics   map[string]*Metric
	enabled   bool
	startTime time.Time
}

// Metric holds accumulated statistics for one operation name.
type Metric struct {
	Name      string
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
	LastTime  time.Duration
	LastCall  time.Time
}

// NewProfiler creates a profiler. When enabled is false every call is a
// no-op, so callers never need to guard their instrumentation.
func NewProfiler(enabled bool) *Profiler {
	return &Profiler{
		metrics:   make(map[string]*Metric),
		enabled:   enabled,
		startTime: time.Now(),
	}
}

// Track starts timing the named operation and returns the function that
// stops it. Intended for use with defer:
//
//	defer profiler.Track("service.save_chunk")()
func (p *Profiler) Track(name string) func() {
	if p == nil || !p.enabled {
		return func() {}
	}
	start := time.Now()
	return func() {
		p.record(name, time.Since(start))
	}
}

// Record adds an externally measured duration for the named operation.
func (p *Profiler) Record(name string, duration time.Duration) {
	if p == nil || !p.enabled {
		return
	}
	p.record(name, duration)
}

func (p *Profiler) record(name string, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	metric, exists := p.metrics[name]
	if !exists {
		metric = &Metric{
			Name:    name,
			MinTime: duration,
			MaxTime: duration,
		}
		p.metrics[name] = metric
	}

	metric.Count++
	metric.TotalTime += duration
	metric.LastTime = duration
	metric.LastCall = time.Now()

	if duration < metric.MinTime {
		metric.MinTime = duration
	}
	if duration > metric.MaxTime {
		metric.MaxTime = duration
	}
}

// GetMetric returns a copy of the statistics for one operation, or nil if
// nothing was recorded under that name.
func (p *Profiler) GetMetric(name string) *Metric {
	p.mu.RLock()
	defer p.mu.RUnlock()

	metric, exists := p.metrics[name]
	if !exists {
		return nil
	}
	copied := *metric
	return &copied
}

// GetMetrics returns a copy of all recorded metrics.
func (p *Profiler) GetMetrics() map[string]*Metric {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make(map[string]*Metric, len(p.metrics))
	for name, metric := range p.metrics {
		copied := *metric
		result[name] = &copied
	}
	return result
}

// AverageTime returns the mean duration across all recorded calls.
func (m *Metric) AverageTime() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.TotalTime / time.Duration(m.Count)
}

// IsEnabled reports whether the profiler records anything.
func (p *Profiler) IsEnabled() bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// Reset clears all metrics and restarts the report window.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = make(map[string]*Metric)
	p.startTime = time.Now()
}

// Report renders a human-readable table of all metrics, sorted by name.
func (p *Profiler) Report() string {
	metrics := p.GetMetrics()
	if len(metrics) == 0 {
		return "No performance metrics recorded"
	}

	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	p.mu.RLock()
	startTime := p.startTime
	p.mu.RUnlock()

	report := fmt.Sprintf("\n=== Performance Report (since %s) ===\n", startTime.Format(time.RFC3339))
	report += fmt.Sprintf("%-32s %8s %10s %10s %10s %10s\n", "Operation", "Count", "Avg", "Min", "Max", "Last")
	for _, name := range names {
		m := metrics[name]
		report += fmt.Sprintf("%-32s %8d %10s %10s %10s %10s\n",
			name,
			m.Count,
			m.AverageTime().Round(time.Microsecond),
			m.MinTime.Round(time.Microsecond),
			m.MaxTime.Round(time.Microsecond),
			m.LastTime.Round(time.Microsecond),
		)
	}
	report += fmt.Sprintf("\nTotal runtime: %s\n", time.Since(startTime).Round(time.Second))
	return report
}

// LogReport logs the performance report.
func (p *Profiler) LogReport() {
	log.Print(p.Report())
}

// JSONReport renders all metrics as JSON with durations in milliseconds.
func (p *Profiler) JSONReport() ([]byte, error) {
	type metricJSON struct {
		Name     string    `json:"name"`
		Count    int64     `json:"count"`
		TotalMS  float64   `json:"total_ms"`
		AvgMS    float64   `json:"avg_ms"`
		MinMS    float64   `json:"min_ms"`
		MaxMS    float64   `json:"max_ms"`
		LastMS   float64   `json:"last_ms"`
		LastCall time.Time `json:"last_call"`
	}
	type reportJSON struct {
		StartTime time.Time             `json:"start_time"`
		RuntimeMS float64               `json:"runtime_ms"`
		Metrics   map[string]metricJSON `json:"metrics"`
	}

	p.mu.RLock()
	startTime := p.startTime
	p.mu.RUnlock()

	ms := func(d time.Duration) float64 {
		return float64(d) / float64(time.Millisecond)
	}

	report := reportJSON{
		StartTime: startTime,
		RuntimeMS: ms(time.Since(startTime)),
		Metrics:   make(map[string]metricJSON),
	}
	for name, m := range p.GetMetrics() {
		report.Metrics[name] = metricJSON{
			Name:     m.Name,
			Count:    m.Count,
			TotalMS:  ms(m.TotalTime),
			AvgMS:    ms(m.AverageTime()),
			MinMS:    ms(m.MinTime),
			MaxMS:    ms(m.MaxTime),
			LastMS:   ms(m.LastTime),
			LastCall: m.LastCall,
		}
	}

	return json.MarshalIndent(report, "", "  ")
}
