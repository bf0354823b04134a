package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/warp/sales-kpi-engine/metrics"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Thresholds are the tunable limits read by the engines on every run.
type Thresholds struct {
	Validation ValidationThresholds `yaml:"validation"`
	Insights   InsightThresholds    `yaml:"insights"`
}

type ValidationThresholds struct {
	// WarnPercent is the failed-row share, in percent, up to which a
	// batch with failures is WARN rather than FAIL.
	WarnPercent int64 `yaml:"warn_percent"`
}

type InsightThresholds struct {
	RevenueAnomalyPercentage float64 `yaml:"revenue_anomaly_percentage"`
	TrendDetectionPeriods    int     `yaml:"trend_detection_periods"`
}

// DefaultThresholds returns the limits used when no file overrides them.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Validation: ValidationThresholds{WarnPercent: 10},
		Insights: InsightThresholds{
			RevenueAnomalyPercentage: 20,
			TrendDetectionPeriods:    3,
		},
	}
}

func (t Thresholds) validate() error {
	if t.Validation.WarnPercent < 0 || t.Validation.WarnPercent > 100 {
		return fmt.Errorf("validation.warn_percent must be within [0, 100], got %d", t.Validation.WarnPercent)
	}
	if t.Insights.RevenueAnomalyPercentage < 0 {
		return fmt.Errorf("insights.revenue_anomaly_percentage must not be negative")
	}
	if t.Insights.TrendDetectionPeriods < 2 {
		return fmt.Errorf("insights.trend_detection_periods must be at least 2, got %d", t.Insights.TrendDetectionPeriods)
	}
	return nil
}

// ThresholdSource hands out the thresholds in force right now.
type ThresholdSource interface {
	Current() Thresholds
}

// Static is a ThresholdSource that never changes.
type Static Thresholds

func (s Static) Current() Thresholds { return Thresholds(s) }

// =============================================================================
// LOADER - YAML file with fsnotify hot reload
// =============================================================================

// Loader reads a thresholds file and watches it for changes.
type Loader struct {
	path     string
	logger   *zap.Logger
	mu       sync.RWMutex
	current  Thresholds
	onChange []func(Thresholds)
}

// NewLoader creates a Loader and performs the initial load. A missing file
// yields the defaults; a malformed one is an error.
func NewLoader(path string, logger *zap.Logger) (*Loader, error) {
	l := &Loader{path: path, logger: logger}
	t, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = t
	return l, nil
}

// Current returns the latest successfully loaded thresholds.
func (l *Loader) Current() Thresholds {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the thresholds reload.
func (l *Loader) OnChange(fn func(Thresholds)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that reloads the file on change.
// Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("thresholds watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("thresholds watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						l.logger.Warn("Keeping previous thresholds", zap.String("path", l.path), zap.Error(err))
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("Thresholds watcher error", zap.Error(err))
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the file.
func (l *Loader) Reload() (Thresholds, error) {
	t, err := l.load()
	if err != nil {
		return Thresholds{}, err
	}
	l.mu.Lock()
	l.current = t
	callbacks := make([]func(Thresholds), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()

	metrics.ThresholdReloads.Inc()
	l.logger.Info("Thresholds loaded",
		zap.Int64("warn_percent", t.Validation.WarnPercent),
		zap.Float64("revenue_anomaly_percentage", t.Insights.RevenueAnomalyPercentage),
		zap.Int("trend_detection_periods", t.Insights.TrendDetectionPeriods))

	for _, fn := range callbacks {
		fn(t)
	}
	return t, nil
}

func (l *Loader) load() (Thresholds, error) {
	t := DefaultThresholds()
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return Thresholds{}, fmt.Errorf("read thresholds %s: %w", l.path, err)
	}
	// Unmarshal over the defaults so omitted keys keep them.
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Thresholds{}, fmt.Errorf("parse thresholds %s: %w", l.path, err)
	}
	if err := t.validate(); err != nil {
		return Thresholds{}, fmt.Errorf("thresholds %s: %w", l.path, err)
	}
	return t, nil
}
