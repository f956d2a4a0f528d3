// Package backpressure sheds write load before the process runs out of
// memory. A Controller turns the usage ratio of a bounded resource into a
// pressure level with hysteresis; callers reject work at critical levels.
package backpressure

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/metricstore/internal/storage/config"
)

// Level represents the current backpressure level.
type Level int

const (
	// LevelNormal - system operating normally.
	LevelNormal Level = iota

	// LevelWarning - elevated load, logged only.
	LevelWarning

	// LevelCritical - high load, reject incoming writes.
	LevelCritical

	// LevelEmergency - overload, reject incoming writes.
	LevelEmergency
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Gauge reports how much of a bounded resource is in use, from 0 to 1.
type Gauge interface {
	UsageRatio() float64
}

// Inflight counts the bytes held by requests in progress.
type Inflight struct {
	limit int64
	bytes atomic.Int64
}

// NewInflight creates a counter where limit bytes is full usage.
func NewInflight(limit int64) *Inflight {
	return &Inflight{limit: limit}
}

// Acquire adds n bytes and returns the function that releases them.
func (i *Inflight) Acquire(n int64) (release func()) {
	if n <= 0 {
		return func() {}
	}
	i.bytes.Add(n)
	var once sync.Once
	return func() { once.Do(func() { i.bytes.Add(-n) }) }
}

// Bytes returns the bytes currently held.
func (i *Inflight) Bytes() int64 {
	return i.bytes.Load()
}

// UsageRatio implements Gauge.
func (i *Inflight) UsageRatio() float64 {
	if i.limit <= 0 {
		return 0
	}
	return float64(i.bytes.Load()) / float64(i.limit)
}

// Controller manages backpressure based on a gauge.
type Controller struct {
	mu sync.RWMutex

	config config.BackpressureConfig
	gauge  Gauge

	// Current state
	level     atomic.Int32
	lastCheck time.Time
	lastLevel Level

	// Statistics
	stats Stats

	// Level change callback
	onLevelChange func(old, new Level)
}

// Stats holds backpressure statistics.
type Stats struct {
	LevelChanges   int64
	WarningCount   int64
	CriticalCount  int64
	EmergencyCount int64
	Rejected       int64
}

// New creates a new backpressure controller.
func New(cfg config.BackpressureConfig, gauge Gauge) *Controller {
	return &Controller{
		config: cfg,
		gauge:  gauge,
	}
}

// SetOnLevelChange sets the callback for level changes. The callback runs
// with the controller locked and must not call back into it.
func (c *Controller) SetOnLevelChange(fn func(old, new Level)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLevelChange = fn
}

// Check evaluates current conditions and updates the level. Within the
// cooldown after the previous evaluation the current level is returned
// unchanged.
func (c *Controller) Check() Level {
	if !c.config.Enabled {
		return LevelNormal
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	// Respect cooldown
	if !c.lastCheck.IsZero() && now.Sub(c.lastCheck) < c.config.Recovery.Cooldown {
		return Level(c.level.Load())
	}

	c.lastCheck = now

	// Determine new level with hysteresis
	newLevel := c.determineLevel(c.gauge.UsageRatio())

	// Update level if changed
	if newLevel != c.lastLevel {
		c.setLevel(newLevel)
	}

	return newLevel
}

// determineLevel determines the backpressure level based on usage.
func (c *Controller) determineLevel(usage float64) Level {
	thresholds := c.config.Thresholds
	hysteresis := c.config.Recovery.Hysteresis
	currentLevel := c.lastLevel

	// Going up (increasing pressure)
	if usage >= thresholds.Emergency {
		return LevelEmergency
	}
	if usage >= thresholds.Critical {
		return LevelCritical
	}
	if usage >= thresholds.Warning {
		return LevelWarning
	}

	// Going down (decreasing pressure) - apply hysteresis
	switch currentLevel {
	case LevelEmergency:
		if usage < thresholds.Emergency-hysteresis {
			return LevelCritical
		}
		return LevelEmergency
	case LevelCritical:
		if usage < thresholds.Critical-hysteresis {
			return LevelWarning
		}
		return LevelCritical
	case LevelWarning:
		if usage < thresholds.Warning-hysteresis {
			return LevelNormal
		}
		return LevelWarning
	default:
		return LevelNormal
	}
}

// setLevel updates the current level and fires callback.
func (c *Controller) setLevel(newLevel Level) {
	oldLevel := c.lastLevel
	c.lastLevel = newLevel
	c.level.Store(int32(newLevel))
	c.stats.LevelChanges++

	// Update level-specific counters
	switch newLevel {
	case LevelWarning:
		c.stats.WarningCount++
	case LevelCritical:
		c.stats.CriticalCount++
	case LevelEmergency:
		c.stats.EmergencyCount++
	}

	// Fire callback
	if c.onLevelChange != nil {
		c.onLevelChange(oldLevel, newLevel)
	}
}

// CurrentLevel returns the current backpressure level.
func (c *Controller) CurrentLevel() Level {
	return Level(c.level.Load())
}

// ShouldReject returns true if new writes should be turned away.
func (c *Controller) ShouldReject() bool {
	return c.CurrentLevel() >= LevelCritical
}

// RetryAfter is the delay suggested to rejected clients.
func (c *Controller) RetryAfter() time.Duration {
	if c.config.Recovery.Cooldown > time.Second {
		return c.config.Recovery.Cooldown
	}
	return time.Second
}

// RecordRejection records that a write was turned away.
func (c *Controller) RecordRejection() {
	c.mu.Lock()
	c.stats.Rejected++
	c.mu.Unlock()
}

// Stats returns current statistics.
func (c *Controller) Stats() ControllerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ControllerStats{
		Enabled:        c.config.Enabled,
		CurrentLevel:   c.CurrentLevel().String(),
		LevelChanges:   c.stats.LevelChanges,
		WarningCount:   c.stats.WarningCount,
		CriticalCount:  c.stats.CriticalCount,
		EmergencyCount: c.stats.EmergencyCount,
		Rejected:       c.stats.Rejected,
		Usage:          c.gauge.UsageRatio(),
	}
}

// ControllerStats holds controller statistics.
type ControllerStats struct {
	Enabled        bool
	CurrentLevel   string
	LevelChanges   int64
	WarningCount   int64
	CriticalCount  int64
	EmergencyCount int64
	Rejected       int64
	Usage          float64
}

// IsEnabled returns whether backpressure is enabled.
func (c *Controller) IsEnabled() bool {
	return c.config.Enabled
}
