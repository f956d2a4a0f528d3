package backpressure

import (
	"testing"
	"time"

	"github.com/xtxerr/metricstore/internal/storage/config"
)

func testConfig() config.BackpressureConfig {
	cfg := config.DefaultConfig().Server.Backpressure
	cfg.Enabled = true
	cfg.Thresholds.Warning = 0.50
	cfg.Thresholds.Critical = 0.80
	cfg.Thresholds.Emergency = 0.95
	cfg.Recovery.Hysteresis = 0.10
	cfg.Recovery.Cooldown = 0 // Disable cooldown for testing
	return cfg
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelNormal, "normal"},
		{LevelWarning, "warning"},
		{LevelCritical, "critical"},
		{LevelEmergency, "emergency"},
		{Level(42), "unknown"},
	}

	for _, tt := range tests {
		if tt.level.String() != tt.expected {
			t.Errorf("level %d: expected %s, got %s", tt.level, tt.expected, tt.level.String())
		}
	}
}

func TestInflight(t *testing.T) {
	in := NewInflight(100)

	release := in.Acquire(40)
	if in.Bytes() != 40 {
		t.Errorf("expected 40 bytes, got %d", in.Bytes())
	}
	if got := in.UsageRatio(); got != 0.4 {
		t.Errorf("expected usage 0.4, got %f", got)
	}

	release()
	release() // second release is a no-op
	if in.Bytes() != 0 {
		t.Errorf("expected 0 bytes after release, got %d", in.Bytes())
	}

	in.Acquire(0)()
	if NewInflight(0).UsageRatio() != 0 {
		t.Error("unbounded counter should report zero usage")
	}
}

func TestController_New(t *testing.T) {
	c := New(testConfig(), NewInflight(1000))

	if c.CurrentLevel() != LevelNormal {
		t.Errorf("expected initial level normal, got %s", c.CurrentLevel())
	}
}

func TestController_Check(t *testing.T) {
	in := NewInflight(100)
	c := New(testConfig(), in)

	// Initially normal
	if level := c.Check(); level != LevelNormal {
		t.Errorf("expected normal, got %s", level)
	}

	// 50% - should trigger warning
	in.Acquire(50)
	if level := c.Check(); level != LevelWarning {
		t.Errorf("expected warning at 50%%, got %s (usage: %.2f)", level, in.UsageRatio())
	}

	// 80% - should trigger critical
	in.Acquire(30)
	if level := c.Check(); level != LevelCritical {
		t.Errorf("expected critical at 80%%, got %s (usage: %.2f)", level, in.UsageRatio())
	}
	if !c.ShouldReject() {
		t.Error("writes should be rejected at critical level")
	}

	// 95% - should trigger emergency
	in.Acquire(15)
	if level := c.Check(); level != LevelEmergency {
		t.Errorf("expected emergency at 95%%, got %s (usage: %.2f)", level, in.UsageRatio())
	}
}

func TestController_Hysteresis(t *testing.T) {
	in := NewInflight(100)
	c := New(testConfig(), in)

	// 55% - trigger warning
	first := in.Acquire(45)
	second := in.Acquire(10)

	if level := c.Check(); level != LevelWarning {
		t.Errorf("expected warning at 55%%, got %s", level)
	}

	// Drop to 45% - should stay in warning due to hysteresis (threshold - hysteresis = 40%)
	second()
	if level := c.Check(); level != LevelWarning {
		t.Errorf("expected warning to persist at 45%% (hysteresis), got %s", level)
	}

	// Drop below hysteresis threshold (40%)
	first()
	in.Acquire(35)
	if level := c.Check(); level != LevelNormal {
		t.Errorf("expected normal at 35%%, got %s", level)
	}
}

func TestController_Cooldown(t *testing.T) {
	cfg := testConfig()
	cfg.Recovery.Cooldown = time.Hour

	in := NewInflight(100)
	c := New(cfg, in)

	if level := c.Check(); level != LevelNormal {
		t.Fatalf("expected normal, got %s", level)
	}

	// Within the cooldown the level is not re-evaluated
	in.Acquire(90)
	if level := c.Check(); level != LevelNormal {
		t.Errorf("expected normal during cooldown, got %s", level)
	}

	if c.RetryAfter() != time.Hour {
		t.Errorf("expected retry after of one hour, got %v", c.RetryAfter())
	}
}

func TestController_ShouldReject(t *testing.T) {
	c := New(testConfig(), NewInflight(1000))

	tests := []struct {
		level    Level
		expected bool
	}{
		{LevelNormal, false},
		{LevelWarning, false},
		{LevelCritical, true},
		{LevelEmergency, true},
	}

	for _, tt := range tests {
		c.level.Store(int32(tt.level))
		if c.ShouldReject() != tt.expected {
			t.Errorf("level %s: expected reject=%v", tt.level, tt.expected)
		}
	}
}

func TestController_OnLevelChange(t *testing.T) {
	in := NewInflight(100)
	c := New(testConfig(), in)

	var callbackCalled bool
	var oldLevel, newLevel Level

	c.SetOnLevelChange(func(old, new Level) {
		callbackCalled = true
		oldLevel = old
		newLevel = new
	})

	// Trigger level change
	in.Acquire(55)
	c.Check()

	if !callbackCalled {
		t.Error("callback should have been called")
	}

	if oldLevel != LevelNormal {
		t.Errorf("expected old level normal, got %s", oldLevel)
	}

	if newLevel != LevelWarning {
		t.Errorf("expected new level warning, got %s", newLevel)
	}
}

func TestController_Stats(t *testing.T) {
	in := NewInflight(100)
	c := New(testConfig(), in)

	// Trigger level change
	in.Acquire(55)
	c.Check()

	// Record some rejections
	c.RecordRejection()
	c.RecordRejection()

	stats := c.Stats()

	if stats.CurrentLevel != "warning" {
		t.Errorf("expected warning level, got %s", stats.CurrentLevel)
	}

	if stats.LevelChanges != 1 {
		t.Errorf("expected 1 level change, got %d", stats.LevelChanges)
	}

	if stats.WarningCount != 1 {
		t.Errorf("expected 1 warning count, got %d", stats.WarningCount)
	}

	if stats.Rejected != 2 {
		t.Errorf("expected 2 rejections, got %d", stats.Rejected)
	}

	if stats.Usage != 0.55 {
		t.Errorf("expected usage 0.55, got %f", stats.Usage)
	}
}

func TestController_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	in := NewInflight(100)
	c := New(cfg, in)

	// Fill completely
	in.Acquire(100)

	// Should always return normal when disabled
	if level := c.Check(); level != LevelNormal {
		t.Errorf("expected normal when disabled, got %s", level)
	}

	if c.IsEnabled() {
		t.Error("IsEnabled mismatch")
	}
}
