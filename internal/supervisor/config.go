package supervisor

import (
	"time"

	"streamwall/internal/liveedge"
)

// Config holds the supervisor timings. Zero fields are replaced by defaults in New.
type Config struct {
	StartupTimeout        time.Duration
	StallWindow           time.Duration
	WatchdogTick          time.Duration
	BufferingGrace        time.Duration
	StallEventGrace       time.Duration
	SoftRecoveryCooldown  time.Duration
	NudgeVerify           time.Duration
	NudgeProgressWindow   time.Duration
	BaseRetryDelay        time.Duration
	MaxRetryDelay         time.Duration
	RetryJitter           time.Duration
	MaxMediaRecoveries    int
	MaxNetworkRecoveries  int
	BufferProgressEpsilon float64
	TimeProgressEpsilon   float64
	NudgeAdvanceEpsilon   float64
	LowBufferAhead        float64

	LiveEdge liveedge.Params
	Engine   EngineConfig
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		StartupTimeout:        12 * time.Second,
		StallWindow:           40 * time.Second,
		WatchdogTick:          4 * time.Second,
		BufferingGrace:        25 * time.Second,
		StallEventGrace:       6 * time.Second,
		SoftRecoveryCooldown:  15 * time.Second,
		NudgeVerify:           6 * time.Second,
		NudgeProgressWindow:   3 * time.Second,
		BaseRetryDelay:        1500 * time.Millisecond,
		MaxRetryDelay:         20 * time.Second,
		RetryJitter:           1200 * time.Millisecond,
		MaxMediaRecoveries:    1,
		MaxNetworkRecoveries:  2,
		BufferProgressEpsilon: 0.2,
		TimeProgressEpsilon:   0.01,
		NudgeAdvanceEpsilon:   0.12,
		LowBufferAhead:        0.35,
		LiveEdge:              liveedge.DefaultParams(),
		Engine:                DefaultEngineConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = d.StartupTimeout
	}
	if c.StallWindow <= 0 {
		c.StallWindow = d.StallWindow
	}
	if c.WatchdogTick <= 0 {
		c.WatchdogTick = d.WatchdogTick
	}
	if c.BufferingGrace <= 0 {
		c.BufferingGrace = d.BufferingGrace
	}
	if c.StallEventGrace <= 0 {
		c.StallEventGrace = d.StallEventGrace
	}
	if c.SoftRecoveryCooldown <= 0 {
		c.SoftRecoveryCooldown = d.SoftRecoveryCooldown
	}
	if c.NudgeVerify <= 0 {
		c.NudgeVerify = d.NudgeVerify
	}
	if c.NudgeProgressWindow <= 0 {
		c.NudgeProgressWindow = d.NudgeProgressWindow
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = d.BaseRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = d.MaxRetryDelay
	}
	if c.RetryJitter < 0 {
		c.RetryJitter = 0
	}
	if c.MaxMediaRecoveries <= 0 {
		c.MaxMediaRecoveries = d.MaxMediaRecoveries
	}
	if c.MaxNetworkRecoveries <= 0 {
		c.MaxNetworkRecoveries = d.MaxNetworkRecoveries
	}
	if c.BufferProgressEpsilon <= 0 {
		c.BufferProgressEpsilon = d.BufferProgressEpsilon
	}
	if c.TimeProgressEpsilon <= 0 {
		c.TimeProgressEpsilon = d.TimeProgressEpsilon
	}
	if c.NudgeAdvanceEpsilon <= 0 {
		c.NudgeAdvanceEpsilon = d.NudgeAdvanceEpsilon
	}
	if c.LowBufferAhead <= 0 {
		c.LowBufferAhead = d.LowBufferAhead
	}
	if c.LiveEdge == (liveedge.Params{}) {
		c.LiveEdge = d.LiveEdge
	}
	if c.Engine == (EngineConfig{}) {
		c.Engine = d.Engine
	}
	return c
}

// maxBackoffStep bounds the exponent so the shift never overflows.
const maxBackoffStep = 6

// Backoff returns the delay before retry number attempt (1-based):
// base doubled per previous attempt, capped at maxDelay.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	step := min(max(attempt-1, 0), maxBackoffStep)
	return min(base*time.Duration(1<<step), maxDelay)
}
