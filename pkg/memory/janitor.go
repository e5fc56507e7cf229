package memory

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
)

// JanitorConfig controls scheduled housekeeping.
type JanitorConfig struct {
	// CompactSchedule is a cron expression for store compaction.
	CompactSchedule string

	// RetentionDays bounds memory age across all owners; zero disables the
	// retention sweep entirely.
	RetentionDays int

	// SweepSchedule is a cron expression for the retention sweep.
	SweepSchedule string

	// TelemetryRetention bounds the age of durable perf samples.
	TelemetryRetention time.Duration
}

func (c *JanitorConfig) applyDefaults() {
	if c.CompactSchedule == "" {
		c.CompactSchedule = "30 3 * * *"
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = "0 4 * * *"
	}
	if c.TelemetryRetention <= 0 {
		c.TelemetryRetention = 7 * 24 * time.Hour
	}
}

// Janitor runs retention pruning and compaction on an operator-controlled
// schedule. It is owned by the process that owns the engine; requests never
// trigger it.
type Janitor struct {
	engine *Engine
	cfg    JanitorConfig
	cron   *cron.Cron
}

func NewJanitor(e *Engine, cfg JanitorConfig) (*Janitor, error) {
	cfg.applyDefaults()
	j := &Janitor{engine: e, cfg: cfg, cron: cron.New()}

	if _, err := j.cron.AddFunc(cfg.CompactSchedule, j.runCompact); err != nil {
		return nil, err
	}
	if _, err := j.cron.AddFunc(cfg.SweepSchedule, j.runSweep); err != nil {
		return nil, err
	}
	return j, nil
}

// Start begins scheduled housekeeping in a background goroutine.
func (j *Janitor) Start() {
	j.cron.Start()
	log.Info("memory janitor started",
		"compact", j.cfg.CompactSchedule,
		"sweep", j.cfg.SweepSchedule,
		"retention_days", j.cfg.RetentionDays)
}

// Stop halts the schedule and waits for any in-flight run to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) runCompact() {
	if err := j.engine.Compact(context.Background()); err != nil {
		log.Warn("scheduled compaction failed", "err", err)
	}
}

func (j *Janitor) runSweep() {
	ctx := context.Background()
	if j.cfg.RetentionDays > 0 {
		if n, err := j.engine.sweepRetention(ctx, j.cfg.RetentionDays); err != nil {
			log.Warn("retention sweep failed", "err", err)
		} else if n > 0 {
			log.Info("retention sweep removed memories", "rows", n)
		}
	}
	if _, err := j.engine.sweepTelemetry(ctx, j.cfg.TelemetryRetention); err != nil {
		log.Warn("telemetry sweep failed", "err", err)
	}
}
