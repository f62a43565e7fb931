// Package grader implements the periodic health grader: GREEN/AMBER/RED
// classification from live metrics, with safeguard actions applied through
// the runtime config store (spec.md §4.5).
package grader

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lsxsync/queue-service/internal/configstore"
	"github.com/lsxsync/queue-service/internal/platform/logger"
	"github.com/lsxsync/queue-service/internal/platform/metrics"
	"github.com/lsxsync/queue-service/internal/queue"
	"github.com/lsxsync/queue-service/internal/vendorclient"
)

// Grade is the discrete health level driving degrade actions.
type Grade string

const (
	GradeGreen Grade = "GREEN"
	GradeAmber Grade = "AMBER"
	GradeRed   Grade = "RED"
)

// Snapshot is the metric set the grading rules consult.
type Snapshot struct {
	Pending            int
	Working            int
	Done1m             int
	OldestPendingAgeS  float64
	StuckWorking15m    int
	WebhookLastEventS  float64
	VendorRate5xx5m    float64
	VendorRate4295m    float64
	BreakerTripped     bool
	InvalidVendorConfig bool
}

// Result is one grading pass: the grade, the numeric reasons that produced
// it, and the actions applied.
type Result struct {
	Grade   Grade
	Reasons []string
	Actions []string
	At      time.Time
}

// Grader periodically reads the metric snapshot and writes the matching
// flags via the config store.
type Grader struct {
	db      *sql.DB
	jobs    *queue.Repository
	vendor  *vendorclient.Client
	config  *configstore.Store
	logger  *logger.Logger
	cron    *cron.Cron
}

func New(db *sql.DB, jobs *queue.Repository, vendor *vendorclient.Client, config *configstore.Store, log *logger.Logger) *Grader {
	return &Grader{db: db, jobs: jobs, vendor: vendor, config: config, logger: log, cron: cron.New()}
}

// Start schedules the watchdog cadence (default every 60s) the way the
// teacher's security-cleanup worker schedules its own periodic jobs.
func (g *Grader) Start(cadence string) error {
	if cadence == "" {
		cadence = "@every 60s"
	}
	_, err := g.cron.AddFunc(cadence, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := g.RunOnce(ctx); err != nil {
			g.logger.Error("grader: run failed", "event", "grader.run_failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	g.cron.Start()
	g.logger.Info("health grader started", "event", "grader.started", "cadence", cadence)
	return nil
}

func (g *Grader) Stop() {
	g.cron.Stop()
	g.logger.Info("health grader stopped", "event", "grader.stopped")
}

// RunOnce performs one gather-grade-act-audit cycle. Exposed directly so
// the /watchdog endpoint can invoke it synchronously.
func (g *Grader) RunOnce(ctx context.Context) (*Result, error) {
	snap, err := g.gather(ctx)
	if err != nil {
		return nil, err
	}

	grade, reasons := classify(snap)
	actions := g.applyActions(ctx, grade)

	g.updateGauges(snap)

	result := &Result{Grade: grade, Reasons: reasons, Actions: actions, At: time.Now()}
	if auditErr := g.writeAudit(ctx, snap, result); auditErr != nil {
		g.logger.Error("grader: failed to write audit row", "event", "grader.audit_failed", "error", auditErr)
	}
	return result, nil
}

func (g *Grader) gather(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	counts, err := g.jobs.CountsByStatus(ctx)
	if err != nil {
		return snap, err
	}
	snap.Pending = counts.Pending
	snap.Working = counts.Working
	snap.Done1m = counts.Done1m

	snap.OldestPendingAgeS, err = g.jobs.OldestPendingAgeSeconds(ctx)
	if err != nil {
		return snap, err
	}

	snap.StuckWorking15m, err = g.jobs.StuckWorkingCount(ctx, 15)
	if err != nil {
		return snap, err
	}

	var lastEventAge sql.NullFloat64
	if err := g.db.QueryRowContext(ctx, `
		SELECT EXTRACT(EPOCH FROM (NOW() - MAX(received_at))) FROM webhook_events`).Scan(&lastEventAge); err != nil {
		return snap, err
	}
	if lastEventAge.Valid {
		snap.WebhookLastEventS = lastEventAge.Float64
	}

	snap.VendorRate5xx5m = g.vendor.Rate5xx(5 * time.Minute)
	snap.VendorRate4295m = g.vendor.Rate429(5 * time.Minute)
	snap.BreakerTripped = g.vendor.BreakerTripped()

	return snap, nil
}

// classify implements spec.md §4.5's grading rules exactly, RED checked
// first since AMBER triggers only apply "if not RED".
func classify(s Snapshot) (Grade, []string) {
	var redReasons []string
	if s.Pending > 5000 {
		redReasons = append(redReasons, "pending_gt_5000")
	}
	if s.OldestPendingAgeS > 1800 {
		redReasons = append(redReasons, "oldest_pending_age_gt_1800s")
	}
	if s.Done1m == 0 && s.Pending > 0 && s.OldestPendingAgeS > 600 {
		redReasons = append(redReasons, "stalled_drain")
	}
	if s.VendorRate5xx5m > 0.15 {
		redReasons = append(redReasons, "rate_5xx_gt_15pct")
	}
	if s.VendorRate4295m > 0.20 {
		redReasons = append(redReasons, "rate_429_gt_20pct")
	}
	if s.WebhookLastEventS > 900 {
		redReasons = append(redReasons, "last_event_age_gt_900s")
	}
	if s.InvalidVendorConfig {
		redReasons = append(redReasons, "invalid_vendor_config")
	}
	if len(redReasons) > 0 {
		return GradeRed, redReasons
	}

	var amberReasons []string
	if s.Pending > 1000 {
		amberReasons = append(amberReasons, "pending_gt_1000")
	}
	if s.OldestPendingAgeS > 600 {
		amberReasons = append(amberReasons, "oldest_pending_age_gt_600s")
	}
	if s.VendorRate5xx5m > 0.05 {
		amberReasons = append(amberReasons, "rate_5xx_gt_5pct")
	}
	if s.VendorRate4295m > 0.05 {
		amberReasons = append(amberReasons, "rate_429_gt_5pct")
	}
	if s.WebhookLastEventS > 300 {
		amberReasons = append(amberReasons, "last_event_age_gt_300s")
	}
	if len(amberReasons) > 0 {
		return GradeAmber, amberReasons
	}

	return GradeGreen, nil
}

// applyActions writes the flags named for each grade in spec.md §4.5 and
// returns the list of actions taken for the audit row.
func (g *Grader) applyActions(ctx context.Context, grade Grade) []string {
	var actions []string
	set := func(key string, value bool) {
		if err := g.config.SetBool(ctx, key, value); err != nil {
			g.logger.Error("grader: failed to set flag", "event", "grader.set_flag_failed", "key", key, "error", err)
			return
		}
		actions = append(actions, key+"="+boolString(value))
	}

	switch grade {
	case GradeGreen:
		set(configstore.FlagUIReadonly, false)
		set(configstore.FlagQueueKillAll, false)
		set(configstore.FlagWebhookFanoutEnabled, true)
	case GradeAmber:
		if err := g.config.SetInt(ctx, configstore.FlagVendQueueMaxConcurrency+string(queue.TypeInventoryCommand), 2); err != nil {
			g.logger.Error("grader: failed to cap inventory.command concurrency", "event", "grader.cap_failed", "error", err)
		} else {
			actions = append(actions, "inventory.command concurrency capped to 2")
		}
	case GradeRed:
		set(configstore.FlagUIReadonly, true)
		set(configstore.FlagQueueKillAll, true)
		set(configstore.FlagWebhookFanoutEnabled, false)
	}
	return actions
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (g *Grader) updateGauges(s Snapshot) {
	metrics.QueueDepthGauge.WithLabelValues("pending").Set(float64(s.Pending))
	metrics.QueueDepthGauge.WithLabelValues("working").Set(float64(s.Working))
	breakerState := 0.0
	if s.BreakerTripped {
		breakerState = 1.0
	}
	metrics.BreakerStateGauge.WithLabelValues("vend_http").Set(breakerState)
}

func (g *Grader) writeAudit(ctx context.Context, s Snapshot, r *Result) error {
	snapshotJSON, err := json.Marshal(s)
	if err != nil {
		return err
	}
	reasonsJSON, err := json.Marshal(r.Reasons)
	if err != nil {
		return err
	}
	actionsJSON, err := json.Marshal(r.Actions)
	if err != nil {
		return err
	}

	_, err = g.db.ExecContext(ctx, `
		INSERT INTO grader_audit (grade, reasons, metrics, actions, created_at)
		VALUES ($1, $2, $3, $4, NOW())`, string(r.Grade), reasonsJSON, snapshotJSON, actionsJSON)
	return err
}
