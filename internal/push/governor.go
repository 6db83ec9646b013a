package push

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/schoolwatch/harvester/internal/harvest"
	"github.com/schoolwatch/harvester/internal/telemetry"
)

// Outcome is the governor's terminal verdict for one candidate.
type Outcome string

const (
	// OutcomePushed means the message was delivered (or would have been,
	// under dry-run).
	OutcomePushed Outcome = "PUSH"
	// OutcomeQueued means the item stays pending for later review or a
	// later cycle; no delivery was attempted.
	OutcomeQueued Outcome = "QUEUE_ONLY"
	// OutcomeSkipped means the item is terminal for this cycle.
	OutcomeSkipped Outcome = "SKIP"
)

const auditActor = "harvester"

// GovernorConfig carries the rate-limit cascade's thresholds.
type GovernorConfig struct {
	BigBatchThreshold int
	PerTaskCap        int
	WindowSize        int // minutes
	WindowCap         int
	RunCap            int
}

// Candidate is one item eligible for delivery, with the per-cycle context
// the cascade needs.
type Candidate struct {
	Item       *harvest.Item
	Record     harvest.Record
	SourceID   int64
	SourceName string
	// TaskNewCount is the number of new items this source produced in the
	// current cycle, known before any push decision is made.
	TaskNewCount int
	DryRun       bool
}

// Governor applies the push rate-limit cascade and, when every limit has
// headroom, delivers. Construct one per run: the per-source and per-run
// counters are run-scoped state.
type Governor struct {
	cfg       GovernorConfig
	store     harvest.Store
	notifier  harvest.Notifier
	formatter *Formatter
	clock     harvest.Clock
	logger    *zap.Logger

	taskPushed map[int64]int
	runPushed  int
}

func NewGovernor(cfg GovernorConfig, store harvest.Store, notifier harvest.Notifier, formatter *Formatter, clock harvest.Clock, logger *zap.Logger) *Governor {
	return &Governor{
		cfg:        cfg,
		store:      store,
		notifier:   notifier,
		formatter:  formatter,
		clock:      clock,
		logger:     logger,
		taskPushed: make(map[int64]int),
	}
}

// Deliver evaluates the cascade for one candidate, first match wins. Every
// decision writes one audit row except under dry-run, which evaluates the
// same cascade but writes nothing and sends nothing.
func (g *Governor) Deliver(ctx context.Context, cand Candidate) (Outcome, error) {
	if cand.Item.PushedAt != nil {
		g.audit(ctx, cand, harvest.AuditSkipAlreadyPushed, "push timestamp already set")
		return OutcomeSkipped, nil
	}
	if cand.TaskNewCount > g.cfg.BigBatchThreshold {
		g.audit(ctx, cand, harvest.AuditDowngradedBigBatch,
			fmt.Sprintf("%d new items exceeds big-batch threshold %d", cand.TaskNewCount, g.cfg.BigBatchThreshold))
		return OutcomeQueued, nil
	}
	if g.taskPushed[cand.SourceID] >= g.cfg.PerTaskCap {
		g.audit(ctx, cand, harvest.AuditSkipPerTaskLimit,
			fmt.Sprintf("per-task cap %d reached", g.cfg.PerTaskCap))
		return OutcomeQueued, nil
	}
	since := g.clock.Now().Add(-windowDuration(g.cfg.WindowSize))
	recent, err := g.store.CountRecentPushes(ctx, cand.SourceID, since)
	if err != nil {
		return OutcomeQueued, fmt.Errorf("count recent pushes: %w", err)
	}
	if recent >= g.cfg.WindowCap {
		g.audit(ctx, cand, harvest.AuditSkipPerSourceWindow,
			fmt.Sprintf("%d pushes in the last %dm meets window cap %d", recent, g.cfg.WindowSize, g.cfg.WindowCap))
		return OutcomeQueued, nil
	}
	if g.runPushed >= g.cfg.RunCap {
		g.audit(ctx, cand, harvest.AuditSkipRunCap,
			fmt.Sprintf("run cap %d reached", g.cfg.RunCap))
		return OutcomeQueued, nil
	}

	if cand.DryRun {
		// Count the would-push so later candidates hit the same caps a
		// real run would.
		g.taskPushed[cand.SourceID]++
		g.runPushed++
		telemetry.CountPushDecision(string(harvest.AuditPushed))
		g.logger.Info("dry-run: would push",
			zap.String("source", cand.SourceName),
			zap.String("url", cand.Item.CanonicalURL))
		return OutcomePushed, nil
	}

	content := g.formatter.Render(cand.Record, cand.Item, cand.SourceName)
	if err := g.notifier.Send(ctx, content); err != nil {
		g.audit(ctx, cand, harvest.AuditError, err.Error())
		g.logger.Warn("delivery failed",
			zap.String("source", cand.SourceName),
			zap.String("url", cand.Item.CanonicalURL),
			zap.Error(err))
		return OutcomeSkipped, nil
	}

	// Sole point of no return for "delivered". The item stays marked even
	// if an audit write fails afterwards.
	if err := g.store.MarkItemPushed(ctx, cand.Item.ID, g.clock.Now()); err != nil {
		g.logger.Error("mark pushed failed after delivery",
			zap.Int64("item_id", cand.Item.ID), zap.Error(err))
	}
	g.audit(ctx, cand, harvest.AuditPushed, "delivered")
	g.taskPushed[cand.SourceID]++
	g.runPushed++
	return OutcomePushed, nil
}

func windowDuration(minutes int) time.Duration {
	return time.Duration(minutes) * time.Minute
}

func (g *Governor) audit(ctx context.Context, cand Candidate, result harvest.AuditResult, reason string) {
	telemetry.CountPushDecision(string(result))
	if cand.DryRun {
		return
	}
	itemID := cand.Item.ID
	entry := harvest.AuditLog{
		ItemID:    &itemID,
		SourceID:  cand.SourceID,
		Action:    harvest.AuditActionPush,
		Result:    result,
		Reason:    reason,
		Actor:     auditActor,
		Important: result == harvest.AuditDowngradedBigBatch || result == harvest.AuditError,
	}
	if err := g.store.InsertAudit(ctx, entry); err != nil {
		g.logger.Error("audit write failed",
			zap.Int64("item_id", itemID),
			zap.String("result", string(result)),
			zap.Error(err))
	}
}
