package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/blocksurvey/uptime-coordinator/pkg/batch"
	"github.com/blocksurvey/uptime-coordinator/pkg/db/ledger"
	"github.com/blocksurvey/uptime-coordinator/pkg/db/models"
	"github.com/blocksurvey/uptime-coordinator/pkg/db/postgres"
	"github.com/blocksurvey/uptime-coordinator/pkg/graph"
)

// ProcessBatch runs one pass of the survey loop: wait out the batch window,
// dispatch workers over its sub-intervals, then score whatever they verified.
// State transitions (advance, retry, stop) happen in here.
func (a *App) ProcessBatch(ctx context.Context) error {
	b := a.State.Batch
	a.Logger.Info("Starting batch",
		zap.Time("start", b.StartTime),
		zap.Time("end", b.EndTime()),
		zap.String("bot_log_ref", b.LogRef.String()))

	if err := a.State.WaitUntilBatchEnds(ctx); err != nil {
		return err
	}

	units := UnitsFor(b, a.Config.MiniBatchNumber)
	duration, err := a.Dispatcher.Dispatch(ctx, units)
	if err != nil {
		// A dispatch failure means submissions were never verified; retrying
		// the batch without fresh verification would score garbage.
		return fmt.Errorf("dispatch batch %s: %w", b.LogRef, err)
	}
	a.Logger.Info("Verification finished", zap.Duration("duration", duration))
	a.Alerter.CheckDuration(duration)

	subs, err := a.Submissions.Submissions(ctx, b.StartTime, b.EndTime())
	if err != nil {
		a.Logger.Error("Failed to load submissions", zap.Error(err))
		a.State.RetryBatch()
		return nil
	}

	verified := make([]models.Submission, 0, len(subs))
	for i := range subs {
		if subs[i].Usable() {
			verified = append(verified, subs[i])
		}
	}
	a.Logger.Info("Submissions loaded",
		zap.Int("total", len(subs)),
		zap.Int("verified", len(verified)))
	if len(verified) < len(subs) {
		a.Logger.Warn("Some submissions skipped: unverified or carrying validation errors",
			zap.Int("skipped", len(subs)-len(verified)))
	}

	var botLogID int64
	txErr := a.DB.BeginFunc(ctx, func(tx pgx.Tx) error {
		var err error
		botLogID, err = a.reconcile(ctx, tx, b, verified, duration)
		return err
	})
	if txErr != nil {
		a.Logger.Error("Batch reconciliation failed", zap.Error(txErr))
		a.State.RetryBatch()
		return nil
	}

	// Scoreboard recompute runs outside the batch transaction: a failure here
	// must not undo the committed batch, and the next pass catches up anyway.
	if err := a.Store.UpdateScoreboard(ctx, b.EndTime(), a.Config.UptimeDaysForScore); err != nil {
		a.Logger.Error("Scoreboard update failed", zap.Error(err))
	}

	a.State.AdvanceToNextBatch(botLogID)
	return nil
}

// reconcile writes one batch's results inside a single transaction and
// returns the new bot_log id. With no verified submissions it still writes
// the bot_log row so the next iteration has a resume point, and skips the
// graph and point writes.
func (a *App) reconcile(ctx context.Context, tx pgx.Tx, b batch.Batch, verified []models.Submission, dispatchTime time.Duration) (int64, error) {
	now := time.Now().UTC()

	if len(verified) == 0 {
		a.Logger.Info("No verified submissions in window",
			zap.Time("start", b.StartTime),
			zap.Time("end", b.EndTime()))
		return a.Store.CreateBotLog(ctx, tx, models.BotLog{
			FilesProcessed:  0,
			FileTimestamps:  b.EndTime(),
			BatchStartEpoch: b.StartTime.Unix(),
			BatchEndEpoch:   b.EndTime().Unix(),
			ProcessingTime:  dispatchTime.Seconds(),
		})
	}

	entries := make([]graph.Entry, len(verified))
	for i := range verified {
		entries[i] = graph.Entry{
			StateHash:       *verified[i].StateHash,
			ParentStateHash: *verified[i].ParentStateHash,
			Producer:        verified[i].Submitter,
		}
	}

	if err := a.insertNewHashes(ctx, tx, entries); err != nil {
		return 0, err
	}
	if err := a.insertNewProducers(ctx, tx, entries, now); err != nil {
		return 0, err
	}

	prevEdges, prevShortlist, err := a.Store.PreviousShortlist(ctx, tx, b.LogRef.ID)
	if err != nil {
		return 0, err
	}

	threshold := graph.FilterByThreshold(entries, a.Config.StateHashThreshold)
	g, rejected := graph.Build(entries, prevShortlist, threshold, prevEdges)
	if rejected > 0 {
		a.Logger.Warn("Rejected fork edges that would close a cycle",
			zap.Int("rejected", rejected))
	}
	graph.ApplyWeights(g, threshold, prevShortlist)

	seeds := make([]string, 0, len(prevShortlist)+len(threshold))
	for _, e := range prevShortlist {
		seeds = append(seeds, e.StateHash)
	}
	seeds = append(seeds, threshold...)

	shortlist := graph.Propagate(g, seeds, graph.DefaultMaxDepth)
	shortlisted := make(map[string]struct{}, len(shortlist))
	for _, e := range shortlist {
		shortlisted[e.StateHash] = struct{}{}
	}

	// Points go to every submission whose hash made the shortlist, carried
	// hashes included. The stored shortlist keeps only this batch's hashes:
	// carried ones are already recorded under their own batch.
	var scoring []models.Submission
	for i := range verified {
		if _, ok := shortlisted[*verified[i].StateHash]; ok {
			scoring = append(scoring, verified[i])
		}
	}

	fileTimestamp := b.EndTime()
	if len(scoring) > 0 {
		fileTimestamp = verified[len(verified)-1].SubmittedAt
	} else {
		a.Logger.Info("Empty point record for batch",
			zap.Int64("start_epoch", b.StartTime.Unix()),
			zap.Int64("end_epoch", b.EndTime().Unix()))
	}

	botLogID, err := a.Store.CreateBotLog(ctx, tx, models.BotLog{
		FilesProcessed:  len(verified),
		FileTimestamps:  fileTimestamp,
		BatchStartEpoch: b.StartTime.Unix(),
		BatchEndEpoch:   b.EndTime().Unix(),
		ProcessingTime:  dispatchTime.Seconds(),
	})
	if err != nil {
		return 0, err
	}

	rows := shortlistRows(entries, shortlist, botLogID)
	if err := a.Store.InsertShortlist(ctx, tx, rows); err != nil {
		return 0, err
	}

	points := make([]models.Point, len(scoring))
	for i := range scoring {
		sub := &scoring[i]
		var height int64
		if sub.Height != nil {
			height = *sub.Height
		}
		points[i] = models.Point{
			FileName:         fmt.Sprintf("%s-%s", sub.SubmittedAt.UTC().Format(time.RFC3339), sub.Submitter),
			FileTimestamps:   sub.SubmittedAt,
			BlockchainEpoch:  sub.CreatedAt.UnixMilli(),
			BlockProducerKey: sub.Submitter,
			BlockchainHeight: height,
			Amount:           1,
			CreatedAt:        now,
			BotLogID:         botLogID,
			StateHash:        *sub.StateHash,
		}
	}
	if err := a.Store.CreatePoints(ctx, tx, points); err != nil {
		return 0, err
	}
	return botLogID, nil
}

func (a *App) insertNewHashes(ctx context.Context, tx postgres.Executor, entries []graph.Entry) error {
	known, err := a.Store.KnownStateHashes(ctx, tx)
	if err != nil {
		return err
	}
	candidates := make([]string, 0, 2*len(entries))
	for _, e := range entries {
		candidates = append(candidates, e.StateHash, e.ParentStateHash)
	}
	return a.Store.CreateStateHashes(ctx, tx, ledger.NewValues(known, candidates))
}

func (a *App) insertNewProducers(ctx context.Context, tx postgres.Executor, entries []graph.Entry, now time.Time) error {
	known, err := a.Store.KnownProducers(ctx, tx)
	if err != nil {
		return err
	}
	candidates := make([]string, 0, len(entries))
	for _, e := range entries {
		candidates = append(candidates, e.Producer)
	}
	return a.Store.CreateNodes(ctx, tx, ledger.NewValues(known, candidates), now)
}

// shortlistRows keeps only the shortlisted hashes observed in this batch and
// pairs each with the parent hash its first submission reported.
func shortlistRows(entries []graph.Entry, shortlist []graph.ShortlistEntry, botLogID int64) []models.ShortlistRow {
	parents := make(map[string]string, len(entries))
	for _, e := range entries {
		if _, ok := parents[e.StateHash]; !ok {
			parents[e.StateHash] = e.ParentStateHash
		}
	}

	var rows []models.ShortlistRow
	for _, e := range shortlist {
		parent, inBatch := parents[e.StateHash]
		if !inBatch {
			continue
		}
		rows = append(rows, models.ShortlistRow{
			ParentStateHash: parent,
			StateHash:       e.StateHash,
			Weight:          e.Weight,
			BotLogID:        botLogID,
		})
	}
	return rows
}
