package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/blocksurvey/uptime-coordinator/pkg/batch"
	"github.com/blocksurvey/uptime-coordinator/pkg/db/models"
	"github.com/blocksurvey/uptime-coordinator/pkg/db/postgres"
	"github.com/blocksurvey/uptime-coordinator/pkg/graph"
)

// ErrNoBatches signals an empty bot_logs table. The coordinator cannot derive
// a resume point without at least one seed row, so this is fatal at startup.
var ErrNoBatches = errors.New("ledger: no batches recorded")

// pageSize caps how many statements go into one pgx batch round trip.
const pageSize = 100

// Store is the persistence gateway for the scoring ledger. Write methods take
// an explicit Executor so they compose under a caller-owned transaction.
type Store struct {
	Logger *zap.Logger
	Client *postgres.Client
}

func NewStore(logger *zap.Logger, client *postgres.Client) *Store {
	return &Store{Logger: logger, Client: client}
}

// LastBatch returns the next batch to process: it starts where the most
// recently recorded batch ended.
func (s *Store) LastBatch(ctx context.Context, interval time.Duration) (batch.Batch, error) {
	var (
		id       int64
		endEpoch int64
	)
	row := s.Client.Pool.QueryRow(ctx,
		`SELECT id, batch_end_epoch FROM bot_logs ORDER BY batch_end_epoch DESC LIMIT 1`)
	if err := row.Scan(&id, &endEpoch); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return batch.Batch{}, ErrNoBatches
		}
		return batch.Batch{}, fmt.Errorf("ledger: load latest batch: %w", err)
	}
	return batch.Batch{
		StartTime: time.Unix(endEpoch, 0).UTC(),
		Interval:  interval,
		LogRef:    batch.CommittedRef(id),
	}, nil
}

// PreviousShortlist loads the shortlist written by the given batch: the
// carried-over edges and the per-hash weights that seed the next graph pass.
func (s *Store) PreviousShortlist(ctx context.Context, ex postgres.Executor, botLogID int64) ([]graph.Edge, []graph.ShortlistEntry, error) {
	rows, err := ex.Query(ctx,
		`SELECT ps.value AS parent_statehash, s1.value AS statehash, b.weight
		 FROM bot_logs_statehash b
		 JOIN statehash s1 ON s1.id = b.statehash_id
		 JOIN statehash ps ON ps.id = b.parent_statehash_id
		 WHERE b.bot_log_id = $1`, botLogID)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: load previous shortlist: %w", err)
	}
	defer rows.Close()

	var (
		edges   []graph.Edge
		entries []graph.ShortlistEntry
	)
	for rows.Next() {
		var (
			parent, hash string
			weight       int
		)
		if err := rows.Scan(&parent, &hash, &weight); err != nil {
			return nil, nil, fmt.Errorf("ledger: scan previous shortlist: %w", err)
		}
		edges = append(edges, graph.Edge{Parent: parent, Child: hash})
		entries = append(entries, graph.ShortlistEntry{StateHash: hash, Weight: weight})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("ledger: read previous shortlist: %w", err)
	}
	return edges, entries, nil
}

// KnownStateHashes returns every state hash already recorded.
func (s *Store) KnownStateHashes(ctx context.Context, ex postgres.Executor) ([]string, error) {
	return s.selectStrings(ctx, ex, `SELECT value FROM statehash`)
}

// KnownProducers returns every block producer key already recorded.
func (s *Store) KnownProducers(ctx context.Context, ex postgres.Executor) ([]string, error) {
	return s.selectStrings(ctx, ex, `SELECT block_producer_key FROM nodes`)
}

func (s *Store) selectStrings(ctx context.Context, ex postgres.Executor, sql string) ([]string, error) {
	rows, err := ex.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("ledger: query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// NewValues returns the candidates not yet present in existing, deduplicated,
// in first-seen order. Running it twice against an updated existing set yields
// nothing, which is what keeps the dedup-inserts idempotent.
func NewValues(existing, candidates []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, v := range existing {
		seen[v] = struct{}{}
	}
	var out []string
	for _, v := range candidates {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// CreateStateHashes inserts the given hashes into statehash.
func (s *Store) CreateStateHashes(ctx context.Context, ex postgres.Executor, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	s.Logger.Info("Inserting state hashes", zap.Int("count", len(hashes)))
	return s.sendPaged(ctx, ex, len(hashes), func(b *pgx.Batch, i int) {
		b.Queue(`INSERT INTO statehash (value) VALUES ($1)`, hashes[i])
	})
}

// CreateNodes inserts one nodes row per block producer key.
func (s *Store) CreateNodes(ctx context.Context, ex postgres.Executor, keys []string, updatedAt time.Time) error {
	if len(keys) == 0 {
		return nil
	}
	s.Logger.Info("Inserting block producers", zap.Int("count", len(keys)))
	return s.sendPaged(ctx, ex, len(keys), func(b *pgx.Batch, i int) {
		b.Queue(`INSERT INTO nodes (block_producer_key, updated_at) VALUES ($1, $2)`, keys[i], updatedAt)
	})
}

// CreateBotLog records one processed batch and returns its id.
func (s *Store) CreateBotLog(ctx context.Context, ex postgres.Executor, log models.BotLog) (int64, error) {
	var id int64
	err := ex.QueryRow(ctx,
		`INSERT INTO bot_logs (files_processed, file_timestamps, batch_start_epoch, batch_end_epoch, processing_time)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		log.FilesProcessed, log.FileTimestamps, log.BatchStartEpoch, log.BatchEndEpoch, log.ProcessingTime,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ledger: create bot_log: %w", err)
	}
	return id, nil
}

// InsertShortlist writes the batch's bot_logs_statehash rows. Hash values are
// resolved to ids by sub-select so callers never handle surrogate keys.
func (s *Store) InsertShortlist(ctx context.Context, ex postgres.Executor, rows []models.ShortlistRow) error {
	if len(rows) == 0 {
		return nil
	}
	s.Logger.Info("Inserting shortlist rows", zap.Int("count", len(rows)))
	return s.sendPaged(ctx, ex, len(rows), func(b *pgx.Batch, i int) {
		r := rows[i]
		b.Queue(`INSERT INTO bot_logs_statehash (parent_statehash_id, statehash_id, weight, bot_log_id)
			 VALUES (
			   (SELECT id FROM statehash WHERE value = $1),
			   (SELECT id FROM statehash WHERE value = $2),
			   $3, $4)`,
			r.ParentStateHash, r.StateHash, r.Weight, r.BotLogID)
	})
}

// CreatePoints writes one scoring record per shortlisted submission.
func (s *Store) CreatePoints(ctx context.Context, ex postgres.Executor, points []models.Point) error {
	if len(points) == 0 {
		return nil
	}
	s.Logger.Info("Inserting points", zap.Int("count", len(points)))
	return s.sendPaged(ctx, ex, len(points), func(b *pgx.Batch, i int) {
		p := points[i]
		b.Queue(`INSERT INTO points
			 (file_name, file_timestamps, blockchain_epoch, node_id,
			  blockchain_height, amount, created_at, bot_log_id, statehash_id)
			 VALUES ($1, $2, $3,
			   (SELECT id FROM nodes WHERE block_producer_key = $4),
			   $5, $6, $7, $8,
			   (SELECT id FROM statehash WHERE value = $9))`,
			p.FileName, p.FileTimestamps, p.BlockchainEpoch, p.BlockProducerKey,
			p.BlockchainHeight, p.Amount, p.CreatedAt, p.BotLogID, p.StateHash)
	})
}

// sendPaged queues n statements in pages and drains every result. A failed
// statement surfaces as the error of its page.
func (s *Store) sendPaged(ctx context.Context, ex postgres.Executor, n int, queue func(b *pgx.Batch, i int)) error {
	for off := 0; off < n; off += pageSize {
		end := off + pageSize
		if end > n {
			end = n
		}
		b := &pgx.Batch{}
		for i := off; i < end; i++ {
			queue(b, i)
		}
		results := ex.SendBatch(ctx, b)
		var batchErr error
		for i := off; i < end; i++ {
			if _, err := results.Exec(); err != nil && batchErr == nil {
				batchErr = fmt.Errorf("ledger: batch statement %d: %w", i, err)
			}
		}
		if err := results.Close(); err != nil && batchErr == nil {
			batchErr = fmt.Errorf("ledger: close batch: %w", err)
		}
		if batchErr != nil {
			return batchErr
		}
	}
	return nil
}

// UpdateScoreboard recomputes every producer's score over the trailing window
// ending at cutoff and snapshots the result into score_history. It runs in its
// own transaction on purpose: a failed recompute must not roll back the batch
// that triggered it.
func (s *Store) UpdateScoreboard(ctx context.Context, cutoff time.Time, windowDays int) error {
	s.Logger.Info("Updating scoreboard",
		zap.Time("cutoff", cutoff),
		zap.Int("window_days", windowDays))

	// points_summary is maintained by an insert trigger on points and holds
	// one row per producer per batch with at least one valid submission.
	scoreSQL := `WITH vars (snapshot_date, start_date) AS (
		  VALUES ($1::timestamptz, ($1::timestamptz - make_interval(days => $2)))
		)
		, epochs AS (
		  SELECT extract('epoch' FROM snapshot_date) AS end_epoch,
		         extract('epoch' FROM start_date) AS start_epoch
		  FROM vars
		)
		, b_logs AS (
		  SELECT count(1) AS surveys
		  FROM bot_logs b, epochs e
		  WHERE b.batch_start_epoch >= e.start_epoch
		    AND b.batch_end_epoch <= e.end_epoch
		)
		, scores AS (
		  SELECT p.node_id, count(p.bot_log_id) AS bp_points
		  FROM points_summary p
		  JOIN bot_logs b ON p.bot_log_id = b.id, epochs e
		  WHERE b.batch_start_epoch >= e.start_epoch
		    AND b.batch_end_epoch <= e.end_epoch
		  GROUP BY 1
		)
		, final_scores AS (
		  SELECT node_id, bp_points, surveys,
		         trunc((bp_points::decimal * 100) / surveys, 2) AS score_perc
		  FROM scores l JOIN nodes n ON l.node_id = n.id, b_logs t
		)
		UPDATE nodes nrt SET score = s.bp_points, score_percent = s.score_perc
		FROM final_scores s WHERE nrt.id = s.node_id`

	historySQL := `INSERT INTO score_history (node_id, score_at, score, score_percent)
		SELECT id AS node_id, $1, score, score_percent FROM nodes WHERE score IS NOT NULL`

	return s.Client.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, scoreSQL, cutoff, windowDays); err != nil {
			return fmt.Errorf("ledger: recompute scores: %w", err)
		}
		if _, err := tx.Exec(ctx, historySQL, cutoff); err != nil {
			return fmt.Errorf("ledger: snapshot score history: %w", err)
		}
		return nil
	})
}

// RosterEntry is one row from the operator roster.
type RosterEntry struct {
	DiscordID        string
	Email            string
	BlockProducerKey string
}

// UpdateApplicationStatus merges roster contact details into nodes and flags
// each matched producer as an applicant. Unknown keys are a no-op.
func (s *Store) UpdateApplicationStatus(ctx context.Context, entries []RosterEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.Logger.Info("Updating application status", zap.Int("count", len(entries)))
	return s.sendPaged(ctx, s.Client.Pool, len(entries), func(b *pgx.Batch, i int) {
		e := entries[i]
		b.Queue(`UPDATE nodes SET application_status = true, discord_id = $1, email_id = $2
			 WHERE block_producer_key = $3`,
			e.DiscordID, e.Email, e.BlockProducerKey)
	})
}
