package submissions

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/blocksurvey/uptime-coordinator/pkg/db/models"
	"github.com/blocksurvey/uptime-coordinator/pkg/db/postgres"
)

// PostgresStore reads submissions from the shared PostgreSQL database. It
// borrows the ledger client's pool, so Close is a no-op.
type PostgresStore struct {
	logger *zap.Logger
	client *postgres.Client
}

func NewPostgresStore(logger *zap.Logger, client *postgres.Client) *PostgresStore {
	return &PostgresStore{logger: logger, client: client}
}

func (s *PostgresStore) Submissions(ctx context.Context, start, end time.Time) ([]models.Submission, error) {
	rows, err := s.client.Pool.Query(ctx,
		`SELECT submitted_at_date, submitted_at, submitter, created_at, block_hash,
		        remote_addr, peer_id, graphql_control_port, built_with_commit_sha,
		        state_hash, parent, height, slot, validation_error, verified
		 FROM submissions
		 WHERE submitted_at >= $1 AND submitted_at < $2
		 ORDER BY submitted_at`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("submissions: query postgres: %w", err)
	}
	defer rows.Close()

	var out []models.Submission
	for rows.Next() {
		var (
			sub  models.Submission
			date time.Time
		)
		err := rows.Scan(
			&date, &sub.SubmittedAt, &sub.Submitter, &sub.CreatedAt,
			&sub.BlockHash, &sub.RemoteAddr, &sub.PeerID, &sub.GraphQLControlPort,
			&sub.BuiltWithCommitSHA, &sub.StateHash, &sub.ParentStateHash,
			&sub.Height, &sub.Slot, &sub.ValidationError, &sub.Verified,
		)
		if err != nil {
			return nil, fmt.Errorf("submissions: scan postgres row: %w", err)
		}
		sub.SubmittedAtDate = date.Format("2006-01-02")
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("submissions: read postgres rows: %w", err)
	}

	s.logger.Info("Loaded submissions",
		zap.String("backend", "postgres"),
		zap.Int("count", len(out)),
		zap.Time("start", start),
		zap.Time("end", end))
	return out, nil
}

func (s *PostgresStore) Close() {}
