package submissions

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/blocksurvey/uptime-coordinator/pkg/db/models"
	"github.com/blocksurvey/uptime-coordinator/pkg/db/postgres"
	"github.com/blocksurvey/uptime-coordinator/pkg/utils"
)

// Store reads verifier submissions for a time window. Submissions returns
// rows with submitted_at in [start, end).
type Store interface {
	Submissions(ctx context.Context, start, end time.Time) ([]models.Submission, error)
	Close()
}

// New selects a backend from SUBMISSION_STORAGE. The Cassandra backend opens
// its own session; the Postgres backend shares the ledger's pool.
func New(ctx context.Context, logger *zap.Logger, pg *postgres.Client) (Store, error) {
	storage := utils.Env("SUBMISSION_STORAGE", "POSTGRES")
	switch storage {
	case "CASSANDRA":
		return NewKeyspacesStore(ctx, logger)
	case "POSTGRES":
		return NewPostgresStore(logger, pg), nil
	default:
		return nil, fmt.Errorf("submissions: unknown SUBMISSION_STORAGE %q", storage)
	}
}
