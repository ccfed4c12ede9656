// Package roster pulls block-producer contact details from the operator
// spreadsheet and merges them into the nodes table.
package roster

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/blocksurvey/uptime-coordinator/pkg/db/ledger"
	"github.com/blocksurvey/uptime-coordinator/pkg/retry"
	"github.com/blocksurvey/uptime-coordinator/pkg/utils"
)

// Syncer reads the roster spreadsheet and updates application status.
type Syncer struct {
	Logger        *zap.Logger
	Store         *ledger.Store
	SpreadsheetID string

	service *sheets.Service
}

// New builds a Syncer from SPREADSHEET_ID and SPREADSHEET_CREDENTIALS_JSON.
// Missing configuration returns a nil Syncer and no error: roster sync is
// optional and the caller just skips it.
func New(ctx context.Context, logger *zap.Logger, store *ledger.Store) (*Syncer, error) {
	spreadsheetID := utils.Env("SPREADSHEET_ID", "")
	credentials := utils.Env("SPREADSHEET_CREDENTIALS_JSON", "")
	if spreadsheetID == "" || credentials == "" {
		logger.Info("Roster sync not configured, skipping")
		return nil, nil
	}

	service, err := sheets.NewService(ctx, option.WithCredentialsFile(credentials))
	if err != nil {
		return nil, fmt.Errorf("roster: create sheets service: %w", err)
	}

	return &Syncer{
		Logger:        logger,
		Store:         store,
		SpreadsheetID: spreadsheetID,
		service:       service,
	}, nil
}

// Sync fetches the roster and merges it into nodes. Spreadsheet reads are
// retried a few times; an empty or malformed sheet is logged and skipped.
func (s *Syncer) Sync(ctx context.Context) error {
	entries, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		s.Logger.Warn("Roster spreadsheet yielded no usable rows")
		return nil
	}

	if err := s.Store.UpdateApplicationStatus(ctx, entries); err != nil {
		return fmt.Errorf("roster: update application status: %w", err)
	}
	s.Logger.Info("Roster sync complete", zap.Int("entries", len(entries)))
	return nil
}

// fetch reads the first worksheet. Columns 3-5 hold discord id, email and
// block producer key; the first row is a header.
func (s *Syncer) fetch(ctx context.Context) ([]ledger.RosterEntry, error) {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = 3

	var resp *sheets.ValueRange
	err := retry.WithBackoff(ctx, cfg, s.Logger, "roster_spreadsheet_read", func() error {
		var readErr error
		resp, readErr = s.service.Spreadsheets.Values.
			Get(s.SpreadsheetID, "A:E").
			Context(ctx).
			Do()
		return readErr
	})
	if err != nil {
		return nil, fmt.Errorf("roster: read spreadsheet: %w", err)
	}

	var entries []ledger.RosterEntry
	for i, row := range resp.Values {
		if i == 0 {
			continue
		}
		if len(row) < 5 {
			s.Logger.Warn("Skipping short roster row", zap.Int("row", i+1), zap.Int("columns", len(row)))
			continue
		}
		entry := ledger.RosterEntry{
			DiscordID:        fmt.Sprint(row[2]),
			Email:            fmt.Sprint(row[3]),
			BlockProducerKey: fmt.Sprint(row[4]),
		}
		if entry.BlockProducerKey == "" {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
