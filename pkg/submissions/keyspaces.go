package submissions

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/blocksurvey/uptime-coordinator/pkg/db/models"
	"github.com/blocksurvey/uptime-coordinator/pkg/retry"
	"github.com/blocksurvey/uptime-coordinator/pkg/utils"
)

// KeyspacesStore reads submissions from Cassandra or AWS Keyspaces. Queries
// prune by date partition and shard before the timestamp range filter.
type KeyspacesStore struct {
	logger   *zap.Logger
	session  *gocql.Session
	keyspace string
}

// NewKeyspacesStore connects using the CASSANDRA_* environment variables.
// Keyspaces requires TLS on port 9142; SSL_CERTFILE points at the CA bundle.
func NewKeyspacesStore(ctx context.Context, logger *zap.Logger) (*KeyspacesStore, error) {
	cluster := gocql.NewCluster(utils.Env("CASSANDRA_HOST", "localhost"))
	cluster.Port = utils.EnvInt("CASSANDRA_PORT", 9142)
	cluster.Timeout = 30 * time.Second
	cluster.ConnectTimeout = 30 * time.Second
	cluster.Consistency = gocql.LocalQuorum
	cluster.Authenticator = gocql.PasswordAuthenticator{
		Username: utils.Env("CASSANDRA_USERNAME", ""),
		Password: utils.Env("CASSANDRA_PASSWORD", ""),
	}
	if cert := utils.Env("SSL_CERTFILE", ""); cert != "" {
		cluster.SslOpts = &gocql.SslOptions{CaPath: cert}
	}

	store := &KeyspacesStore{
		logger:   logger,
		keyspace: utils.Env("AWS_KEYSPACE", "uptime"),
	}
	err := retry.WithBackoff(ctx, retry.DefaultConfig(), logger, "cassandra_connection", func() error {
		session, createErr := cluster.CreateSession()
		if createErr != nil {
			return fmt.Errorf("failed to create cassandra session: %w", createErr)
		}
		store.session = session

		logger.Info("Cassandra session established",
			zap.String("host", cluster.Hosts[0]),
			zap.String("keyspace", store.keyspace))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (s *KeyspacesStore) Submissions(ctx context.Context, start, end time.Time) ([]models.Submission, error) {
	dates := DateList(start, end)
	shards := ShardsInRange(start, end)

	cql := fmt.Sprintf(
		`SELECT submitted_at_date, submitted_at, submitter, created_at, block_hash,
		        remote_addr, peer_id, graphql_control_port, built_with_commit_sha,
		        state_hash, parent, height, slot, validation_error, verified
		 FROM %s.submissions
		 WHERE submitted_at_date IN ? AND shard IN ?
		   AND submitted_at >= ? AND submitted_at < ?`, s.keyspace)

	iter := s.session.Query(cql, dates, shards, start.UTC(), end.UTC()).
		WithContext(ctx).Iter()

	var out []models.Submission
	for {
		var (
			sub  models.Submission
			date time.Time
		)
		if !iter.Scan(
			&date, &sub.SubmittedAt, &sub.Submitter, &sub.CreatedAt,
			&sub.BlockHash, &sub.RemoteAddr, &sub.PeerID, &sub.GraphQLControlPort,
			&sub.BuiltWithCommitSHA, &sub.StateHash, &sub.ParentStateHash,
			&sub.Height, &sub.Slot, &sub.ValidationError, &sub.Verified,
		) {
			break
		}
		sub.SubmittedAtDate = date.Format("2006-01-02")
		out = append(out, sub)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("submissions: query cassandra: %w", err)
	}

	s.logger.Info("Loaded submissions",
		zap.String("backend", "cassandra"),
		zap.Int("count", len(out)),
		zap.Strings("dates", dates),
		zap.Ints("shards", shards))
	return out, nil
}

func (s *KeyspacesStore) Close() {
	if s.session != nil {
		s.session.Close()
	}
}
