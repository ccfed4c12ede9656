package coordinator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/blocksurvey/uptime-coordinator/pkg/utils"
)

// LocalBackend runs each work unit as a docker subprocess through a bounded
// pool. Meant for TEST_ENV runs on a developer machine, not production.
type LocalBackend struct {
	Logger *zap.Logger

	pool        pond.Pool
	image       string
	tag         string
	networkName string
	noChecks    bool
	cassandraIP string

	mu    sync.Mutex
	procs map[Handle]*localProc
}

type localProc struct {
	done chan struct{}
	err  error
	out  []byte
}

var _ Backend = (*LocalBackend)(nil)

func NewLocalBackend(logger *zap.Logger, cfg Config) *LocalBackend {
	log := logger.With(zap.String("component", "local_backend"))
	return &LocalBackend{
		Logger:      log,
		pool:        pond.NewPool(cfg.MiniBatchNumber),
		image:       cfg.WorkerImage,
		tag:         cfg.WorkerTag,
		networkName: cfg.NetworkName,
		noChecks:    cfg.NoChecks,
		cassandraIP: resolveHostIP(utils.Env("CASSANDRA_HOST", ""), log),
		procs:       make(map[Handle]*localProc),
	}
}

// Launch spawns docker run for the unit and returns immediately. Output is
// collected and logged when the process finishes.
func (b *LocalBackend) Launch(ctx context.Context, unit Unit) (Handle, error) {
	name := fmt.Sprintf("local-validator-%s-%d", time.Now().UTC().Format("06-01-02-15-04"), unit.Index)
	args := b.dockerArgs(unit)

	proc := &localProc{done: make(chan struct{})}
	b.mu.Lock()
	b.procs[Handle(name)] = proc
	b.mu.Unlock()

	b.Logger.Info("Launching worker process",
		zap.String("process", name),
		zap.Strings("args", args))

	b.pool.Submit(func() {
		defer close(proc.done)
		cmd := exec.CommandContext(ctx, "docker", args...)
		cmd.Env = os.Environ()
		proc.out, proc.err = cmd.CombinedOutput()
	})
	return Handle(name), nil
}

// Poll reports whether the subprocess has exited, without blocking.
func (b *LocalBackend) Poll(_ context.Context, h Handle) (UnitStatus, error) {
	b.mu.Lock()
	proc, ok := b.procs[h]
	b.mu.Unlock()
	if !ok {
		return UnitFailed, fmt.Errorf("unknown process %s", h)
	}

	select {
	case <-proc.done:
	default:
		return UnitRunning, nil
	}

	if len(proc.out) > 0 {
		b.Logger.Info("Worker process output",
			zap.String("process", string(h)),
			zap.ByteString("output", proc.out))
	}
	if proc.err != nil {
		b.Logger.Error("Worker process failed",
			zap.String("process", string(h)),
			zap.Error(proc.err))
		return UnitFailed, nil
	}
	return UnitSucceeded, nil
}

func (b *LocalBackend) Close() {
	b.pool.StopAndWait()
}

func (b *LocalBackend) dockerArgs(unit Unit) []string {
	noChecks := ""
	if b.noChecks {
		noChecks = "1"
	}
	return []string{
		"run", "--network", "host", "--rm",
		"-v", fmt.Sprintf("%s:/var/ssl/ssl-cert.crt", os.Getenv("SSL_CERTFILE")),
		"-e", fmt.Sprintf("CASSANDRA_HOST=%s", b.cassandraIP),
		"-e", "CASSANDRA_PORT",
		"-e", "CASSANDRA_USERNAME",
		"-e", "CASSANDRA_PASSWORD",
		"-e", "AWS_KEYSPACE",
		"-e", "AWS_ACCESS_KEY_ID",
		"-e", "AWS_SECRET_ACCESS_KEY",
		"-e", "AWS_DEFAULT_REGION",
		"-e", "AWS_S3_BUCKET",
		"-e", "AWS_REGION",
		"-e", fmt.Sprintf("NETWORK_NAME=%s", b.networkName),
		"-e", fmt.Sprintf("NO_CHECKS=%s", noChecks),
		"-e", "SSL_CERTFILE=/var/ssl/ssl-cert.crt",
		"-e", "SUBMISSION_STORAGE",
		"-e", "POSTGRES_HOST",
		"-e", "POSTGRES_PORT",
		"-e", "POSTGRES_DB",
		"-e", "POSTGRES_USER",
		"-e", "POSTGRES_PASSWORD",
		"-e", "POSTGRES_SSLMODE",
		fmt.Sprintf("%s:%s", b.image, b.tag),
		workerTimestamp(unit.Start),
		workerTimestamp(unit.End),
	}
}
