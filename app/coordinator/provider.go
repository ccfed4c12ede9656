package coordinator

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/blocksurvey/uptime-coordinator/pkg/batch"
)

// Unit is one verification work item: a sub-interval of the batch handed to a
// single worker.
type Unit struct {
	Index int
	Start time.Time
	End   time.Time
}

// Handle identifies a launched unit within its backend.
type Handle string

// UnitStatus is a backend-reported unit state.
type UnitStatus int

const (
	UnitRunning UnitStatus = iota
	UnitSucceeded
	UnitFailed
)

func (s UnitStatus) String() string {
	switch s {
	case UnitRunning:
		return "running"
	case UnitSucceeded:
		return "succeeded"
	case UnitFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Backend abstracts the platform where verification workers run.
// Implementations talk to Kubernetes, local Docker, or are fakes for tests.
// A Failed status is terminal for that handle; relaunching is the
// dispatcher's call.
type Backend interface {
	Launch(ctx context.Context, unit Unit) (Handle, error)
	Poll(ctx context.Context, h Handle) (UnitStatus, error)
	Close()
}

// UnitsFor converts the batch's sub-intervals into work units.
func UnitsFor(b batch.Batch, parts int) []Unit {
	intervals := b.Split(parts)
	units := make([]Unit, len(intervals))
	for i, iv := range intervals {
		units[i] = Unit{Index: i, Start: iv.Start, End: iv.End}
	}
	return units
}

// workerTimestamp renders a time the way the stateless verifier parses it:
// UTC, one fractional second digit, literal +0000 suffix.
func workerTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.0") + "+0000"
}

// resolveHostIP resolves a hostname with retries so worker pods get a stable
// contact point even when DNS is briefly unavailable. Falls back to the
// hostname itself after the retries run out.
func resolveHostIP(hostname string, logger *zap.Logger) string {
	if hostname == "" {
		return "0.0.0.0"
	}
	wait := 200 * time.Millisecond
	for attempt := 1; attempt <= 5; attempt++ {
		addrs, err := net.LookupHost(hostname)
		if err == nil && len(addrs) > 0 {
			return addrs[0]
		}
		logger.Warn("DNS resolution failed, retrying",
			zap.String("hostname", hostname),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err))
		time.Sleep(wait)
		wait *= 2
	}
	logger.Error("DNS resolution retries exhausted, using hostname as-is",
		zap.String("hostname", hostname))
	return hostname
}
