package submissions

import (
	"sort"
	"time"
)

// The submissions table is partitioned by UTC date and a 600-way shard
// column. Each shard spans 144 seconds of the day, so a time range prunes to
// a handful of partitions instead of a full-day scan.
const (
	shardsPerDay = 600
	shardSeconds = 24 * 60 * 60 / shardsPerDay
)

// Shard returns the shard bucket for t, in [0, 599].
func Shard(t time.Time) int {
	tt := t.UTC()
	secondOfDay := tt.Hour()*3600 + tt.Minute()*60 + tt.Second()
	return secondOfDay / shardSeconds
}

// ShardsInRange returns the distinct shards touched by [start, end), in
// ascending order. The shard holding end is included: end's timestamp is
// exclusive but its bucket may still hold earlier rows.
func ShardsInRange(start, end time.Time) []int {
	seen := make(map[int]struct{})
	for t := start; t.Before(end); t = t.Add(shardSeconds * time.Second) {
		seen[Shard(t)] = struct{}{}
	}
	seen[Shard(end)] = struct{}{}

	out := make([]int, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

// DateList returns every UTC date partition (YYYY-MM-DD) covered by
// [start, end], inclusive on both sides.
func DateList(start, end time.Time) []string {
	startDay := start.UTC().Truncate(24 * time.Hour)
	endDay := end.UTC().Truncate(24 * time.Hour)

	var out []string
	for d := startDay; !d.After(endDay); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format("2006-01-02"))
	}
	return out
}
