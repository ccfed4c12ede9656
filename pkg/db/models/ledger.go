package models

import "time"

// BotLog is the ledger row marking one processed batch. Exactly one row is
// written per attempted batch, even when no qualifying submissions exist, so
// the next iteration always has a well-defined resume point.
type BotLog struct {
	ID              int64
	FilesProcessed  int
	FileTimestamps  time.Time
	BatchStartEpoch int64
	BatchEndEpoch   int64
	ProcessingTime  float64
}

// Node is one row per distinct block-producer public key. Identity is
// append-only; the score fields are rewritten by every scoreboard recompute.
type Node struct {
	ID                int64
	BlockProducerKey  string
	Score             *int64
	ScorePercent      *float64
	ApplicationStatus bool
	DiscordID         *string
	EmailID           *string
	UpdatedAt         time.Time
}

// ShortlistRow is one bot_logs_statehash edge: a state hash within the
// acceptance radius of a batch's canonical tips, carried over to seed the
// next batch's graph.
type ShortlistRow struct {
	ParentStateHash string
	StateHash       string
	Weight          int
	BotLogID        int64
}

// Point is one scoring record: a submission whose state hash made the final
// shortlist for its batch.
type Point struct {
	FileName         string
	FileTimestamps   time.Time
	BlockchainEpoch  int64
	BlockProducerKey string
	BlockchainHeight int64
	Amount           int
	CreatedAt        time.Time
	BotLogID         int64
	StateHash        string
}
