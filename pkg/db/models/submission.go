package models

import "time"

// Submission is one verifier-observed block-production claim. The verifier
// writes the derived chain-state fields (state hash, parent, height, slot)
// and the verification verdict back onto the row; the coordinator only reads.
type Submission struct {
	SubmittedAtDate    string    `json:"submitted_at_date"`
	SubmittedAt        time.Time `json:"submitted_at"`
	Submitter          string    `json:"submitter"`
	CreatedAt          time.Time `json:"created_at"`
	BlockHash          string    `json:"block_hash"`
	RemoteAddr         string    `json:"remote_addr"`
	PeerID             string    `json:"peer_id"`
	SnarkWork          []byte    `json:"snark_work,omitempty"`
	GraphQLControlPort int       `json:"graphql_control_port"`
	BuiltWithCommitSHA string    `json:"built_with_commit_sha"`

	// Verification output, absent until a worker has processed the row.
	StateHash       *string `json:"state_hash,omitempty"`
	ParentStateHash *string `json:"parent_state_hash,omitempty"`
	Height          *int64  `json:"height,omitempty"`
	Slot            *int64  `json:"slot,omitempty"`
	ValidationError *string `json:"validation_error,omitempty"`
	Verified        bool    `json:"verified"`
}

// Usable reports whether the submission counts for scoring: verified, no
// validation error, and carrying the derived chain-state fields.
func (s *Submission) Usable() bool {
	if !s.Verified {
		return false
	}
	if s.ValidationError != nil && *s.ValidationError != "" {
		return false
	}
	return s.StateHash != nil && *s.StateHash != "" &&
		s.ParentStateHash != nil && *s.ParentStateHash != ""
}
