package solana

import "strings"

// Commitment levels in confirmation order.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// StatusNotFound is reported when the ledger has no record of a signature.
const StatusNotFound = "not_found"

const LamportsPerSol = 1_000_000_000

var commitmentRank = map[string]int{
	CommitmentProcessed: 1,
	CommitmentConfirmed: 2,
	CommitmentFinalized: 3,
}

// NormalizeCommitment maps a raw confirmation status to one of the known
// levels, defaulting to processed for anything unrecognized and empty for
// empty input.
func NormalizeCommitment(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if _, ok := commitmentRank[v]; ok {
		return v
	}
	if v == "" {
		return ""
	}
	return CommitmentProcessed
}

// CommitmentSatisfied reports whether the current confirmation level meets or
// exceeds the target level.
func CommitmentSatisfied(current, target string) bool {
	c, ok := commitmentRank[NormalizeCommitment(current)]
	if !ok {
		return false
	}
	t, ok := commitmentRank[NormalizeCommitment(target)]
	if !ok {
		t = commitmentRank[CommitmentConfirmed]
	}
	return c >= t
}
