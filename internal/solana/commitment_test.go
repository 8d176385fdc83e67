package solana

import "testing"

func TestNormalizeCommitment(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"processed", CommitmentProcessed},
		{"confirmed", CommitmentConfirmed},
		{"finalized", CommitmentFinalized},
		{"Finalized", CommitmentFinalized},
		{"  confirmed ", CommitmentConfirmed},
		{"", ""},
		{"garbage", CommitmentProcessed},
	}
	for _, tt := range tests {
		if got := NormalizeCommitment(tt.in); got != tt.expected {
			t.Errorf("NormalizeCommitment(%q) = %q, want %q", tt.in, got, tt.expected)
		}
	}
}

func TestCommitmentSatisfied(t *testing.T) {
	tests := []struct {
		current  string
		target   string
		expected bool
	}{
		{"finalized", "confirmed", true},
		{"confirmed", "confirmed", true},
		{"processed", "confirmed", false},
		{"confirmed", "finalized", false},
		{"finalized", "finalized", true},
		// Empty target falls back to confirmed
		{"confirmed", "", true},
		{"processed", "", false},
		// Unknown current never satisfies
		{"", "confirmed", false},
		{"not_found", "confirmed", false},
	}
	for _, tt := range tests {
		if got := CommitmentSatisfied(tt.current, tt.target); got != tt.expected {
			t.Errorf("CommitmentSatisfied(%q, %q) = %v, want %v", tt.current, tt.target, got, tt.expected)
		}
	}
}
