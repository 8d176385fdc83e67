package models

import "testing"

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{EscrowStatusOpen, EscrowStatusRolesPending, true},
		{EscrowStatusRolesPending, EscrowStatusRolesClaimed, true},
		{EscrowStatusRolesClaimed, EscrowStatusFunded, true},
		{EscrowStatusFunded, EscrowStatusServiceComplete, true},
		{EscrowStatusServiceComplete, EscrowStatusReleasePending, true},
		{EscrowStatusReleasePending, EscrowStatusReleased, true},

		// Release straight from funded (service-complete is optional)
		{EscrowStatusFunded, EscrowStatusReleasePending, true},

		// Funding observed before both roles are claimed
		{EscrowStatusOpen, EscrowStatusFunded, true},
		{EscrowStatusRolesPending, EscrowStatusFunded, true},

		// Both-roles claim collapses open directly to roles_claimed
		{EscrowStatusOpen, EscrowStatusRolesClaimed, true},

		// Disputes open only after roles are claimed
		{EscrowStatusRolesClaimed, EscrowStatusDisputed, true},
		{EscrowStatusFunded, EscrowStatusDisputed, true},
		{EscrowStatusServiceComplete, EscrowStatusDisputed, true},
		{EscrowStatusReleasePending, EscrowStatusDisputed, true},
		{EscrowStatusOpen, EscrowStatusDisputed, false},
		{EscrowStatusRolesPending, EscrowStatusDisputed, false},

		// Admin settlement paths
		{EscrowStatusDisputed, EscrowStatusReleasePending, true},
		{EscrowStatusDisputed, EscrowStatusRefundPending, true},
		{EscrowStatusDisputed, EscrowStatusCancelled, true},
		{EscrowStatusRefundPending, EscrowStatusCancelled, true},
		{EscrowStatusOpen, EscrowStatusCancelled, true},
		{EscrowStatusFunded, EscrowStatusCancelled, true},

		// No backward transitions
		{EscrowStatusFunded, EscrowStatusRolesClaimed, false},
		{EscrowStatusRolesClaimed, EscrowStatusOpen, false},
		{EscrowStatusReleased, EscrowStatusFunded, false},
		{EscrowStatusServiceComplete, EscrowStatusFunded, false},

		// Terminal statuses stay terminal
		{EscrowStatusReleased, EscrowStatusCancelled, false},
		{EscrowStatusCancelled, EscrowStatusReleased, false},
		{EscrowStatusCancelled, EscrowStatusRefundPending, false},
		{EscrowStatusReleased, EscrowStatusDisputed, false},

		// Unknown statuses
		{"nonexistent", EscrowStatusFunded, false},
		{EscrowStatusOpen, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestAllStatusesHaveTransitionEntry(t *testing.T) {
	allStatuses := []string{
		EscrowStatusOpen, EscrowStatusRolesPending, EscrowStatusRolesClaimed,
		EscrowStatusFunded, EscrowStatusServiceComplete,
		EscrowStatusReleasePending, EscrowStatusReleased,
		EscrowStatusDisputed, EscrowStatusRefundPending, EscrowStatusCancelled,
	}

	for _, status := range allStatuses {
		if _, ok := ValidEscrowTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidEscrowTransitions map", status)
		}
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	terminal := []string{EscrowStatusReleased, EscrowStatusCancelled}
	for _, status := range terminal {
		if !IsTerminalStatus(status) {
			t.Errorf("IsTerminalStatus(%q) = false, want true", status)
		}
		transitions := ValidEscrowTransitions[status]
		if len(transitions) != 0 {
			t.Errorf("terminal status %q should have no transitions, got %v", status, transitions)
		}
	}
}

func TestRoleOf(t *testing.T) {
	payer := "user_a"
	payee := "user_b"
	e := &Escrow{CreatorUserID: payer, PayerUserID: &payer, PayeeUserID: &payee}

	if got := e.RoleOf(payer); got != RoleSender {
		t.Errorf("RoleOf(payer) = %q, want %q", got, RoleSender)
	}
	if got := e.RoleOf(payee); got != RoleRecipient {
		t.Errorf("RoleOf(payee) = %q, want %q", got, RoleRecipient)
	}
	if got := e.RoleOf("stranger"); got != "" {
		t.Errorf("RoleOf(stranger) = %q, want empty", got)
	}
	if !e.BothRolesClaimed() {
		t.Error("BothRolesClaimed() = false, want true")
	}
}
