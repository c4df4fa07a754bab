package model

import (
	"testing"
	"time"
)

func TestParsePersonaID(t *testing.T) {
	tests := []struct {
		in      string
		want    PersonaID
		wantErr bool
	}{
		{"character:42", "character:42", false},
		{" player:abc ", "player:abc", false},
		{"character:", "", true},
		{"guild:1", "", true},
		{"42", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParsePersonaID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePersonaID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePersonaID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStallState(t *testing.T) {
	now := time.Now().UTC()

	s := &PlayerStall{}
	if s.State() != StallVacant {
		t.Errorf("expected vacant, got %s", s.State())
	}

	s.IsActive = true
	if s.State() != StallActive {
		t.Errorf("expected active, got %s", s.State())
	}

	s.SuspendedAt = &now
	if s.State() != StallGrace {
		t.Errorf("expected grace, got %s", s.State())
	}

	s.Release(now, now.Add(time.Hour))
	if s.State() != StallReleased {
		t.Errorf("expected released, got %s", s.State())
	}
}

func TestReleaseClearsAllOwnership(t *testing.T) {
	now := time.Now().UTC()
	s := &PlayerStall{
		OwnerCharacterID:     "c1",
		OwnerPersonaID:       "character:c1",
		OwnerPlayerPersonaID: "player:p1",
		OwnerDisplayName:     "Alys",
		CoinHouseAccountID:   "acct",
		HoldEarningsInStall:  true,
		IsActive:             true,
		SuspendedAt:          &now,
	}

	s.Release(now, now.Add(24*time.Hour))

	if s.HasOwner() || s.OwnerDisplayName != "" || s.CoinHouseAccountID != "" || s.HoldEarningsInStall {
		t.Errorf("expected ownership cleared, got %+v", s)
	}
	if s.IsActive || s.DeactivatedAt == nil || s.SuspendedAt != nil {
		t.Errorf("expected inactive released stall, got %+v", s)
	}
	if !s.NextRentDueAt.After(now) {
		t.Error("expected next rent due in the future")
	}
}

func TestOwnerPersonaFallsBackToCharacter(t *testing.T) {
	s := &PlayerStall{OwnerCharacterID: "c9"}
	if got := s.OwnerPersona(); got != "character:c9" {
		t.Errorf("expected character:c9, got %q", got)
	}
	s.OwnerPersonaID = "player:p2"
	if got := s.OwnerPersona(); got != "player:p2" {
		t.Errorf("expected player:p2, got %q", got)
	}
}
