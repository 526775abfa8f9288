package models

import (
	"encoding/json"
	"testing"
	"time"

	"gorm.io/datatypes"
)

func boolPtr(b bool) *bool { return &b }

func sessionWith(t *testing.T, maxUsers int, requireInvite bool, invited []uint, bans []SessionBan) *VRSession {
	t.Helper()
	s := &VRSession{
		MaxUsers:      maxUsers,
		RequireInvite: boolPtr(requireInvite),
		InviteCode:    "abc123",
	}
	if invited != nil {
		raw, err := json.Marshal(invited)
		if err != nil {
			t.Fatalf("marshal invited: %v", err)
		}
		s.InvitedUsers = datatypes.JSON(raw)
	}
	if bans != nil {
		raw, err := json.Marshal(bans)
		if err != nil {
			t.Fatalf("marshal bans: %v", err)
		}
		s.BannedUsers = datatypes.JSON(raw)
	}
	return s
}

func TestCanUserJoinOpenSession(t *testing.T) {
	s := sessionWith(t, 10, false, nil, nil)
	ok, reason := s.CanUserJoin(5, 3, "")
	if !ok || reason != "" {
		t.Fatalf("expected open join, got ok=%v reason=%q", ok, reason)
	}
}

func TestCanUserJoinAtCapacity(t *testing.T) {
	s := sessionWith(t, 4, false, nil, nil)
	ok, reason := s.CanUserJoin(5, 4, "")
	if ok || reason != "capacity" {
		t.Fatalf("expected capacity rejection, got ok=%v reason=%q", ok, reason)
	}
}

func TestCanUserJoinInviteRequired(t *testing.T) {
	s := sessionWith(t, 10, true, []uint{7}, nil)

	if ok, _ := s.CanUserJoin(7, 0, ""); !ok {
		t.Fatal("invited user should join without a code")
	}
	if ok, _ := s.CanUserJoin(8, 0, "abc123"); !ok {
		t.Fatal("valid invite code should count as an invite")
	}
	ok, reason := s.CanUserJoin(8, 0, "wrong")
	if ok || reason != "invite" {
		t.Fatalf("expected invite rejection, got ok=%v reason=%q", ok, reason)
	}
}

func TestCanUserJoinBanWinsOverInviteCode(t *testing.T) {
	s := sessionWith(t, 10, true, nil, []SessionBan{{UserID: 9, Reason: "griefing"}})
	ok, reason := s.CanUserJoin(9, 0, "abc123")
	if ok || reason != "banned" {
		t.Fatalf("banned user with valid code must be rejected as banned, got ok=%v reason=%q", ok, reason)
	}
}

func TestCloseStampsDurationOnce(t *testing.T) {
	created := time.Now().Add(-90 * time.Minute)
	s := &VRSession{IsActive: true}
	s.CreatedAt = created

	endedAt := created.Add(90 * time.Minute)
	if !s.Close(endedAt) {
		t.Fatal("first close should report the close")
	}
	if s.IsActive {
		t.Fatal("session should be inactive after close")
	}
	if s.EndedAt == nil || !s.EndedAt.Equal(endedAt) {
		t.Fatalf("expected EndedAt %v, got %v", endedAt, s.EndedAt)
	}
	if s.DurationSeconds != 90*60 {
		t.Fatalf("expected duration %d, got %d", 90*60, s.DurationSeconds)
	}

	// A later close must not move the stamp
	if s.Close(endedAt.Add(time.Hour)) {
		t.Fatal("second close should be a no-op")
	}
	if !s.EndedAt.Equal(endedAt) || s.DurationSeconds != 90*60 {
		t.Fatalf("stamp moved on double close: endedAt=%v duration=%d", s.EndedAt, s.DurationSeconds)
	}
}

func TestBanAndInviteHelpers(t *testing.T) {
	s := sessionWith(t, 10, true, []uint{1, 2}, []SessionBan{{UserID: 3, Reason: "spam"}})

	if !s.IsInvited(2) || s.IsInvited(3) {
		t.Fatal("invite list decode broken")
	}
	if !s.IsBanned(3) || s.IsBanned(1) {
		t.Fatal("ban list decode broken")
	}
	if got := len(s.Bans()); got != 1 {
		t.Fatalf("expected 1 ban, got %d", got)
	}

	empty := &VRSession{}
	if empty.IsBanned(1) || empty.IsInvited(1) || empty.RequiresInvite() || empty.IsPrivate() {
		t.Fatal("unset JSON bags should decode as empty")
	}
}
