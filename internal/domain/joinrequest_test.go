package domain

import (
	"errors"
	"testing"
)

func newTestRoom(members ...Credential) *Room {
	r := NewRoom("test", members[0])
	for _, m := range members[1:] {
		r.AddMember(m)
	}
	return r
}

func TestApplyVoteUnanimousApproval(t *testing.T) {
	t.Parallel()
	room := newTestRoom("a", "b", "c")
	req := NewJoinRequest(room, "d")

	if len(req.Decisions) != 3 {
		t.Fatalf("roster size: got %d, want 3", len(req.Decisions))
	}

	for i, voter := range []Credential{"a", "b"} {
		admitted, err := req.ApplyVote(voter, true)
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
		if admitted {
			t.Fatalf("vote %d admitted before unanimity", i)
		}
		if req.Status != StatusPending {
			t.Fatalf("vote %d: status %s, want pending", i, req.Status)
		}
	}

	admitted, err := req.ApplyVote("c", true)
	if err != nil {
		t.Fatalf("final vote: %v", err)
	}
	if !admitted {
		t.Error("final unanimous vote did not admit")
	}
	if req.Status != StatusApproved {
		t.Errorf("status: got %s, want approved", req.Status)
	}
}

func TestApplyVoteFirstDenyIsTerminal(t *testing.T) {
	t.Parallel()
	room := newTestRoom("a", "b", "c")
	req := NewJoinRequest(room, "d")

	if _, err := req.ApplyVote("a", true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	admitted, err := req.ApplyVote("b", false)
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if admitted {
		t.Error("deny reported admission")
	}
	if req.Status != StatusDenied {
		t.Fatalf("status: got %s, want denied", req.Status)
	}

	// C's vote is irrelevant once the request is terminal.
	if _, err := req.ApplyVote("c", true); !errors.Is(err, ErrConflict) {
		t.Errorf("vote on denied request: got %v, want ErrConflict", err)
	}
}

func TestApplyVoteDoubleVoteConflicts(t *testing.T) {
	t.Parallel()
	room := newTestRoom("a", "b")
	req := NewJoinRequest(room, "c")

	if _, err := req.ApplyVote("a", true); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	if _, err := req.ApplyVote("a", false); !errors.Is(err, ErrConflict) {
		t.Fatalf("second vote: got %v, want ErrConflict", err)
	}
	// The stored vote is unchanged by the rejected second attempt.
	if req.Decisions[0].Vote != VoteApprove {
		t.Errorf("stored vote: got %s, want approve", req.Decisions[0].Vote)
	}
	if req.Status != StatusPending {
		t.Errorf("status: got %s, want pending", req.Status)
	}
}

func TestApplyVoteOutsiderForbidden(t *testing.T) {
	t.Parallel()
	room := newTestRoom("a")
	req := NewJoinRequest(room, "b")

	if _, err := req.ApplyVote("z", true); !errors.Is(err, ErrForbidden) {
		t.Errorf("outsider vote: got %v, want ErrForbidden", err)
	}
}

func TestRosterFrozenAtCreation(t *testing.T) {
	t.Parallel()
	room := newTestRoom("a")
	req := NewJoinRequest(room, "b")

	// A member admitted after request creation gets no vote.
	room.AddMember("c")
	if len(req.Decisions) != 1 {
		t.Fatalf("roster size after room grew: got %d, want 1", len(req.Decisions))
	}
	admitted, err := req.ApplyVote("a", true)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if !admitted {
		t.Error("sole roster member's approval did not admit")
	}
}

func TestRoomMemberSetSemantics(t *testing.T) {
	t.Parallel()
	room := newTestRoom("a")

	room.AddMember("b")
	room.AddMember("b")
	if len(room.Members) != 2 {
		t.Fatalf("duplicate add: got %d members, want 2", len(room.Members))
	}

	if !room.RemoveMember("b") {
		t.Fatal("remove existing member reported false")
	}
	if room.RemoveMember("b") {
		t.Fatal("remove absent member reported true")
	}
}

func TestNewRoomIDFormat(t *testing.T) {
	t.Parallel()
	id := string(NewRoomID())
	if len(id) != 32 {
		t.Fatalf("room id length: got %d, want 32", len(id))
	}
	for _, r := range id {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			t.Fatalf("room id %q contains non-hex rune %q", id, r)
		}
	}
}
