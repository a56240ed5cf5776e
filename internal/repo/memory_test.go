package repo

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/anteroom-chat/anteroom/internal/domain"
)

func TestCastVoteConcurrentApproversSingleAdmission(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rooms := NewMemoryRoomRepo()

	const voters = 16
	members := make([]domain.Credential, voters)
	room := domain.NewRoom("busy", "m0")
	members[0] = "m0"
	for i := 1; i < voters; i++ {
		members[i] = domain.Credential(string(rune('a' + i)))
		room.AddMember(members[i])
	}
	if err := rooms.SaveRoom(ctx, room); err != nil {
		t.Fatalf("save room: %v", err)
	}
	req, err := rooms.CreateJoinRequest(ctx, room.ID, "newcomer")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		admissions int
	)
	for _, voter := range members {
		wg.Add(1)
		go func(v domain.Credential) {
			defer wg.Done()
			_, admitted, err := rooms.CastVote(ctx, room.ID, req.ID, v, true)
			if err != nil {
				t.Errorf("vote by %s: %v", v, err)
				return
			}
			if admitted {
				mu.Lock()
				admissions++
				mu.Unlock()
			}
		}(voter)
	}
	wg.Wait()

	if admissions != 1 {
		t.Errorf("admissions reported: got %d, want exactly 1", admissions)
	}
	got, err := rooms.Room(ctx, room.ID)
	if err != nil {
		t.Fatalf("room: %v", err)
	}
	if !got.HasMember("newcomer") {
		t.Error("requestor not in member set after unanimous approval")
	}
	if len(got.Members) != voters+1 {
		t.Errorf("member count: got %d, want %d", len(got.Members), voters+1)
	}
}

func TestCastVoteConcurrentDuplicateSingleSuccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rooms := NewMemoryRoomRepo()

	room := domain.NewRoom("dup", "a")
	room.AddMember("b")
	if err := rooms.SaveRoom(ctx, room); err != nil {
		t.Fatalf("save room: %v", err)
	}
	req, err := rooms.CreateJoinRequest(ctx, room.ID, "c")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := rooms.CastVote(ctx, room.ID, req.ID, "a", true)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successful votes: got %d, want 1", successes)
	}
	if conflicts != attempts-1 {
		t.Errorf("conflicts: got %d, want %d", conflicts, attempts-1)
	}
}

func TestRemoveMemberDestroysEmptyRoom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rooms := NewMemoryRoomRepo()

	room := domain.NewRoom("tmp", "a")
	if err := rooms.SaveRoom(ctx, room); err != nil {
		t.Fatalf("save room: %v", err)
	}

	destroyed, err := rooms.RemoveMember(ctx, room.ID, "a")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !destroyed {
		t.Error("removing last member did not destroy room")
	}
	if _, err := rooms.Room(ctx, room.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("room after destroy: got %v, want ErrNotFound", err)
	}
	if _, err := rooms.CreateJoinRequest(ctx, room.ID, "b"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("request on destroyed room: got %v, want ErrNotFound", err)
	}
}

func TestMemoryIdentityRepoLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	identity := NewMemoryIdentityRepo()

	u, err := identity.CreateUser(ctx, "casey")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.Credential == "" || u.ID == "" {
		t.Fatal("user missing credential or public id")
	}
	if string(u.Credential) == string(u.ID) {
		t.Error("credential equals public id; it must stay secret")
	}

	byCred, err := identity.UserByCredential(ctx, u.Credential)
	if err != nil {
		t.Fatalf("lookup by credential: %v", err)
	}
	if byCred.ID != u.ID {
		t.Errorf("lookup mismatch: got %s, want %s", byCred.ID, u.ID)
	}

	if _, err := identity.UserByCredential(ctx, "nope"); !errors.Is(err, domain.ErrAuth) {
		t.Errorf("unknown credential: got %v, want ErrAuth", err)
	}

	renamed, err := identity.Rename(ctx, u.Credential, "casey two")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.DisplayName != "casey two" {
		t.Errorf("rename: got %q", renamed.DisplayName)
	}
	byID, err := identity.UserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("lookup by id: %v", err)
	}
	if byID.DisplayName != "casey two" {
		t.Errorf("rename not visible by id lookup: got %q", byID.DisplayName)
	}

	if _, err := identity.Rename(ctx, u.Credential, ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty rename: got %v, want ErrValidation", err)
	}
}
