package domain

import (
	"context"
	"testing"
)

func TestResolveCreatesUserOnFirstSight(t *testing.T) {
	f := newFakeStore()
	svc := NewUserService(f)
	user, err := svc.Resolve(context.Background(), Identity{Subject: testUser, Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if user.ID != testUser || user.Name != "Ada" || user.Email != "ada@example.com" || user.IsSubscribed {
		t.Fatalf("unexpected user: %#v", user)
	}
	if _, ok := f.users[testUser]; !ok {
		t.Fatal("user not persisted")
	}
}

func TestResolveReturnsExistingUser(t *testing.T) {
	f := newFakeStore()
	f.InsertUser(context.Background(), User{ID: testUser, Name: "Ada", IsSubscribed: true})
	svc := NewUserService(f)
	user, err := svc.Resolve(context.Background(), Identity{Subject: testUser, Name: "Renamed"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if user.Name != "Ada" || !user.IsSubscribed {
		t.Fatalf("existing record replaced: %#v", user)
	}
}

func TestResolveLosingCreateRaceReadsWinner(t *testing.T) {
	f := newFakeStore()
	raced := &racedInsertStore{fakeStore: f}
	svc := NewUserService(raced)
	user, err := svc.Resolve(context.Background(), Identity{Subject: testUser, Name: "Ada"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if user.Name != "Winner" {
		t.Fatalf("expected winner's record, got %#v", user)
	}
}

// racedInsertStore makes the first insert lose to a concurrent request that
// already wrote the row.
type racedInsertStore struct {
	*fakeStore
}

func (r *racedInsertStore) InsertUser(ctx context.Context, user User) error {
	winner := user
	winner.Name = "Winner"
	if err := r.fakeStore.InsertUser(ctx, winner); err != nil {
		return err
	}
	return ErrConcurrencyConflict
}
