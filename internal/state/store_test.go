package state

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/mattjoyce/fwup/internal/ipset"
	"github.com/mattjoyce/fwup/internal/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "fwup.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestPutSetAppliesDefaultsAndIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	created, err := s.PutSet(ctx, ipset.Set{Name: "blocklist"})
	if err != nil {
		t.Fatalf("PutSet: %v", err)
	}
	if !created {
		t.Fatal("expected first PutSet to create")
	}

	got, err := s.GetSet(ctx, "blocklist")
	if err != nil {
		t.Fatalf("GetSet: %v", err)
	}
	want := ipset.Set{Name: "blocklist", Type: ipset.HashIP, Family: ipset.Inet, MaxElem: ipset.DefaultMaxElem}
	if got != want {
		t.Fatalf("GetSet = %+v, want %+v", got, want)
	}

	created, err = s.PutSet(ctx, want)
	if err != nil {
		t.Fatalf("PutSet (again): %v", err)
	}
	if created {
		t.Fatal("identical PutSet should not report creation")
	}
}

func TestPutSetRejectsRedefinition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	if _, err := s.PutSet(ctx, ipset.Set{Name: "nets", Type: ipset.HashNet}); err != nil {
		t.Fatalf("PutSet: %v", err)
	}
	_, err := s.PutSet(ctx, ipset.Set{Name: "nets", Type: ipset.HashIP})
	if !errors.Is(err, ErrSetExists) {
		t.Fatalf("expected ErrSetExists, got %v", err)
	}
}

func TestPutSetValidates(t *testing.T) {
	t.Parallel()
	s := openStore(t)

	_, err := s.PutSet(context.Background(), ipset.Set{Name: "bad name"})
	if !errors.Is(err, ipset.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestMembersRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	if _, err := s.PutSet(ctx, ipset.Set{Name: "nets", Type: ipset.HashNet}); err != nil {
		t.Fatalf("PutSet: %v", err)
	}

	added, err := s.AddMembers(ctx, "nets", []string{"10.1.0.9/16", "192.0.2.1"})
	if err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	if want := []string{"10.1.0.0/16", "192.0.2.1/32"}; !reflect.DeepEqual(added, want) {
		t.Fatalf("added = %v, want %v", added, want)
	}

	// Already present in canonical form, so nothing new.
	added, err = s.AddMembers(ctx, "nets", []string{"10.1.2.3/16"})
	if err != nil {
		t.Fatalf("AddMembers (dup): %v", err)
	}
	if len(added) != 0 {
		t.Fatalf("expected no new members, got %v", added)
	}

	members, err := s.Members(ctx, "nets")
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if want := []string{"10.1.0.0/16", "192.0.2.1/32"}; !reflect.DeepEqual(members, want) {
		t.Fatalf("members = %v, want %v", members, want)
	}

	member, removed, err := s.RemoveMember(ctx, "nets", "192.0.2.1")
	if err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if !removed || member != "192.0.2.1/32" {
		t.Fatalf("RemoveMember = %q, %v", member, removed)
	}
	if _, removed, _ = s.RemoveMember(ctx, "nets", "192.0.2.1"); removed {
		t.Fatal("second RemoveMember should report absent")
	}
}

func TestAddMembersIsAllOrNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	if _, err := s.PutSet(ctx, ipset.Set{Name: "blocklist"}); err != nil {
		t.Fatalf("PutSet: %v", err)
	}
	_, err := s.AddMembers(ctx, "blocklist", []string{"10.0.0.1", "nope"})
	if !errors.Is(err, ipset.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	members, err := s.Members(ctx, "blocklist")
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected no members recorded, got %v", members)
	}
}

func TestMissingSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	if _, err := s.GetSet(ctx, "ghost"); !errors.Is(err, ErrSetNotFound) {
		t.Fatalf("GetSet: expected ErrSetNotFound, got %v", err)
	}
	if _, err := s.DeleteSet(ctx, "ghost"); !errors.Is(err, ErrSetNotFound) {
		t.Fatalf("DeleteSet: expected ErrSetNotFound, got %v", err)
	}
	if _, err := s.AddMembers(ctx, "ghost", []string{"10.0.0.1"}); !errors.Is(err, ErrSetNotFound) {
		t.Fatalf("AddMembers: expected ErrSetNotFound, got %v", err)
	}
	if _, err := s.Members(ctx, "ghost"); !errors.Is(err, ErrSetNotFound) {
		t.Fatalf("Members: expected ErrSetNotFound, got %v", err)
	}
}

func TestListAndDeleteSets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	for _, name := range []string{"zeta", "alpha"} {
		if _, err := s.PutSet(ctx, ipset.Set{Name: name}); err != nil {
			t.Fatalf("PutSet %s: %v", name, err)
		}
	}
	if _, err := s.AddMembers(ctx, "zeta", []string{"10.0.0.1"}); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}

	sets, err := s.ListSets(ctx)
	if err != nil {
		t.Fatalf("ListSets: %v", err)
	}
	if len(sets) != 2 || sets[0].Name != "alpha" || sets[1].Name != "zeta" {
		t.Fatalf("ListSets = %+v", sets)
	}

	if _, err := s.DeleteSet(ctx, "zeta"); err != nil {
		t.Fatalf("DeleteSet: %v", err)
	}
	sets, err = s.ListSets(ctx)
	if err != nil {
		t.Fatalf("ListSets: %v", err)
	}
	if len(sets) != 1 {
		t.Fatalf("expected one set left, got %+v", sets)
	}
}

func TestDigestTracksContents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, b := openStore(t), openStore(t)

	for _, s := range []*Store{a, b} {
		if _, err := s.PutSet(ctx, ipset.Set{Name: "blocklist"}); err != nil {
			t.Fatalf("PutSet: %v", err)
		}
	}
	if _, err := a.AddMembers(ctx, "blocklist", []string{"10.0.0.2", "10.0.0.1"}); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	if _, err := b.AddMembers(ctx, "blocklist", []string{"10.0.0.1", "10.0.0.2"}); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}

	da, err := a.Digest(ctx, "blocklist")
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	db, err := b.Digest(ctx, "blocklist")
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if da != db {
		t.Fatalf("digests differ for equal contents: %s vs %s", da, db)
	}
	if !strings.HasPrefix(da, "blake3:") {
		t.Fatalf("digest %q missing prefix", da)
	}

	if _, _, err := b.RemoveMember(ctx, "blocklist", "10.0.0.1"); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	db, err = b.Digest(ctx, "blocklist")
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if da == db {
		t.Fatal("digest did not change with contents")
	}
}

func TestDeleteSetKeepsPendingDestroy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	for _, name := range []string{"beta", "alpha"} {
		if _, err := s.PutSet(ctx, ipset.Set{Name: name}); err != nil {
			t.Fatalf("PutSet %s: %v", name, err)
		}
		if _, err := s.DeleteSet(ctx, name); err != nil {
			t.Fatalf("DeleteSet %s: %v", name, err)
		}
	}
	// Re-creating with another definition and deleting again keeps the
	// latest definition.
	nets := ipset.Set{Name: "beta", Type: ipset.HashNet, Family: ipset.Inet6, MaxElem: 64}
	if _, err := s.PutSet(ctx, nets); err != nil {
		t.Fatalf("PutSet: %v", err)
	}
	if _, err := s.DeleteSet(ctx, "beta"); err != nil {
		t.Fatalf("DeleteSet: %v", err)
	}

	got, err := s.PendingDestroys(ctx)
	if err != nil {
		t.Fatalf("PendingDestroys: %v", err)
	}
	want := []ipset.Set{ipset.Set{Name: "alpha"}.WithDefaults(), nets}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("PendingDestroys = %+v, want %+v", got, want)
	}

	if err := s.ClearDestroys(ctx, "alpha", "missing"); err != nil {
		t.Fatalf("ClearDestroys: %v", err)
	}
	got, err = s.PendingDestroys(ctx)
	if err != nil {
		t.Fatalf("PendingDestroys: %v", err)
	}
	if len(got) != 1 || got[0].Name != "beta" {
		t.Fatalf("PendingDestroys after clear = %+v", got)
	}

	// A failed delete leaves nothing behind.
	if _, err := s.DeleteSet(ctx, "ghost"); !errors.Is(err, ErrSetNotFound) {
		t.Fatalf("DeleteSet ghost: %v", err)
	}
	got, _ = s.PendingDestroys(ctx)
	if len(got) != 1 {
		t.Fatalf("ghost delete recorded a destroy: %+v", got)
	}
}
