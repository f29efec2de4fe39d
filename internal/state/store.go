// Package state persists the desired contents of the managed sets. The
// kernel is treated as a cache of this store: after any interpreter failure
// every set is replayed from here.
package state

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/fwup/internal/ipset"
)

var (
	ErrSetNotFound = errors.New("set not found")
	ErrSetExists   = errors.New("set already exists with a different definition")
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// PutSet records a set definition. Re-putting an identical definition is a
// no-op and reports created=false; changing an existing definition is
// refused with ErrSetExists since the kernel cannot retype a live set.
func (s *Store) PutSet(ctx context.Context, set ipset.Set) (bool, error) {
	set = set.WithDefaults()
	if err := set.Validate(); err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := getSet(ctx, tx, set.Name)
	switch {
	case err == nil:
		if cur != set {
			return false, fmt.Errorf("%w: %s", ErrSetExists, set.Name)
		}
		return false, nil
	case !errors.Is(err, ErrSetNotFound):
		return false, err
	}

	now := s.timestamp()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO ipset_set(name, type, family, maxelem, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?);
`, set.Name, string(set.Type), string(set.Family), set.MaxElem, now, now); err != nil {
		return false, fmt.Errorf("insert set: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

// DeleteSet removes a set and all of its members and returns its
// definition. The definition is kept as a pending destroy until
// ClearDestroys confirms the kernel was told.
func (s *Store) DeleteSet(ctx context.Context, name string) (ipset.Set, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ipset.Set{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	set, err := getSet(ctx, tx, name)
	if err != nil {
		return ipset.Set{}, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM ipset_set WHERE name = ?;", name); err != nil {
		return ipset.Set{}, fmt.Errorf("delete set: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO ipset_deleted(name, type, family, maxelem, deleted_at) VALUES(?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
  type = excluded.type,
  family = excluded.family,
  maxelem = excluded.maxelem,
  deleted_at = excluded.deleted_at;
`, set.Name, string(set.Type), string(set.Family), set.MaxElem, s.timestamp()); err != nil {
		return ipset.Set{}, fmt.Errorf("record pending destroy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ipset.Set{}, fmt.Errorf("commit tx: %w", err)
	}
	return set, nil
}

// PendingDestroys returns the last definition of every deleted set whose
// destroy has not been confirmed, ordered by name.
func (s *Store) PendingDestroys(ctx context.Context) ([]ipset.Set, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, type, family, maxelem FROM ipset_deleted ORDER BY name;")
	if err != nil {
		return nil, fmt.Errorf("list pending destroys: %w", err)
	}
	defer rows.Close()

	var sets []ipset.Set
	for rows.Next() {
		var (
			set         ipset.Set
			typ, family string
		)
		if err := rows.Scan(&set.Name, &typ, &family, &set.MaxElem); err != nil {
			return nil, fmt.Errorf("scan pending destroy: %w", err)
		}
		set.Type = ipset.Type(typ)
		set.Family = ipset.Family(family)
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

// ClearDestroys forgets pending destroys once they reached the interpreter.
func (s *Store) ClearDestroys(ctx context.Context, names ...string) error {
	for _, name := range names {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM ipset_deleted WHERE name = ?;", name); err != nil {
			return fmt.Errorf("clear pending destroy %s: %w", name, err)
		}
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSet(ctx context.Context, q queryRower, name string) (ipset.Set, error) {
	var (
		set         ipset.Set
		typ, family string
	)
	err := q.QueryRowContext(ctx, "SELECT name, type, family, maxelem FROM ipset_set WHERE name = ?;", name).
		Scan(&set.Name, &typ, &family, &set.MaxElem)
	if errors.Is(err, sql.ErrNoRows) {
		return ipset.Set{}, fmt.Errorf("%w: %s", ErrSetNotFound, name)
	}
	if err != nil {
		return ipset.Set{}, fmt.Errorf("read set: %w", err)
	}
	set.Type = ipset.Type(typ)
	set.Family = ipset.Family(family)
	return set, nil
}

// GetSet returns one set definition.
func (s *Store) GetSet(ctx context.Context, name string) (ipset.Set, error) {
	return getSet(ctx, s.db, name)
}

// ListSets returns every set ordered by name.
func (s *Store) ListSets(ctx context.Context) ([]ipset.Set, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, type, family, maxelem FROM ipset_set ORDER BY name;")
	if err != nil {
		return nil, fmt.Errorf("list sets: %w", err)
	}
	defer rows.Close()

	var sets []ipset.Set
	for rows.Next() {
		var (
			set         ipset.Set
			typ, family string
		)
		if err := rows.Scan(&set.Name, &typ, &family, &set.MaxElem); err != nil {
			return nil, fmt.Errorf("scan set: %w", err)
		}
		set.Type = ipset.Type(typ)
		set.Family = ipset.Family(family)
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sets: %w", err)
	}
	return sets, nil
}

// AddMembers validates and records members of a set. It returns the
// canonical form of the members that were not already present, in input
// order. Nothing is recorded if any member is invalid.
func (s *Store) AddMembers(ctx context.Context, name string, members []string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	set, err := getSet(ctx, tx, name)
	if err != nil {
		return nil, err
	}

	canonical := make([]string, 0, len(members))
	for _, m := range members {
		c, err := ipset.ParseMember(set.Family, set.Type, m)
		if err != nil {
			return nil, fmt.Errorf("member %q: %w", m, err)
		}
		canonical = append(canonical, c)
	}

	now := s.timestamp()
	var added []string
	for _, c := range canonical {
		res, err := tx.ExecContext(ctx, `
INSERT INTO ipset_member(set_name, member, added_at) VALUES(?, ?, ?)
ON CONFLICT(set_name, member) DO NOTHING;
`, name, c, now)
		if err != nil {
			return nil, fmt.Errorf("insert member: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added = append(added, c)
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE ipset_set SET updated_at = ? WHERE name = ?;", now, name); err != nil {
		return nil, fmt.Errorf("touch set: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return added, nil
}

// RemoveMember deletes one member. It returns the canonical member and
// whether it was present.
func (s *Store) RemoveMember(ctx context.Context, name, member string) (string, bool, error) {
	set, err := s.GetSet(ctx, name)
	if err != nil {
		return "", false, err
	}
	c, err := ipset.ParseMember(set.Family, set.Type, member)
	if err != nil {
		return "", false, fmt.Errorf("member %q: %w", member, err)
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM ipset_member WHERE set_name = ? AND member = ?;", name, c)
	if err != nil {
		return "", false, fmt.Errorf("delete member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("delete member: %w", err)
	}
	return c, n > 0, nil
}

// Members returns the members of a set in a stable order.
func (s *Store) Members(ctx context.Context, name string) ([]string, error) {
	if _, err := s.GetSet(ctx, name); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT member FROM ipset_member WHERE set_name = ? ORDER BY member;", name)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := []string{}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// Digest fingerprints a set's definition and contents. Two stores holding
// the same set produce the same digest.
func (s *Store) Digest(ctx context.Context, name string) (string, error) {
	set, err := s.GetSet(ctx, name)
	if err != nil {
		return "", err
	}
	members, err := s.Members(ctx, name)
	if err != nil {
		return "", err
	}
	sort.Strings(members)

	h := blake3.New()
	_, _ = fmt.Fprintf(h, "%s %s %s %d\n", set.Name, set.Type, set.Family, set.MaxElem)
	for _, m := range members {
		_, _ = h.Write([]byte(m))
		_, _ = h.Write([]byte{'\n'})
	}
	return "blake3:" + hex.EncodeToString(h.Sum(nil)), nil
}
