package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenSQLiteBootstrapsTables(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "fwup.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"ipset_set", "ipset_member", "ipset_deleted"} {
		var name string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", table).Scan(&name); err != nil {
			t.Fatalf("table %q missing: %v", table, err)
		}
	}
}

func TestOpenSQLiteIsIdempotent(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "fwup.db")
	for i := 0; i < 2; i++ {
		db, err := OpenSQLite(context.Background(), dbPath)
		if err != nil {
			t.Fatalf("OpenSQLite (%d): %v", i, err)
		}
		_ = db.Close()
	}
}

func TestMembersCascadeWithSet(t *testing.T) {
	t.Parallel()

	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "fwup.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(`INSERT INTO ipset_set(name, type, family, maxelem, created_at, updated_at) VALUES('b', 'hash:ip', 'inet', 0, 'now', 'now');`); err != nil {
		t.Fatalf("insert set: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO ipset_member(set_name, member, added_at) VALUES('b', '10.0.0.1', 'now');`); err != nil {
		t.Fatalf("insert member: %v", err)
	}
	if _, err := db.Exec(`DELETE FROM ipset_set WHERE name = 'b';`); err != nil {
		t.Fatalf("delete set: %v", err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ipset_member;`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected members to cascade, %d left", n)
	}
}

func TestOpenSQLiteRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := OpenSQLite(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
