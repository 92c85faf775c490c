package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// setupTestDB creates a new migrated database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "a", "b", "c")
	db, err := Open(filepath.Join(nested, "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(nested); os.IsNotExist(err) {
		t.Errorf("parent directories not created: %s", nested)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	// Nothing can be created under /proc on Linux.
	if _, err := Open("/proc/nonexistent/test.db"); err == nil {
		t.Error("expected error opening db at invalid path")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if v != 3 {
		t.Errorf("schema version = %d, want 3", v)
	}

	for _, table := range []string{"runs", "contributions", "decisions"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestPaths(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	if got := GlobalDBPath(); got != "/data/magentic/magentic.db" {
		t.Errorf("GlobalDBPath() = %q", got)
	}
	if got := ProjectDBPath("/repo"); got != "/repo/.magentic/state.db" {
		t.Errorf("ProjectDBPath() = %q", got)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	got, err := parseTime(formatTime(now))
	if err != nil {
		t.Fatalf("parseTime failed: %v", err)
	}
	if !got.Equal(now) {
		t.Errorf("got %v, want %v", got, now)
	}
}
