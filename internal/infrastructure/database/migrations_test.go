package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_create_a.up.sql":   {Data: []byte("CREATE TABLE a (id INTEGER PRIMARY KEY);")},
		"20260101_000000_create_a.down.sql": {Data: []byte("DROP TABLE a;")},
		"20260201_000000_create_b.up.sql":   {Data: []byte("CREATE TABLE b (id INTEGER PRIMARY KEY);")},
		"README.md":                         {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "a") || !tableExists(t, db, "b") {
		t.Fatal("Migrate() did not create both tables")
	}

	// Idempotent.
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied = %d, pending = %d; want 2, 0", len(applied), len(pending))
	}
	if applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not recorded")
	}
}

func TestMigrate_FailureKeepsEarlier(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()
	fsys["20260301_000000_broken.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE")}

	if err := db.Migrate(ctx, fsys); err == nil {
		t.Fatal("Migrate() with broken migration error = nil")
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 1 || pending[0].Name != "broken" {
		t.Errorf("applied = %d, pending = %+v; want 2 applied and broken pending", len(applied), pending)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()
	delete(fsys, "20260201_000000_create_b.up.sql")

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, fsys); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "a") {
		t.Error("table a still exists after MigrateDown()")
	}

	// Nothing left to roll back.
	if err := db.MigrateDown(ctx, fsys); err != nil {
		t.Errorf("MigrateDown() on empty history error = %v", err)
	}
}

func TestMigrateDown_NoDownSQL(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := fstest.MapFS{
		"20260101_000000_only_up.up.sql": {Data: []byte("CREATE TABLE c (id INTEGER);")},
	}
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, fsys); err == nil {
		t.Error("MigrateDown() without down SQL error = nil")
	}
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := LoadMigrations(testMigrations())
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("len = %d, want 2", len(migrations))
	}
	if migrations[0].Version != "20260101_000000" || migrations[0].Name != "create_a" || migrations[0].DownSQL == "" {
		t.Errorf("migrations[0] = %+v", migrations[0])
	}

	if m, err := LoadMigrations(nil); err != nil || m != nil {
		t.Errorf("LoadMigrations(nil) = %v, %v; want nil, nil", m, err)
	}

	orphan := fstest.MapFS{"20260101_000000_x.down.sql": {Data: []byte("DROP TABLE x;")}}
	if _, err := LoadMigrations(orphan); err == nil {
		t.Error("LoadMigrations() with orphan down file error = nil")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		file    string
		version string
		name    string
		up      bool
		ok      bool
	}{
		{"20260118_120000_graph_events.up.sql", "20260118_120000", "graph_events", true, true},
		{"20260118_120000_graph_events.down.sql", "20260118_120000", "graph_events", false, true},
		{"20260118_120000.up.sql", "20260118_120000", "20260118_120000", true, true},
		{"20260118_120000_x.sql", "", "", false, false},
		{"2026_120000_x.up.sql", "", "", false, false},
		{"notes.txt", "", "", false, false},
	}
	for _, tt := range tests {
		version, name, up, ok := parseMigrationFilename(tt.file)
		if version != tt.version || name != tt.name || up != tt.up || ok != tt.ok {
			t.Errorf("parseMigrationFilename(%q) = %q, %q, %v, %v; want %q, %q, %v, %v",
				tt.file, version, name, up, ok, tt.version, tt.name, tt.up, tt.ok)
		}
	}
}
