package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempDB(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailpulse.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTable(name string) func(tx *sql.Tx) error {
	return func(tx *sql.Tx) error {
		_, err := tx.Exec("CREATE TABLE " + name + " (id INTEGER PRIMARY KEY)")
		return err
	}
}

func TestNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}

	var mode string
	if err := s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil || mode != "wal" {
		t.Errorf("journal_mode = %q (%v), want wal", mode, err)
	}
}

func TestNew_InvalidPath(t *testing.T) {
	if _, err := New("/nonexistent/dir/mailpulse.db"); err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestNew_Memory(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if err := s.Migrate(context.Background(), "mem", []Migration{{Version: 1, Description: "t", Up: createTable("t")}}); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := s.DB().Exec("INSERT INTO t (id) VALUES (1)"); err != nil {
		t.Errorf("in-memory table not visible on later query: %v", err)
	}
}

func TestTx(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	if _, err := s.DB().ExecContext(ctx, "CREATE TABLE accounts (id TEXT PRIMARY KEY)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	if err := s.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO accounts (id) VALUES ('kept')")
		return err
	}); err != nil {
		t.Fatalf("Tx commit: %v", err)
	}

	boom := errors.New("boom")
	err := s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO accounts (id) VALUES ('dropped')"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Tx err = %v, want boom", err)
	}

	var n int
	if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1 after rollback", n)
	}
}

func TestMigrate(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	monitor := []Migration{
		{Version: 1, Description: "accounts", Up: createTable("monitor_accounts")},
		{Version: 2, Description: "codes", Up: createTable("monitor_codes")},
	}
	if err := s.Migrate(ctx, "monitor", monitor); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// Re-running is a no-op; the CREATE TABLE would fail otherwise.
	if err := s.Migrate(ctx, "monitor", monitor); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	// Version numbers are scoped per component.
	if err := s.Migrate(ctx, "other", []Migration{{Version: 1, Description: "x", Up: createTable("other_x")}}); err != nil {
		t.Fatalf("Migrate other: %v", err)
	}

	var n int
	if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM _migrations").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Errorf("recorded migrations = %d, want 3", n)
	}
}

func TestMigrate_FailureRollsBack(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	migrations := []Migration{
		{Version: 1, Description: "good", Up: createTable("good")},
		{Version: 2, Description: "bad", Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec("CREATE TABLE half_done (id INTEGER)"); err != nil {
				return err
			}
			_, err := tx.Exec("NOT VALID SQL")
			return err
		}},
	}
	if err := s.Migrate(ctx, "partial", migrations); err == nil {
		t.Fatal("expected migration error")
	}

	var n int
	if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM _migrations WHERE component = 'partial'").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("recorded = %d, want only the first", n)
	}
	if _, err := s.DB().ExecContext(ctx, "SELECT * FROM half_done"); err == nil {
		t.Error("table from failed migration survived rollback")
	}
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name    string
		steps   []string
		wantErr bool
		stored  string
	}{
		{"first run", []string{"0.4.0"}, false, "0.4.0"},
		{"same version", []string{"0.4.0", "0.4.0"}, false, "0.4.0"},
		{"upgrade", []string{"0.4.0", "0.5.0"}, false, "0.5.0"},
		{"patch upgrade", []string{"0.4.0", "v0.4.1"}, false, "v0.4.1"},
		{"downgrade rejected", []string{"0.5.0", "0.4.0"}, true, "0.5.0"},
		{"dev passes", []string{"dev", "0.5.0", "dev"}, false, "dev"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := tempDB(t)
			ctx := context.Background()

			var err error
			for _, v := range tc.steps {
				if err = s.CheckVersion(ctx, v); err != nil {
					break
				}
			}
			if tc.wantErr {
				if !errors.Is(err, ErrNewerSchema) {
					t.Errorf("err = %v, want ErrNewerSchema", err)
				}
			} else if err != nil {
				t.Fatalf("CheckVersion: %v", err)
			}

			var stored string
			if err := s.DB().QueryRowContext(ctx, "SELECT app_version FROM _schema_meta WHERE id = 1").Scan(&stored); err != nil {
				t.Fatalf("query stored version: %v", err)
			}
			if stored != tc.stored {
				t.Errorf("stored = %q, want %q", stored, tc.stored)
			}
		})
	}
}
