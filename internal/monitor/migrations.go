package monitor

import (
	"database/sql"

	"github.com/HerbHall/mailpulse/internal/store"
)

// Migrations returns the schema for monitored accounts and recorded codes.
func Migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create monitor accounts and codes tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS monitor_accounts (
						id TEXT PRIMARY KEY,
						email TEXT NOT NULL DEFAULT '',
						client_id TEXT NOT NULL,
						refresh_token TEXT NOT NULL,
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_monitor_accounts_email ON monitor_accounts(email) WHERE email != ''`,

					`CREATE TABLE IF NOT EXISTS monitor_codes (
						id TEXT PRIMARY KEY,
						account_id TEXT NOT NULL,
						session_id TEXT NOT NULL,
						code TEXT NOT NULL,
						message_id TEXT NOT NULL DEFAULT '',
						sender TEXT NOT NULL DEFAULT '',
						subject TEXT NOT NULL DEFAULT '',
						tier TEXT NOT NULL,
						context TEXT NOT NULL DEFAULT '',
						score INTEGER NOT NULL,
						received_at DATETIME NOT NULL,
						found_at DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_monitor_codes_account_time ON monitor_codes(account_id, found_at)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
