package monitor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/mailpulse/internal/credcache"
	"github.com/HerbHall/mailpulse/internal/event"
	"github.com/HerbHall/mailpulse/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ credcache.AccountSource = (*MonitorStore)(nil)

// CodeRecord is a persisted code-found event.
type CodeRecord struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	SessionID string    `json:"session_id"`
	FoundAt   time.Time `json:"found_at"`
	models.CodeCandidate
}

// MonitorStore persists accounts and discovered codes. Monitoring state
// itself is never persisted.
type MonitorStore struct {
	db *sql.DB
}

// NewMonitorStore creates a store backed by db.
func NewMonitorStore(db *sql.DB) *MonitorStore {
	return &MonitorStore{db: db}
}

// -- Accounts --

// UpsertAccount inserts an account or replaces its credentials.
func (s *MonitorStore) UpsertAccount(ctx context.Context, a *models.Account) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitor_accounts (id, email, client_id, refresh_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			client_id = excluded.client_id,
			refresh_token = excluded.refresh_token,
			updated_at = excluded.updated_at`,
		a.ID, a.Email, a.ClientID, a.RefreshToken, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// GetAccount returns an account by ID. Returns nil, nil if not found.
func (s *MonitorStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var a models.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, client_id, refresh_token, created_at, updated_at
		FROM monitor_accounts WHERE id = ?`,
		id,
	).Scan(&a.ID, &a.Email, &a.ClientID, &a.RefreshToken, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

// ListAccounts returns all accounts ordered by ID.
func (s *MonitorStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, client_id, refresh_token, created_at, updated_at
		FROM monitor_accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Email, &a.ClientID, &a.RefreshToken, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAccount removes an account. It reports whether a row was deleted.
func (s *MonitorStore) DeleteAccount(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM monitor_accounts WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete account: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateRefreshToken stores a rotated refresh credential.
func (s *MonitorStore) UpdateRefreshToken(ctx context.Context, id, refreshToken string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE monitor_accounts SET refresh_token = ?, updated_at = ? WHERE id = ?`,
		refreshToken, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update refresh token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update refresh token: %w: %s", credcache.ErrUnknownAccount, id)
	}
	return nil
}

// -- Codes --

// RecordCode persists a discovered code. ID and FoundAt are filled in when
// empty.
func (s *MonitorStore) RecordCode(ctx context.Context, r *CodeRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.FoundAt.IsZero() {
		r.FoundAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitor_codes (
			id, account_id, session_id, code, message_id, sender, subject,
			tier, context, score, received_at, found_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AccountID, r.SessionID, r.Code, r.MessageID, r.Sender, r.Subject,
		string(r.Tier), r.Context, r.Score, r.ReceivedAt.UTC(), r.FoundAt,
	)
	if err != nil {
		return fmt.Errorf("record code: %w", err)
	}
	return nil
}

// ListCodes returns the most recently found codes, newest first. An empty
// accountID lists codes for every account.
func (s *MonitorStore) ListCodes(ctx context.Context, accountID string, limit int) ([]CodeRecord, error) {
	query := `
		SELECT id, account_id, session_id, code, message_id, sender, subject,
			tier, context, score, received_at, found_at
		FROM monitor_codes`
	args := []any{}
	if accountID != "" {
		query += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	query += ` ORDER BY found_at DESC, received_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list codes: %w", err)
	}
	defer rows.Close()

	var out []CodeRecord
	for rows.Next() {
		var r CodeRecord
		var tier string
		if err := rows.Scan(
			&r.ID, &r.AccountID, &r.SessionID, &r.Code, &r.MessageID, &r.Sender, &r.Subject,
			&tier, &r.Context, &r.Score, &r.ReceivedAt, &r.FoundAt,
		); err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		r.Tier = models.CodeTier(tier)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteCodesBefore removes code records found before t.
func (s *MonitorStore) DeleteCodesBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM monitor_codes WHERE found_at < ?`, t.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete codes: %w", err)
	}
	return res.RowsAffected()
}

// CodeRecorder returns a bus handler that persists code-found events.
// Persistence failures are logged and never reach the scheduler.
func (s *MonitorStore) CodeRecorder(logger *zap.Logger) event.Handler {
	return func(ctx context.Context, e event.Event) {
		if e.Type != event.TypeCodeFound {
			return
		}
		p, ok := e.Payload.(CodeFoundPayload)
		if !ok {
			return
		}
		rec := &CodeRecord{
			AccountID:     e.AccountID,
			SessionID:     e.SessionID,
			FoundAt:       e.Timestamp.UTC(),
			CodeCandidate: p.Candidate,
		}
		if err := s.RecordCode(context.WithoutCancel(ctx), rec); err != nil {
			logger.Warn("failed to record code",
				zap.String("account_id", e.AccountID),
				zap.String("session_id", e.SessionID),
				zap.Error(err),
			)
		}
	}
}
