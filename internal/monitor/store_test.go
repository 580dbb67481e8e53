package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HerbHall/mailpulse/internal/credcache"
	"github.com/HerbHall/mailpulse/internal/event"
	"github.com/HerbHall/mailpulse/internal/store"
	"github.com/HerbHall/mailpulse/pkg/models"
	"go.uber.org/zap"
)

func testStore(t *testing.T) *MonitorStore {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), "monitor", Migrations()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return NewMonitorStore(db.DB())
}

func TestMonitorStore_Accounts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := &models.Account{ID: "alice", Email: "alice@example.com", ClientID: "client-a", RefreshToken: "rt-1"}
	if err := s.UpsertAccount(ctx, a); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	if err := s.UpsertAccount(ctx, &models.Account{ID: "bob", ClientID: "client-b", RefreshToken: "rt-b"}); err != nil {
		t.Fatalf("UpsertAccount bob: %v", err)
	}

	got, err := s.GetAccount(ctx, "alice")
	if err != nil || got == nil {
		t.Fatalf("GetAccount = %v, %v", got, err)
	}
	if got.Email != a.Email || got.RefreshToken != "rt-1" || got.CreatedAt.IsZero() {
		t.Errorf("GetAccount = %+v", got)
	}

	// Update keeps the row and replaces credentials.
	a.RefreshToken = "rt-2"
	if err := s.UpsertAccount(ctx, a); err != nil {
		t.Fatalf("UpsertAccount update: %v", err)
	}
	got, _ = s.GetAccount(ctx, "alice")
	if got.RefreshToken != "rt-2" {
		t.Errorf("RefreshToken = %q, want rt-2", got.RefreshToken)
	}

	missing, err := s.GetAccount(ctx, "nobody")
	if err != nil || missing != nil {
		t.Errorf("GetAccount(missing) = %v, %v; want nil, nil", missing, err)
	}

	list, err := s.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(list) != 2 || list[0].ID != "alice" || list[1].ID != "bob" {
		t.Errorf("ListAccounts = %+v", list)
	}

	deleted, err := s.DeleteAccount(ctx, "bob")
	if err != nil || !deleted {
		t.Errorf("DeleteAccount = %v, %v", deleted, err)
	}
	deleted, err = s.DeleteAccount(ctx, "bob")
	if err != nil || deleted {
		t.Errorf("second DeleteAccount = %v, %v; want false", deleted, err)
	}
}

func TestMonitorStore_DuplicateEmailRejected(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertAccount(ctx, &models.Account{ID: "a", Email: "x@example.com", ClientID: "c", RefreshToken: "r"}); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	if err := s.UpsertAccount(ctx, &models.Account{ID: "b", Email: "x@example.com", ClientID: "c", RefreshToken: "r"}); err == nil {
		t.Error("expected unique email violation")
	}
	// Accounts without an email do not collide.
	for _, id := range []string{"c", "d"} {
		if err := s.UpsertAccount(ctx, &models.Account{ID: id, ClientID: "c", RefreshToken: "r"}); err != nil {
			t.Errorf("UpsertAccount(%s): %v", id, err)
		}
	}
}

func TestMonitorStore_AccountSource(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertAccount(ctx, &models.Account{ID: "alice", ClientID: "c", RefreshToken: "old"}); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	if err := s.UpdateRefreshToken(ctx, "alice", "new"); err != nil {
		t.Fatalf("UpdateRefreshToken: %v", err)
	}
	got, _ := s.GetAccount(ctx, "alice")
	if got.RefreshToken != "new" {
		t.Errorf("RefreshToken = %q, want new", got.RefreshToken)
	}

	err := s.UpdateRefreshToken(ctx, "ghost", "x")
	if !errors.Is(err, credcache.ErrUnknownAccount) {
		t.Errorf("UpdateRefreshToken(unknown) err = %v, want ErrUnknownAccount", err)
	}
}

func TestMonitorStore_Codes(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []CodeRecord{
		{AccountID: "alice", SessionID: "s1", FoundAt: base, CodeCandidate: models.CodeCandidate{Code: "111111", MessageID: "m1", Tier: models.TierExplicit, Score: 100, ReceivedAt: base}},
		{AccountID: "bob", SessionID: "s2", FoundAt: base.Add(time.Minute), CodeCandidate: models.CodeCandidate{Code: "222222", MessageID: "m2", Tier: models.TierHeuristic, Score: 85, ReceivedAt: base}},
		{AccountID: "alice", SessionID: "s3", FoundAt: base.Add(2 * time.Minute), CodeCandidate: models.CodeCandidate{Code: "333333", MessageID: "m3", Tier: models.TierBare, Score: 60, ReceivedAt: base}},
	}
	for i := range records {
		if err := s.RecordCode(ctx, &records[i]); err != nil {
			t.Fatalf("RecordCode: %v", err)
		}
		if records[i].ID == "" {
			t.Error("RecordCode did not assign an ID")
		}
	}

	all, err := s.ListCodes(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListCodes: %v", err)
	}
	if len(all) != 3 || all[0].Code != "333333" || all[2].Code != "111111" {
		t.Fatalf("ListCodes order = %+v", all)
	}
	if all[0].Tier != models.TierBare || all[0].Score != 60 {
		t.Errorf("round-tripped record = %+v", all[0])
	}

	alice, err := s.ListCodes(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("ListCodes(alice): %v", err)
	}
	if len(alice) != 1 || alice[0].Code != "333333" {
		t.Errorf("ListCodes(alice, 1) = %+v", alice)
	}

	n, err := s.DeleteCodesBefore(ctx, base.Add(90*time.Second))
	if err != nil || n != 2 {
		t.Errorf("DeleteCodesBefore = %d, %v; want 2", n, err)
	}
}

func TestMonitorStore_CodeRecorder(t *testing.T) {
	s := testStore(t)
	bus := event.NewBus(zap.NewNop())
	bus.Subscribe(event.Filter{Types: []event.Type{event.TypeCodeFound}}, s.CodeRecorder(zap.NewNop()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// A canceled publisher context must not lose the record.
	bus.Publish(ctx, event.Event{
		Type:      event.TypeCodeFound,
		AccountID: "alice",
		SessionID: "s1",
		Timestamp: time.Now(),
		Payload:   CodeFoundPayload{Candidate: models.CodeCandidate{Code: "482913", MessageID: "m1", Tier: models.TierExplicit, Score: 100}},
	})
	bus.Publish(context.Background(), event.Event{Type: event.TypeMetricsUpdated, AccountID: "alice"})

	codes, err := s.ListCodes(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("ListCodes: %v", err)
	}
	if len(codes) != 1 || codes[0].Code != "482913" || codes[0].SessionID != "s1" {
		t.Errorf("recorded = %+v", codes)
	}
}

func TestMonitorStore_Maintenance(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, age := range []time.Duration{48 * time.Hour, time.Hour} {
		rec := &CodeRecord{AccountID: "alice", SessionID: "s", FoundAt: now.Add(-age), CodeCandidate: models.CodeCandidate{Code: "123456", Tier: models.TierExplicit, ReceivedAt: now}}
		if err := s.RecordCode(ctx, rec); err != nil {
			t.Fatalf("RecordCode: %v", err)
		}
	}

	s.runMaintenance(ctx, now.Add(-24*time.Hour), zap.NewNop())

	codes, err := s.ListCodes(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListCodes: %v", err)
	}
	if len(codes) != 1 {
		t.Errorf("codes after maintenance = %d, want 1", len(codes))
	}

	cctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		s.RunMaintenance(cctx, MonitorConfig{MaintenanceInterval: time.Hour}, zap.NewNop())
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunMaintenance did not return after cancel")
	}
}
