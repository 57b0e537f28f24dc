package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coverly/courier/internal/db"
	"github.com/coverly/courier/internal/dispatch"
)

type mockStore struct {
	ready []*db.NotificationLog

	claimedLimit int
	archiveCut   time.Time
}

func (m *mockStore) ClaimRetryable(ctx context.Context, limit int) ([]*db.NotificationLog, error) {
	m.claimedLimit = limit
	if limit > len(m.ready) {
		limit = len(m.ready)
	}
	claimed := m.ready[:limit]
	m.ready = m.ready[limit:]
	for _, log := range claimed {
		log.Status = db.StatusPending
	}
	return claimed, nil
}

func (m *mockStore) ArchiveTerminalSuccess(ctx context.Context, cutoff time.Time) (int64, error) {
	m.archiveCut = cutoff
	return 7, nil
}

type mockResender struct {
	resent  []uuid.UUID
	outcome dispatch.Outcome
}

func (m *mockResender) Resend(ctx context.Context, log *db.NotificationLog) dispatch.Outcome {
	m.resent = append(m.resent, log.ID)
	return m.outcome
}

func failedLogs(n int) []*db.NotificationLog {
	logs := make([]*db.NotificationLog, n)
	for i := range logs {
		logs[i] = &db.NotificationLog{ID: uuid.New(), Status: db.StatusFailed}
	}
	return logs
}

func TestSweepHonorsLimit(t *testing.T) {
	store := &mockStore{ready: failedLogs(50)}
	resender := &mockResender{outcome: dispatch.Outcome{Success: true, Reason: dispatch.ReasonSent}}
	s := New(store, resender, Config{}, zap.NewNop())

	processed, err := s.SweepReadyRetries(context.Background(), 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if processed != 10 {
		t.Fatalf("processed = %d, want 10", processed)
	}
	if store.claimedLimit != 10 {
		t.Fatalf("claim limit = %d, want 10", store.claimedLimit)
	}
	if len(resender.resent) != 10 {
		t.Fatalf("resent = %d, want 10", len(resender.resent))
	}
	if len(store.ready) != 40 {
		t.Fatalf("remaining = %d, want 40", len(store.ready))
	}
}

func TestSweepEmptySet(t *testing.T) {
	store := &mockStore{}
	resender := &mockResender{}
	s := New(store, resender, Config{}, zap.NewNop())

	processed, err := s.SweepReadyRetries(context.Background(), 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if processed != 0 {
		t.Fatalf("processed = %d, want 0", processed)
	}
	if len(resender.resent) != 0 {
		t.Fatal("resend called with nothing claimed")
	}
}

func TestSweepContinuesPastFailedResends(t *testing.T) {
	store := &mockStore{ready: failedLogs(3)}
	resender := &mockResender{outcome: dispatch.Outcome{Reason: dispatch.ReasonProviderError}}
	s := New(store, resender, Config{}, zap.NewNop())

	processed, err := s.SweepReadyRetries(context.Background(), 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if processed != 3 {
		t.Fatalf("processed = %d, want 3", processed)
	}
	if len(resender.resent) != 3 {
		t.Fatalf("resent = %d, want all claimed logs attempted", len(resender.resent))
	}
}

func TestArchiveUsesRetentionWindow(t *testing.T) {
	store := &mockStore{}
	s := New(store, &mockResender{}, Config{RetentionDays: 30}, zap.NewNop())

	removed, err := s.ArchiveExpired(context.Background())
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if removed != 7 {
		t.Fatalf("removed = %d, want 7", removed)
	}

	want := time.Now().AddDate(0, 0, -30)
	if diff := store.archiveCut.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("cutoff = %v, want ~%v", store.archiveCut, want)
	}
}
