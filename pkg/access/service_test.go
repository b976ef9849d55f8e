package access

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/brightpath/pdcore/pkg/observability"
)

type spyBroadcaster struct {
	events []Event
	err    error
}

func (s *spyBroadcaster) Broadcast(ctx context.Context, evt Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, evt)
	return nil
}

func newTestService(store Store, broadcaster Broadcaster) *Service {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewService(NewCache(store), broadcaster, logger, nil)
}

func TestService_UpdateBroadcastsExactlyOnce(t *testing.T) {
	// Start from a matrix where User Management is off for leaders, then
	// enable it: the flip must persist and emit a single SETTINGS_UPDATED.
	cfg := DefaultMatrix()
	cfg.Entry("users").Roles[RoleLeader] = false

	spy := &spyBroadcaster{}
	svc := newTestService(&fakeStore{cfg: cfg}, spy)

	saved, err := svc.SetModuleRole(context.Background(), "users", RoleLeader, true)
	if err != nil {
		t.Fatalf("SetModuleRole failed: %v", err)
	}
	if !IsModuleEnabled(saved, "users", RoleLeader) {
		t.Error("users not enabled for LEADER after update")
	}

	if len(spy.events) != 1 {
		t.Fatalf("expected exactly 1 event, got %d", len(spy.events))
	}
	evt := spy.events[0]
	if evt.Name != EventSettingsUpdated {
		t.Errorf("event name = %q, want %q", evt.Name, EventSettingsUpdated)
	}
	if evt.Key != MatrixKey {
		t.Errorf("event key = %q, want %q", evt.Key, MatrixKey)
	}
	if !evt.UpdatedAt.Equal(saved.UpdatedAt) {
		t.Errorf("event timestamp %v does not match saved %v", evt.UpdatedAt, saved.UpdatedAt)
	}
}

func TestService_FailedSaveEmitsNoEvent(t *testing.T) {
	spy := &spyBroadcaster{}
	store := &fakeStore{cfg: DefaultMatrix(), saveErr: errors.New("down")}
	svc := newTestService(store, spy)

	_, err := svc.SetModuleRole(context.Background(), "reports", RoleTeacher, true)
	if err == nil {
		t.Fatal("expected save failure")
	}
	if len(spy.events) != 0 {
		t.Errorf("expected no events after failed save, got %d", len(spy.events))
	}
}

func TestService_BroadcastFailureDoesNotFailWrite(t *testing.T) {
	spy := &spyBroadcaster{err: errors.New("channel closed")}
	store := &fakeStore{cfg: DefaultMatrix()}
	svc := newTestService(store, spy)

	saved, err := svc.SetModuleRole(context.Background(), "reports", RoleTeacher, true)
	if err != nil {
		t.Fatalf("write failed on broadcast error: %v", err)
	}
	if !IsModuleEnabled(saved, "reports", RoleTeacher) {
		t.Error("write did not persist")
	}
	if store.saves != 1 {
		t.Errorf("expected 1 save, got %d", store.saves)
	}
}

func TestService_UpdateCountsOutcomes(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	store := &fakeStore{cfg: DefaultMatrix()}
	svc := NewService(NewCache(store), &spyBroadcaster{}, logger, metrics)
	ctx := context.Background()

	if _, err := svc.SetModuleRole(ctx, "reports", RoleTeacher, true); err != nil {
		t.Fatalf("SetModuleRole failed: %v", err)
	}
	if _, err := svc.SetModuleRole(ctx, "payroll", RoleAdmin, true); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	store.saveErr = errors.New("down")
	if _, err := svc.SetModuleRole(ctx, "reports", RoleTeacher, false); err == nil {
		t.Fatal("expected save failure")
	}

	for status, want := range map[string]float64{"success": 1, "invalid": 1, "error": 1} {
		got := testutil.ToFloat64(metrics.MatrixUpdatesTotal.WithLabelValues(status))
		if got != want {
			t.Errorf("matrix updates with status %q = %v, want %v", status, got, want)
		}
	}
}

func TestService_SetModuleRoleValidation(t *testing.T) {
	svc := newTestService(&fakeStore{cfg: DefaultMatrix()}, &spyBroadcaster{})
	ctx := context.Background()

	if _, err := svc.SetModuleRole(ctx, "reports", "JANITOR", true); !IsValidation(err) {
		t.Errorf("expected validation error for bad role, got %v", err)
	}
	if _, err := svc.SetModuleRole(ctx, "payroll", RoleAdmin, true); !IsValidation(err) {
		t.Errorf("expected validation error for unknown module, got %v", err)
	}
}

func TestService_ReplaceMatrixRejectsEmpty(t *testing.T) {
	spy := &spyBroadcaster{}
	svc := newTestService(&fakeStore{cfg: DefaultMatrix()}, spy)

	entries := []MatrixEntry{
		{ModuleID: "", ModuleName: "Nameless"},
	}
	if _, err := svc.ReplaceMatrix(context.Background(), entries); !IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if len(spy.events) != 0 {
		t.Errorf("expected no events, got %d", len(spy.events))
	}
}

func TestService_SeedOnEmptyStore(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store, &spyBroadcaster{})
	ctx := context.Background()

	if err := svc.Seed(ctx); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if store.saves != 1 {
		t.Fatalf("expected 1 save, got %d", store.saves)
	}

	cfg, err := svc.Matrix(ctx)
	if err != nil {
		t.Fatalf("Matrix after seed failed: %v", err)
	}
	if len(cfg.Entries) != len(DefaultMatrix().Entries) {
		t.Errorf("seeded matrix has %d entries, want %d", len(cfg.Entries), len(DefaultMatrix().Entries))
	}

	// Seeding again must not overwrite
	if err := svc.Seed(ctx); err != nil {
		t.Fatalf("second Seed failed: %v", err)
	}
	if store.saves != 1 {
		t.Errorf("second seed wrote again: %d saves", store.saves)
	}
}

func TestService_SeedSurfacesStorageErrors(t *testing.T) {
	store := &fakeStore{loadErr: ErrStorageUnavailable}
	svc := newTestService(store, &spyBroadcaster{})

	if err := svc.Seed(context.Background()); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("expected storage error, got %v", err)
	}
	if store.saves != 0 {
		t.Errorf("seed wrote despite load failure")
	}
}
