package access

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func newTestFlowRuleStore(t *testing.T) (*FlowRuleStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock database: %v", err)
	}
	store, err := NewFlowRuleStore(db, nil)
	if err != nil {
		t.Fatalf("failed to create flow rule store: %v", err)
	}
	return store, mock, func() { db.Close() }
}

func flowRuleRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "form_name", "sender_role", "target_dashboard",
		"target_location", "enabled", "created_at", "updated_at",
	})
}

func TestFlowRuleStore_Resolve(t *testing.T) {
	store, mock, cleanup := newTestFlowRuleStore(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("SELECT id, form_name").
		WithArgs("Observation Report", RoleTeacher).
		WillReturnRows(flowRuleRows().
			AddRow(7, "observation report", "TEACHER", "leader-dashboard", "inbox", true, now, now))

	rule, err := store.Resolve(context.Background(), "Observation Report", RoleTeacher)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if rule.ID != 7 {
		t.Errorf("rule ID = %d, want 7", rule.ID)
	}
	if rule.TargetDashboard != "leader-dashboard" {
		t.Errorf("target = %q, want leader-dashboard", rule.TargetDashboard)
	}

	// Second resolve for the same pair must come from cache, not SQL
	cached, err := store.Resolve(context.Background(), "observation REPORT", RoleTeacher)
	if err != nil {
		t.Fatalf("cached Resolve failed: %v", err)
	}
	if cached.ID != rule.ID {
		t.Errorf("cached rule ID = %d, want %d", cached.ID, rule.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFlowRuleStore_ResolveMissCached(t *testing.T) {
	store, mock, cleanup := newTestFlowRuleStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id, form_name").
		WithArgs("unrouted form", RoleAdmin).
		WillReturnError(sql.ErrNoRows)

	ctx := context.Background()
	if _, err := store.Resolve(ctx, "unrouted form", RoleAdmin); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}

	// The miss is cached; no second query
	if _, err := store.Resolve(ctx, "unrouted form", RoleAdmin); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected cached ErrRuleNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFlowRuleStore_CreateInvalidatesCache(t *testing.T) {
	store, mock, cleanup := newTestFlowRuleStore(t)
	defer cleanup()
	ctx := context.Background()

	// Seed a cached miss
	mock.ExpectQuery("SELECT id, form_name").
		WithArgs("goal review", RoleTeacher).
		WillReturnError(sql.ErrNoRows)
	if _, err := store.Resolve(ctx, "goal review", RoleTeacher); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected miss, got %v", err)
	}

	now := time.Now()
	mock.ExpectQuery("INSERT INTO form_flow_rules").
		WithArgs("goal review", RoleTeacher, "admin-dashboard", "", true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(11, now, now))

	created, err := store.Create(ctx, &FlowRule{
		FormName:        "goal review",
		SenderRole:      RoleTeacher,
		TargetDashboard: "admin-dashboard",
		Enabled:         true,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID != 11 {
		t.Errorf("created ID = %d, want 11", created.ID)
	}

	// The cached miss must be gone: the next resolve hits the database
	mock.ExpectQuery("SELECT id, form_name").
		WithArgs("goal review", RoleTeacher).
		WillReturnRows(flowRuleRows().
			AddRow(11, "goal review", "TEACHER", "admin-dashboard", "", true, now, now))

	rule, err := store.Resolve(ctx, "goal review", RoleTeacher)
	if err != nil {
		t.Fatalf("Resolve after create failed: %v", err)
	}
	if rule.ID != 11 {
		t.Errorf("resolved ID = %d, want 11", rule.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFlowRuleStore_CreateConflict(t *testing.T) {
	store, mock, cleanup := newTestFlowRuleStore(t)
	defer cleanup()

	mock.ExpectQuery("INSERT INTO form_flow_rules").
		WithArgs("goal review", RoleTeacher, "admin-dashboard", "", true).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	_, err := store.Create(context.Background(), &FlowRule{
		FormName:        "goal review",
		SenderRole:      RoleTeacher,
		TargetDashboard: "admin-dashboard",
		Enabled:         true,
	})
	if !errors.Is(err, ErrRuleConflict) {
		t.Errorf("expected ErrRuleConflict, got %v", err)
	}
}

func TestFlowRuleStore_DeleteNotFound(t *testing.T) {
	store, mock, cleanup := newTestFlowRuleStore(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM form_flow_rules").
		WithArgs(int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Delete(context.Background(), 99); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestValidateFlowRule(t *testing.T) {
	tests := []struct {
		name    string
		rule    *FlowRule
		wantErr bool
	}{
		{
			name: "valid",
			rule: &FlowRule{
				FormName:        "weekly check-in",
				SenderRole:      RoleTeacher,
				TargetDashboard: "leader-dashboard",
			},
			wantErr: false,
		},
		{name: "nil rule", rule: nil, wantErr: true},
		{
			name:    "empty form name",
			rule:    &FlowRule{SenderRole: RoleTeacher, TargetDashboard: "d"},
			wantErr: true,
		},
		{
			name:    "bad role",
			rule:    &FlowRule{FormName: "f", SenderRole: "INTERN", TargetDashboard: "d"},
			wantErr: true,
		},
		{
			name:    "empty target",
			rule:    &FlowRule{FormName: "f", SenderRole: RoleTeacher},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFlowRule(tt.rule)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFlowRule() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
