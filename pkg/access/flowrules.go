package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lib/pq"

	"github.com/brightpath/pdcore/pkg/observability"
)

// flowRuleCacheSize bounds the resolution cache. The rule table is small;
// 256 entries covers every (form, role) pair a deployment realistically has.
const flowRuleCacheSize = 256

// uniqueViolation is the postgres error code for unique constraint failures
const uniqueViolation = "23505"

// ErrRuleConflict is returned when enabling a rule would leave two enabled
// rules for the same form and sender role
var ErrRuleConflict = errors.New("an enabled rule already exists for this form and sender role")

// FlowRuleStore manages form routing rules with a read-through cache on the
// resolution path. Admin CRUD goes straight to the database; Resolve is the
// hot path hit on every form submission.
type FlowRuleStore struct {
	db      *sql.DB
	cache   *lru.Cache[string, *FlowRule]
	metrics *observability.Metrics
}

// NewFlowRuleStore creates a flow rule store backed by db
func NewFlowRuleStore(db *sql.DB, metrics *observability.Metrics) (*FlowRuleStore, error) {
	cache, err := lru.New[string, *FlowRule](flowRuleCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow rule cache: %w", err)
	}
	return &FlowRuleStore{db: db, cache: cache, metrics: metrics}, nil
}

func resolveKey(formName string, senderRole Role) string {
	return strings.ToLower(formName) + "|" + strings.ToLower(string(senderRole))
}

// ValidateFlowRule checks a rule before it is written
func ValidateFlowRule(rule *FlowRule) error {
	if rule == nil {
		return &ValidationError{Field: "rule", Reason: "rule must not be nil"}
	}
	if strings.TrimSpace(rule.FormName) == "" {
		return &ValidationError{Field: "form_name", Reason: "form_name must not be empty"}
	}
	if !ValidRole(rule.SenderRole) {
		return &ValidationError{Field: "sender_role", Reason: fmt.Sprintf("unrecognized role %q", rule.SenderRole)}
	}
	if strings.TrimSpace(rule.TargetDashboard) == "" {
		return &ValidationError{Field: "target_dashboard", Reason: "target_dashboard must not be empty"}
	}
	return nil
}

// List returns all rules ordered by form name and role
func (s *FlowRuleStore) List(ctx context.Context) ([]FlowRule, error) {
	query := `
		SELECT id, form_name, sender_role, target_dashboard, target_location, enabled, created_at, updated_at
		FROM form_flow_rules
		ORDER BY LOWER(form_name), LOWER(sender_role), id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list flow rules: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var rules []FlowRule
	for rows.Next() {
		var rule FlowRule
		if err := rows.Scan(
			&rule.ID, &rule.FormName, &rule.SenderRole,
			&rule.TargetDashboard, &rule.TargetLocation, &rule.Enabled,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan flow rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Get returns a single rule by ID
func (s *FlowRuleStore) Get(ctx context.Context, id int64) (*FlowRule, error) {
	query := `
		SELECT id, form_name, sender_role, target_dashboard, target_location, enabled, created_at, updated_at
		FROM form_flow_rules
		WHERE id = $1
	`

	var rule FlowRule
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rule.ID, &rule.FormName, &rule.SenderRole,
		&rule.TargetDashboard, &rule.TargetLocation, &rule.Enabled,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get flow rule %d: %v", ErrStorageUnavailable, id, err)
	}
	return &rule, nil
}

// Create inserts a new rule and returns it with its assigned ID
func (s *FlowRuleStore) Create(ctx context.Context, rule *FlowRule) (*FlowRule, error) {
	if err := ValidateFlowRule(rule); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO form_flow_rules (form_name, sender_role, target_dashboard, target_location, enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	created := *rule
	err := s.db.QueryRowContext(ctx, query,
		rule.FormName, rule.SenderRole, rule.TargetDashboard, rule.TargetLocation, rule.Enabled,
	).Scan(&created.ID, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrRuleConflict
		}
		return nil, fmt.Errorf("%w: create flow rule: %v", ErrStorageUnavailable, err)
	}

	s.cache.Purge()
	return &created, nil
}

// Update replaces a rule's fields by ID
func (s *FlowRuleStore) Update(ctx context.Context, id int64, rule *FlowRule) (*FlowRule, error) {
	if err := ValidateFlowRule(rule); err != nil {
		return nil, err
	}

	query := `
		UPDATE form_flow_rules
		SET form_name = $1, sender_role = $2, target_dashboard = $3, target_location = $4, enabled = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING id, created_at, updated_at
	`

	updated := *rule
	err := s.db.QueryRowContext(ctx, query,
		rule.FormName, rule.SenderRole, rule.TargetDashboard, rule.TargetLocation, rule.Enabled, id,
	).Scan(&updated.ID, &updated.CreatedAt, &updated.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrRuleConflict
		}
		return nil, fmt.Errorf("%w: update flow rule %d: %v", ErrStorageUnavailable, id, err)
	}

	s.cache.Purge()
	return &updated, nil
}

// Delete removes a rule by ID
func (s *FlowRuleStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM form_flow_rules WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("%w: delete flow rule %d: %v", ErrStorageUnavailable, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrRuleNotFound
	}

	s.cache.Purge()
	return nil
}

// Resolve returns the enabled rule for (formName, senderRole), matching
// case-insensitively. At most one enabled rule can exist per pair; the
// partial unique index enforces that, so the query needs no tie-breaking.
func (s *FlowRuleStore) Resolve(ctx context.Context, formName string, senderRole Role) (*FlowRule, error) {
	key := resolveKey(formName, senderRole)
	if rule, ok := s.cache.Get(key); ok {
		s.countLookup("cache")
		if rule == nil {
			return nil, ErrRuleNotFound
		}
		return rule, nil
	}

	query := `
		SELECT id, form_name, sender_role, target_dashboard, target_location, enabled, created_at, updated_at
		FROM form_flow_rules
		WHERE LOWER(form_name) = LOWER($1) AND LOWER(sender_role) = LOWER($2) AND enabled
	`

	var rule FlowRule
	err := s.db.QueryRowContext(ctx, query, formName, senderRole).Scan(
		&rule.ID, &rule.FormName, &rule.SenderRole,
		&rule.TargetDashboard, &rule.TargetLocation, &rule.Enabled,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		// Negative entries are cached too; misses are the common case for
		// forms that have no routing rule configured.
		s.cache.Add(key, nil)
		s.countLookup("miss")
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: resolve flow rule: %v", ErrStorageUnavailable, err)
	}

	s.cache.Add(key, &rule)
	s.countLookup("store")
	return &rule, nil
}

func (s *FlowRuleStore) countLookup(source string) {
	if s.metrics != nil {
		s.metrics.FlowRuleLookupsTotal.WithLabelValues(source).Inc()
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
