package access

import (
	"time"
)

// Role represents an identity class assigned to an authenticated user
type Role string

const (
	RoleSuperAdmin Role = "SUPERADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleLeader     Role = "LEADER"
	RoleManagement Role = "MANAGEMENT"
	RoleTeacher    Role = "TEACHER"
)

// Roles returns the fixed role enumeration in privilege order
func Roles() []Role {
	return []Role{RoleSuperAdmin, RoleAdmin, RoleLeader, RoleManagement, RoleTeacher}
}

// ValidRole reports whether name is a member of the role enumeration
func ValidRole(name Role) bool {
	switch name {
	case RoleSuperAdmin, RoleAdmin, RoleLeader, RoleManagement, RoleTeacher:
		return true
	}
	return false
}

// MatrixEntry maps one navigable feature area to per-role permission flags
type MatrixEntry struct {
	ModuleID   string        `json:"module_id"`
	ModuleName string        `json:"module_name"`
	Roles      map[Role]bool `json:"roles"`
}

// MatrixConfig is the persisted snapshot of the full access matrix.
// Entry order is preserved across load/save since the UI renders navigation
// in matrix order.
type MatrixConfig struct {
	Key       string        `json:"key"`
	Entries   []MatrixEntry `json:"entries"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// MatrixKey is the fixed settings key the matrix document is stored under
const MatrixKey = "access_matrix_config"

// Clone returns a deep copy so mutators never alias the cached snapshot
func (c *MatrixConfig) Clone() *MatrixConfig {
	if c == nil {
		return nil
	}
	out := &MatrixConfig{
		Key:       c.Key,
		UpdatedAt: c.UpdatedAt,
		Entries:   make([]MatrixEntry, len(c.Entries)),
	}
	for i, e := range c.Entries {
		roles := make(map[Role]bool, len(e.Roles))
		for r, allowed := range e.Roles {
			roles[r] = allowed
		}
		out.Entries[i] = MatrixEntry{
			ModuleID:   e.ModuleID,
			ModuleName: e.ModuleName,
			Roles:      roles,
		}
	}
	return out
}

// Entry returns the entry for moduleID, or nil if the matrix has no such module
func (c *MatrixConfig) Entry(moduleID string) *MatrixEntry {
	if c == nil {
		return nil
	}
	for i := range c.Entries {
		if c.Entries[i].ModuleID == moduleID {
			return &c.Entries[i]
		}
	}
	return nil
}

// FlowRule routes a submitted form to a destination dashboard section based
// on the submitting role
type FlowRule struct {
	ID              int64     `json:"id"`
	FormName        string    `json:"form_name"`
	SenderRole      Role      `json:"sender_role"`
	TargetDashboard string    `json:"target_dashboard"`
	TargetLocation  string    `json:"target_location"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Event is the change notification pushed to connected sessions after a
// successful matrix update. Clients refetch on receipt; the payload is an
// invalidation trigger, not an authoritative copy.
type Event struct {
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventSettingsUpdated is the only event name this service emits
const EventSettingsUpdated = "SETTINGS_UPDATED"

// DefaultMatrix returns the matrix seeded at bootstrap when no configuration
// exists yet
func DefaultMatrix() *MatrixConfig {
	row := func(id, name string, superadmin, admin, leader, management, teacher bool) MatrixEntry {
		return MatrixEntry{
			ModuleID:   id,
			ModuleName: name,
			Roles: map[Role]bool{
				RoleSuperAdmin: superadmin,
				RoleAdmin:      admin,
				RoleLeader:     leader,
				RoleManagement: management,
				RoleTeacher:    teacher,
			},
		}
	}

	return &MatrixConfig{
		Key: MatrixKey,
		Entries: []MatrixEntry{
			row("users", "User Management", true, true, true, false, false),
			row("forms", "Form Builder", true, true, false, false, false),
			row("courses", "Courses", true, true, true, true, true),
			row("calendar", "Calendar", true, true, true, true, true),
			row("documents", "Documents", true, true, true, true, true),
			row("reports", "Reports", true, true, true, true, false),
			row("settings", "Settings", true, false, false, false, false),
			row("attendance", "Attendance", true, true, true, false, false),
			row("observations", "Observations", true, true, true, true, true),
			row("goals", "Goals", true, true, true, true, true),
			row("hours", "PD Hours", true, true, true, true, true),
			row("insights", "Insights", true, true, true, true, true),
			row("meetings", "Meetings", true, true, true, true, true),
		},
	}
}
