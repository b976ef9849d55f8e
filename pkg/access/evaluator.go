package access

// IsModuleEnabled reports whether role may use the module identified by
// moduleID under the given matrix. Lookups are fail-closed: an unknown
// module, a missing role key, or a nil matrix all deny access.
//
// The function only reads its arguments and is safe for concurrent use.
func IsModuleEnabled(cfg *MatrixConfig, moduleID string, role Role) bool {
	entry := cfg.Entry(moduleID)
	if entry == nil {
		return false
	}
	return entry.Roles[role]
}

// EnabledModules returns the moduleIDs enabled for role, in matrix entry
// order. Entry order drives navigation menu order, so it is preserved.
func EnabledModules(cfg *MatrixConfig, role Role) []string {
	if cfg == nil {
		return nil
	}
	var enabled []string
	for _, entry := range cfg.Entries {
		if entry.Roles[role] {
			enabled = append(enabled, entry.ModuleID)
		}
	}
	return enabled
}
