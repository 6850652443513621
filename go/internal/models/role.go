package models

// Role gates every mutating operation. Three levels: viewers watch, editors
// change content fields, operators control timers. Editors do not get timer
// control and operators do not get content edits.
type Role string

const (
	RoleViewer   Role = "VIEWER"
	RoleEditor   Role = "EDITOR"
	RoleOperator Role = "OPERATOR"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleViewer, RoleEditor, RoleOperator:
		return true
	}
	return false
}

// CanControlTimers reports whether r may load/start/stop/adjust timers.
func (r Role) CanControlTimers() bool {
	return r == RoleOperator
}

// CanEditContent reports whether r may mutate schedule fields and write
// audit-log entries.
func (r Role) CanEditContent() bool {
	return r == RoleEditor
}

// Actor identifies the originator of a command. ID travels with every
// broadcast so clients can suppress echoes of their own actions.
type Actor struct {
	ID   string `json:"actor_id"`
	Name string `json:"actor_name"`
	Role Role   `json:"actor_role"`
}
