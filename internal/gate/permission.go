package gate

import "strings"

// Action describes the kind of operation a user wants to perform.
type Action string

const (
	ActionView     Action = "view"
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionList     Action = "list"
	ActionFinalize Action = "finalize"
	ActionModify   Action = "modify"
	ActionVoid     Action = "void"
	ActionCompose  Action = "compose"
)

// Resource types guarded by the gate.
const (
	ResourceProduct  = "product"
	ResourceCustomer = "customer"
	ResourcePatient  = "patient"
	ResourceInvoice  = "invoice"
	ResourceReturn   = "return"
	ResourceReport   = "report"
)

// Permission represents an allowed action on a resource type.
// Format: "resource:action" (e.g., "product:create", "invoice:void")
type Permission string

// NewPermission creates a permission from resource type and action.
func NewPermission(resourceType string, action Action) Permission {
	return Permission(resourceType + ":" + string(action))
}

// Parse splits a permission into resource type and action.
func (p Permission) Parse() (resourceType string, action Action) {
	parts := strings.SplitN(string(p), ":", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], Action(parts[1])
}

// Wildcards for super permissions
const (
	WildcardAll                     = "*"
	PermissionSuperAdmin Permission = "*:*"
)

// Matches checks if this permission matches a requested permission.
// "*:*" matches all, "invoice:*" matches all invoice actions.
func (p Permission) Matches(requested Permission) bool {
	if p == PermissionSuperAdmin || p == requested {
		return true
	}
	res, act := p.Parse()
	reqRes, _ := requested.Parse()
	return res != "" && res == reqRes && string(act) == WildcardAll
}
