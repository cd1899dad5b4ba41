package model

import (
	"strings"

	"github.com/goccy/go-json"
)

// ActionType is the closed set of verbs the gateway executes.
type ActionType string

const (
	ActionCreate    ActionType = "create"
	ActionList      ActionType = "list"
	ActionRead      ActionType = "read"
	ActionUpdate    ActionType = "update"
	ActionDelete    ActionType = "delete"
	ActionDeleteAll ActionType = "deleteall"
	ActionDrop      ActionType = "drop"
	ActionIndex     ActionType = "index"
	ActionExport    ActionType = "export"
	ActionImport    ActionType = "import"
	ActionClose     ActionType = "close"
)

// AllActions lists every known action in a stable order.
var AllActions = []ActionType{
	ActionCreate, ActionList, ActionRead, ActionUpdate, ActionDelete,
	ActionDeleteAll, ActionDrop, ActionIndex, ActionExport, ActionImport, ActionClose,
}

// Permission is the capability a caller needs for an action.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
)

var permissionMap = map[ActionType]Permission{
	ActionCreate:    PermissionWrite,
	ActionUpdate:    PermissionWrite,
	ActionDelete:    PermissionWrite,
	ActionDeleteAll: PermissionWrite,
	ActionDrop:      PermissionWrite,
	ActionImport:    PermissionWrite,
	ActionList:      PermissionRead,
	ActionRead:      PermissionRead,
	ActionIndex:     PermissionRead,
	ActionExport:    PermissionRead,
	ActionClose:     PermissionRead,
}

// ParseActionType normalises s. The second result is false for unknown verbs.
func ParseActionType(s string) (ActionType, bool) {
	a := ActionType(strings.ToLower(strings.TrimSpace(s)))
	_, ok := permissionMap[a]
	return a, ok
}

// Valid reports whether a is a known action.
func (a ActionType) Valid() bool {
	_, ok := permissionMap[a]
	return ok
}

// RequiredPermission returns the capability needed to run a.
func (a ActionType) RequiredPermission() (Permission, bool) {
	p, ok := permissionMap[a]
	return p, ok
}

// IsWrite reports whether a mutates data.
func (a ActionType) IsWrite() bool {
	return permissionMap[a] == PermissionWrite
}

// TenantContext identifies the tenant an action runs for.
type TenantContext struct {
	TenantID       string `json:"tenantId" validate:"required,max=64"`
	PerAppDatabase bool   `json:"perAppDatabase"`
}

// Action is one inbound gateway request.
type Action struct {
	TenantContext

	Act     ActionType             `json:"action" validate:"required"`
	Type    string                 `json:"type"`
	Fields  interface{}            `json:"fields,omitempty"`
	Guid    string                 `json:"guid,omitempty"`
	Eq      map[string]QueryLeaf   `json:"eq,omitempty"`
	Ne      map[string]QueryLeaf   `json:"ne,omitempty"`
	Gt      map[string]QueryLeaf   `json:"gt,omitempty"`
	Ge      map[string]QueryLeaf   `json:"ge,omitempty"`
	Lt      map[string]QueryLeaf   `json:"lt,omitempty"`
	Le      map[string]QueryLeaf   `json:"le,omitempty"`
	Like    map[string]QueryLeaf   `json:"like,omitempty"`
	Sort    SortSpec               `json:"sort,omitempty"`
	Limit   *int64                 `json:"limit,omitempty"`
	Skip    *int64                 `json:"skip,omitempty"`
	Index   IndexSpec              `json:"index,omitempty"`
	Upsert  bool                   `json:"upsert,omitempty"`
	Partial bool                   `json:"partial,omitempty"`
	Meta    map[string]interface{} `json:"meta,omitempty"`

	// Archive carries the import payload; it never travels as JSON.
	Archive []byte `json:"-"`
}

// actionAlias breaks the UnmarshalJSON recursion.
type actionAlias Action

// UnmarshalJSON lower-cases the action verb.
func (a *Action) UnmarshalJSON(data []byte) error {
	var alias actionAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*a = Action(alias)
	a.Act = ActionType(strings.ToLower(strings.TrimSpace(string(a.Act))))
	return nil
}

// ListQuery extracts the query part of the action.
func (a *Action) ListQuery() ListQuery {
	return ListQuery{
		Type:  a.Type,
		Eq:    a.Eq,
		Ne:    a.Ne,
		Gt:    a.Gt,
		Ge:    a.Ge,
		Lt:    a.Lt,
		Le:    a.Le,
		Like:  a.Like,
		Sort:  a.Sort,
		Limit: a.Limit,
		Skip:  a.Skip,
	}
}
