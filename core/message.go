package core

import (
	"strings"
	"time"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Label returns the role name with its first letter upper-cased, the form
// used when a turn is rendered into a prompt.
func (r Role) Label() string {
	s := string(r)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// Turn is a single message selected for prompt context.
type Turn struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// Line renders the turn as "<Role>: <text>".
func (t Turn) Line() string {
	return t.Role.Label() + ": " + t.Text
}
