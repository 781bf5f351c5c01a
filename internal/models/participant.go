package models

import (
	"errors"
	"strings"
)

// Role is the kind of account taking part in a conversation.
type Role string

const (
	RoleStudent   Role = "student"
	RoleProfessor Role = "professor"
	RoleBusiness  Role = "business"
)

// ErrInvalidParticipant is returned by Participant.Validate.
var ErrInvalidParticipant = errors.New("invalid participant")

// Roles lists every supported role.
func Roles() []Role {
	return []Role{RoleStudent, RoleProfessor, RoleBusiness}
}

// Valid reports whether r is one of the supported roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleProfessor, RoleBusiness:
		return true
	}
	return false
}

// ParseRole normalizes a role string coming from a client or a token.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// Participant identifies one side of a conversation. IDs are issued by the
// identity provider and are unique across roles; Role selects where the
// profile lives.
type Participant struct {
	ID   string `json:"user_id"`
	Role Role   `json:"user_type"`
}

// Validate checks that the participant carries an id and a known role.
func (p Participant) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.Join(ErrInvalidParticipant, errors.New("user id is required"))
	}
	if !p.Role.Valid() {
		return errors.Join(ErrInvalidParticipant, errors.New("unknown user type "+string(p.Role)))
	}
	return nil
}

// Key is the canonical string form "role:id".
func (p Participant) Key() string {
	return string(p.Role) + ":" + p.ID
}

// Equal reports whether both participants denote the same account.
func (p Participant) Equal(o Participant) bool {
	return p.ID == o.ID && p.Role == o.Role
}

// PairKey returns the same key for {a, b} and {b, a}. It backs the unique
// index that keeps one room per unordered pair.
func PairKey(a, b Participant) string {
	ka, kb := a.Key(), b.Key()
	if kb < ka {
		ka, kb = kb, ka
	}
	return ka + "|" + kb
}
