// Package profile resolves a participant to the display data shown next to
// a conversation. It is presentation only and never used for authorization.
package profile

import (
	"campuschat/backend/internal/models"
	"context"
	"errors"
)

// ErrNotFound is returned when no profile exists for a participant.
var ErrNotFound = errors.New("profile: not found")

// Profile is the display data of a participant.
type Profile struct {
	UserID      string      `json:"user_id"`
	Role        models.Role `json:"user_type"`
	DisplayName string      `json:"display_name"`
	AvatarURL   string      `json:"avatar_url,omitempty"`
}

// Directory looks profiles up.
type Directory interface {
	Lookup(ctx context.Context, p models.Participant) (Profile, error)
}

// Fallback is what callers show when a lookup fails.
func Fallback(p models.Participant) Profile {
	return Profile{UserID: p.ID, Role: p.Role, DisplayName: p.ID}
}

// StaticDirectory serves profiles from memory. Unknown participants get the
// fallback profile.
type StaticDirectory struct {
	profiles map[string]Profile
}

func NewStaticDirectory(profiles ...Profile) *StaticDirectory {
	d := &StaticDirectory{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		d.profiles[models.Participant{ID: p.UserID, Role: p.Role}.Key()] = p
	}
	return d
}

func (d *StaticDirectory) Lookup(_ context.Context, p models.Participant) (Profile, error) {
	if prof, ok := d.profiles[p.Key()]; ok {
		return prof, nil
	}
	return Fallback(p), nil
}
