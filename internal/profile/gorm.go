package profile

import (
	"campuschat/backend/internal/models"
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// source describes where a role keeps its profile.
type source struct {
	table        string
	nameColumn   string
	avatarColumn string
}

// sourceFor maps each role to its own table and columns. Businesses show
// their company name instead of a person's name.
func sourceFor(r models.Role) (source, error) {
	switch r {
	case models.RoleStudent:
		return source{table: "students", nameColumn: "full_name", avatarColumn: "avatar_url"}, nil
	case models.RoleProfessor:
		return source{table: "professors", nameColumn: "full_name", avatarColumn: "avatar_url"}, nil
	case models.RoleBusiness:
		return source{table: "businesses", nameColumn: "company_name", avatarColumn: "logo_url"}, nil
	}
	return source{}, fmt.Errorf("profile: no source for role %q", r)
}

// GormDirectory reads profiles from the platform's role tables.
type GormDirectory struct {
	DB *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{DB: db}
}

func (d *GormDirectory) Lookup(ctx context.Context, p models.Participant) (Profile, error) {
	src, err := sourceFor(p.Role)
	if err != nil {
		return Profile{}, err
	}

	var row struct {
		DisplayName string
		AvatarURL   string
	}
	err = d.DB.WithContext(ctx).
		Table(src.table).
		Select(fmt.Sprintf("%s AS display_name, COALESCE(%s, '') AS avatar_url", src.nameColumn, src.avatarColumn)).
		Where("id = ?", p.ID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return Profile{UserID: p.ID, Role: p.Role, DisplayName: row.DisplayName, AvatarURL: row.AvatarURL}, nil
}
