package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/woozymasta/webgis/internal/parcel"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Gleba is a land parcel record owned by one user.
type Gleba struct {
	parcel.Parcel `gorm:"embedded"`

	CreatedAt time.Time
	UpdatedAt time.Time
	CreatedBy string         `gorm:"size:50;index"`
	Geometry  datatypes.JSON `gorm:"not null"`
	ID        uint           `gorm:"primaryKey"`
}

// ListGlebas returns the user's parcels, newest first.
func (s *Store) ListGlebas(ctx context.Context, user string) ([]Gleba, error) {
	var out []Gleba
	err := s.db.WithContext(ctx).
		Where("created_by = ?", user).
		Order("created_at DESC").
		Order("id DESC").
		Find(&out).Error
	return out, err
}

// GetGleba returns one of the user's parcels.
func (s *Store) GetGleba(ctx context.Context, user string, id uint) (*Gleba, error) {
	var g Gleba
	err := s.db.WithContext(ctx).
		Where("id = ? AND created_by = ?", id, user).
		First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) numberTaken(ctx context.Context, user, number string, except uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Gleba{}).
		Where("created_by = ? AND no_gleba = ? AND id <> ?", user, number, except).
		Count(&n).Error
	return n > 0, err
}

// CreateGleba stores a new parcel. The number must be unique per user.
func (s *Store) CreateGleba(ctx context.Context, g *Gleba) error {
	if err := g.ValidateRecord(); err != nil {
		return err
	}

	taken, err := s.numberTaken(ctx, g.CreatedBy, g.NoGleba, 0)
	if err != nil {
		return err
	}
	if taken {
		return ErrDuplicateNumber
	}

	return s.db.WithContext(ctx).Create(g).Error
}

// UpdateGleba applies a partial update: only the keys present in changes
// are written. A null or empty value clears the column. Keys outside the
// parcel schema are ignored.
func (s *Store) UpdateGleba(ctx context.Context, user string, id uint, changes map[string]any) (*Gleba, error) {
	g, err := s.GetGleba(ctx, user, id)
	if err != nil {
		return nil, err
	}

	typed, err := parcel.FromProperties(changes)
	if err != nil {
		return nil, err
	}
	if err := typed.Validate(); err != nil {
		return nil, err
	}
	values := typed.Properties()

	updates := make(map[string]any, len(changes))
	for k, v := range changes {
		switch {
		case k == "geometry":
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode geometry: %w", err)
			}
			updates["geometry"] = datatypes.JSON(raw)
		case parcel.IsKnownKey(k):
			val, ok := values[k]
			if !ok && !parcel.IsNumericKey(k) {
				val = ""
			}
			updates[k] = val
		}
	}

	if n, ok := updates["no_gleba"]; ok {
		number, _ := n.(string)
		if number == "" {
			return nil, parcel.ErrNumberRequired
		}
		taken, err := s.numberTaken(ctx, user, number, id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrDuplicateNumber
		}
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(g).Updates(updates).Error; err != nil {
			return nil, err
		}
	}

	return s.GetGleba(ctx, user, id)
}

// DeleteGleba deletes one of the user's parcels.
func (s *Store) DeleteGleba(ctx context.Context, user string, id uint) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND created_by = ?", id, user).
		Delete(&Gleba{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
