// Package gormstore implements ooth.Backend on a relational database via
// GORM. The full user document is stored as a JSON blob; string-valued
// fields are additionally mirrored into an index table so unique-field
// lookups (emails, usernames, provider ids) stay a single indexed query.
package gormstore

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	ooth "github.com/nickredmark/ooth-sub000"
)

// JSONMap stores a strategy map as a JSON column.
type JSONMap map[string]ooth.Values

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("gormstore: cannot scan %T into JSONMap", value)
	}
	return json.Unmarshal(bytes, m)
}

// UserModel is one user document.
type UserModel struct {
	ID        string  `gorm:"primaryKey;size:64"`
	Doc       JSONMap `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UserModel) TableName() string { return "ooth_users" }

// FieldIndexModel mirrors one string field for lookup.
type FieldIndexModel struct {
	UserID   string `gorm:"primaryKey;size:64;index:idx_ooth_field_path_value,priority:3"`
	Strategy string `gorm:"primaryKey;size:64"`
	Field    string `gorm:"primaryKey;size:128"`
	Path     string `gorm:"size:192;index:idx_ooth_field_path_value,priority:1"`
	Value    string `gorm:"size:512;index:idx_ooth_field_path_value,priority:2"`
}

func (FieldIndexModel) TableName() string { return "ooth_user_fields" }

// Backend implements ooth.Backend.
type Backend struct {
	db *gorm.DB
}

var _ ooth.Backend = (*Backend)(nil)

// New migrates the schema and returns the backend.
func New(db *gorm.DB) (*Backend, error) {
	if err := db.AutoMigrate(&UserModel{}, &FieldIndexModel{}); err != nil {
		return nil, fmt.Errorf("gormstore: migrate: %w", err)
	}
	return &Backend{db: db}, nil
}

func (b *Backend) GetUserByID(ctx context.Context, id string) (*ooth.User, error) {
	var model UserModel
	err := b.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toUser(&model), nil
}

func (b *Backend) GetUser(ctx context.Context, filter map[ooth.FieldKey]any) (*ooth.User, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	// Narrow by one indexed field, then verify the rest against the doc.
	var first ooth.FieldKey
	var firstValue any
	for key, value := range filter {
		first, firstValue = key, value
		break
	}
	var rows []FieldIndexModel
	err := b.db.WithContext(ctx).
		Where("path = ? AND value = ?", first.Path(), stringValue(firstValue)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		u, err := b.GetUserByID(ctx, row.UserID)
		if err != nil {
			return nil, err
		}
		if u != nil && matchesAll(u, filter) {
			return u, nil
		}
	}
	return nil, nil
}

func (b *Backend) GetUserByValue(ctx context.Context, keys []ooth.FieldKey, value any) (*ooth.User, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	paths := make([]string, 0, len(keys))
	for _, key := range keys {
		paths = append(paths, key.Path())
	}
	var row FieldIndexModel
	err := b.db.WithContext(ctx).
		Where("path IN ? AND value = ?", paths, stringValue(value)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b.GetUserByID(ctx, row.UserID)
}

func (b *Backend) UpdateUser(ctx context.Context, id string, fields map[string]ooth.Values) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model UserModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if model.Doc == nil {
			model.Doc = JSONMap{}
		}
		mergeDoc(model.Doc, fields)
		if err := tx.Save(&model).Error; err != nil {
			return err
		}
		return reindexStrategies(tx, id, model.Doc, fields)
	})
}

func (b *Backend) InsertUser(ctx context.Context, fields map[string]ooth.Values) (string, error) {
	id := uuid.NewString()
	doc := JSONMap{}
	mergeDoc(doc, fields)
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&UserModel{ID: id, Doc: doc}).Error; err != nil {
			return err
		}
		return reindexStrategies(tx, id, doc, fields)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func mergeDoc(doc JSONMap, fields map[string]ooth.Values) {
	for strategy, values := range fields {
		sub, ok := doc[strategy]
		if !ok {
			sub = ooth.Values{}
			doc[strategy] = sub
		}
		for field, value := range values {
			if value == nil {
				delete(sub, field)
			} else {
				sub[field] = value
			}
		}
	}
}

// reindexStrategies rebuilds the lookup rows of every touched strategy.
// Only string values are indexed; other types live in the doc alone.
func reindexStrategies(tx *gorm.DB, userID string, doc JSONMap, touched map[string]ooth.Values) error {
	for strategy := range touched {
		if err := tx.Delete(&FieldIndexModel{}, "user_id = ? AND strategy = ?", userID, strategy).Error; err != nil {
			return err
		}
		var rows []FieldIndexModel
		for field, value := range doc[strategy] {
			s, ok := value.(string)
			if !ok {
				continue
			}
			rows = append(rows, FieldIndexModel{
				UserID:   userID,
				Strategy: strategy,
				Field:    field,
				Path:     ooth.FieldKey{Strategy: strategy, Field: field}.Path(),
				Value:    s,
			})
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func toUser(model *UserModel) *ooth.User {
	return &ooth.User{ID: model.ID, Data: map[string]ooth.Values(model.Doc)}
}

func matchesAll(u *ooth.User, filter map[ooth.FieldKey]any) bool {
	for key, value := range filter {
		sub, ok := u.Data[key.Strategy]
		if !ok {
			return false
		}
		stored, ok := sub[key.Field]
		if !ok || stringValue(stored) != stringValue(value) {
			return false
		}
	}
	return true
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
