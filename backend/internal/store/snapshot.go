package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"realtimeCollab/backend/internal/ot"
)

// DocumentField is the durable row behind the Redis document cache: one
// row per (resource, field), holding the serialized state envelope.
type DocumentField struct {
	ID           uint64 `gorm:"primaryKey"`
	ResourceType string `gorm:"size:32;uniqueIndex:idx_resource_field,priority:1"`
	ResourceID   string `gorm:"size:64;uniqueIndex:idx_resource_field,priority:2"`
	FieldName    string `gorm:"size:64;uniqueIndex:idx_resource_field,priority:3"`
	Content      string `gorm:"type:mediumtext"`
	Version      uint64
	UpdatedAt    time.Time
}

func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&DocumentField{}); err != nil {
		return nil, err
	}
	return db, nil
}

type SnapshotStore struct {
	db *gorm.DB
}

func NewSnapshotStore(db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) Load(ctx context.Context, resourceType, resourceID, fieldName string) (ot.DocumentState, bool, error) {
	var row DocumentField
	err := s.db.WithContext(ctx).
		Where("resource_type = ? AND resource_id = ? AND field_name = ?", resourceType, resourceID, fieldName).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ot.DocumentState{}, false, nil
		}
		return ot.DocumentState{}, false, err
	}
	var state ot.DocumentState
	if err := json.Unmarshal([]byte(row.Content), &state); err != nil {
		return ot.DocumentState{}, false, err
	}
	return state, true, nil
}

// Save upserts the row, but never lets a stale writer roll a newer version
// back.
func (s *SnapshotStore) Save(ctx context.Context, resourceType, resourceID, fieldName string, state ot.DocumentState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return err
	}
	row := DocumentField{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		FieldName:    fieldName,
		Content:      string(blob),
		Version:      state.Version,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "resource_type"}, {Name: "resource_id"}, {Name: "field_name"},
		},
		DoUpdates: clause.Assignments(map[string]any{
			"content":    gorm.Expr("IF(VALUES(version) > version, VALUES(content), content)"),
			"version":    gorm.Expr("IF(VALUES(version) > version, VALUES(version), version)"),
			"updated_at": gorm.Expr("VALUES(updated_at)"),
		}),
	}).Create(&row).Error
}
