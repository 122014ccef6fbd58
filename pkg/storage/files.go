package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// File maps a source, such as a track url or an uploaded file name, to its
// archived reference in the file store.
type File struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Source    string
	Ref       string
}

func fileID(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

func (s *Store) GetFileRef(ctx context.Context, source string) (string, error) {
	var v File
	if err := s.db.WithContext(ctx).First(&v, "id = ?", fileID(source)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("storage: failed to get file %s: %w", source, err)
	}
	return v.Ref, nil
}

func (s *Store) SetFileRef(ctx context.Context, source, ref string) error {
	now := time.Now().UTC()
	v := &File{
		ID:        fileID(source),
		CreatedAt: now,
		UpdatedAt: now,
		Source:    source,
		Ref:       ref,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},                           // Unique columns
		DoUpdates: clause.AssignmentColumns([]string{"ref", "updated_at"}), // Columns to update
	}).Create(v).Error
	if err != nil {
		return fmt.Errorf("storage: failed to set file %s: %w", source, err)
	}
	return nil
}
