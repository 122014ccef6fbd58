package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/igolaizola/sunoprompt/pkg/music"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// History kinds.
const (
	AnalysisHistory   = "analysis"
	GenerationHistory = "generation"
)

type History struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Kind    string `gorm:"index;not null;default:''"`
	Payload string `gorm:"not null;default:''"`
}

// Entry returns the history record with its id and timestamp.
func (h *History) Entry() music.Entry {
	return music.Entry{
		ID:        h.ID,
		Timestamp: h.CreatedAt.UTC().Format(time.RFC3339Nano),
		Payload:   json.RawMessage(h.Payload),
	}
}

// AddHistory stores a JSON object under a new id.
func (s *Store) AddHistory(ctx context.Context, kind string, payload json.RawMessage) (*History, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, fmt.Errorf("storage: history payload must be a json object: %w", err)
	}
	delete(obj, "id")
	delete(obj, "timestamp")
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("storage: couldn't marshal history payload: %w", err)
	}
	v := &History{
		ID:        ulid.Make().String(),
		CreatedAt: time.Now().UTC(),
		Kind:      kind,
		Payload:   string(b),
	}
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to add history %s: %w", v.ID, err)
	}
	return v, nil
}

func (s *Store) GetHistory(ctx context.Context, id string) (*History, error) {
	var v History
	if err := s.db.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get history %s: %w", id, err)
	}
	return &v, nil
}

func (s *Store) DeleteHistory(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&History{ID: id}, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("storage: failed to delete history %s: %w", id, err)
	}
	return nil
}

// ListHistory returns records of the given kind, newest first. A size of 0
// returns all of them.
func (s *Store) ListHistory(ctx context.Context, kind string, page, size int) ([]*History, error) {
	if page < 1 {
		page = 1
	}
	vs := []*History{}

	q := s.db.WithContext(ctx).Where("kind = ?", kind)
	if size > 0 {
		q = q.Offset((page - 1) * size).Limit(size)
	}
	// ULIDs sort by creation time
	q = q.Order("created_at desc, id desc")
	if err := q.Find(&vs).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to list history: %w", err)
	}
	return vs, nil
}
