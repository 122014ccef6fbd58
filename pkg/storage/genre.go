package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/igolaizola/sunoprompt/pkg/music"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Genre is a genre name with its tempo range.
type Genre struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	MinBPM float64 `gorm:"not null;default:0"`
	MaxBPM float64 `gorm:"not null;default:0"`
}

func (g *Genre) Music() music.Genre {
	return music.Genre{
		Genre: g.ID,
		Rules: music.GenreRules{Tempo: music.Range{Min: g.MinBPM, Max: g.MaxBPM}},
	}
}

func (s *Store) GetGenre(ctx context.Context, name string) (*Genre, error) {
	var v Genre
	if err := s.db.WithContext(ctx).First(&v, "id = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get genre %s: %w", name, err)
	}
	return &v, nil
}

// SetGenre creates the genre or updates its tempo range.
func (s *Store) SetGenre(ctx context.Context, name string, minBPM, maxBPM float64) error {
	if name == "" {
		return errors.New("storage: genre name is required")
	}
	if minBPM > maxBPM {
		return fmt.Errorf("storage: invalid tempo range %v-%v", minBPM, maxBPM)
	}
	now := time.Now().UTC()
	v := &Genre{
		ID:        name,
		CreatedAt: now,
		UpdatedAt: now,
		MinBPM:    minBPM,
		MaxBPM:    maxBPM,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"min_bpm", "max_bpm", "updated_at"}),
	}).Create(v).Error
	if err != nil {
		return fmt.Errorf("storage: failed to set genre %s: %w", name, err)
	}
	return nil
}

// SeedGenres adds the genres that don't exist yet.
func (s *Store) SeedGenres(ctx context.Context, genres []music.Genre) error {
	if len(genres) == 0 {
		return nil
	}
	now := time.Now().UTC()
	vs := make([]*Genre, 0, len(genres))
	for i, g := range genres {
		vs = append(vs, &Genre{
			ID:        g.Genre,
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
			UpdatedAt: now,
			MinBPM:    g.Rules.Tempo.Min,
			MaxBPM:    g.Rules.Tempo.Max,
		})
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&vs).Error; err != nil {
		return fmt.Errorf("storage: failed to seed genres: %w", err)
	}
	return nil
}

func (s *Store) DeleteGenre(ctx context.Context, name string) error {
	if err := s.db.WithContext(ctx).Delete(&Genre{ID: name}, "id = ?", name).Error; err != nil {
		return fmt.Errorf("storage: failed to delete genre %s: %w", name, err)
	}
	return nil
}

// ListGenres returns the genres in creation order.
func (s *Store) ListGenres(ctx context.Context) ([]*Genre, error) {
	vs := []*Genre{}
	if err := s.db.WithContext(ctx).Order("created_at asc, id asc").Find(&vs).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to list genres: %w", err)
	}
	return vs, nil
}
