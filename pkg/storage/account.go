package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Account is a generation API key stored under a name. At most one account
// is the default one.
type Account struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	APIKey  string `gorm:"not null;default:''"`
	Default bool   `gorm:"column:is_default;index"`
}

// DefaultAccount returns the default account.
func (s *Store) DefaultAccount(ctx context.Context) (*Account, error) {
	var v Account
	if err := s.db.WithContext(ctx).First(&v, "is_default = ?", true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get default account: %w", err)
	}
	return &v, nil
}

// AddAccount creates an account. The first account becomes the default one.
func (s *Store) AddAccount(ctx context.Context, name, apiKey string) error {
	if name == "" || apiKey == "" {
		return errors.New("storage: account name and api key are required")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Account{}).Where("id = ?", name).Count(&count).Error; err != nil {
			return fmt.Errorf("storage: failed to check account %s: %w", name, err)
		}
		if count > 0 {
			return fmt.Errorf("%w: account %s", ErrExists, name)
		}
		if err := tx.Model(&Account{}).Count(&count).Error; err != nil {
			return fmt.Errorf("storage: failed to count accounts: %w", err)
		}
		v := &Account{
			ID:      name,
			APIKey:  apiKey,
			Default: count == 0,
		}
		if err := tx.Create(v).Error; err != nil {
			return fmt.Errorf("storage: failed to add account %s: %w", name, err)
		}
		return nil
	})
}

// DeleteAccount removes an account. If it was the default one, the oldest
// remaining account is promoted.
func (s *Store) DeleteAccount(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var v Account
		if err := tx.First(&v, "id = ?", name).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("storage: failed to get account %s: %w", name, err)
		}
		if err := tx.Delete(&Account{ID: name}, "id = ?", name).Error; err != nil {
			return fmt.Errorf("storage: failed to delete account %s: %w", name, err)
		}
		if !v.Default {
			return nil
		}
		var next Account
		if err := tx.Order("created_at asc, id asc").First(&next).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("storage: failed to get next account: %w", err)
		}
		if err := tx.Model(&next).Update("is_default", true).Error; err != nil {
			return fmt.Errorf("storage: failed to promote account %s: %w", next.ID, err)
		}
		return nil
	})
}

// SetDefaultAccount makes the account the only default one.
func (s *Store) SetDefaultAccount(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Account{}).Where("id = ?", name).Count(&count).Error; err != nil {
			return fmt.Errorf("storage: failed to check account %s: %w", name, err)
		}
		if count == 0 {
			return ErrNotFound
		}
		if err := tx.Model(&Account{}).Where("id <> ?", name).Update("is_default", false).Error; err != nil {
			return fmt.Errorf("storage: failed to reset default account: %w", err)
		}
		if err := tx.Model(&Account{}).Where("id = ?", name).Update("is_default", true).Error; err != nil {
			return fmt.Errorf("storage: failed to set default account %s: %w", name, err)
		}
		return nil
	})
}

func (s *Store) ListAccounts(ctx context.Context) ([]*Account, error) {
	vs := []*Account{}
	if err := s.db.WithContext(ctx).Order("created_at asc, id asc").Find(&vs).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to list accounts: %w", err)
	}
	return vs, nil
}
