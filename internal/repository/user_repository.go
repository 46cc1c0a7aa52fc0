package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"rr-clan-bot/internal/model"
)

// UserRepository handles CRUD for clan members.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetOrCreate returns the user with the given Telegram id, inserting a fresh
// row with the unset alias sentinel on first contact. The stored username is
// refreshed when Telegram reports a new one.
func (r *UserRepository) GetOrCreate(ctx context.Context, telegramID int64, username string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ?", telegramID).First(&user).Error
		switch {
		case err == nil:
			if user.Username == username {
				return nil
			}
			if err := tx.Model(&user).Update("username", username).Error; err != nil {
				return fmt.Errorf("update username: %w", err)
			}
			user.Username = username
			return nil
		case err == gorm.ErrRecordNotFound:
			user = model.User{ID: telegramID, Username: username, RRName: model.RRNameUnset}
			if err := tx.Create(&user).Error; err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("find user: %w", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SetRRName stores the in-game alias for an existing user. It reports whether
// a row was actually updated: false means the user vanished between the
// challenge and the confirmation, which the caller logs as an inconsistency.
func (r *UserRepository) SetRRName(ctx context.Context, telegramID int64, username, rrName string) (bool, error) {
	updated := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.User{}).Where("id = ?", telegramID).Updates(map[string]interface{}{
			"username": username,
			"rr_name":  rrName,
		})
		if res.Error != nil {
			return fmt.Errorf("set rr_name: %w", res.Error)
		}
		updated = res.RowsAffected > 0
		return nil
	})
	return updated, err
}

// ListAll returns every registered user ordered by id, the fan-out order.
func (r *UserRepository) ListAll(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// ListUsernames returns the usernames of all users in id order.
func (r *UserRepository) ListUsernames(ctx context.Context) ([]string, error) {
	var names []string
	if err := r.db.WithContext(ctx).Model(&model.User{}).Order("id ASC").Pluck("username", &names).Error; err != nil {
		return nil, err
	}
	return names, nil
}
