package repository

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"

	"rr-clan-bot/internal/model"
)

// TemplateRepository handles CRUD for broadcast templates.
type TemplateRepository struct {
	db *gorm.DB
}

func NewTemplateRepository(db *gorm.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// List returns all templates ordered by id.
func (r *TemplateRepository) List(ctx context.Context) ([]model.Template, error) {
	var templates []model.Template
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}

// Get returns a single template by id, gorm.ErrRecordNotFound when absent.
func (r *TemplateRepository) Get(ctx context.Context, id int) (*model.Template, error) {
	var tmpl model.Template
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tmpl).Error; err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// Create appends a template after the current maximum id (0 for an empty
// table) and returns the assigned id. The id computation and the write run
// in one transaction so concurrent creations cannot collide.
func (r *TemplateRepository) Create(ctx context.Context, body string) (int, error) {
	id := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxID sql.NullInt64
		row := tx.Model(&model.Template{}).Select("MAX(id)").Row()
		if err := row.Scan(&maxID); err != nil {
			return fmt.Errorf("max template id: %w", err)
		}
		if maxID.Valid {
			id = int(maxID.Int64) + 1
		}
		return upsertTx(tx, id, body)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Upsert inserts the template when the id is free, otherwise overwrites the body.
func (r *TemplateRepository) Upsert(ctx context.Context, id int, body string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsertTx(tx, id, body)
	})
}

func upsertTx(tx *gorm.DB, id int, body string) error {
	var tmpl model.Template
	err := tx.Where("id = ?", id).First(&tmpl).Error
	switch {
	case err == nil:
		if err := tx.Model(&tmpl).Update("body", body).Error; err != nil {
			return fmt.Errorf("update template: %w", err)
		}
		return nil
	case err == gorm.ErrRecordNotFound:
		if err := tx.Create(&model.Template{ID: id, Body: body}).Error; err != nil {
			return fmt.Errorf("insert template: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("find template: %w", err)
	}
}

// Delete removes a template by id. A missing row is reported as
// gorm.ErrRecordNotFound so the caller can translate it into the same
// "invalid selection" reply used for malformed input.
func (r *TemplateRepository) Delete(ctx context.Context, id int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&model.Template{})
		if res.Error != nil {
			return fmt.Errorf("delete template: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
