package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"kbflow/internal/model"
)

type EventFilter struct {
	VaultID string
	AgentID string
	Kind    model.EventKind
	Limit   int
}

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Create(ctx context.Context, event *model.Event) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("create event failed: %w", err)
	}
	return nil
}

// List returns the newest events first.
func (r *EventRepository) List(ctx context.Context, filter EventFilter) ([]model.Event, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	query := r.db.WithContext(ctx).Model(&model.Event{})
	if filter.VaultID != "" {
		query = query.Where("vault_id = ?", filter.VaultID)
	}
	if filter.AgentID != "" {
		query = query.Where("agent_id = ?", filter.AgentID)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}

	var events []model.Event
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list events failed: %w", err)
	}
	return events, nil
}
