package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/labloan-backend/pkg/db/models"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
	"github.com/angelmondragon/labloan-backend/pkg/metrics"
	"github.com/google/uuid"
)

type inventoryAuditRepo interface {
	List(ctx context.Context) ([]models.Component, error)
	ApprovedTotals(ctx context.Context) (map[uuid.UUID]int, error)
}

type InventoryAuditJobParams struct {
	Logger     *logger.Logger
	Repository inventoryAuditRepo
	Metrics    *metrics.InventoryMetrics
}

// ComponentDrift describes a component whose available count disagrees with its approved loans.
type ComponentDrift struct {
	ComponentID       uuid.UUID
	Name              string
	TotalQuantity     int
	AvailableQuantity int
	OnLoan            int
	Expected          int
}

func NewInventoryAuditJob(params InventoryAuditJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	return &inventoryAuditJob{
		logg:    params.Logger,
		repo:    params.Repository,
		metrics: params.Metrics,
	}, nil
}

type inventoryAuditJob struct {
	logg    *logger.Logger
	repo    inventoryAuditRepo
	metrics *metrics.InventoryMetrics
}

func (j *inventoryAuditJob) Name() string { return "inventory-audit" }

func (j *inventoryAuditJob) Run(ctx context.Context) error {
	drift, err := j.audit(ctx)
	if err != nil {
		return fmt.Errorf("inventory audit: %w", err)
	}
	j.metrics.SetDrift(len(drift))
	for _, d := range drift {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"component_id":       d.ComponentID.String(),
			"component_name":     d.Name,
			"total_quantity":     d.TotalQuantity,
			"available_quantity": d.AvailableQuantity,
			"on_loan":            d.OnLoan,
			"expected_available": d.Expected,
		})
		j.logg.Warn(logCtx, "inventory.drift.detected")
	}
	j.logg.Info(j.logg.WithField(ctx, "drifting_components", len(drift)), "inventory audit complete")
	return nil
}

func (j *inventoryAuditJob) audit(ctx context.Context) ([]ComponentDrift, error) {
	components, err := j.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	onLoan, err := j.repo.ApprovedTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("sum approved loans: %w", err)
	}
	var drift []ComponentDrift
	for _, c := range components {
		loaned := onLoan[c.ID]
		expected := c.TotalQuantity - loaned
		if c.AvailableQuantity == expected && c.AvailableQuantity >= 0 && c.AvailableQuantity <= c.TotalQuantity {
			continue
		}
		drift = append(drift, ComponentDrift{
			ComponentID:       c.ID,
			Name:              c.Name,
			TotalQuantity:     c.TotalQuantity,
			AvailableQuantity: c.AvailableQuantity,
			OnLoan:            loaned,
			Expected:          expected,
		})
	}
	return drift, nil
}
