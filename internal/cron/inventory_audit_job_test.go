package cron

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/labloan-backend/pkg/db/models"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
	"github.com/angelmondragon/labloan-backend/pkg/metrics"
)

type stubInventoryRepo struct {
	components []models.Component
	onLoan     map[uuid.UUID]int
	err        error
}

func (s *stubInventoryRepo) List(context.Context) ([]models.Component, error) {
	return s.components, s.err
}

func (s *stubInventoryRepo) ApprovedTotals(context.Context) (map[uuid.UUID]int, error) {
	return s.onLoan, nil
}

func TestInventoryAuditJobReportsDrift(t *testing.T) {
	healthy := models.Component{ID: uuid.New(), Name: "Breadboard", TotalQuantity: 20, AvailableQuantity: 17}
	drifting := models.Component{ID: uuid.New(), Name: "Multimeter", TotalQuantity: 8, AvailableQuantity: 8}
	idle := models.Component{ID: uuid.New(), Name: "Arduino Uno", TotalQuantity: 10, AvailableQuantity: 10}
	repo := &stubInventoryRepo{
		components: []models.Component{healthy, drifting, idle},
		onLoan:     map[uuid.UUID]int{healthy.ID: 3, drifting.ID: 2},
	}

	reg := prometheus.NewRegistry()
	gauge := metrics.NewInventoryMetrics(reg)
	jobIface, err := NewInventoryAuditJob(InventoryAuditJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Repository: repo,
		Metrics:    gauge,
	})
	if err != nil {
		t.Fatalf("NewInventoryAuditJob: %v", err)
	}
	job := jobIface.(*inventoryAuditJob)

	drift, err := job.audit(context.Background())
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(drift) != 1 || drift[0].ComponentID != drifting.ID {
		t.Fatalf("expected only %s to drift, got %+v", drifting.Name, drift)
	}
	if drift[0].Expected != 6 || drift[0].OnLoan != 2 {
		t.Fatalf("unexpected drift row %+v", drift[0])
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var got float64 = -1
	for _, mf := range mfs {
		if mf.GetName() == "labloan_inventory_drift_components" {
			got = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	if got != 1 {
		t.Fatalf("expected drift gauge 1, got %f", got)
	}
}

func TestInventoryAuditJobPropagatesErrors(t *testing.T) {
	jobIface, err := NewInventoryAuditJob(InventoryAuditJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Repository: &stubInventoryRepo{err: errors.New("boom")},
	})
	if err != nil {
		t.Fatalf("NewInventoryAuditJob: %v", err)
	}
	if err := jobIface.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
