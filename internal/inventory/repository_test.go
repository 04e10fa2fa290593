package inventory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/labloan-backend/pkg/db/dbtest"
	"github.com/angelmondragon/labloan-backend/pkg/db/models"
	"github.com/angelmondragon/labloan-backend/pkg/enums"
)

func TestRepositoryApplyAvailableDeltaGuardsBounds(t *testing.T) {
	client := dbtest.NewClient(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()
	component := dbtest.SeedComponent(t, client.DB(), "Arduino Uno", 5, 2)

	ok, err := repo.ApplyAvailableDelta(ctx, component.ID, -3)
	require.NoError(t, err)
	assert.False(t, ok, "cannot go below zero")

	ok, err = repo.ApplyAvailableDelta(ctx, component.ID, 4)
	require.NoError(t, err)
	assert.False(t, ok, "cannot exceed total")

	ok, err = repo.ApplyAvailableDelta(ctx, component.ID, -2)
	require.NoError(t, err)
	assert.True(t, ok)

	reloaded, err := repo.FindByID(ctx, component.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.AvailableQuantity)
	assert.Equal(t, 5, reloaded.TotalQuantity)

	ok, err = repo.ApplyAvailableDelta(ctx, component.ID, 5)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRepositoryApplyAvailableDeltaUnknownComponent(t *testing.T) {
	client := dbtest.NewClient(t)
	repo := NewRepository(client.DB())

	ok, err := repo.ApplyAvailableDelta(context.Background(), uuid.New(), 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepositorySetTotalShiftsAvailable(t *testing.T) {
	client := dbtest.NewClient(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()
	component := dbtest.SeedComponent(t, client.DB(), "Multimeter", 10, 2)

	ok, err := repo.SetTotal(ctx, component.ID, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	unchanged, err := repo.FindByID(ctx, component.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, unchanged.TotalQuantity)
	assert.Equal(t, 2, unchanged.AvailableQuantity)

	ok, err = repo.SetTotal(ctx, component.ID, 12)
	require.NoError(t, err)
	assert.True(t, ok)

	grown, err := repo.FindByID(ctx, component.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, grown.TotalQuantity)
	assert.Equal(t, 4, grown.AvailableQuantity)

	ok, err = repo.SetTotal(ctx, component.ID, 8)
	require.NoError(t, err)
	assert.True(t, ok, "shrinking down to the on-loan count is allowed")

	shrunk, err := repo.FindByID(ctx, component.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, shrunk.TotalQuantity)
	assert.Equal(t, 0, shrunk.AvailableQuantity)
}

func TestRepositoryUpdateDetails(t *testing.T) {
	client := dbtest.NewClient(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()
	component := dbtest.SeedComponent(t, client.DB(), "Breadboard", 3, 3)

	name := "Half Breadboard"
	require.NoError(t, repo.UpdateDetails(ctx, component.ID, &name, nil))

	reloaded, err := repo.FindByID(ctx, component.ID)
	require.NoError(t, err)
	assert.Equal(t, "Half Breadboard", reloaded.Name)

	err = repo.UpdateDetails(ctx, uuid.New(), &name, nil)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryListOrdersByName(t *testing.T) {
	client := dbtest.NewClient(t)
	repo := NewRepository(client.DB())
	dbtest.SeedComponent(t, client.DB(), "Soldering Iron", 4, 4)
	dbtest.SeedComponent(t, client.DB(), "Arduino Uno", 10, 10)

	rows, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Arduino Uno", rows[0].Name)
	assert.Equal(t, "Soldering Iron", rows[1].Name)
}

func TestRepositoryApprovedTotals(t *testing.T) {
	client := dbtest.NewClient(t)
	conn := client.DB()
	repo := NewRepository(conn)
	user := dbtest.SeedUser(t, conn, "S100", false)
	component := dbtest.SeedComponent(t, conn, "Raspberry Pi 4", 5, 2)

	for _, row := range []models.BorrowRequest{
		{UserID: user.ID, ComponentID: component.ID, Quantity: 2, Status: enums.RequestStatusApproved},
		{UserID: user.ID, ComponentID: component.ID, Quantity: 1, Status: enums.RequestStatusApproved},
		{UserID: user.ID, ComponentID: component.ID, Quantity: 4, Status: enums.RequestStatusPending},
	} {
		row := row
		require.NoError(t, conn.Create(&row).Error)
	}

	totals, err := repo.ApprovedTotals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]int{component.ID: 3}, totals)
}

func TestRepositoryFindByIDForUpdateInsideTransaction(t *testing.T) {
	client := dbtest.NewClient(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()
	component := dbtest.SeedComponent(t, client.DB(), "Soldering Station", 4, 4)

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := repo.WithTx(tx).FindByIDForUpdate(ctx, component.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, 4, locked.AvailableQuantity)
		ok, err := repo.WithTx(tx).ApplyAvailableDelta(ctx, locked.ID, -1)
		assert.True(t, ok)
		return err
	})
	require.NoError(t, err)

	_, err = repo.FindByIDForUpdate(ctx, uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	reloaded, err := repo.FindByID(ctx, component.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.AvailableQuantity)
}
