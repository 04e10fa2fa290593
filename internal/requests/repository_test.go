package requests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/labloan-backend/pkg/db/dbtest"
	"github.com/angelmondragon/labloan-backend/pkg/db/models"
	"github.com/angelmondragon/labloan-backend/pkg/enums"
)

func seedRequest(t *testing.T, conn *gorm.DB, user *models.User, component *models.Component, status enums.RequestStatus, at time.Time) *models.BorrowRequest {
	t.Helper()
	request := &models.BorrowRequest{
		UserID:      user.ID,
		ComponentID: component.ID,
		Quantity:    1,
		Status:      status,
		RequestDate: at,
	}
	require.NoError(t, conn.Create(request).Error)
	return request
}

func TestRepositoryListNewestFirstWithCursor(t *testing.T) {
	client := dbtest.NewClient(t)
	conn := client.DB()
	repo := NewRepository(conn)
	ctx := context.Background()
	student := dbtest.SeedUser(t, conn, "S200", false)
	component := dbtest.SeedComponent(t, conn, "Arduino Uno", 10, 10)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		req := seedRequest(t, conn, student, component, enums.RequestStatusPending, base.Add(time.Duration(i)*time.Minute))
		ids = append(ids, req.ID.String())
	}

	page, next, err := repo.List(ctx, listQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.NotNil(t, next)
	assert.Equal(t, ids[4], page[0].ID.String())
	assert.Equal(t, ids[3], page[1].ID.String())
	assert.Equal(t, "Arduino Uno", page[0].ComponentName)
	assert.Equal(t, "S200", page[0].UserCollegeID)

	page, next, err = repo.List(ctx, listQuery{Limit: 2, Cursor: next})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID.String())
	assert.Equal(t, ids[1], page[1].ID.String())

	page, next, err = repo.List(ctx, listQuery{Limit: 2, Cursor: next})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Nil(t, next)
	assert.Equal(t, ids[0], page[0].ID.String())
}

func TestRepositoryListFiltersByUserAndStatus(t *testing.T) {
	client := dbtest.NewClient(t)
	conn := client.DB()
	repo := NewRepository(conn)
	ctx := context.Background()
	alice := dbtest.SeedUser(t, conn, "S201", false)
	bob := dbtest.SeedUser(t, conn, "S202", false)
	component := dbtest.SeedComponent(t, conn, "Breadboard", 10, 10)
	now := time.Now().UTC()

	seedRequest(t, conn, alice, component, enums.RequestStatusPending, now)
	seedRequest(t, conn, alice, component, enums.RequestStatusRejected, now.Add(time.Second))
	seedRequest(t, conn, bob, component, enums.RequestStatusPending, now.Add(2*time.Second))

	mine, _, err := repo.List(ctx, listQuery{UserID: &alice.ID})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	pending := enums.RequestStatusPending
	pendingAll, _, err := repo.List(ctx, listQuery{Status: &pending})
	require.NoError(t, err)
	assert.Len(t, pendingAll, 2)
}

func TestRepositoryCompareAndSetStatusClearsReturnFlag(t *testing.T) {
	client := dbtest.NewClient(t)
	conn := client.DB()
	repo := NewRepository(conn)
	ctx := context.Background()
	student := dbtest.SeedUser(t, conn, "S203", false)
	component := dbtest.SeedComponent(t, conn, "Multimeter", 4, 3)
	req := seedRequest(t, conn, student, component, enums.RequestStatusApproved, time.Now().UTC())

	ok, err := repo.MarkReturnRequested(ctx, req.ID)
	require.NoError(t, err)
	require.True(t, ok)

	flagged, err := repo.FindByID(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, flagged.ReturnRequested)

	ok, err = repo.CompareAndSetStatus(ctx, req.ID, enums.RequestStatusPending, enums.RequestStatusRejected)
	require.NoError(t, err)
	assert.False(t, ok, "stale expected status must miss")

	ok, err = repo.CompareAndSetStatus(ctx, req.ID, enums.RequestStatusApproved, enums.RequestStatusReturned)
	require.NoError(t, err)
	assert.True(t, ok)

	returned, err := repo.FindByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RequestStatusReturned, returned.Status)
	assert.False(t, returned.ReturnRequested)

	ok, err = repo.MarkReturnRequested(ctx, req.ID)
	require.NoError(t, err)
	assert.False(t, ok, "only approved requests can be flagged")
}

func TestRepositoryFindViewMissing(t *testing.T) {
	client := dbtest.NewClient(t)
	repo := NewRepository(client.DB())

	_, err := repo.FindView(context.Background(), dbtest.SeedComponent(t, client.DB(), "x", 1, 1).ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
