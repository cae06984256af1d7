package anchor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

type failingClient struct{}

func (failingClient) Set(context.Context, string, string) (string, error) {
	return "", errors.New("boom")
}

func (failingClient) Get(context.Context, string) (string, string, bool, error) {
	return "", "", false, nil
}

func TestAnchorDisclosureWritesThreeRecords(t *testing.T) {
	db := setupDB(t)
	svc := New(db, ModeFake, NewFakeClient(), true)

	periodStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	results, err := svc.AnchorDisclosure(context.Background(), "disc-1", periodStart, "policy_public_v1", "root-summary-hash", "root-details-hash")
	require.NoError(t, err)
	require.Len(t, results, 3)

	var count int64
	db.Model(&Record{}).Count(&count)
	require.Equal(t, int64(3), count)
}

func TestAnchorDisclosureOmitsDetailsRootWhenEmpty(t *testing.T) {
	db := setupDB(t)
	svc := New(db, ModeFake, NewFakeClient(), true)

	results, err := svc.AnchorDisclosure(context.Background(), "disc-2", time.Now().UTC(), "policy_public_v1", "root-summary-hash", "")
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestStrictModeAbortsOnClientFailure(t *testing.T) {
	db := setupDB(t)
	svc := New(db, ModeFake, failingClient{}, true)

	_, err := svc.safeSet(context.Background(), "k", "v")
	require.Error(t, err)

	var count int64
	db.Model(&Record{}).Count(&count)
	require.Equal(t, int64(0), count)
}

func TestDegradedModeFallsBackToFake(t *testing.T) {
	db := setupDB(t)
	svc := New(db, ModeFake, failingClient{}, false)

	result, err := svc.safeSet(context.Background(), "k", "v")
	require.NoError(t, err)
	require.Equal(t, "fake", result.Backend)

	var rec Record
	require.NoError(t, db.Where("key = ?", "k").First(&rec).Error)
	require.True(t, rec.Degraded)
}

func TestGetDisclosureAnchorReturnsNilWhenMissing(t *testing.T) {
	db := setupDB(t)
	svc := New(db, ModeFake, NewFakeClient(), true)

	rec, err := svc.GetDisclosureAnchor("does-not-exist")
	require.NoError(t, err)
	require.Nil(t, rec)
}
