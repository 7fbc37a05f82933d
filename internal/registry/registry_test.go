package registry

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/pumpstream/ingest/internal/store"
	"github.com/pumpstream/ingest/pkg/model"
)

type fakeAthSeeder struct {
	seeded map[model.Mint]float64
}

func newFakeAthSeeder() *fakeAthSeeder { return &fakeAthSeeder{seeded: map[model.Mint]float64{}} }
func (f *fakeAthSeeder) Seed(mint model.Mint, price float64) {
	if cur, ok := f.seeded[mint]; !ok || price > cur {
		f.seeded[mint] = price
	}
}

func newMockRegistry(t *testing.T) (*Registry, sqlmock.Sqlmock, *fakeAthSeeder) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB, PreferSimpleProtocol: true}), &gorm.Config{})
	require.NoError(t, err)

	st := store.OpenWithDB(gormDB)
	seeder := newFakeAthSeeder()
	return New(st, seeder), mock, seeder
}

func TestRefresh_LoadsActiveSetAndSeedsAth(t *testing.T) {
	reg, mock, seeder := newMockRegistry(t)
	now := time.Now().UTC().Truncate(time.Second)

	rows := sqlmock.NewRows([]string{
		"token_address", "current_phase_id", "is_active", "is_graduated",
		"started_at", "ath_price_sol", "ath_timestamp", "trader_public_key", "token_created_at",
	}).AddRow("M1", 1, true, false, now, 0.5, now, "creator1", now)
	mock.ExpectQuery(`SELECT coin_streams.token_address`).WillReturnRows(rows)

	active, err := reg.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, model.PhaseID(1), active["M1"].PhaseID)
	assert.Equal(t, "creator1", active["M1"].CreatorAddress)
	assert.Equal(t, 0.5, seeder.seeded["M1"])
	assert.True(t, reg.Contains("M1"))
}

func TestRefresh_ReplacesPreviousSnapshot(t *testing.T) {
	reg, mock, _ := newMockRegistry(t)
	cols := []string{
		"token_address", "current_phase_id", "is_active", "is_graduated",
		"started_at", "ath_price_sol", "ath_timestamp", "trader_public_key", "token_created_at",
	}

	mock.ExpectQuery(`SELECT coin_streams.token_address`).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("M1", 1, true, false, time.Now(), 0, time.Now(), "", time.Now()))
	_, err := reg.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, reg.Contains("M1"))

	mock.ExpectQuery(`SELECT coin_streams.token_address`).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("M2", 1, true, false, time.Now(), 0, time.Now(), "", time.Now()))
	_, err = reg.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, reg.Contains("M1"))
	assert.True(t, reg.Contains("M2"))
}
