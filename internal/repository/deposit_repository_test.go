package repository

import (
	"context"
	"testing"
	"time"

	"topup-backend/internal/config"
	"topup-backend/internal/db"
	"topup-backend/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    "file:" + uuid.New().String() + "?mode=memory&cache=shared",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

func newDeposit(account string, phase models.DepositPhase, txHash string) *models.Deposit {
	return &models.Deposit{
		ID:          uuid.New().String(),
		Account:     account,
		ChainID:     42161,
		Amount:      decimal.RequireFromString("10.5"),
		TokenSymbol: "USDC",
		ToAddress:   "0x00000000000000000000000000000000000000aa",
		TxHash:      txHash,
		Phase:       phase,
	}
}

func TestCreateAndGet(t *testing.T) {
	repo := NewDepositRepository(newTestDB(t))
	ctx := context.Background()

	d := newDeposit("0xabc", models.DepositPhasePending, "")
	require.NoError(t, repo.Create(ctx, d))

	got, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Account, got.Account)
	assert.True(t, d.Amount.Equal(got.Amount))
	assert.Equal(t, models.DepositPhasePending, got.Phase)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrDepositNotFound)
}

func TestSaveTransitions(t *testing.T) {
	repo := NewDepositRepository(newTestDB(t))
	ctx := context.Background()

	d := newDeposit("0xabc", models.DepositPhasePending, "")
	require.NoError(t, repo.Create(ctx, d))

	d.TxHash = "0xfeed"
	d.Advance(models.DepositPhaseSubmitted, time.Now())
	require.NoError(t, repo.Save(ctx, d))

	got, err := repo.FindByTxHash(ctx, 42161, "0xfeed")
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, models.DepositPhaseSubmitted, got.Phase)
	require.NotNil(t, got.SubmittedAt)
}

func TestFindResumable(t *testing.T) {
	repo := NewDepositRepository(newTestDB(t))
	ctx := context.Background()

	confirmed := newDeposit("0xabc", models.DepositPhaseConfirmed, "0x01")
	failedAfterConfirm := newDeposit("0xabc", models.DepositPhaseConfirmed, "0x02")
	failedAfterConfirm.Fail("ledger_record", nil)
	recorded := newDeposit("0xabc", models.DepositPhaseRecorded, "0x03")
	pending := newDeposit("0xabc", models.DepositPhasePending, "")
	reverted := newDeposit("0xabc", models.DepositPhaseSubmitted, "0x04")
	reverted.Reverted = true
	reverted.Fail("chain_confirmation", nil)
	otherAccount := newDeposit("0xdef", models.DepositPhaseSubmitted, "0x05")

	for _, d := range []*models.Deposit{confirmed, failedAfterConfirm, recorded, pending, reverted, otherAccount} {
		require.NoError(t, repo.Create(ctx, d))
	}

	found, err := repo.FindResumable(ctx, "0xabc", time.Time{})
	require.NoError(t, err)
	ids := make([]string, 0, len(found))
	for _, d := range found {
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []string{confirmed.ID, failedAfterConfirm.ID}, ids)

	all, err := repo.FindResumable(ctx, "", time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := repo.FindResumable(ctx, "0xabc", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFindByAccountPaginates(t *testing.T) {
	repo := NewDepositRepository(newTestDB(t))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, newDeposit("0xabc", models.DepositPhaseRecorded, "")))
	}
	page, total, err := repo.FindByAccount(ctx, "0xabc", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page, 2)
}
