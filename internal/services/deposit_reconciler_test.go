package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"topup-backend/internal/config"
	"topup-backend/internal/models"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChainID   int64 = 42161
	testExecAddr        = "0x00000000000000000000000000000000000000aa"
	testUSDC            = "0xaf88d065e77c8cc2239327c5edb3a432268e5831"
	testOtherAddr       = "0x00000000000000000000000000000000000000bb"
)

type reconcilerFixture struct {
	chain      *fakeChain
	ledger     *fakeLedger
	identity   *IdentityContext
	repo       *memDepositRepo
	balances   *BalanceCache
	sink       *recordingSink
	reconciler *DepositReconciler
	account    string
}

func testNetworks() map[int64]config.NetworkConfig {
	return map[int64]config.NetworkConfig{
		testChainID: {
			ChainID:          testChainID,
			Name:             "arbitrum",
			ExecutionAddress: testExecAddr,
			NativeSymbol:     "ETH",
			NativeDecimals:   18,
			Tokens: map[string]config.TokenConfig{
				"USDC": {Address: testUSDC, Decimals: 6},
			},
			Enabled: true,
		},
	}
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	identity := NewIdentityContext(time.Hour)
	cred, err := identity.SignWithKey(key)
	require.NoError(t, err)

	chain := newFakeChain()
	chain.sender = cred.Address
	ledger := newFakeLedger(chain)
	repo := newMemDepositRepo()
	balances := NewBalanceCache(ledger, time.Minute)
	sink := &recordingSink{}

	reconciler := NewDepositReconciler(chain, ledger, identity, repo, balances, ReconcilerConfig{
		Networks:  testNetworks(),
		MinAmount: decimal.RequireFromString("0.1"),
	}, quietLogger(), sink)

	return &reconcilerFixture{
		chain:      chain,
		ledger:     ledger,
		identity:   identity,
		repo:       repo,
		balances:   balances,
		sink:       sink,
		reconciler: reconciler,
		account:    cred.Address,
	}
}

func usdcTopUp(amount string) TopUpRequest {
	return TopUpRequest{ChainID: testChainID, Amount: decimal.RequireFromString(amount), TokenSymbol: "USDC"}
}

func TestTopUpEndToEnd(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	deposit, err := f.reconciler.TopUp(ctx, usdcTopUp("10"))
	require.NoError(t, err)
	assert.Equal(t, models.DepositPhaseRecorded, deposit.Phase)
	assert.NotEmpty(t, deposit.TxHash)
	assert.Equal(t, testUSDC, deposit.TokenContract)
	assert.Equal(t, testExecAddr, deposit.ToAddress)
	assert.Equal(t, 1, deposit.RecordAttempts)

	require.Len(t, f.chain.submitted, 1)
	assert.Equal(t, "10000000", f.chain.submitted[0].Amount.String())
	assert.Equal(t, testUSDC, f.chain.submitted[0].TokenContract)

	require.Equal(t, 1, f.ledger.recordCount())
	assert.Equal(t, deposit.TxHash, f.ledger.records[0].TxHash)
	assert.Equal(t, f.account, f.ledger.records[0].Cred.Address)

	bal, ok := f.balances.Get(testChainID, f.account)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("10").Equal(bal.Amount))

	ledgerBal, err := f.ledger.GetBalance(ctx, testChainID, f.account)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("10").Equal(ledgerBal))

	stored := f.repo.get(deposit.ID)
	assert.Equal(t, models.DepositPhaseRecorded, stored.Phase)
	require.NotNil(t, stored.RecordedAt)

	assert.Equal(t, []models.DepositPhase{
		models.DepositPhasePending,
		models.DepositPhaseSubmitted,
		models.DepositPhaseConfirmed,
		models.DepositPhaseRecorded,
	}, f.sink.phases())
}

func TestTopUpNativeTransfer(t *testing.T) {
	f := newReconcilerFixture(t)

	deposit, err := f.reconciler.TopUp(context.Background(), TopUpRequest{
		ChainID: testChainID,
		Amount:  decimal.RequireFromString("0.5"),
	})
	require.NoError(t, err)
	assert.True(t, deposit.IsNative())
	assert.Equal(t, "ETH", deposit.TokenSymbol)
	require.Len(t, f.chain.submitted, 1)
	assert.Empty(t, f.chain.submitted[0].TokenContract)
	assert.Equal(t, "500000000000000000", f.chain.submitted[0].Amount.String())
}

func TestTopUpSubmissionFailureNeverCallsLedger(t *testing.T) {
	f := newReconcilerFixture(t)
	f.chain.submitErr = errors.New("insufficient funds for gas")

	deposit, err := f.reconciler.TopUp(context.Background(), usdcTopUp("10"))
	require.Error(t, err)

	var topUpErr *TopUpError
	require.True(t, errors.As(err, &topUpErr))
	assert.Equal(t, ErrKindChainSubmission, topUpErr.Kind)
	assert.Empty(t, topUpErr.TxHash)
	assert.Equal(t, 0, f.ledger.recordCount())
	assert.Empty(t, f.chain.waits)

	require.NotNil(t, deposit)
	assert.Equal(t, models.DepositPhaseFailed, deposit.Phase)
	assert.Equal(t, models.DepositPhasePending, deposit.LastPhase)
	assert.False(t, deposit.Resumable())
}

func TestTopUpLedgerRejectionKeepsTxHash(t *testing.T) {
	f := newReconcilerFixture(t)
	f.ledger.recordErr = errors.New("ledger unavailable")

	deposit, err := f.reconciler.TopUp(context.Background(), usdcTopUp("10"))
	require.Error(t, err)

	var topUpErr *TopUpError
	require.True(t, errors.As(err, &topUpErr))
	assert.Equal(t, ErrKindLedgerRecord, topUpErr.Kind)
	assert.NotEmpty(t, topUpErr.TxHash)
	assert.Equal(t, deposit.TxHash, topUpErr.TxHash)
	assert.True(t, topUpErr.Retryable())
	assert.Contains(t, topUpErr.UserMessage(), topUpErr.TxHash)

	assert.Equal(t, 0, f.ledger.balanceReadCount())
	_, cached := f.balances.Get(testChainID, f.account)
	assert.False(t, cached)

	assert.Equal(t, models.DepositPhaseFailed, deposit.Phase)
	assert.Equal(t, models.DepositPhaseConfirmed, deposit.LastPhase)
	assert.True(t, deposit.Resumable())
}

func TestRecordDepositRetriesOnlyLedgerStep(t *testing.T) {
	f := newReconcilerFixture(t)
	f.ledger.recordErr = errors.New("ledger unavailable")
	ctx := context.Background()

	failed, err := f.reconciler.TopUp(ctx, usdcTopUp("10"))
	require.Error(t, err)

	f.ledger.recordErr = nil
	recorded, err := f.reconciler.RecordDeposit(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DepositPhaseRecorded, recorded.Phase)
	assert.Equal(t, 2, recorded.RecordAttempts)
	assert.Len(t, f.chain.submitted, 1)
	assert.Len(t, f.chain.waits, 1)
	assert.Equal(t, 2, f.ledger.recordCount())

	again, err := f.reconciler.RecordDeposit(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DepositPhaseRecorded, again.Phase)
	assert.Equal(t, 2, f.ledger.recordCount())
}

func TestTopUpRevertedTransaction(t *testing.T) {
	f := newReconcilerFixture(t)
	f.chain.status = ConfirmationReverted

	deposit, err := f.reconciler.TopUp(context.Background(), usdcTopUp("10"))
	require.Error(t, err)
	assert.True(t, IsTopUpErrorKind(err, ErrKindChainConfirmation))
	assert.True(t, deposit.Reverted)
	assert.Equal(t, models.DepositPhaseSubmitted, deposit.LastPhase)
	assert.False(t, deposit.Resumable())
	assert.Equal(t, 0, f.ledger.recordCount())
}

func TestTopUpCancelledWaitStaysResumable(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.chain.waitErr = context.Canceled

	deposit, err := f.reconciler.TopUp(ctx, usdcTopUp("10"))
	require.Error(t, err)
	assert.True(t, IsTopUpErrorKind(err, ErrKindChainConfirmation))
	assert.Equal(t, models.DepositPhaseSubmitted, deposit.Phase)
	assert.Equal(t, models.DepositPhaseSubmitted, f.repo.get(deposit.ID).Phase)

	resumable, err := f.reconciler.ResumableDeposits(context.Background(), f.account)
	require.NoError(t, err)
	require.Len(t, resumable, 1)
	assert.Equal(t, deposit.ID, resumable[0].ID)
}

func TestTopUpValidation(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	cases := map[string]TopUpRequest{
		"unsupported chain": {ChainID: 1, Amount: decimal.RequireFromString("10")},
		"zero amount":       {ChainID: testChainID, Amount: decimal.Zero},
		"below minimum":     {ChainID: testChainID, Amount: decimal.RequireFromString("0.01")},
		"unknown token":     {ChainID: testChainID, Amount: decimal.RequireFromString("10"), TokenSymbol: "DAI"},
		"too precise":       {ChainID: testChainID, Amount: decimal.RequireFromString("10.0000001"), TokenSymbol: "USDC"},
		"bad grantee":       {ChainID: testChainID, Amount: decimal.RequireFromString("10"), Grantee: "nope"},
	}
	for name, req := range cases {
		_, err := f.reconciler.TopUp(ctx, req)
		assert.True(t, IsTopUpErrorKind(err, ErrKindInvalidRequest), name)
	}
	assert.Empty(t, f.chain.submitted)
}

func TestTopUpRequiresCredential(t *testing.T) {
	f := newReconcilerFixture(t)
	f.identity.Clear()

	_, err := f.reconciler.TopUp(context.Background(), usdcTopUp("10"))
	assert.True(t, IsTopUpErrorKind(err, ErrKindInvalidRequest))
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.Empty(t, f.chain.submitted)
}

func TestTopUpGranteeCreditsThirdParty(t *testing.T) {
	f := newReconcilerFixture(t)
	req := usdcTopUp("5")
	req.Grantee = testOtherAddr

	deposit, err := f.reconciler.TopUp(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, testOtherAddr, deposit.Grantee)
	assert.Equal(t, testOtherAddr, f.ledger.records[0].Grantee)

	bal, ok := f.balances.Get(testChainID, testOtherAddr)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("5").Equal(bal.Amount))
}

func TestTopUpReadsTokenDecimalsWhenUnset(t *testing.T) {
	f := newReconcilerFixture(t)
	networks := testNetworks()
	network := networks[testChainID]
	network.Tokens = map[string]config.TokenConfig{"usdc": {Address: testUSDC}}
	networks[testChainID] = network
	f.reconciler.cfg.Networks = networks

	_, err := f.reconciler.TopUp(context.Background(), usdcTopUp("1"))
	require.NoError(t, err)
	_, err = f.reconciler.TopUp(context.Background(), usdcTopUp("2"))
	require.NoError(t, err)

	assert.Equal(t, []string{"decimals"}, f.chain.calls)
	assert.Equal(t, "2000000", f.chain.submitted[1].Amount.String())
}

func TestTopUpExecutionAddressFromLedger(t *testing.T) {
	f := newReconcilerFixture(t)
	networks := testNetworks()
	network := networks[testChainID]
	network.ExecutionAddress = ""
	networks[testChainID] = network
	f.reconciler.cfg.Networks = networks
	f.ledger.execAddress = "0x00000000000000000000000000000000000000CC"

	deposit, err := f.reconciler.TopUp(context.Background(), usdcTopUp("1"))
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000cc", deposit.ToAddress)
}

func TestPersistenceFailureDoesNotChangeOutcome(t *testing.T) {
	f := newReconcilerFixture(t)
	f.repo.saveErr = errors.New("disk full")
	f.sink.err = errors.New("nats down")

	deposit, err := f.reconciler.TopUp(context.Background(), usdcTopUp("10"))
	require.NoError(t, err)
	assert.Equal(t, models.DepositPhaseRecorded, deposit.Phase)
}

func TestRecordExternal(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	hash := "0xAB" + strings.Repeat("0", 62)

	deposit, err := f.reconciler.RecordExternal(ctx, testChainID, hash)
	require.NoError(t, err)
	assert.Equal(t, models.DepositPhaseRecorded, deposit.Phase)
	assert.Equal(t, "0xab"+strings.Repeat("0", 62), deposit.TxHash)
	assert.True(t, deposit.Amount.IsZero())
	assert.Equal(t, 1, f.ledger.recordCount())

	_, err = f.reconciler.RecordExternal(ctx, testChainID, "0x1234")
	assert.True(t, IsTopUpErrorKind(err, ErrKindInvalidRequest))
}

func TestResumableDepositsWindow(t *testing.T) {
	f := newReconcilerFixture(t)
	f.ledger.recordErr = errors.New("ledger unavailable")
	ctx := context.Background()

	_, err := f.reconciler.TopUp(ctx, usdcTopUp("10"))
	require.Error(t, err)

	found, err := f.reconciler.ResumableDeposits(ctx, f.account)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	f.reconciler.cfg.ResumptionWindow = time.Minute
	f.reconciler.now = func() time.Time { return time.Now().Add(time.Hour) }
	found, err = f.reconciler.ResumableDeposits(ctx, f.account)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestRecordDepositRejectsOtherAccount(t *testing.T) {
	f := newReconcilerFixture(t)
	f.ledger.recordErr = errors.New("ledger unavailable")
	ctx := context.Background()

	failed, err := f.reconciler.TopUp(ctx, usdcTopUp("10"))
	require.Error(t, err)

	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, err = f.identity.SignWithKey(otherKey)
	require.NoError(t, err)

	f.ledger.recordErr = nil
	_, err = f.reconciler.RecordDeposit(ctx, failed.ID)
	assert.True(t, IsTopUpErrorKind(err, ErrKindInvalidRequest))
	assert.Equal(t, 1, f.ledger.recordCount())
}

func TestTopUpRejectsCredentialOfAnotherWallet(t *testing.T) {
	f := newReconcilerFixture(t)
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, err = f.identity.SignWithKey(otherKey)
	require.NoError(t, err)

	deposit, err := f.reconciler.TopUp(context.Background(), usdcTopUp("10"))
	assert.Nil(t, deposit)
	assert.True(t, IsTopUpErrorKind(err, ErrKindInvalidRequest))
	assert.Contains(t, err.Error(), "grantee")
	assert.Empty(t, f.chain.submitted)
	assert.Empty(t, f.repo.deposits)
	assert.Equal(t, 0, f.ledger.recordCount())
	assert.Empty(t, f.sink.phases())
}

func TestTopUpWithoutFundingWallet(t *testing.T) {
	f := newReconcilerFixture(t)
	f.chain.sender = ""

	_, err := f.reconciler.TopUp(context.Background(), usdcTopUp("10"))
	assert.True(t, IsTopUpErrorKind(err, ErrKindInvalidRequest))
	assert.Empty(t, f.chain.submitted)
}

func TestInFlightDepositIsNotDrivenTwice(t *testing.T) {
	f := newReconcilerFixture(t)
	f.chain.block = make(chan struct{})
	f.chain.waiting = make(chan string, 1)
	ctx := context.Background()

	type outcome struct {
		deposit *models.Deposit
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		d, err := f.reconciler.TopUp(ctx, usdcTopUp("10"))
		done <- outcome{d, err}
	}()

	var txHash string
	select {
	case txHash = <-f.chain.waiting:
	case <-time.After(5 * time.Second):
		t.Fatal("top-up never reached confirmation")
	}

	stored, err := f.repo.FindByTxHash(ctx, testChainID, txHash)
	require.NoError(t, err)
	require.True(t, stored.Resumable())

	resumable, err := f.reconciler.ResumableDeposits(ctx, f.account)
	require.NoError(t, err)
	assert.Empty(t, resumable)

	report, err := NewResumeService(f.reconciler, f.identity, true, quietLogger()).Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Found)
	assert.Empty(t, report.Resumed)

	_, err = f.reconciler.RecordDeposit(ctx, stored.ID)
	assert.True(t, IsTopUpErrorKind(err, ErrKindInvalidRequest))
	_, err = f.reconciler.RecordExternal(ctx, testChainID, txHash)
	assert.True(t, IsTopUpErrorKind(err, ErrKindInvalidRequest))

	close(f.chain.block)
	var result outcome
	select {
	case result = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("top-up did not finish")
	}
	require.NoError(t, result.err)
	assert.Equal(t, models.DepositPhaseRecorded, result.deposit.Phase)
	assert.Equal(t, 1, f.chain.waitCount())
	assert.Equal(t, 1, f.ledger.recordCount())

	// released once the saga ends
	f.chain.block = nil
	again, err := f.reconciler.RecordDeposit(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DepositPhaseRecorded, again.Phase)
	assert.Equal(t, 1, f.ledger.recordCount())
}

func TestRecordDepositReleasesClaimAfterFailure(t *testing.T) {
	f := newReconcilerFixture(t)
	f.ledger.recordErr = errors.New("ledger unavailable")
	ctx := context.Background()

	failed, err := f.reconciler.TopUp(ctx, usdcTopUp("10"))
	require.Error(t, err)
	_, err = f.reconciler.RecordDeposit(ctx, failed.ID)
	assert.True(t, IsTopUpErrorKind(err, ErrKindLedgerRecord))

	f.ledger.recordErr = nil
	recorded, err := f.reconciler.RecordDeposit(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DepositPhaseRecorded, recorded.Phase)
	assert.Equal(t, 3, f.ledger.recordCount())
}
