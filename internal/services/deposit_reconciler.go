package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"topup-backend/internal/config"
	"topup-backend/internal/metrics"
	"topup-backend/internal/models"
	"topup-backend/internal/repository"
	"topup-backend/internal/utils"

	mapset "github.com/deckarep/golang-set"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TopUpRequest a user-initiated top-up
type TopUpRequest struct {
	ChainID     int64
	Amount      decimal.Decimal
	TokenSymbol string // empty or the native symbol = native transfer
	Grantee     string // optional third party credited with the deposit
}

// ReconcilerConfig reconciler policy
type ReconcilerConfig struct {
	Networks         map[int64]config.NetworkConfig
	MinAmount        decimal.Decimal
	ResumptionWindow time.Duration // 0 = unlimited
}

// DepositReconciler runs the top-up saga: submit, confirm, record, refresh.
// Concurrent top-ups are independent; a single deposit is driven by at most
// one saga at a time.
type DepositReconciler struct {
	chain    ChainGateway
	ledger   LedgerGateway
	identity CredentialSource
	deposits repository.DepositRepository // optional
	balances *BalanceCache                // optional
	sinks    []DepositEventSink
	cfg      ReconcilerConfig
	logger   *logrus.Logger
	now      func() time.Time

	decimals sync.Map   // "chain:token" -> uint8
	inFlight mapset.Set // deposit IDs with a running saga
}

func NewDepositReconciler(
	chain ChainGateway,
	ledger LedgerGateway,
	identity CredentialSource,
	deposits repository.DepositRepository,
	balances *BalanceCache,
	cfg ReconcilerConfig,
	logger *logrus.Logger,
	sinks ...DepositEventSink,
) *DepositReconciler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DepositReconciler{
		chain:    chain,
		ledger:   ledger,
		identity: identity,
		deposits: deposits,
		balances: balances,
		sinks:    sinks,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		inFlight: mapset.NewSet(),
	}
}

type tokenSpec struct {
	Symbol   string
	Contract string
	Decimals uint8
}

// TopUp runs the whole saga. Errors are always *TopUpError; once the deposit
// exists it is returned alongside the error for diagnostics.
func (r *DepositReconciler) TopUp(ctx context.Context, req TopUpRequest) (*models.Deposit, error) {
	network, ok := r.cfg.Networks[req.ChainID]
	if !ok {
		return nil, invalidRequest("chain %d is not supported", req.ChainID)
	}
	if !req.Amount.IsPositive() {
		return nil, invalidRequest("amount must be greater than zero")
	}
	if req.Amount.LessThan(r.cfg.MinAmount) {
		return nil, invalidRequest("amount %s is below the minimum of %s", req.Amount, r.cfg.MinAmount)
	}
	grantee := ""
	if req.Grantee != "" {
		if !utils.IsEvmAddress(req.Grantee) {
			return nil, invalidRequest("invalid grantee address %q", req.Grantee)
		}
		grantee = utils.NormalizeAddress(req.Grantee)
	}
	cred, err := r.identity.Current()
	if err != nil {
		return nil, &TopUpError{Kind: ErrKindInvalidRequest, Err: err}
	}
	// the ledger credits whoever signed, so the signer must be the payer
	sender := r.chain.SenderAddress()
	if sender == "" {
		return nil, invalidRequest("no funding wallet configured")
	}
	if !utils.SameAddress(sender, cred.Address) {
		return nil, invalidRequest("credential %s does not match funding wallet %s; credit other accounts through grantee", cred.Address, sender)
	}

	token, err := r.resolveToken(ctx, network, req.TokenSymbol)
	if err != nil {
		return nil, err
	}
	to, err := r.executionAddress(ctx, network)
	if err != nil {
		return nil, &TopUpError{Kind: ErrKindChainSubmission, Err: fmt.Errorf("resolve execution address: %w", err)}
	}
	units, err := utils.ToBaseUnits(req.Amount, token.Decimals)
	if err != nil {
		return nil, invalidRequest("%v", err)
	}

	deposit := &models.Deposit{
		ID:            uuid.New().String(),
		Account:       cred.Address,
		ChainID:       req.ChainID,
		Amount:        req.Amount,
		TokenSymbol:   token.Symbol,
		TokenContract: token.Contract,
		ToAddress:     to,
		Grantee:       grantee,
		Phase:         models.DepositPhasePending,
	}
	r.claim(deposit.ID)
	defer r.release(deposit.ID)
	r.persist(ctx, deposit, true)
	r.emit(ctx, deposit)

	log := r.logger.WithFields(logrus.Fields{
		"deposit_id": deposit.ID,
		"chain_id":   deposit.ChainID,
		"amount":     deposit.Amount.String(),
		"token":      deposit.TokenSymbol,
	})
	log.Info("🚀 Top-up started")

	txHash, err := r.chain.SubmitTransfer(ctx, TransferRequest{
		ChainID:       req.ChainID,
		To:            to,
		Amount:        units,
		TokenContract: token.Contract,
	})
	if err != nil {
		log.WithError(err).Warn("❌ Transfer submission failed")
		return deposit, r.fail(ctx, deposit, ErrKindChainSubmission, err)
	}

	deposit.TxHash = txHash
	deposit.Advance(models.DepositPhaseSubmitted, r.now())
	r.persist(ctx, deposit, false)
	r.emit(ctx, deposit)

	return r.confirmAndRecord(ctx, deposit, cred)
}

// RecordDeposit resumes a persisted deposit: waits for confirmation if it
// was only submitted, then re-issues the ledger record step.
func (r *DepositReconciler) RecordDeposit(ctx context.Context, depositID string) (*models.Deposit, error) {
	if r.deposits == nil {
		return nil, invalidRequest("no deposit store configured")
	}
	deposit, err := r.deposits.GetByID(ctx, depositID)
	if err != nil {
		if errors.Is(err, repository.ErrDepositNotFound) {
			return nil, invalidRequest("deposit %s not found", depositID)
		}
		return nil, &TopUpError{Kind: ErrKindInvalidRequest, DepositID: depositID, Err: err}
	}
	if deposit.Phase == models.DepositPhaseRecorded {
		return deposit, nil
	}
	if !r.claim(deposit.ID) {
		return deposit, &TopUpError{
			Kind:      ErrKindInvalidRequest,
			DepositID: deposit.ID,
			TxHash:    deposit.TxHash,
			Err:       fmt.Errorf("deposit %s is already in progress", deposit.ID),
		}
	}
	defer r.release(deposit.ID)
	if !deposit.Resumable() {
		return deposit, &TopUpError{
			Kind:      ErrKindInvalidRequest,
			DepositID: deposit.ID,
			TxHash:    deposit.TxHash,
			Err:       fmt.Errorf("deposit in phase %s (last %s) cannot be resumed", deposit.Phase, deposit.LastPhase),
		}
	}
	cred, err := r.credentialFor(deposit.Account)
	if err != nil {
		return deposit, &TopUpError{Kind: ErrKindInvalidRequest, DepositID: deposit.ID, TxHash: deposit.TxHash, Err: err}
	}

	deposit.Resume()
	r.logger.WithFields(logrus.Fields{
		"deposit_id": deposit.ID,
		"tx_hash":    deposit.TxHash,
		"phase":      deposit.Phase,
	}).Info("🔄 Resuming deposit")

	if deposit.Phase == models.DepositPhaseSubmitted {
		return r.confirmAndRecord(ctx, deposit, cred)
	}
	return r.record(ctx, deposit, cred)
}

// RecordExternal records a transaction the client never persisted. The
// transfer's amount is unknown here and stored as zero.
func (r *DepositReconciler) RecordExternal(ctx context.Context, chainID int64, txHash string) (*models.Deposit, error) {
	if _, ok := r.cfg.Networks[chainID]; !ok {
		return nil, invalidRequest("chain %d is not supported", chainID)
	}
	if !utils.IsTxHash(txHash) {
		return nil, invalidRequest("invalid transaction hash %q", txHash)
	}
	txHash = utils.NormalizeTxHash(txHash)

	if r.deposits != nil {
		existing, err := r.deposits.FindByTxHash(ctx, chainID, txHash)
		if err == nil {
			return r.RecordDeposit(ctx, existing.ID)
		}
		if !errors.Is(err, repository.ErrDepositNotFound) {
			r.logger.WithError(err).Warn("⚠️ Deposit lookup failed, recording without history")
		}
	}

	cred, err := r.identity.Current()
	if err != nil {
		return nil, &TopUpError{Kind: ErrKindInvalidRequest, TxHash: txHash, Err: err}
	}
	deposit := &models.Deposit{
		ID:      uuid.New().String(),
		Account: cred.Address,
		ChainID: chainID,
		Amount:  decimal.Zero,
		TxHash:  txHash,
		Phase:   models.DepositPhaseSubmitted,
	}
	r.claim(deposit.ID)
	defer r.release(deposit.ID)
	r.persist(ctx, deposit, true)
	r.emit(ctx, deposit)
	return r.confirmAndRecord(ctx, deposit, cred)
}

// ResumableDeposits deposits of account whose funds may have moved on-chain
// without being credited, inside the resumption window. Deposits still driven
// by a running saga are left out.
func (r *DepositReconciler) ResumableDeposits(ctx context.Context, account string) ([]*models.Deposit, error) {
	if r.deposits == nil {
		return nil, nil
	}
	var since time.Time
	if r.cfg.ResumptionWindow > 0 {
		since = r.now().Add(-r.cfg.ResumptionWindow)
	}
	if account != "" {
		account = utils.NormalizeAddress(account)
	}
	deposits, err := r.deposits.FindResumable(ctx, account, since)
	if err != nil {
		return nil, fmt.Errorf("find resumable deposits: %w", err)
	}
	idle := deposits[:0]
	for _, d := range deposits {
		if !r.inFlight.Contains(d.ID) {
			idle = append(idle, d)
		}
	}
	metrics.ResumableDeposits.Set(float64(len(idle)))
	return idle, nil
}

// claim marks id as driven by the caller; false if another saga holds it
func (r *DepositReconciler) claim(id string) bool {
	return r.inFlight.Add(id)
}

func (r *DepositReconciler) release(id string) {
	r.inFlight.Remove(id)
}

func (r *DepositReconciler) confirmAndRecord(ctx context.Context, deposit *models.Deposit, cred models.Credential) (*models.Deposit, error) {
	log := r.logger.WithFields(logrus.Fields{"deposit_id": deposit.ID, "tx_hash": deposit.TxHash})
	log.Info("⏳ Waiting for confirmation")

	status, err := r.chain.WaitForConfirmation(ctx, deposit.ChainID, deposit.TxHash)
	if err != nil {
		if ctx.Err() != nil {
			// the transaction lives on without us; leave the deposit resumable as-is
			log.WithError(err).Warn("⚠️ Confirmation wait abandoned")
			return deposit, &TopUpError{Kind: ErrKindChainConfirmation, TxHash: deposit.TxHash, DepositID: deposit.ID, Err: err}
		}
		log.WithError(err).Warn("❌ Confirmation failed")
		return deposit, r.fail(ctx, deposit, ErrKindChainConfirmation, err)
	}
	if status == ConfirmationReverted {
		deposit.Reverted = true
		log.Warn("❌ Transaction reverted")
		return deposit, r.fail(ctx, deposit, ErrKindChainConfirmation, errors.New("transaction reverted"))
	}

	deposit.Advance(models.DepositPhaseConfirmed, r.now())
	r.persist(ctx, deposit, false)
	r.emit(ctx, deposit)

	return r.record(ctx, deposit, cred)
}

func (r *DepositReconciler) record(ctx context.Context, deposit *models.Deposit, cred models.Credential) (*models.Deposit, error) {
	log := r.logger.WithFields(logrus.Fields{"deposit_id": deposit.ID, "tx_hash": deposit.TxHash})

	deposit.RecordAttempts++
	if err := r.ledger.RecordDeposit(ctx, deposit.ChainID, deposit.TxHash, deposit.Grantee, cred); err != nil {
		log.WithError(err).Error("❌ Ledger did not record the confirmed deposit")
		return deposit, r.fail(ctx, deposit, ErrKindLedgerRecord, err)
	}

	deposit.Advance(models.DepositPhaseRecorded, r.now())
	r.persist(ctx, deposit, false)
	r.emit(ctx, deposit)
	log.Info("✅ Deposit recorded")

	if r.balances != nil {
		account := deposit.Account
		if deposit.Grantee != "" {
			account = deposit.Grantee
		}
		if _, err := r.balances.Refresh(ctx, deposit.ChainID, account); err != nil {
			log.WithError(err).Warn("⚠️ Balance refresh failed")
		}
	}
	return deposit, nil
}

func (r *DepositReconciler) fail(ctx context.Context, deposit *models.Deposit, kind TopUpErrorKind, err error) *TopUpError {
	deposit.Fail(string(kind), err)
	r.persist(ctx, deposit, false)
	r.emit(ctx, deposit)
	metrics.DepositFailures.WithLabelValues(chainLabel(deposit.ChainID), string(kind)).Inc()
	return &TopUpError{Kind: kind, TxHash: deposit.TxHash, DepositID: deposit.ID, Err: err}
}

func (r *DepositReconciler) credentialFor(account string) (models.Credential, error) {
	cred, err := r.identity.Current()
	if err != nil {
		return models.Credential{}, err
	}
	if !utils.SameAddress(cred.Address, account) {
		return models.Credential{}, fmt.Errorf("credential for %s cannot act on deposits of %s", cred.Address, account)
	}
	return cred, nil
}

func (r *DepositReconciler) resolveToken(ctx context.Context, network config.NetworkConfig, symbol string) (tokenSpec, error) {
	native := network.NativeSymbol
	if native == "" {
		native = "ETH"
	}
	if symbol == "" || strings.EqualFold(symbol, native) {
		decimals := network.NativeDecimals
		if decimals == 0 {
			decimals = 18
		}
		return tokenSpec{Symbol: strings.ToUpper(native), Decimals: decimals}, nil
	}

	for name, tok := range network.Tokens {
		if !strings.EqualFold(name, symbol) {
			continue
		}
		if !utils.IsEvmAddress(tok.Address) {
			return tokenSpec{}, invalidRequest("token %s has no valid contract address on chain %d", name, network.ChainID)
		}
		resolved := tokenSpec{Symbol: strings.ToUpper(name), Contract: utils.NormalizeAddress(tok.Address), Decimals: tok.Decimals}
		if resolved.Decimals == 0 {
			decimals, err := r.tokenDecimals(ctx, network.ChainID, resolved.Contract)
			if err != nil {
				return tokenSpec{}, &TopUpError{Kind: ErrKindChainSubmission, Err: fmt.Errorf("read %s decimals: %w", name, err)}
			}
			resolved.Decimals = decimals
		}
		return resolved, nil
	}
	return tokenSpec{}, invalidRequest("token %s is not accepted on chain %d", symbol, network.ChainID)
}

func (r *DepositReconciler) tokenDecimals(ctx context.Context, chainID int64, contract string) (uint8, error) {
	key := strconv.FormatInt(chainID, 10) + ":" + contract
	if v, ok := r.decimals.Load(key); ok {
		return v.(uint8), nil
	}
	out, err := r.chain.CallContract(ctx, chainID, contract, ERC20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("decimals returned %d values", len(out))
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals returned %T", out[0])
	}
	r.decimals.Store(key, decimals)
	return decimals, nil
}

func (r *DepositReconciler) executionAddress(ctx context.Context, network config.NetworkConfig) (string, error) {
	addr := network.ExecutionAddress
	if addr == "" {
		var err error
		addr, err = r.ledger.ExecutionAddress(ctx, network.ChainID)
		if err != nil {
			return "", err
		}
	}
	if !utils.IsEvmAddress(addr) {
		return "", fmt.Errorf("invalid execution address %q", addr)
	}
	return utils.NormalizeAddress(addr), nil
}

// persist failures never change the saga outcome
func (r *DepositReconciler) persist(ctx context.Context, deposit *models.Deposit, create bool) {
	metrics.DepositPhaseTransitions.WithLabelValues(chainLabel(deposit.ChainID), string(deposit.Phase)).Inc()
	if r.deposits == nil {
		return
	}
	storeCtx := context.WithoutCancel(ctx)
	var err error
	if create {
		err = r.deposits.Create(storeCtx, deposit)
	} else {
		err = r.deposits.Save(storeCtx, deposit)
	}
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"deposit_id": deposit.ID,
			"phase":      deposit.Phase,
			"error":      err,
		}).Error("❌ Failed to persist deposit")
	}
}

func (r *DepositReconciler) emit(ctx context.Context, deposit *models.Deposit) {
	if len(r.sinks) == 0 {
		return
	}
	event := models.NewDepositPhaseEvent(deposit, r.now())
	sinkCtx := context.WithoutCancel(ctx)
	for _, sink := range r.sinks {
		if err := sink.PublishDepositPhase(sinkCtx, event); err != nil {
			r.logger.WithFields(logrus.Fields{
				"deposit_id": deposit.ID,
				"phase":      deposit.Phase,
				"error":      err,
			}).Warn("⚠️ Failed to publish deposit event")
		}
	}
}
