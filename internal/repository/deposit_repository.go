package repository

import (
	"context"
	"errors"
	"time"

	"topup-backend/internal/metrics"
	"topup-backend/internal/models"

	"gorm.io/gorm"
)

var ErrDepositNotFound = errors.New("deposit not found")

// DepositRepository durable store for top-up attempts
type DepositRepository interface {
	Create(ctx context.Context, deposit *models.Deposit) error
	Save(ctx context.Context, deposit *models.Deposit) error
	GetByID(ctx context.Context, id string) (*models.Deposit, error)
	FindByTxHash(ctx context.Context, chainID int64, txHash string) (*models.Deposit, error)
	FindByAccount(ctx context.Context, account string, page, limit int) ([]*models.Deposit, int64, error)
	// FindResumable deposits with a tx hash that the ledger has not credited.
	// Empty account matches every account; zero since means no age limit.
	FindResumable(ctx context.Context, account string, since time.Time) ([]*models.Deposit, error)
}

// depositRepository implements DepositRepository
type depositRepository struct {
	db *gorm.DB
}

// NewDepositRepository creates a new DepositRepository instance
func NewDepositRepository(db *gorm.DB) DepositRepository {
	return &depositRepository{db: db}
}

func (r *depositRepository) Create(ctx context.Context, deposit *models.Deposit) error {
	defer observe("deposit_create", time.Now())
	return r.db.WithContext(ctx).Create(deposit).Error
}

func (r *depositRepository) Save(ctx context.Context, deposit *models.Deposit) error {
	defer observe("deposit_save", time.Now())
	return r.db.WithContext(ctx).Save(deposit).Error
}

func (r *depositRepository) GetByID(ctx context.Context, id string) (*models.Deposit, error) {
	var deposit models.Deposit
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&deposit).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &deposit, nil
}

func (r *depositRepository) FindByTxHash(ctx context.Context, chainID int64, txHash string) (*models.Deposit, error) {
	var deposit models.Deposit
	err := r.db.WithContext(ctx).
		Where("chain_id = ? AND tx_hash = ?", chainID, txHash).
		Order("created_at DESC").
		First(&deposit).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &deposit, nil
}

func (r *depositRepository) FindByAccount(ctx context.Context, account string, page, limit int) ([]*models.Deposit, int64, error) {
	defer observe("deposit_find_by_account", time.Now())
	var deposits []*models.Deposit
	var total int64

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	query := r.db.WithContext(ctx).Model(&models.Deposit{}).Where("account = ?", account)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	err := query.Offset(offset).Limit(limit).Order("created_at DESC").Find(&deposits).Error
	if err != nil {
		return nil, 0, err
	}

	return deposits, total, nil
}

func (r *depositRepository) FindResumable(ctx context.Context, account string, since time.Time) ([]*models.Deposit, error) {
	defer observe("deposit_find_resumable", time.Now())
	reached := []models.DepositPhase{models.DepositPhaseSubmitted, models.DepositPhaseConfirmed}

	query := r.db.WithContext(ctx).Model(&models.Deposit{}).
		Where("tx_hash <> '' AND reverted = ?", false).
		Where(r.db.Where("phase IN ?", reached).
			Or("phase = ? AND last_phase IN ?", models.DepositPhaseFailed, reached))
	if account != "" {
		query = query.Where("account = ?", account)
	}
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since)
	}

	var deposits []*models.Deposit
	if err := query.Order("created_at ASC").Find(&deposits).Error; err != nil {
		return nil, err
	}
	return deposits, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrDepositNotFound
	}
	return err
}

func observe(queryType string, start time.Time) {
	metrics.DBQueryDuration.WithLabelValues(queryType).Observe(time.Since(start).Seconds())
}
