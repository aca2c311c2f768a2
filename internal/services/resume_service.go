package services

import (
	"context"
	"time"

	"topup-backend/internal/models"

	"github.com/sirupsen/logrus"
)

// DepositResumer the reconciler operations the resume service drives
type DepositResumer interface {
	ResumableDeposits(ctx context.Context, account string) ([]*models.Deposit, error)
	RecordDeposit(ctx context.Context, depositID string) (*models.Deposit, error)
}

// ResumeService finds deposits that moved on-chain but were never credited,
// and optionally re-issues the ledger step for them
type ResumeService struct {
	reconciler DepositResumer
	identity   CredentialSource
	autoResume bool
	logger     *logrus.Logger
}

func NewResumeService(reconciler DepositResumer, identity CredentialSource, autoResume bool, logger *logrus.Logger) *ResumeService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ResumeService{reconciler: reconciler, identity: identity, autoResume: autoResume, logger: logger}
}

// ResumeReport outcome of one scan
type ResumeReport struct {
	Found   []*models.Deposit
	Resumed []*models.Deposit
	Failed  map[string]error
}

// Scan lists resumable deposits for the current identity and, when auto-resume
// is on, records each of them
func (s *ResumeService) Scan(ctx context.Context) (*ResumeReport, error) {
	report := &ResumeReport{Failed: make(map[string]error)}

	cred, err := s.identity.Current()
	if err != nil {
		s.logger.WithError(err).Debug("⏭️ Resume scan skipped, no usable credential")
		return report, nil
	}

	found, err := s.reconciler.ResumableDeposits(ctx, cred.Address)
	if err != nil {
		return nil, err
	}
	report.Found = found
	if len(found) == 0 {
		return report, nil
	}

	for _, d := range found {
		s.logger.WithFields(logrus.Fields{
			"deposit_id": d.ID,
			"chain_id":   d.ChainID,
			"tx_hash":    d.TxHash,
			"phase":      d.Phase,
			"last_phase": d.LastPhase,
		}).Warn("⚠️ Deposit not yet credited by the ledger")
	}
	if !s.autoResume {
		return report, nil
	}

	for _, d := range found {
		resumed, err := s.reconciler.RecordDeposit(ctx, d.ID)
		if err != nil {
			report.Failed[d.ID] = err
			s.logger.WithFields(logrus.Fields{"deposit_id": d.ID, "error": err}).Error("❌ Resume failed")
			continue
		}
		report.Resumed = append(report.Resumed, resumed)
	}
	s.logger.WithFields(logrus.Fields{
		"found":   len(report.Found),
		"resumed": len(report.Resumed),
		"failed":  len(report.Failed),
	}).Info("🔄 Resume scan completed")
	return report, nil
}

// Start scans once immediately, then every interval until ctx ends.
// A zero interval scans once.
func (s *ResumeService) Start(ctx context.Context, interval time.Duration) {
	s.logger.WithField("interval", interval).Info("🚀 Starting deposit resume service")
	go func() {
		if _, err := s.Scan(ctx); err != nil {
			s.logger.WithError(err).Error("❌ Resume scan failed")
		}
		if interval <= 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Scan(ctx); err != nil {
					s.logger.WithError(err).Error("❌ Resume scan failed")
				}
			}
		}
	}()
}
