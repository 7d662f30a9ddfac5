// Package verification guards administrative actions and runs the doctor
// credential review workflow.
package verification

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dan9191/telehealth-credits/internal/models"
	"github.com/Dan9191/telehealth-credits/internal/repository"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
)

// Gate answers whether a caller may perform privileged actions.
type Gate struct {
	store repository.Store
	log   *logrus.Logger
}

// NewGate creates a gate backed by store.
func NewGate(store repository.Store, log *logrus.Logger) *Gate {
	return &Gate{store: store, log: log}
}

// IsAdmin is true only for an active ADMIN account. Lookup failures deny.
func (g *Gate) IsAdmin(ctx context.Context, accountID int64) bool {
	if accountID <= 0 {
		return false
	}
	acc, err := g.store.GetAccount(ctx, accountID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			g.log.WithField("account_id", accountID).WithError(err).Error("Failed to verify admin")
		}
		return false
	}
	return acc.Active && acc.Role == models.RoleAdmin
}

// Notifier tells a doctor about a change to their verification.
type Notifier interface {
	SendVerificationUpdate(to, name string, status models.VerificationStatus) error
}

// Service runs admin-only doctor management.
type Service struct {
	store    repository.Store
	gate     *Gate
	notifier Notifier
	log      *logrus.Logger
}

// NewService creates the admin service. notifier may be nil.
func NewService(store repository.Store, gate *Gate, notifier Notifier, log *logrus.Logger) *Service {
	return &Service{store: store, gate: gate, notifier: notifier, log: log}
}

func (s *Service) authorize(ctx context.Context, adminID int64) error {
	if !s.gate.IsAdmin(ctx, adminID) {
		return ErrUnauthorized
	}
	return nil
}

// PendingDoctors lists doctors awaiting review, newest first.
func (s *Service) PendingDoctors(ctx context.Context, adminID int64) ([]models.Account, error) {
	if err := s.authorize(ctx, adminID); err != nil {
		return nil, err
	}
	doctors, err := s.store.ListDoctors(ctx, models.VerificationPending)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending doctors: %w", err)
	}
	return doctors, nil
}

// VerifiedDoctors lists verified doctors by name.
func (s *Service) VerifiedDoctors(ctx context.Context, adminID int64) ([]models.Account, error) {
	if err := s.authorize(ctx, adminID); err != nil {
		return nil, err
	}
	doctors, err := s.store.ListDoctors(ctx, models.VerificationVerified)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch verified doctors: %w", err)
	}
	return doctors, nil
}

// UpdateDoctorStatus approves or rejects a doctor.
func (s *Service) UpdateDoctorStatus(ctx context.Context, adminID, doctorID int64, status models.VerificationStatus) (*models.Account, error) {
	if err := s.authorize(ctx, adminID); err != nil {
		return nil, err
	}
	if status != models.VerificationVerified && status != models.VerificationRejected {
		return nil, fmt.Errorf("%w: status must be VERIFIED or REJECTED", ErrInvalidInput)
	}
	return s.setStatus(ctx, adminID, doctorID, status)
}

// SetDoctorSuspended moves a doctor back to PENDING, or reinstates them as
// VERIFIED.
func (s *Service) SetDoctorSuspended(ctx context.Context, adminID, doctorID int64, suspend bool) (*models.Account, error) {
	if err := s.authorize(ctx, adminID); err != nil {
		return nil, err
	}
	status := models.VerificationVerified
	if suspend {
		status = models.VerificationPending
	}
	return s.setStatus(ctx, adminID, doctorID, status)
}

func (s *Service) setStatus(ctx context.Context, adminID, doctorID int64, status models.VerificationStatus) (*models.Account, error) {
	doctor, err := s.store.GetAccount(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("doctor %d: %w", doctorID, err)
	}
	if doctor.Role != models.RoleDoctor {
		return nil, fmt.Errorf("%w: account %d is not a doctor", ErrInvalidInput, doctorID)
	}
	if err := s.store.UpdateVerificationStatus(ctx, doctorID, status); err != nil {
		return nil, fmt.Errorf("failed to update doctor status: %w", err)
	}
	doctor.VerificationStatus = status

	s.log.WithFields(logrus.Fields{
		"admin_id":   adminID,
		"account_id": doctorID,
		"status":     status,
	}).Info("Doctor verification status updated")

	if s.notifier != nil {
		// Delivery problems are logged by the notifier and do not undo the update.
		_ = s.notifier.SendVerificationUpdate(doctor.Email, doctor.Name, status)
	}
	return doctor, nil
}

// DeactivateAccount disables an account. Its balance and history are kept.
func (s *Service) DeactivateAccount(ctx context.Context, adminID, accountID int64) error {
	if err := s.authorize(ctx, adminID); err != nil {
		return err
	}
	if adminID == accountID {
		return fmt.Errorf("%w: admins cannot deactivate themselves", ErrInvalidInput)
	}
	if err := s.store.SetActive(ctx, accountID, false); err != nil {
		return fmt.Errorf("account %d: %w", accountID, err)
	}
	s.log.WithFields(logrus.Fields{"admin_id": adminID, "account_id": accountID}).Warn("Account deactivated")
	return nil
}
