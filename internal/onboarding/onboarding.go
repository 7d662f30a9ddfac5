package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Dan9191/telehealth-credits/internal/models"
	"github.com/Dan9191/telehealth-credits/internal/repository"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidRole   = errors.New("invalid role selection")
	ErrMissingFields = errors.New("all doctor fields are required")
)

// recentLimit bounds the history returned with the current account.
const recentLimit = 20

// RoleSelection is what a new user submits when picking a role. Experience
// arrives as text from forms and must parse as an integer.
type RoleSelection struct {
	Role          models.Role `json:"role"`
	Specialty     string      `json:"specialty,omitempty"`
	Experience    string      `json:"experience,omitempty"`
	CredentialURL string      `json:"credential_url,omitempty"`
	Description   string      `json:"description,omitempty"`
}

// Service handles role selection and profile reads.
type Service struct {
	store repository.Store
	log   *logrus.Logger
}

// NewService creates an onboarding service.
func NewService(store repository.Store, log *logrus.Logger) *Service {
	return &Service{store: store, log: log}
}

// SetRole assigns PATIENT or DOCTOR. Doctors must supply their credentials
// and start out PENDING review.
func (s *Service) SetRole(ctx context.Context, accountID int64, sel RoleSelection) (*models.Account, error) {
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("account %d: %w", accountID, err)
	}

	switch sel.Role {
	case models.RolePatient:
		acc.Role = models.RolePatient
	case models.RoleDoctor:
		specialty := strings.TrimSpace(sel.Specialty)
		credential := strings.TrimSpace(sel.CredentialURL)
		description := strings.TrimSpace(sel.Description)
		experience := strings.TrimSpace(sel.Experience)
		if specialty == "" || experience == "" || credential == "" || description == "" {
			return nil, ErrMissingFields
		}
		years, err := strconv.Atoi(experience)
		if err != nil || years < 0 {
			return nil, fmt.Errorf("%w: experience must be a number", ErrMissingFields)
		}
		acc.Role = models.RoleDoctor
		acc.Specialty = specialty
		acc.Experience = years
		acc.CredentialURL = credential
		acc.Description = description
		acc.VerificationStatus = models.VerificationPending
	default:
		return nil, ErrInvalidRole
	}

	if err := s.store.UpdateProfile(ctx, acc); err != nil {
		return nil, fmt.Errorf("failed to update user profile: %w", err)
	}
	s.log.WithFields(logrus.Fields{"account_id": accountID, "role": acc.Role}).Info("Role selected")
	return acc, nil
}

// CurrentAccount returns the profile with its most recent transactions.
func (s *Service) CurrentAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("account %d: %w", accountID, err)
	}
	txs, err := s.store.RecentTransactions(ctx, accountID, recentLimit)
	if err != nil {
		return nil, err
	}
	acc.Transactions = txs
	return acc, nil
}
