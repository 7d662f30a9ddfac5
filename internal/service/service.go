package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dan9191/telehealth-credits/internal/config"
	"github.com/Dan9191/telehealth-credits/internal/credits"
	"github.com/Dan9191/telehealth-credits/internal/models"
	"github.com/Dan9191/telehealth-credits/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
	ErrDoctorUnavailable  = errors.New("doctor is not available for booking")
	ErrNotPatient         = errors.New("only patients can book appointments")
)

// DefaultPlan is the subscription claim given to new accounts.
const DefaultPlan = "free_user"

// Claims is the JWT payload. Plan carries the subscription claim that drives
// monthly allocations.
type Claims struct {
	Plan string `json:"plan,omitempty"`
	jwt.RegisteredClaims
}

// Service handles business logic
type Service struct {
	repo   repository.Store
	ledger *credits.Ledger
	log    *logrus.Logger
	config *config.Config
}

// NewService initializes a new service
func NewService(repo repository.Store, ledger *credits.Ledger, log *logrus.Logger, cfg *config.Config) *Service {
	return &Service{repo: repo, ledger: ledger, log: log, config: cfg}
}

// Register creates a new account with hashed password. Every account starts on
// DefaultPlan; paid plans are assigned with ChangePlan.
func (s *Service) Register(ctx context.Context, email, name, password string) (*models.Account, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}

	// Hash password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &models.Account{
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hashedPassword),
		Role:         models.RoleUnassigned,
		Plan:         DefaultPlan,
	}
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	s.log.Infof("Account registered: %s", account.Email)
	return account, nil
}

// Login authenticates an account and returns a JWT token
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	account, err := s.repo.FindAccountByEmail(ctx, email)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if !account.Active {
		return "", ErrInvalidCredentials
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	// Generate JWT
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Plan: account.Plan,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", account.ID),
			Issuer:    s.config.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.JWTTTL)),
		},
	})
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.Infof("Account logged in: %s", account.Email)
	return tokenString, nil
}

// Credits grants this month's allocation for the account's stored plan if it
// is still due. Allocation problems never fail the read.
func (s *Service) Credits(ctx context.Context, accountID int64) (credits.AllocationResult, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return credits.AllocationResult{}, err
	}
	return s.ledger.AllocateIfDue(ctx, account, account.Plan), nil
}

// ChangePlan assigns a subscription plan to an account. The plan must name a
// known tier; a claim listing several tiers is stored as the highest one.
func (s *Service) ChangePlan(ctx context.Context, accountID int64, plan string) (*models.Account, error) {
	ent, ok := s.ledger.Plans().Resolve(plan)
	if !ok {
		return nil, fmt.Errorf("%w: unknown plan %q", ErrInvalidInput, plan)
	}
	if err := s.repo.UpdatePlan(ctx, accountID, ent.Tag); err != nil {
		return nil, err
	}
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"account_id": accountID, "plan": ent.Tag}).Info("Plan changed")
	return account, nil
}

// BookAppointment charges a patient the appointment cost and pays the doctor.
// The doctor must be active and verified.
func (s *Service) BookAppointment(ctx context.Context, patientID, doctorID int64) (credits.DeductionResult, error) {
	patient, err := s.repo.GetAccount(ctx, patientID)
	if err != nil {
		return credits.DeductionResult{}, err
	}
	if patient.Role != models.RolePatient {
		return credits.DeductionResult{}, ErrNotPatient
	}
	doctor, err := s.repo.GetAccount(ctx, doctorID)
	if errors.Is(err, repository.ErrNotFound) {
		return credits.DeductionResult{}, fmt.Errorf("%w: doctor %d not found", ErrDoctorUnavailable, doctorID)
	}
	if err != nil {
		return credits.DeductionResult{}, err
	}
	if !doctor.Active || !doctor.IsVerifiedDoctor() {
		return credits.DeductionResult{}, ErrDoctorUnavailable
	}

	res := s.ledger.Deduct(ctx, patientID, doctorID, s.config.AppointmentCost)
	if res.Success {
		s.log.WithFields(logrus.Fields{"consumer_id": patientID, "provider_id": doctorID}).Info("Appointment booked")
	}
	return res, nil
}
