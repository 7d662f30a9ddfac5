package onboarding

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/telehealth-credits/internal/models"
	"github.com/Dan9191/telehealth-credits/internal/repository"
	"github.com/Dan9191/telehealth-credits/internal/repository/memory"
)

func newService() (*Service, *memory.Store) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	store := memory.NewStore()
	return NewService(store, log), store
}

func TestSetRole_Patient(t *testing.T) {
	svc, store := newService()
	acc := store.Seed(models.Account{Email: "pat@example.com"})

	got, err := svc.SetRole(context.Background(), acc.ID, RoleSelection{Role: models.RolePatient})
	require.NoError(t, err)
	assert.Equal(t, models.RolePatient, got.Role)
	assert.Equal(t, models.VerificationNone, got.VerificationStatus)
}

func TestSetRole_Doctor(t *testing.T) {
	svc, store := newService()
	acc := store.Seed(models.Account{Email: "doc@example.com"})

	_, err := svc.SetRole(context.Background(), acc.ID, RoleSelection{
		Role:          models.RoleDoctor,
		Specialty:     "Dermatology",
		Experience:    " 12 ",
		CredentialURL: "https://example.com/cert.pdf",
		Description:   "Skin specialist",
	})
	require.NoError(t, err)

	stored, err := store.GetAccount(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleDoctor, stored.Role)
	assert.Equal(t, models.VerificationPending, stored.VerificationStatus)
	assert.Equal(t, 12, stored.Experience)
	assert.Equal(t, "Dermatology", stored.Specialty)
}

func TestSetRole_Rejects(t *testing.T) {
	svc, store := newService()
	acc := store.Seed(models.Account{Email: "someone@example.com"})
	complete := RoleSelection{
		Role: models.RoleDoctor, Specialty: "GP", Experience: "3",
		CredentialURL: "https://example.com/c", Description: "General practice",
	}

	tests := []struct {
		name string
		sel  RoleSelection
		want error
	}{
		{"admin", RoleSelection{Role: models.RoleAdmin}, ErrInvalidRole},
		{"empty", RoleSelection{}, ErrInvalidRole},
		{"missing specialty", func() RoleSelection { s := complete; s.Specialty = " "; return s }(), ErrMissingFields},
		{"missing credential", func() RoleSelection { s := complete; s.CredentialURL = ""; return s }(), ErrMissingFields},
		{"bad experience", func() RoleSelection { s := complete; s.Experience = "ten"; return s }(), ErrMissingFields},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SetRole(context.Background(), acc.ID, tt.sel)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	stored, _ := store.GetAccount(context.Background(), acc.ID)
	assert.Equal(t, models.RoleUnassigned, stored.Role)

	_, err := svc.SetRole(context.Background(), 999, RoleSelection{Role: models.RolePatient})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCurrentAccount(t *testing.T) {
	svc, store := newService()
	acc := store.Seed(models.Account{Email: "pat@example.com", Role: models.RolePatient, Credits: 4})

	got, err := svc.CurrentAccount(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Credits)
	require.Len(t, got.Transactions, 1)
	assert.Equal(t, models.KindCredit, got.Transactions[0].Kind)

	_, err = svc.CurrentAccount(context.Background(), 999)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
