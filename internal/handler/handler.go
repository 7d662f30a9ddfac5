package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Dan9191/telehealth-credits/internal/credits"
	"github.com/Dan9191/telehealth-credits/internal/middleware"
	"github.com/Dan9191/telehealth-credits/internal/models"
	"github.com/Dan9191/telehealth-credits/internal/onboarding"
	"github.com/Dan9191/telehealth-credits/internal/repository"
	"github.com/Dan9191/telehealth-credits/internal/service"
	"github.com/Dan9191/telehealth-credits/internal/statement"
	"github.com/Dan9191/telehealth-credits/internal/verification"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	svc        *service.Service
	onboarding *onboarding.Service
	admin      *verification.Service
	ledger     *credits.Ledger
	statements *statement.Builder
	log        *logrus.Logger
	startedAt  time.Time
}

func NewHandler(svc *service.Service, onb *onboarding.Service, admin *verification.Service,
	ledger *credits.Ledger, statements *statement.Builder, log *logrus.Logger) *Handler {
	return &Handler{
		svc:        svc,
		onboarding: onb,
		admin:      admin,
		ledger:     ledger,
		statements: statements,
		log:        log,
		startedAt:  time.Now(),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.WithError(err).Error("Request failed")
		msg = "internal error"
	}
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, verification.ErrInvalidInput),
		errors.Is(err, onboarding.ErrInvalidRole),
		errors.Is(err, onboarding.ErrMissingFields),
		errors.Is(err, statement.ErrInvalidMonth),
		errors.Is(err, credits.ErrInvalidCost),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, verification.ErrUnauthorized), errors.Is(err, service.ErrNotPatient):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, credits.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrAlreadyExists), errors.Is(err, service.ErrDoctorUnavailable):
		return http.StatusConflict
	case errors.Is(err, credits.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("invalid JSON payload")

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadRequest
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Join(errBadRequest, errors.New("invalid id"))
	}
	return id, nil
}

// Health reports liveness and uptime.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Truncate(time.Second).String(),
	})
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	account, err := h.svc.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, account)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Me returns the caller's profile and recent transactions.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	account, err := h.onboarding.CurrentAccount(r.Context(), middleware.AccountID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// SetRole handles role selection during onboarding.
func (h *Handler) SetRole(w http.ResponseWriter, r *http.Request) {
	var sel onboarding.RoleSelection
	if err := decode(r, &sel); err != nil {
		h.writeError(w, err)
		return
	}
	account, err := h.onboarding.SetRole(r.Context(), middleware.AccountID(r.Context()), sel)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// Credits returns the caller's balance after granting any due allocation.
func (h *Handler) Credits(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Credits(r.Context(), middleware.AccountID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

type appointmentRequest struct {
	DoctorID int64 `json:"doctor_id"`
}

// BookAppointment charges the caller for an appointment with a doctor.
func (h *Handler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	var req appointmentRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.svc.BookAppointment(r.Context(), middleware.AccountID(r.Context()), req.DoctorID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !res.Success {
		status := statusFor(res.Err)
		if status == http.StatusInternalServerError {
			h.log.WithError(res.Err).Error("Appointment deduction aborted")
		}
		h.writeJSON(w, status, res)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// PendingDoctors lists doctors awaiting review.
func (h *Handler) PendingDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.admin.PendingDoctors(r.Context(), middleware.AccountID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"doctors": doctors})
}

// VerifiedDoctors lists verified doctors.
func (h *Handler) VerifiedDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.admin.VerifiedDoctors(r.Context(), middleware.AccountID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"doctors": doctors})
}

type statusRequest struct {
	Status models.VerificationStatus `json:"status"`
}

// UpdateDoctorStatus approves or rejects a doctor.
func (h *Handler) UpdateDoctorStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req statusRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	doctor, err := h.admin.UpdateDoctorStatus(r.Context(), middleware.AccountID(r.Context()), id, req.Status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, doctor)
}

type suspensionRequest struct {
	Suspend bool `json:"suspend"`
}

// SetDoctorSuspension suspends or reinstates a doctor.
func (h *Handler) SetDoctorSuspension(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req suspensionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	doctor, err := h.admin.SetDoctorSuspended(r.Context(), middleware.AccountID(r.Context()), id, req.Suspend)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, doctor)
}

// DeactivateAccount disables an account.
func (h *Handler) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.admin.DeactivateAccount(r.Context(), middleware.AccountID(r.Context()), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type planRequest struct {
	Plan string `json:"plan"`
}

// ChangePlan assigns a subscription plan to an account.
func (h *Handler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req planRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	account, err := h.svc.ChangePlan(r.Context(), id, req.Plan)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// Reconcile compares an account's balance with its ledger.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	rec, err := h.ledger.Reconcile(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// Statement renders a monthly XML statement.
func (h *Handler) Statement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	doc, err := h.statements.Build(r.Context(), id, r.URL.Query().Get("month"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if _, err := doc.WriteTo(w); err != nil {
		h.log.Errorf("Failed to write statement: %v", err)
	}
}
