package handler

import (
	"net/http"

	"github.com/Dan9191/telehealth-credits/internal/config"
	"github.com/Dan9191/telehealth-credits/internal/middleware"
	"github.com/gorilla/mux"
)

// NewRouter wires every route. metrics may be nil to leave /metrics out.
func NewRouter(h *Handler, cfg *config.Config, gate middleware.AdminChecker, metrics http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Logging(h.log))

	// Public routes
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
	r.HandleFunc("/health", h.Health).Methods("GET")
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}

	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	authRouter.HandleFunc("/me", h.Me).Methods("GET")
	authRouter.HandleFunc("/onboarding/role", h.SetRole).Methods("POST")
	authRouter.HandleFunc("/credits", h.Credits).Methods("GET")
	authRouter.HandleFunc("/appointments", h.BookAppointment).Methods("POST")

	// Admin routes
	adminRouter := authRouter.PathPrefix("/admin").Subrouter()
	adminRouter.Use(middleware.RequireAdmin(gate))
	adminRouter.HandleFunc("/doctors/pending", h.PendingDoctors).Methods("GET")
	adminRouter.HandleFunc("/doctors/verified", h.VerifiedDoctors).Methods("GET")
	adminRouter.HandleFunc("/doctors/{id:[0-9]+}/status", h.UpdateDoctorStatus).Methods("POST")
	adminRouter.HandleFunc("/doctors/{id:[0-9]+}/suspension", h.SetDoctorSuspension).Methods("POST")
	adminRouter.HandleFunc("/accounts/{id:[0-9]+}/deactivate", h.DeactivateAccount).Methods("POST")
	adminRouter.HandleFunc("/accounts/{id:[0-9]+}/plan", h.ChangePlan).Methods("POST")
	adminRouter.HandleFunc("/accounts/{id:[0-9]+}/reconcile", h.Reconcile).Methods("GET")
	adminRouter.HandleFunc("/accounts/{id:[0-9]+}/statement", h.Statement).Methods("GET")

	return r
}
