// Package api exposes the ledger over a JSON HTTP surface with JWT bearer
// authentication and per-role route enforcement.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/carebook/clinic-ledger/internal/directory"
	"github.com/carebook/clinic-ledger/internal/index"
	"github.com/carebook/clinic-ledger/internal/prescription"
	"github.com/carebook/clinic-ledger/internal/workflow"
	"github.com/carebook/clinic-ledger/pkg/config"
	"github.com/carebook/clinic-ledger/pkg/logger"
	"github.com/carebook/clinic-ledger/pkg/monitoring"
	"github.com/carebook/clinic-ledger/pkg/types"
)

// Server wires the core services into an HTTP API
type Server struct {
	config        *config.Config
	logger        *logger.Logger
	tokens        *TokenValidator
	engine        *workflow.Engine
	index         *index.PatientIndex
	prescriptions *prescription.Service
	directory     *directory.Service
	health        *monitoring.HealthManager
	server        *http.Server
}

// NewServer creates a new API server
func NewServer(
	cfg *config.Config,
	engine *workflow.Engine,
	idx *index.PatientIndex,
	prescriptions *prescription.Service,
	dir *directory.Service,
	health *monitoring.HealthManager,
	log *logger.Logger,
) *Server {
	return &Server{
		config:        cfg,
		logger:        log,
		tokens:        NewTokenValidator(cfg.JWT.SecretKey, cfg.JWT.Issuer),
		engine:        engine,
		index:         idx,
		prescriptions: prescriptions,
		directory:     dir,
		health:        health,
	}
}

// Router builds the full route table
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	// unauthenticated operational endpoints
	router.Handle(s.config.Monitoring.HealthPath, s.health.Handler()).Methods("GET")
	if s.config.Monitoring.Enabled {
		router.Handle(s.config.Monitoring.MetricsPath, monitoring.MetricsHandler()).Methods("GET")
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(monitoring.HTTPMetricsMiddleware)
	api.Use(s.Authenticate)

	// appointment workflow
	api.HandleFunc("/appointments", s.requireRole(RolePatient, s.bookAppointmentHandler)).Methods("POST")
	api.HandleFunc("/appointments", s.requireRole(RoleDoctor, s.doctorAppointmentsHandler)).Methods("GET")
	api.HandleFunc("/appointments/{patientId}/confirm", s.requireRole(RoleDoctor, s.transitionHandler(types.StatusConfirmed))).Methods("POST")
	api.HandleFunc("/appointments/{patientId}/cancel", s.requireRole(RoleDoctor, s.transitionHandler(types.StatusCancelled))).Methods("POST")

	// doctor-side patient records view
	api.HandleFunc("/patients", s.requireRole(RoleDoctor, s.doctorPatientsHandler)).Methods("GET")

	// patient views
	api.HandleFunc("/patients/me/appointments", s.requireRole(RolePatient, s.patientAppointmentsHandler)).Methods("GET")
	api.HandleFunc("/patients/me/medical-history", s.requireRole(RolePatient, s.medicalHistoryHandler)).Methods("GET")

	// prescriptions
	api.HandleFunc("/prescriptions/{patientId}", s.requireRole(RoleDoctor, s.recordPrescriptionHandler)).Methods("POST")
	api.HandleFunc("/prescriptions/{id}", s.listPrescriptionsHandler).Methods("GET")
	api.HandleFunc("/attachments/{ref}", s.attachmentHandler).Methods("GET")

	// directory
	api.HandleFunc("/doctors", s.listDoctorsHandler).Methods("GET")

	s.logger.Info("API routes configured")
	return router
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(s.config.Server.IdleTimeout) * time.Second,
	}

	s.logger.Infof("Starting API server on %s", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down, draining in-flight requests
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("Stopping API server")
	return s.server.Shutdown(ctx)
}

// writeJSONResponse writes a JSON response
func (s *Server) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorf("Failed to encode JSON response: %v", err)
	}
}

// writeErrorResponse writes an error response with an explicit status
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	if err != nil {
		s.logger.WithError(err).Error(message)
	}

	response := map[string]interface{}{
		"error":  message,
		"status": statusCode,
	}
	var lerr *types.LedgerError
	if errors.As(err, &lerr) {
		response["code"] = lerr.Code
		response["type"] = lerr.Type
	} else if err != nil {
		response["details"] = err.Error()
	}

	s.writeJSONResponse(w, statusCode, response)
}

// writeLedgerError maps a service error onto its HTTP status
func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	s.writeErrorResponse(w, types.HTTPStatus(err), err.Error(), err)
}
