package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gharsathi/internal/config"
	"gharsathi/internal/domain"
	"gharsathi/internal/export"
	"gharsathi/internal/logging"
	"gharsathi/internal/models"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// HTTPServer exposes the booking service over JSON/HTTP.
type HTTPServer struct {
	cfg     config.APIConfig
	service domain.BookingService
	server  *http.Server
	auth    *HTTPAuth
	logger  *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, service domain.BookingService, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:     cfg,
		service: service,
		auth:    NewHTTPAuth(cfg),
		logger:  logging.ForComponent(logger, "http"),
	}

	mux := http.NewServeMux()
	srv.handle(mux, "GET /healthz", "", srv.handleHealth)
	srv.handle(mux, "POST /api/v1/bookings", permWriteBookings, srv.handleCreate)
	srv.handle(mux, "GET /api/v1/bookings", permReadBookings, srv.handleList)
	srv.handle(mux, "GET /api/v1/bookings/export", permExportBookings, srv.handleExport)
	srv.handle(mux, "GET /api/v1/bookings/{code}", permReadBookings, srv.handleGet)
	srv.handle(mux, "POST /api/v1/bookings/{code}/transitions", permWriteBookings, srv.handleTransition)
	srv.handle(mux, "POST /api/v1/bookings/{code}/payments", permWritePayments, srv.handlePayment)
	srv.handle(mux, "POST /api/v1/bookings/{code}/notes", permWriteBookings, srv.handleNote)
	srv.handle(mux, "PATCH /api/v1/bookings/{code}/charges", permWriteBookings, srv.handleCharges)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           requestLogger(srv.logger, srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) handle(mux *http.ServeMux, pattern, perm string, h http.HandlerFunc) {
	if perm != "" {
		h = s.auth.require(perm, h)
	}
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if rec, ok := w.(*statusRecorder); ok {
			rec.route = pattern
		}
		h(w, r)
	})
}

// Handler returns the root handler, mostly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in models.CreateBookingInput
	if !decodeBody(w, r, &in) {
		return
	}
	actorID, err := s.auth.actorID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	// Заявку создаёт сам пользователь
	if actorID != "" && actorID != in.UserID {
		s.writeServiceError(w, r, fmt.Errorf("%w: bookings are opened by the user", models.ErrActorNotPermitted))
		return
	}

	booking, err := s.service.CreateBooking(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/bookings/"+booking.BookingID)
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	bookings, err := s.service.ListBookings(r.Context(), filterFromQuery(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings, "count": len(bookings)})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	bookings, err := s.service.ListBookings(r.Context(), filterFromQuery(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteBookings(&buf, bookings); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	fileName := fmt.Sprintf("bookings_%s.xlsx", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, &buf)
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	booking, err := s.service.GetBooking(r.Context(), r.PathValue("code"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req models.TransitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	actorID, err := s.auth.actorID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	req.ActorID = actorID

	booking, err := s.service.TransitionBooking(r.Context(), r.PathValue("code"), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// handlePayment accepts gateway callbacks and provider cash confirmations.
// Without an actor header the report is attributed to the gateway.
func (s *HTTPServer) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	actorID, err := s.auth.actorID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	req.ActorID = actorID

	booking, err := s.service.ApplyPayment(r.Context(), r.PathValue("code"), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleNote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	actorID, err := s.auth.actorID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	booking, err := s.service.AppendNote(r.Context(), r.PathValue("code"), actorID, body.Text)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleCharges(w http.ResponseWriter, r *http.Request) {
	var req models.ChargeUpdate
	if !decodeBody(w, r, &req) {
		return
	}
	actorID, err := s.auth.actorID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	req.ActorID = actorID

	booking, err := s.service.UpdateCharges(r.Context(), r.PathValue("code"), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func filterFromQuery(r *http.Request) models.BookingFilter {
	q := r.URL.Query()
	return models.BookingFilter{
		UserID:     strings.TrimSpace(q.Get("userId")),
		ProviderID: strings.TrimSpace(q.Get("providerId")),
		Status:     models.Status(strings.TrimSpace(q.Get("status"))),
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorBody{Error: message, Code: code})
}
