package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/delivery-dispatch/internal/apperrors"
	"github.com/example/delivery-dispatch/internal/inbox"
	"github.com/example/delivery-dispatch/internal/ledger"
	"github.com/example/delivery-dispatch/internal/location"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/profiles"
	"github.com/example/delivery-dispatch/internal/session"
)

const maxBodyBytes = 1 << 20

type Services struct {
	Ledger   *ledger.Service
	Inbox    *inbox.Inbox
	Location *location.Service
	Profiles *profiles.Service
}

type Server struct {
	svc    Services
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(svc Services, logger *slog.Logger) *Server {
	s := &Server{svc: svc, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.sessionMiddleware)
	api.HandleFunc("/profiles", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/tokens", s.handleRegisterToken).Methods(http.MethodPut)
	api.HandleFunc("/restaurants", s.handleListRestaurants).Methods(http.MethodGet)
	api.HandleFunc("/customers/location", s.handleCustomerLocation).Methods(http.MethodPut)
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/track", s.handleTrackOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/accept", s.handleAcceptOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/decline", s.handleDeclineOrder).Methods(http.MethodPost)
	api.HandleFunc("/drivers/location", s.handleDriverLocation).Methods(http.MethodPut)
	api.HandleFunc("/drivers/location", s.handleStopSharing).Methods(http.MethodDelete)
	api.HandleFunc("/driver-requests", s.handleListRequests).Methods(http.MethodGet)
	api.HandleFunc("/driver-requests/{id}/accept", s.handleAcceptRequest).Methods(http.MethodPost)

	ws := s.mux.PathPrefix("/ws").Subrouter()
	ws.Use(s.sessionMiddleware)
	ws.HandleFunc("/driver-requests", s.handleInboxWS).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in profiles.RegisterInput
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.svc.Profiles.Register(r.Context(), actorFrom(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRegisterToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Profiles.RegisterToken(r.Context(), actorFrom(r), body.Token); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRestaurants(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Profiles.ListRestaurants(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCustomerLocation(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCoord(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cust, err := s.svc.Location.SetCustomerLocation(r.Context(), actorFrom(r), c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cust)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var in ledger.PlaceOrderInput
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.svc.Ledger.PlaceOrder(r.Context(), actorFrom(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Ledger.List(r.Context(), actorFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.Ledger.Get(r.Context(), actorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleTrackOrder(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Ledger.Track(r.Context(), actorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleAcceptOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.Ledger.Accept(r.Context(), actorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleDeclineOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.Ledger.Decline(r.Context(), actorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCoord(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.svc.Location.ReportDriver(r.Context(), actorFrom(r), c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleStopSharing(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Location.StopSharing(r.Context(), actorFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Inbox.List(r.Context(), actorFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.Inbox.Accept(r.Context(), actorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func actorFrom(r *http.Request) session.Actor {
	a, _ := session.FromContext(r.Context())
	return a
}

type errorBody struct {
	Error   string                       `json:"error"`
	Details []apperrors.ValidationDetail `json:"details,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	body := errorBody{Error: err.Error()}
	if ve, ok := apperrors.IsValidationError(err); ok {
		body.Details = ve.Details
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.NewValidationError("request body required")
		}
		return apperrors.NewValidationError("invalid JSON body",
			apperrors.ValidationDetail{Field: "body", Message: err.Error()})
	}
	return nil
}

func decodeCoord(w http.ResponseWriter, r *http.Request) (models.Coord, error) {
	var body struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if err := decode(w, r, &body); err != nil {
		return models.Coord{}, err
	}
	var details []apperrors.ValidationDetail
	if body.Lat == nil {
		details = append(details, apperrors.ValidationDetail{Field: "lat", Message: "required"})
	}
	if body.Lng == nil {
		details = append(details, apperrors.ValidationDetail{Field: "lng", Message: "required"})
	}
	if len(details) > 0 {
		return models.Coord{}, apperrors.NewValidationError("invalid coordinate", details...)
	}
	return models.Coord{Lat: *body.Lat, Lng: *body.Lng}, nil
}
