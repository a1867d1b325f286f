package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gmartinelli/pedidos/internal/bus"
	"github.com/gmartinelli/pedidos/internal/domain"
	"github.com/gmartinelli/pedidos/internal/gateway"
	"github.com/gmartinelli/pedidos/internal/pipeline"
	"github.com/gmartinelli/pedidos/internal/service"
)

// AuthFunc validates basic-auth credentials. Remote mode checks the
// users table; local mode accepts any reference-list user.
type AuthFunc func(ctx context.Context, username, password string) (bool, error)

type Server struct {
	svc    *service.OrderService
	bus    *bus.Bus
	auth   AuthFunc
	logger *zap.Logger
	server *http.Server
}

func New(svc *service.OrderService, eventBus *bus.Bus, auth AuthFunc, logger *zap.Logger) *Server {
	return &Server{
		svc:    svc,
		bus:    eventBus,
		auth:   auth,
		logger: logger,
	}
}

func (s *Server) Run(ctx context.Context, port string) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the events stream stays open
	}

	s.logger.Info("server starting", zap.String("port", port))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() http.Handler {
	router := mux.NewRouter()

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/").Subrouter()
	api.Use(s.basicAuthMiddleware)

	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.handleUpdateOrder).Methods(http.MethodPut)
	api.HandleFunc("/orders/{id}", s.handleDeleteOrder).Methods(http.MethodDelete)
	api.HandleFunc("/orders/{id}/transition", s.handleTransition).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/payment", s.handleConfirmPayment).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/claim", s.handleClaim).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/claim", s.handleRelease).Methods(http.MethodDelete)
	api.HandleFunc("/orders/{id}/next-action", s.handleNextAction).Methods(http.MethodGet)
	api.HandleFunc("/users", s.handleListUsers).Methods(http.MethodGet)
	api.HandleFunc("/session/user", s.handleGetSessionUser).Methods(http.MethodGet)
	api.HandleFunc("/session/user", s.handleSelectSessionUser).Methods(http.MethodPut)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	return router
}

type contextKey string

const userContextKey contextKey = "acting-user"

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		valid, err := s.auth(r.Context(), username, password)
		if err != nil || !valid {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		user, err := s.svc.ResolveUser(r.Context(), username)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}

func actingUser(r *http.Request) domain.User {
	user, _ := r.Context().Value(userContextKey).(domain.User)
	return user
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps the error taxonomy onto HTTP: preconditions are the
// caller's fault, everything else is a backend failure.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, gateway.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrOrderExists),
		errors.Is(err, gateway.ErrAlreadyClaimed),
		errors.Is(err, pipeline.ErrClaimedByOther):
		return http.StatusConflict
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrUnknownUser),
		errors.Is(err, pipeline.ErrInvalidTransition),
		errors.Is(err, pipeline.ErrRoleNotAllowed),
		errors.Is(err, pipeline.ErrSamePersonControl),
		errors.Is(err, pipeline.ErrUnresolvedShortage),
		errors.Is(err, pipeline.ErrNotPaid),
		errors.Is(err, pipeline.ErrNotClaimable),
		errors.Is(err, pipeline.ErrCashOnly):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var input service.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := s.svc.Create(r.Context(), input, actingUser(r))
	if err != nil {
		respondError(w, errorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	buckets, err := s.svc.List(r.Context(), force)
	if err != nil {
		respondError(w, errorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, errorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	var order domain.Order
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	order.ID = mux.Vars(r)["id"]

	updated, err := s.svc.UpdateOrder(r.Context(), order, actingUser(r))
	if err != nil {
		respondError(w, errorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondError(w, errorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Order deleted"})
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target         string `json:"target"`
		PaidOnDelivery bool   `json:"paid_on_delivery"`
		Notes          string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	target, err := domain.ParseStatus(req.Target)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := s.svc.Transition(r.Context(), mux.Vars(r)["id"], target, actingUser(r),
		pipeline.TransitionOpts{PaidOnDelivery: req.PaidOnDelivery, Notes: req.Notes})
	if err != nil {
		respondError(w, errorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	order, err := s.svc.ConfirmPayment(r.Context(), mux.Vars(r)["id"], actingUser(r))
	if err != nil {
		respondError(w, errorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	order, err := s.svc.Claim(r.Context(), mux.Vars(r)["id"], actingUser(r))
	if err != nil {
		respondError(w, errorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	order, err := s.svc.Release(r.Context(), mux.Vars(r)["id"], actingUser(r), force)
	if err != nil {
		respondError(w, errorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleNextAction(w http.ResponseWriter, r *http.Request) {
	order, err := s.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, errorStatus(err), err.Error())
		return
	}
	action := pipeline.NextAction(&order, actingUser(r))
	if action == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"action": nil})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"action": action})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.svc.Users(r.Context())
	if err != nil {
		respondError(w, errorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, users)
}

func (s *Server) handleGetSessionUser(w http.ResponseWriter, r *http.Request) {
	user := s.svc.SessionUser()
	if user == nil {
		respondError(w, http.StatusNotFound, service.ErrNoSessionKey.Error())
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (s *Server) handleSelectSessionUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	user, err := s.svc.SelectUser(r.Context(), req.Name)
	if err != nil {
		respondError(w, errorStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// handleEvents streams bus notifications to the client as SSE. The
// subscription is dropped symmetrically when the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	user := actingUser(r)
	events, cancel := s.bus.Subscribe(user.Name)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
