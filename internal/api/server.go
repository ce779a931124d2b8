// Package api exposes the orders service over REST.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"gold-exchange-go/internal/models"
	"gold-exchange-go/internal/orders"
)

// UserHeader carries the authenticated caller's id, set by the gateway in front of this service.
const UserHeader = "X-User-ID"

// OrderService is the subset of orders.Service the API needs.
type OrderService interface {
	Create(ctx context.Context, userID uint, req orders.CreateOrder) (*models.Order, bool, error)
	Get(ctx context.Context, userID, orderID uint) (*orders.OrderDetail, error)
	List(ctx context.Context, userID uint, page, perPage int) (*orders.Page, error)
	Cancel(ctx context.Context, userID, orderID uint) (*models.Order, error)
	Balance(ctx context.Context, userID uint) (*models.Account, error)
}

var _ OrderService = (*orders.Service)(nil)

// Server routes REST requests to the orders service.
type Server struct {
	orders         OrderService
	router         *mux.Router
	allowedOrigins []string
	log            *zap.Logger
}

// NewServer creates a new Server with all routes registered.
func NewServer(svc OrderService, allowedOrigins []string, log *zap.Logger) *Server {
	s := &Server{
		orders:         svc,
		router:         mux.NewRouter(),
		allowedOrigins: allowedOrigins,
		log:            log.Named("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.requireUser)

	api.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id:[0-9]+}/cancel", s.handleCancelOrder).Methods(http.MethodPost)
	api.HandleFunc("/account", s.handleGetAccount).Methods(http.MethodGet)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the router wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Idempotency-Key", UserHeader},
	})
	return c.Handler(s.router)
}

type ctxKey struct{}

// requireUser rejects requests without a numeric caller id.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(r.Header.Get(UserHeader), 10, 64)
		if err != nil || id == 0 {
			respondError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid "+UserHeader)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, uint(id))))
	})
}

func userID(r *http.Request) uint {
	id, _ := r.Context().Value(ctxKey{}).(uint)
	return id
}

func orderID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	return uint(id), err == nil
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	result, err := s.orders.List(r.Context(), userID(r), page, perPage)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	list := OrderList{
		Data: make([]OrderView, 0, len(result.Orders)),
		Meta: PageMeta{Page: result.Page, PerPage: result.PerPage, Total: result.Total},
	}
	for i := range result.Orders {
		list.Data = append(list.Data, newOrderView(&result.Orders[i]))
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	order, created, err := s.orders.Create(r.Context(), userID(r), orders.CreateOrder{
		Side:           req.Side,
		Amount:         req.Amount,
		PricePerUnit:   req.PricePerUnit,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	respondJSON(w, status, newOrderView(order))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}

	detail, err := s.orders.Get(r.Context(), userID(r), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newOrderDetailView(detail))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}

	if _, err := s.orders.Cancel(r.Context(), userID(r), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, MessageResponse{Message: "Order cancelled successfully."})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.orders.Balance(r.Context(), userID(r))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, AccountView{
		UserID:           account.UserID,
		BalanceCurrency:  account.BalanceCurrency,
		BalanceCommodity: account.BalanceCommodity.InexactFloat64(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondServiceError maps service errors to status codes.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrInvalidOrder):
		respondError(w, http.StatusUnprocessableEntity, "invalid order", err.Error())
	case errors.Is(err, orders.ErrNotFound):
		respondError(w, http.StatusNotFound, "order not found", "")
	case errors.Is(err, orders.ErrNotCancellable):
		respondError(w, http.StatusBadRequest, "Order cannot be cancelled.", err.Error())
	default:
		s.log.Error("Request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code string, message string) {
	respondJSON(w, status, ErrorResponse{Error: code, Message: message})
}
