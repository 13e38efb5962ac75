package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/action"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/webhook"
)

const defaultListLimit = 50

// Server — HTTP-поверхность сервиса: intake вебхуков, чтение заказов
// и действия пользователя.
type Server struct {
	router   *mux.Router
	pipeline *webhook.Pipeline
	gateway  *action.Gateway
	orders   domain.OrderRepository
	logger   *log.Entry
}

// Config собирает зависимости HTTP-сервера.
type Config struct {
	Pipeline *webhook.Pipeline
	Gateway  *action.Gateway
	Orders   domain.OrderRepository
	Health   *health.Handler
	Logger   *log.Entry
}

// NewServer создаёт Server и регистрирует маршруты.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New().WithField("component", "api")
	}
	s := &Server{
		router:   mux.NewRouter(),
		pipeline: cfg.Pipeline,
		gateway:  cfg.Gateway,
		orders:   cfg.Orders,
		logger:   logger,
	}
	s.routes(cfg.Health)
	return s
}

// Router возвращает корневой http.Handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes(healthHandler *health.Handler) {
	s.router.HandleFunc("/api/webhooks/zinc", s.handleWebhook).Methods(http.MethodPost)

	s.router.HandleFunc("/api/orders", s.handleCreateOrder).Methods(http.MethodPost)
	s.router.HandleFunc("/api/orders", s.handleListOrders).Methods(http.MethodGet)
	s.router.HandleFunc("/api/orders/{request_id}", s.handleGetOrder).Methods(http.MethodGet)

	s.router.HandleFunc("/api/orders/{request_id}/abort", s.handleAbort).Methods(http.MethodPost)
	s.router.HandleFunc("/api/orders/{request_id}/cancel", s.handleCancel).Methods(http.MethodPost)
	s.router.HandleFunc("/api/orders/{request_id}/retry", s.handleRetry).Methods(http.MethodPost)
	s.router.HandleFunc("/api/orders/{request_id}/return", s.handleReturn).Methods(http.MethodPost)
	s.router.HandleFunc("/api/orders/{request_id}/case", s.handleCaseGet).Methods(http.MethodGet)
	s.router.HandleFunc("/api/orders/{request_id}/case", s.handleCasePost).Methods(http.MethodPost)

	s.router.HandleFunc("/api/products/{asin}", s.handleGetProduct).Methods(http.MethodGet)

	if healthHandler != nil {
		s.router.Handle("/health", healthHandler).Methods(http.MethodGet)
		s.router.HandleFunc("/health/live", health.LivenessHandler).Methods(http.MethodGet)
		s.router.HandleFunc("/health/ready", healthHandler.ReadinessHandler).Methods(http.MethodGet)
	}
}

// orderView — представление заказа в ответах API.
type orderView struct {
	ID             string                 `json:"id"`
	RequestID      string                 `json:"request_id"`
	UserID         string                 `json:"user_id,omitempty"`
	ASINList       []string               `json:"asin_list"`
	Status         string                 `json:"status"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

type eventView struct {
	ID         int64     `json:"id"`
	EventType  string    `json:"event_type"`
	ReceivedAt time.Time `json:"received_at"`
}

type cancellationView struct {
	ID              int64  `json:"id"`
	RequestID       string `json:"request_id"`
	MerchantOrderID string `json:"merchant_order_id"`
	Status          string `json:"status"`
}

type returnView struct {
	ID        int64    `json:"id"`
	RequestID string   `json:"request_id"`
	Status    string   `json:"status"`
	LabelURLs []string `json:"label_urls,omitempty"`
}

type caseView struct {
	ID      int64                  `json:"id"`
	CaseID  string                 `json:"case_id,omitempty"`
	Status  string                 `json:"status"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

func toOrderView(order domain.Order) orderView {
	return orderView{
		ID:             order.ID,
		RequestID:      order.RequestID,
		UserID:         order.UserID,
		ASINList:       order.ASINList,
		Status:         string(order.Status),
		Payload:        order.Payload,
		IdempotencyKey: order.IdempotencyKey,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}
}

func toEventViews(events []domain.OrderEvent) []eventView {
	views := make([]eventView, 0, len(events))
	for _, event := range events {
		views = append(views, eventView{
			ID:         event.ID,
			EventType:  string(event.Type),
			ReceivedAt: event.ReceivedAt,
		})
	}
	return views
}

func toCaseView(c domain.Case) caseView {
	return caseView{ID: c.ID, CaseID: c.CaseID, Status: c.Status, Payload: c.Payload}
}
