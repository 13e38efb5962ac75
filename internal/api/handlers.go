package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// maxWebhookBody ограничивает размер тела вебхука.
const maxWebhookBody = 1 << 20

// handleWebhook принимает нотификацию провайдера. Любое тело подтверждается
// статусом 200: провайдер бесконечно ретраит не-2xx ответы.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.logger.WithError(err).Warn("failed to read webhook body")
		body = nil
	}

	ack := s.pipeline.Ingest(body)
	respondJSON(w, http.StatusOK, ack)
}

type createOrderRequest struct {
	UserID          string                   `json:"user_id"`
	Products        []domain.ProviderProduct `json:"products"`
	ShippingAddress domain.ShippingAddress   `json:"shipping_address"`
	MaxPrice        int64                    `json:"max_price"`
	ShippingMethod  string                   `json:"shipping_method"`
	IsGift          bool                     `json:"is_gift"`
	GiftMessage     string                   `json:"gift_message"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errorEnvelope{Error: "invalid request body", Code: "invalid_request"})
		return
	}

	result, err := s.gateway.Create(r.Context(), req.UserID, domain.CreateOrderRequest{
		Products:        req.Products,
		ShippingAddress: req.ShippingAddress,
		MaxPriceMinor:   req.MaxPrice,
		ShippingMethod:  req.ShippingMethod,
		IsGift:          req.IsGift,
		GiftMessage:     req.GiftMessage,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, toOrderView(result.Order))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")

	limit := defaultListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, errorEnvelope{Error: "invalid value for 'limit' parameter", Code: "invalid_request"})
			return
		}
		limit = parsed
	}

	orders, err := s.orders.ListByUser(userID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]orderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, toOrderView(order))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"orders": views})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["request_id"]

	order, err := s.orders.GetByRequestID(requestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	events, err := s.orders.ListEvents(order.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"order":  toOrderView(order),
		"events": toEventViews(events),
	})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["request_id"]

	order, err := s.gateway.Abort(r.Context(), requestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toOrderView(order))
}

type cancelRequest struct {
	MerchantOrderID string `json:"merchant_order_id"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["request_id"]

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errorEnvelope{Error: "invalid request body", Code: "invalid_request"})
		return
	}

	result, err := s.gateway.Cancel(r.Context(), requestID, req.MerchantOrderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"order": toOrderView(result.Order),
		"cancellation": cancellationView{
			ID:              result.Cancellation.ID,
			RequestID:       result.Cancellation.RequestID,
			MerchantOrderID: result.Cancellation.MerchantOrderID,
			Status:          result.Cancellation.Status,
		},
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["request_id"]

	order, err := s.gateway.Retry(r.Context(), requestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toOrderView(order))
}

type returnRequest struct {
	Products      []domain.ProviderProduct `json:"products"`
	ReasonCode    string                   `json:"reason_code"`
	MethodCode    string                   `json:"method_code"`
	Explanation   string                   `json:"explanation"`
	CancelPending bool                     `json:"cancel_pending"`
	ReturnAddress *domain.ShippingAddress  `json:"return_address,omitempty"`
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["request_id"]

	var req returnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errorEnvelope{Error: "invalid request body", Code: "invalid_request"})
		return
	}

	result, err := s.gateway.Return(r.Context(), requestID, domain.ReturnRequest{
		Products:      req.Products,
		ReasonCode:    req.ReasonCode,
		MethodCode:    req.MethodCode,
		Explanation:   req.Explanation,
		CancelPending: req.CancelPending,
		ReturnAddress: req.ReturnAddress,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, returnView{
		ID:        result.Return.ID,
		RequestID: result.Return.RequestID,
		Status:    result.Return.Status,
		LabelURLs: result.Return.LabelURLs,
	})
}

// handleGetProduct проксирует карточку товара от провайдера как есть.
func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["asin"]

	resp, err := s.gateway.ProductDetails(r.Context(), productID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp.Raw)
}

func (s *Server) handleCaseGet(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["request_id"]

	result, err := s.gateway.CaseGet(r.Context(), requestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toCaseView(result.Case))
}

type caseRequest struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (s *Server) handleCasePost(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["request_id"]

	var req caseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errorEnvelope{Error: "invalid request body", Code: "invalid_request"})
		return
	}

	result, err := s.gateway.CaseCreateOrUpdate(r.Context(), requestID, domain.CaseRequest{
		Reason:  req.Reason,
		Message: req.Message,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toCaseView(result.Case))
}
