package zinc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	// DefaultBaseURL — production endpoint провайдера.
	DefaultBaseURL = "https://api.zinc.io/v1"
	// DefaultTimeout ограничивает каждый RPC-вызов к провайдеру.
	DefaultTimeout = 30 * time.Second

	defaultRetailer = "amazon"
)

// Client — HTTP-клиент API провайдера. Авторизация basic auth:
// токен как имя пользователя, пароль пустой.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *log.Entry
}

// Option настраивает клиент при создании.
type Option func(*Client)

// WithBaseURL переопределяет endpoint (для тестов и песочницы).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithTimeout переопределяет таймаут RPC-вызовов.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.httpc.Timeout = timeout }
}

// WithHTTPClient подменяет транспорт целиком.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// NewClient создаёт клиент провайдера.
func NewClient(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, errors.New("zinc: client token is required")
	}
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		httpc:   &http.Client{Timeout: DefaultTimeout},
		logger:  log.WithField("component", "zinc-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateOrder размещает заказ у провайдера.
func (c *Client) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.ProviderResponse, error) {
	body := map[string]interface{}{
		"retailer":         defaultRetailer,
		"products":         req.Products,
		"shipping_address": req.ShippingAddress,
		"shipping_method":  req.ShippingMethod,
		"max_price":        req.MaxPriceMinor,
		"is_gift":          req.IsGift,
		"addax":            true,
		"idempotency_key":  req.IdempotencyKey,
		"webhooks":         req.Webhooks,
	}
	if req.GiftMessage != "" {
		body["gift_message"] = req.GiftMessage
	}
	return c.do(ctx, http.MethodPost, "/orders", body)
}

// Abort прерывает ещё не размещённый заказ.
func (c *Client) Abort(ctx context.Context, requestID string) (domain.ProviderResponse, error) {
	return c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(requestID)+"/abort", nil)
}

// Cancel запрашивает отмену merchant-заказа.
func (c *Client) Cancel(ctx context.Context, requestID, merchantOrderID string, webhooks map[string]string) (domain.ProviderResponse, error) {
	body := map[string]interface{}{
		"merchant_order_id": merchantOrderID,
	}
	if len(webhooks) > 0 {
		body["webhooks"] = webhooks
	}
	return c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(requestID)+"/cancel", body)
}

// Retry повторяет неудавшийся заказ с тем же request_id.
func (c *Client) Retry(ctx context.Context, requestID string) (domain.ProviderResponse, error) {
	return c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(requestID)+"/retry", nil)
}

// Return оформляет возврат по заказу.
func (c *Client) Return(ctx context.Context, requestID string, req domain.ReturnRequest) (domain.ProviderResponse, error) {
	body := map[string]interface{}{
		"products":       req.Products,
		"reason_code":    req.ReasonCode,
		"method_code":    req.MethodCode,
		"explanation":    req.Explanation,
		"cancel_pending": req.CancelPending,
	}
	if req.ReturnAddress != nil {
		body["return_address"] = req.ReturnAddress
	}
	if len(req.Webhooks) > 0 {
		body["webhooks"] = req.Webhooks
	}
	return c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(requestID)+"/return", body)
}

// ProductDetails читает карточку товара у ритейлера по умолчанию.
func (c *Client) ProductDetails(ctx context.Context, productID string) (domain.ProviderResponse, error) {
	return c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(productID)+"?retailer="+defaultRetailer, nil)
}

// CaseGet читает состояние кейса по заказу.
func (c *Client) CaseGet(ctx context.Context, providerOrderID string) (domain.ProviderResponse, error) {
	return c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(providerOrderID)+"/case", nil)
}

// CaseCreateOrUpdate создаёт кейс или добавляет в него сообщение.
func (c *Client) CaseCreateOrUpdate(ctx context.Context, providerOrderID string, req domain.CaseRequest) (domain.ProviderResponse, error) {
	body := map[string]interface{}{
		"message": req.Message,
	}
	if req.Reason != "" {
		body["reason"] = req.Reason
	}
	return c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(providerOrderID)+"/case", body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (domain.ProviderResponse, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return domain.ProviderResponse{}, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return domain.ProviderResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.token, "")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			return domain.ProviderResponse{}, &APIError{Message: "request timeout", Code: CodeTimeout}
		}
		return domain.ProviderResponse{}, &APIError{Message: err.Error()}
	}
	defer resp.Body.Close()

	var raw map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		raw = nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			Message: fmt.Sprintf("request failed with status %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
		if raw != nil {
			if msg, ok := raw["message"].(string); ok && msg != "" {
				apiErr.Message = msg
			}
			if code, ok := raw["code"].(string); ok {
				apiErr.Code = code
			}
			if data, ok := raw["data"].(map[string]interface{}); ok {
				apiErr.Data = data
			}
		}
		c.logger.WithFields(log.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
			"code":   apiErr.Code,
		}).Warn("provider request rejected")
		return domain.ProviderResponse{}, apiErr
	}

	return parseResponse(raw), nil
}

// isClientTimeout ловит таймаут http.Client, который приходит как url.Error.
func isClientTimeout(err error) bool {
	var uerr *url.Error
	return errors.As(err, &uerr) && uerr.Timeout()
}

func parseResponse(raw map[string]interface{}) domain.ProviderResponse {
	resp := domain.ProviderResponse{Raw: raw}
	if raw == nil {
		return resp
	}
	if id, ok := raw["request_id"].(string); ok {
		resp.RequestID = id
	}
	if id, ok := raw["case_id"].(string); ok {
		resp.CaseID = id
	}
	if state, ok := raw["state"].(string); ok {
		resp.CaseState = state
	}
	return resp
}

var _ domain.FulfillmentProvider = (*Client)(nil)
