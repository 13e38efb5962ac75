package zinc

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// MockClient — конфигурируемая заглушка FulfillmentProvider для тестов.
type MockClient struct {
	mu sync.Mutex

	CreateResp domain.ProviderResponse
	CreateErr  error
	AbortResp  domain.ProviderResponse
	AbortErr   error
	CancelResp domain.ProviderResponse
	CancelErr  error
	RetryResp  domain.ProviderResponse
	RetryErr   error
	ReturnResp  domain.ProviderResponse
	ReturnErr   error
	CaseResp    domain.ProviderResponse
	CaseErr     error
	ProductResp domain.ProviderResponse
	ProductErr  error

	CreateCalls   int
	AbortCalls    int
	CancelCalls   int
	RetryCalls    int
	ReturnCalls   int
	CaseGetCalls  int
	CasePostCalls int
	ProductCalls  int

	// LastCancelMerchantOrderID запоминает аргументы для проверок в тестах.
	LastCancelMerchantOrderID string
	LastRequestID             string
	LastCaseRequest           domain.CaseRequest
	LastProductID             string
}

// NewMockClient возвращает mock с пустыми успешными ответами по умолчанию.
func NewMockClient() *MockClient {
	return &MockClient{
		CreateResp: domain.ProviderResponse{RequestID: "req-mock"},
	}
}

func (m *MockClient) CreateOrder(_ context.Context, _ domain.CreateOrderRequest) (domain.ProviderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	return m.CreateResp, m.CreateErr
}

func (m *MockClient) Abort(_ context.Context, requestID string) (domain.ProviderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AbortCalls++
	m.LastRequestID = requestID
	return m.AbortResp, m.AbortErr
}

func (m *MockClient) Cancel(_ context.Context, requestID, merchantOrderID string, _ map[string]string) (domain.ProviderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelCalls++
	m.LastRequestID = requestID
	m.LastCancelMerchantOrderID = merchantOrderID
	return m.CancelResp, m.CancelErr
}

func (m *MockClient) Retry(_ context.Context, requestID string) (domain.ProviderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RetryCalls++
	m.LastRequestID = requestID
	return m.RetryResp, m.RetryErr
}

func (m *MockClient) Return(_ context.Context, requestID string, _ domain.ReturnRequest) (domain.ProviderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReturnCalls++
	m.LastRequestID = requestID
	return m.ReturnResp, m.ReturnErr
}

func (m *MockClient) CaseGet(_ context.Context, providerOrderID string) (domain.ProviderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CaseGetCalls++
	m.LastRequestID = providerOrderID
	return m.CaseResp, m.CaseErr
}

func (m *MockClient) CaseCreateOrUpdate(_ context.Context, providerOrderID string, req domain.CaseRequest) (domain.ProviderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CasePostCalls++
	m.LastRequestID = providerOrderID
	m.LastCaseRequest = req
	return m.CaseResp, m.CaseErr
}

func (m *MockClient) ProductDetails(_ context.Context, productID string) (domain.ProviderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProductCalls++
	m.LastProductID = productID
	return m.ProductResp, m.ProductErr
}

var _ domain.FulfillmentProvider = (*MockClient)(nil)
