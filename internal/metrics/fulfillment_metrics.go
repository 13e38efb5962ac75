package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics содержит метрики ingestion-пайплайна и action gateway.
type FulfillmentMetrics struct {
	// Счётчики вебхуков
	webhooksReceived  *prometheus.CounterVec
	webhooksUnmatched prometheus.Counter
	webhooksMalformed prometheus.Counter

	// Переходы статусов заказов
	statusTransitions *prometheus.CounterVec

	// Действия пользователей
	actions *prometheus.CounterVec

	// Гистограммы времени выполнения
	ingestDuration   prometheus.Histogram
	providerDuration *prometheus.HistogramVec
}

// NewFulfillmentMetrics создаёт и регистрирует метрики в default registerer.
func NewFulfillmentMetrics() *FulfillmentMetrics {
	return newFulfillmentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newFulfillmentMetricsWithRegisterer(registerer prometheus.Registerer) *FulfillmentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &FulfillmentMetrics{
		webhooksReceived: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_webhooks_received_total",
			Help: "Total number of provider webhooks received, by event type",
		}, []string{"event_type"}),
		webhooksUnmatched: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_webhooks_unmatched_total",
			Help: "Webhooks acknowledged without a matching order (unknown or missing request_id)",
		}),
		webhooksMalformed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_webhooks_malformed_total",
			Help: "Webhooks whose body was not a JSON object",
		}),
		statusTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_order_status_transitions_total",
			Help: "Order status transitions applied, by new status",
		}, []string{"status"}),
		actions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_actions_total",
			Help: "User-triggered actions, by action and result",
		}, []string{"action", "result"}),
		ingestDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "fulfillment_ingest_duration_seconds",
			Help:    "Duration of webhook ingestion in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		providerDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "fulfillment_provider_request_duration_seconds",
			Help:    "Duration of provider RPC calls in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}, []string{"operation"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordWebhookReceived увеличивает счётчик принятых вебхуков.
func (m *FulfillmentMetrics) RecordWebhookReceived(eventType string) {
	m.webhooksReceived.WithLabelValues(eventType).Inc()
}

// RecordWebhookUnmatched увеличивает счётчик вебхуков без заказа.
func (m *FulfillmentMetrics) RecordWebhookUnmatched() {
	m.webhooksUnmatched.Inc()
}

// RecordWebhookMalformed увеличивает счётчик нечитаемых вебхуков.
func (m *FulfillmentMetrics) RecordWebhookMalformed() {
	m.webhooksMalformed.Inc()
}

// RecordStatusTransition увеличивает счётчик переходов в новый статус.
func (m *FulfillmentMetrics) RecordStatusTransition(status string) {
	m.statusTransitions.WithLabelValues(status).Inc()
}

// RecordAction увеличивает счётчик действий (result: ok|rejected|provider_error).
func (m *FulfillmentMetrics) RecordAction(action, result string) {
	m.actions.WithLabelValues(action, result).Inc()
}

// RecordIngestDuration записывает время обработки вебхука.
func (m *FulfillmentMetrics) RecordIngestDuration(duration time.Duration) {
	m.ingestDuration.Observe(duration.Seconds())
}

// RecordProviderDuration записывает время RPC-вызова провайдера.
func (m *FulfillmentMetrics) RecordProviderDuration(operation string, duration time.Duration) {
	m.providerDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
