package webhook

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

// Ack — результат приёма вебхука. Приём всегда успешен с точки зрения
// провайдера; поля заполняются для логов и ответа intake-эндпоинта.
type Ack struct {
	Received  bool   `json:"received"`
	OrderID   string `json:"order_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Pipeline принимает вебхуки провайдера: записывает событие в аудит,
// вычисляет новый статус и атомарно применяет обновление к заказу.
type Pipeline struct {
	orders        domain.OrderRepository
	logger        *log.Entry
	metrics       *metrics.FulfillmentMetrics
	kafkaProducer *kafka.Producer // опциональный producer для публикации событий
}

// NewPipeline создаёт рабочий экземпляр пайплайна.
func NewPipeline(orders domain.OrderRepository, logger *log.Entry) *Pipeline {
	if logger == nil {
		logger = log.New().WithField("component", "webhook")
	}
	return &Pipeline{
		orders:  orders,
		logger:  logger,
		metrics: metrics.NewFulfillmentMetrics(),
	}
}

// NewPipelineWithKafka создаёт пайплайн с публикацией событий в Kafka.
func NewPipelineWithKafka(orders domain.OrderRepository, producer *kafka.Producer, logger *log.Entry) *Pipeline {
	p := NewPipeline(orders, logger)
	p.kafkaProducer = producer
	return p
}

// NewPipelineWithoutMetrics создаёт пайплайн без метрик (для тестов).
func NewPipelineWithoutMetrics(orders domain.OrderRepository, logger *log.Entry) *Pipeline {
	if logger == nil {
		logger = log.New().WithField("component", "webhook")
	}
	return &Pipeline{orders: orders, logger: logger}
}

// Ingest обрабатывает тело вебхука. Метод никогда не возвращает ошибку:
// провайдер бесконечно ретраит не-2xx ответы, поэтому любая внутренняя
// проблема превращается в подтверждение приёма. Повторная доставка того же
// вебхука добавляет ещё одну запись в аудит, но итоговый статус заказа
// идемпотентен.
func (p *Pipeline) Ingest(body []byte) Ack {
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordIngestDuration(time.Since(start))
		}
	}()

	payload, ok := Parse(body)
	if !ok {
		p.logger.Warn("webhook body is not a JSON object, acknowledging")
		if p.metrics != nil {
			p.metrics.RecordWebhookMalformed()
		}
		return Ack{Received: true}
	}

	routingKey := payload.RoutingKey()
	if routingKey == "" {
		p.logger.Warn("webhook without request_id, acknowledging without side effects")
		if p.metrics != nil {
			p.metrics.RecordWebhookUnmatched()
		}
		return Ack{Received: true}
	}

	order, err := p.orders.GetByRequestID(routingKey)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			// Неизвестный request_id подтверждаем молча: ошибкой мы бы
			// только спровоцировали бесконечные повторы провайдера.
			p.logger.WithField("request_id", routingKey).Warn("webhook for unknown order, acknowledging")
		} else {
			p.logger.WithError(err).WithField("request_id", routingKey).Error("order lookup failed, acknowledging")
		}
		if p.metrics != nil {
			p.metrics.RecordWebhookUnmatched()
		}
		return Ack{Received: true}
	}

	eventType := Classify(payload)
	if p.metrics != nil {
		p.metrics.RecordWebhookReceived(string(eventType))
	}

	applied, err := p.apply(order, payload, eventType, body)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"order_id":   order.ID,
			"event_type": eventType,
		}).Error("failed to apply webhook, acknowledging anyway")
		return Ack{Received: true}
	}

	p.logger.WithFields(log.Fields{
		"order_id":   applied.ID,
		"request_id": applied.RequestID,
		"event_type": eventType,
		"status":     applied.Status,
	}).Info("webhook applied")

	kafkaEventType := kafka.EventTypeWebhookReceived
	if applied.Status != order.Status {
		kafkaEventType = kafka.EventTypeOrderStatusChanged
	}
	p.publishOrderEvent(kafkaEventType, applied, eventType)

	return Ack{
		Received:  true,
		OrderID:   applied.ID,
		EventType: string(eventType),
		Status:    string(applied.Status),
	}
}

// apply записывает событие и мутацию заказа одной атомарной операцией.
// При конфликте версий заказ перечитывается и резолвер применяется заново:
// он детерминирован, поэтому повтор безопасен.
func (p *Pipeline) apply(order domain.Order, payload Payload, eventType domain.EventType, body []byte) (domain.Order, error) {
	const maxRetries = 3
	const baseDelay = 10 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		resolution := Resolve(order, payload)

		previousStatus := order.Status
		if resolution.StatusChanged {
			order.Status = resolution.Status
		}
		order.Payload = resolution.Payload
		order.UpdatedAt = time.Now().UTC()

		event := domain.OrderEvent{
			OrderID:    order.ID,
			Type:       eventType,
			RawBody:    body,
			ReceivedAt: order.UpdatedAt,
		}

		err := p.orders.SaveWithEvent(order, event)
		if err == nil {
			order.Version++
			if p.metrics != nil && resolution.StatusChanged && order.Status != previousStatus {
				p.metrics.RecordStatusTransition(string(order.Status))
			}
			return order, nil
		}

		if domain.IsVersionConflict(err) && attempt < maxRetries-1 {
			p.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"attempt":  attempt + 1,
			}).Warn("version conflict detected, retrying")

			fresh, loadErr := p.orders.Get(order.ID)
			if loadErr != nil {
				return domain.Order{}, loadErr
			}
			order = fresh

			time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
			continue
		}

		return domain.Order{}, err
	}

	return domain.Order{}, domain.ErrOrderVersionConflict
}

// publishOrderEvent публикует событие в Kafka (если producer настроен).
func (p *Pipeline) publishOrderEvent(kafkaEventType kafka.EventType, order domain.Order, eventType domain.EventType) {
	if p.kafkaProducer == nil {
		return
	}

	event := kafka.NewOrderEvent(
		kafkaEventType,
		order.ID,
		order.RequestID,
		string(order.Status),
		map[string]interface{}{"webhook_event_type": string(eventType)},
	)
	if err := p.kafkaProducer.PublishOrderEvent(event); err != nil {
		// Логируем ошибку, не прерывая приём — Kafka опциональный
		p.logger.WithError(err).WithFields(log.Fields{
			"order_id":   order.ID,
			"event_type": eventType,
		}).Warn("failed to publish order event to kafka")
	}
}
