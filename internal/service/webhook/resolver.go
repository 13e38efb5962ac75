package webhook

import (
	"strings"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Resolution — результат вычисления нового состояния заказа по вебхуку.
type Resolution struct {
	// Status — канонический статус после применения вебхука.
	Status domain.OrderStatus
	// StatusChanged=false означает "статус не трогаем" (NONE).
	StatusChanged bool
	// Payload — снапшот, который должен оказаться в заказе.
	Payload map[string]interface{}
}

// Resolve вычисляет новый статус и стратегию обновления снапшота.
// Функция детерминирована и зависит только от переданного заказа и
// вебхука: повторная доставка того же вебхука даёт тот же результат.
//
// Вывод статуса идёт по форме payload независимо от классификатора:
// классификация и деривация — два отдельных прохода по одним данным.
func Resolve(order domain.Order, p Payload) Resolution {
	switch {
	case p.IsCaseShaped():
		return resolveCase(order, p)
	case p.IsError():
		return resolveError(order, p)
	case p.IsOrderResponse():
		return resolveOrderResponse(order, p)
	default:
		return resolveUnknown(order, p)
	}
}

// resolveCase мержит данные кейса в существующий снапшот под ключом "case",
// не затирая последний полный снапшот заказа: case-вебхуки инкрементальны
// (сообщение за сообщением), тогда как order-response несёт полное состояние.
// Статус продвигается только до cancelled и только при явном сигнале отмены.
func resolveCase(order domain.Order, p Payload) Resolution {
	merged := make(map[string]interface{}, len(order.Payload)+1)
	for k, v := range order.Payload {
		merged[k] = v
	}
	merged["case"] = p.CaseSection()

	res := Resolution{Payload: merged}
	if caseSignalsCancellation(p) {
		res.Status = domain.OrderStatusCancelled
		res.StatusChanged = true
	}
	return res
}

// caseSignalsCancellation ищет намерение отмены/возврата в сообщениях кейса
// либо закрытие кейса как эквивалент подтверждённой отмены.
func caseSignalsCancellation(p Payload) bool {
	for _, msg := range p.Messages {
		text := strings.ToLower(msg.Type + " " + msg.Message)
		if strings.Contains(text, "cancel") || strings.Contains(text, "refund") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(p.CaseState), "closed")
}

func resolveError(_ domain.Order, p Payload) Resolution {
	status := domain.OrderStatusFailed
	if p.Code == "aborted_request" {
		status = domain.OrderStatusAborted
	}
	return Resolution{Status: status, StatusChanged: true, Payload: p.Raw()}
}

func resolveOrderResponse(_ domain.Order, p Payload) Resolution {
	res := Resolution{StatusChanged: true, Payload: p.Raw()}
	switch {
	case p.AttemptingToCancel:
		res.Status = domain.OrderStatusAttemptingToCancel
	case allDelivered(p.Tracking):
		res.Status = domain.OrderStatusDelivered
	default:
		res.Status = domain.OrderStatusPlaced
	}
	return res
}

// resolveUnknown обрабатывает вебхуки нераспознанной формы. Формально они
// означают "processing", но заказ, ушедший дальше, назад не откатывается:
// снапшот обновляется, статус остаётся прежним.
func resolveUnknown(order domain.Order, p Payload) Resolution {
	res := Resolution{Payload: p.Raw()}
	if order.Status == domain.OrderStatusProcessing {
		res.Status = domain.OrderStatusProcessing
		res.StatusChanged = true
	}
	return res
}

func allDelivered(tracking []TrackingEntry) bool {
	if len(tracking) == 0 {
		return false
	}
	for _, t := range tracking {
		if !t.IsDelivered() {
			return false
		}
	}
	return true
}
