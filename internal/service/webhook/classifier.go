package webhook

import "github.com/vladislavdragonenkov/fulfillment/internal/domain"

// Classify присваивает вебхуку тип события. Функция тотальна: любой
// вебхук получает тип, потому что нераспознанное событие всё равно
// должно попасть в аудит как status_updated.
//
// Порядок проверок — часть контракта: формы вебхуков пересекаются,
// выигрывает первое совпадение.
func Classify(p Payload) domain.EventType {
	switch {
	case p.IsError():
		return domain.EventTypeRequestFailed
	case p.IsOrderResponse():
		if len(p.Tracking) > 0 {
			return domain.EventTypeTrackingUpdated
		}
		return domain.EventTypeRequestSucceeded
	case p.IsCaseShaped():
		return domain.EventTypeCaseUpdated
	default:
		return domain.EventTypeStatusUpdated
	}
}
