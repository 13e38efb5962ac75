package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrDuplicateOrder — заказ с таким ID или request_id уже существует.
	ErrDuplicateOrder = errors.New("order already exists")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrCaseNotFound — у заказа нет кейса.
	ErrCaseNotFound = errors.New("case not found")
	// ErrReturnInProgress — провайдер сообщил, что возврат по заказу уже оформляется.
	ErrReturnInProgress = errors.New("return already in progress")
	// ErrProductsRequired — запрос должен содержать хотя бы один товар.
	ErrProductsRequired = errors.New("at least one product is required")
	// ErrMaxPriceInvalid — ценовой лимит должен быть положительным.
	ErrMaxPriceInvalid = errors.New("max_price_minor must be greater than zero")
	// ErrMessageRequired — сообщение кейса не может быть пустым.
	ErrMessageRequired = errors.New("message is required")
	// ErrMerchantOrderIDRequired — отмена требует merchant_order_id.
	ErrMerchantOrderIDRequired = errors.New("merchant_order_id is required")
	// ErrProductIDRequired — запрос карточки товара требует идентификатор.
	ErrProductIDRequired = errors.New("product id is required")
)

// PreconditionError — действие недопустимо в текущем статусе заказа.
// Текущий статус сохраняется для диагностики на стороне вызывающего.
type PreconditionError struct {
	Action  string
	Current OrderStatus
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("action %q is not allowed while order is %s", e.Action, e.Current)
}

// IsPrecondition проверяет, является ли ошибка отказом state-машины.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}
