package zinc

import (
	"errors"
	"fmt"
)

// Коды ошибок провайдера, на которые завязана логика выше по стеку.
const (
	// CodeAbortedRequest — заказ прерван по нашему запросу.
	CodeAbortedRequest = "aborted_request"
	// CodeOrderAlreadyCompleted — abort невозможен, заказ уже исполнен.
	CodeOrderAlreadyCompleted = "order_already_completed"
	// CodeOrderCannotBeAborted — abort невозможен на текущей стадии.
	CodeOrderCannotBeAborted = "order_cannot_be_aborted"
	// CodeReturnInProgress — по заказу уже оформляется возврат.
	CodeReturnInProgress = "return_in_progress"
	// CodeTimeout — запрос к провайдеру превысил дедлайн.
	CodeTimeout = "timeout"
)

// APIError — типизированная ошибка провайдера: код, HTTP-статус и
// диагностические данные пробрасываются вызывающему как есть.
type APIError struct {
	Message string
	Code    string
	// Status — HTTP-статус ответа провайдера; 0, если ответа не было.
	Status int
	Data   map[string]interface{}
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("zinc: %s (code=%s)", e.Message, e.Code)
	}
	return "zinc: " + e.Message
}

// IsTimeout проверяет, что вызов провайдера завершился по дедлайну.
func IsTimeout(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeTimeout
}

// ErrorCode возвращает код провайдера из ошибки или пустую строку.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
