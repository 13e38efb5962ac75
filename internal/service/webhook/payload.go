package webhook

import "encoding/json"

// Формы вебхуков провайдера пересекаются, поэтому разбор вынесен в один
// явный шаг: дальше классификатор и резолвер работают только с Payload
// и не заглядывают в сырой JSON.

const (
	typeError         = "error"
	typeOrderResponse = "order_response"
)

// TrackingEntry — один трекинг merchant-заказа.
type TrackingEntry struct {
	MerchantOrderID string
	Carrier         string
	TrackingNumber  string
	Status          string
	Delivered       bool
}

// IsDelivered — трекинг сообщает о доставке любым из двух способов.
func (t TrackingEntry) IsDelivered() bool {
	return t.Delivered || t.Status == "delivered"
}

// CaseMessage — одно сообщение кейса провайдера.
type CaseMessage struct {
	Type    string
	Message string
	// OrderID — идентификатор заказа в сообщении; для case-вебхуков
	// это единственное место, откуда можно достать ключ маршрутизации.
	OrderID string
}

// Payload — распознанная форма вебхука.
type Payload struct {
	// raw — исходный объект, сохраняется в снапшот заказа.
	raw map[string]interface{}

	Type               string
	Code               string
	RequestID          string
	AttemptingToCancel bool
	Tracking           []TrackingEntry

	hasCaseField bool
	CaseID       string
	CaseState    string
	Messages     []CaseMessage
}

// Parse разбирает тело вебхука. ok=false только когда тело — не JSON-объект;
// любой объект разбирается без ошибки, неизвестные поля игнорируются.
func Parse(body []byte) (Payload, bool) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return Payload{}, false
	}

	p := Payload{raw: raw}
	p.Type, _ = raw["_type"].(string)
	p.Code, _ = raw["code"].(string)
	p.AttemptingToCancel, _ = raw["attempting_to_cancel"].(bool)

	if id, ok := raw["request_id"].(string); ok {
		p.RequestID = id
	} else if req, ok := raw["request"].(map[string]interface{}); ok {
		p.RequestID, _ = req["request_id"].(string)
	}

	if list, ok := raw["tracking"].([]interface{}); ok {
		for _, item := range list {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			t := TrackingEntry{}
			t.MerchantOrderID, _ = entry["merchant_order_id"].(string)
			t.Carrier, _ = entry["carrier"].(string)
			t.TrackingNumber, _ = entry["tracking_number"].(string)
			t.Status, _ = entry["status"].(string)
			t.Delivered, _ = entry["delivered"].(bool)
			p.Tracking = append(p.Tracking, t)
		}
	}

	caseObj := raw
	if nested, ok := raw["case"].(map[string]interface{}); ok {
		p.hasCaseField = true
		caseObj = nested
	}
	if id, ok := caseObj["case_id"].(string); ok {
		p.CaseID = id
		p.hasCaseField = true
	}
	if state, ok := caseObj["state"].(string); ok {
		p.CaseState = state
	}
	if list, ok := caseObj["messages"].([]interface{}); ok {
		for _, item := range list {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			m := CaseMessage{}
			m.Type, _ = entry["type"].(string)
			m.Message, _ = entry["message"].(string)
			m.OrderID, _ = entry["order_id"].(string)
			if m.OrderID == "" {
				m.OrderID, _ = entry["request_id"].(string)
			}
			p.Messages = append(p.Messages, m)
		}
	}

	return p, true
}

// IsError — форма ошибки запроса.
func (p *Payload) IsError() bool { return p.Type == typeError }

// IsOrderResponse — форма успешного ответа по заказу.
func (p *Payload) IsOrderResponse() bool { return p.Type == typeOrderResponse }

// IsCaseShaped — вебхук несёт данные кейса: непустой список сообщений
// либо поле кейса/идентификатора/состояния.
func (p *Payload) IsCaseShaped() bool {
	return len(p.Messages) > 0 || p.hasCaseField || (p.CaseState != "" && p.Type == "")
}

// RoutingKey извлекает request_id для поиска заказа. Для case-вебхуков
// ключом служит идентификатор заказа из первого сообщения.
func (p *Payload) RoutingKey() string {
	if p.RequestID != "" {
		return p.RequestID
	}
	if len(p.Messages) > 0 {
		return p.Messages[0].OrderID
	}
	return ""
}

// Raw возвращает исходный объект вебхука.
func (p *Payload) Raw() map[string]interface{} { return p.raw }

// CaseSection собирает часть снапшота, описывающую кейс, для merge
// в payload заказа под ключом "case".
func (p *Payload) CaseSection() map[string]interface{} {
	if nested, ok := p.raw["case"].(map[string]interface{}); ok {
		return nested
	}
	section := make(map[string]interface{})
	if p.CaseID != "" {
		section["case_id"] = p.CaseID
	}
	if p.CaseState != "" {
		section["state"] = p.CaseState
	}
	if msgs, ok := p.raw["messages"]; ok {
		section["messages"] = msgs
	}
	return section
}
