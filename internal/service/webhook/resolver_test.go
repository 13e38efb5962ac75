package webhook

import (
	"reflect"
	"testing"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func orderWith(status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:        "order-1",
		RequestID: "req-1",
		Status:    status,
		Payload:   map[string]interface{}{"retailer": "amazon"},
	}
}

func TestResolve_ErrorShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want domain.OrderStatus
	}{
		{
			name: "aborted request",
			body: `{"_type":"error","code":"aborted_request","request_id":"req-1"}`,
			want: domain.OrderStatusAborted,
		},
		{
			name: "any other error",
			body: `{"_type":"error","code":"internal_error","request_id":"req-1"}`,
			want: domain.OrderStatusFailed,
		},
		{
			name: "error without code",
			body: `{"_type":"error","request_id":"req-1"}`,
			want: domain.OrderStatusFailed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := Resolve(orderWith(domain.OrderStatusProcessing), mustParse(t, tc.body))
			if !res.StatusChanged || res.Status != tc.want {
				t.Errorf("Resolve() = (%s, changed=%v), want (%s, changed=true)", res.Status, res.StatusChanged, tc.want)
			}
			// Ошибка замещает снапшот целиком.
			if _, kept := res.Payload["retailer"]; kept {
				t.Error("error payload should replace the snapshot, not merge")
			}
		})
	}
}

func TestResolve_OrderResponseShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want domain.OrderStatus
	}{
		{
			name: "attempting to cancel wins over delivered tracking",
			body: `{"_type":"order_response","attempting_to_cancel":true,"tracking":[{"delivered":true}],"request_id":"req-1"}`,
			want: domain.OrderStatusAttemptingToCancel,
		},
		{
			name: "all tracking delivered",
			body: `{"_type":"order_response","tracking":[{"delivered":true},{"status":"delivered"}],"request_id":"req-1"}`,
			want: domain.OrderStatusDelivered,
		},
		{
			name: "partial delivery stays placed",
			body: `{"_type":"order_response","tracking":[{"delivered":true},{"status":"in_transit"}],"request_id":"req-1"}`,
			want: domain.OrderStatusPlaced,
		},
		{
			name: "empty tracking list is not delivered",
			body: `{"_type":"order_response","tracking":[],"request_id":"req-1"}`,
			want: domain.OrderStatusPlaced,
		},
		{
			name: "no tracking",
			body: `{"_type":"order_response","request_id":"req-1"}`,
			want: domain.OrderStatusPlaced,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := Resolve(orderWith(domain.OrderStatusProcessing), mustParse(t, tc.body))
			if !res.StatusChanged || res.Status != tc.want {
				t.Errorf("Resolve() = (%s, changed=%v), want (%s, changed=true)", res.Status, res.StatusChanged, tc.want)
			}
		})
	}
}

func TestResolve_CaseCancellationSignals(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		cancelled bool
	}{
		{
			name:      "cancel substring in message",
			body:      `{"messages":[{"type":"message","message":"Please CANCEL this order","order_id":"req-1"}]}`,
			cancelled: true,
		},
		{
			name:      "refund substring in type",
			body:      `{"messages":[{"type":"refund_issued","message":"done","order_id":"req-1"}]}`,
			cancelled: true,
		},
		{
			name:      "closed case state",
			body:      `{"request_id":"req-1","case":{"case_id":"c-1","state":"closed"}}`,
			cancelled: true,
		},
		{
			name:      "open case without intent",
			body:      `{"messages":[{"type":"message","message":"where is my package","order_id":"req-1"}],"case_id":"c-1","state":"open"}`,
			cancelled: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := Resolve(orderWith(domain.OrderStatusPlaced), mustParse(t, tc.body))
			if tc.cancelled {
				if !res.StatusChanged || res.Status != domain.OrderStatusCancelled {
					t.Errorf("Resolve() = (%s, changed=%v), want cancelled", res.Status, res.StatusChanged)
				}
			} else if res.StatusChanged {
				t.Errorf("case without cancellation intent must not change status, got %s", res.Status)
			}
		})
	}
}

func TestResolve_CaseMergesUnderCaseKey(t *testing.T) {
	order := orderWith(domain.OrderStatusPlaced)
	res := Resolve(order, mustParse(t, `{"request_id":"req-1","case":{"case_id":"c-1","state":"open"}}`))

	if _, kept := res.Payload["retailer"]; !kept {
		t.Error("case payload must preserve the existing snapshot")
	}
	caseSection, ok := res.Payload["case"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected case sub-key in payload, got %#v", res.Payload["case"])
	}
	if caseSection["case_id"] != "c-1" {
		t.Errorf("case_id = %v, want c-1", caseSection["case_id"])
	}

	// Исходный payload заказа не мутируется.
	if _, polluted := order.Payload["case"]; polluted {
		t.Error("Resolve must not mutate the input order payload")
	}
}

func TestResolve_UnknownShapeRegressionGuard(t *testing.T) {
	body := `{"request_id":"req-1","unexpected":"shape"}`

	// processing остаётся processing.
	res := Resolve(orderWith(domain.OrderStatusProcessing), mustParse(t, body))
	if !res.StatusChanged || res.Status != domain.OrderStatusProcessing {
		t.Errorf("unknown shape on processing order: got (%s, changed=%v)", res.Status, res.StatusChanged)
	}

	// Заказ, ушедший дальше, назад не откатывается.
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusPlaced,
		domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
	} {
		res := Resolve(orderWith(status), mustParse(t, body))
		if res.StatusChanged {
			t.Errorf("unknown shape must not regress %s order", status)
		}
	}
}

func TestResolve_Deterministic(t *testing.T) {
	order := orderWith(domain.OrderStatusProcessing)
	p := mustParse(t, `{"_type":"order_response","tracking":[{"delivered":true}],"request_id":"req-1"}`)

	first := Resolve(order, p)
	second := Resolve(order, p)

	if first.Status != second.Status || first.StatusChanged != second.StatusChanged {
		t.Errorf("Resolve is not deterministic: %v vs %v", first, second)
	}
	if !reflect.DeepEqual(first.Payload, second.Payload) {
		t.Error("Resolve payloads differ between identical calls")
	}
}

func TestResolve_IndependentFromClassification(t *testing.T) {
	// Классификация и деривация — независимые проходы: error с tracking
	// классифицируется как request_failed и резолвится как ошибка.
	p := mustParse(t, `{"_type":"error","code":"aborted_request","tracking":[{"delivered":true}],"request_id":"req-1"}`)

	if got := Classify(p); got != domain.EventTypeRequestFailed {
		t.Errorf("Classify() = %s, want request_failed", got)
	}
	res := Resolve(orderWith(domain.OrderStatusProcessing), p)
	if res.Status != domain.OrderStatusAborted {
		t.Errorf("Resolve() = %s, want aborted", res.Status)
	}
}
