package validation

import (
	"testing"
)

func validRequest() CreateOrderRequest {
	return CreateOrderRequest{
		SessionID:   42,
		UserID:      10,
		Lines:       []Line{{ProductID: 7, Qty: 2, PriceUnit: 10}},
		Payments:    []Payment{{MethodID: 1, Amount: 20}},
		AmountTotal: 20,
	}
}

func TestValidate_OK(t *testing.T) {
	v := New()
	if err := v.Struct(validRequest()); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestValidate_AmountMustMatchLines(t *testing.T) {
	v := New()
	req := validRequest()
	req.AmountTotal = 25 // lines sum to 20
	if err := v.Struct(req); err == nil {
		t.Fatalf("expected amount mismatch error")
	}
}

func TestValidate_DiscountAppliedToSum(t *testing.T) {
	v := New()
	req := validRequest()
	req.Lines = []Line{{ProductID: 7, Qty: 2, PriceUnit: 10, Discount: 50}}
	req.AmountTotal = 10
	if err := v.Struct(req); err != nil {
		t.Fatalf("discounted lines should validate, got %v", err)
	}
}

func TestValidate_RequiresLines(t *testing.T) {
	v := New()
	req := validRequest()
	req.Lines = nil
	if err := v.Struct(req); err == nil {
		t.Fatalf("expected error for missing lines")
	}
}

func TestValidate_RejectsBadLine(t *testing.T) {
	v := New()
	req := validRequest()
	req.Lines = []Line{{ProductID: 0, Qty: 2, PriceUnit: 10}}
	if err := v.Struct(req); err == nil {
		t.Fatalf("expected error for missing product id")
	}
}

func TestFieldErrors_UseRequestFieldNames(t *testing.T) {
	v := New()
	req := validRequest()
	req.UserID = 0
	req.Lines[0].ProductID = 0
	req.AmountTotal = 25 // lines sum to 20

	err := v.Struct(req)
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	fields := fieldErrors(err)

	if fields["user_id"] != "required" {
		t.Fatalf("user_id = %q, expected required", fields["user_id"])
	}
	if fields["lines[0].product_id"] != "required" {
		t.Fatalf("lines[0].product_id = %q, expected required", fields["lines[0].product_id"])
	}
	if fields["amount_total"] == "" {
		t.Fatalf("expected amount_total mismatch message, got %v", fields)
	}
}

func TestValidate_RequiresSessionAndUser(t *testing.T) {
	v := New()
	req := validRequest()
	req.SessionID = 0
	if err := v.Struct(req); err == nil {
		t.Fatalf("expected error for missing session id")
	}

	req = validRequest()
	req.UserID = 0
	if err := v.Struct(req); err == nil {
		t.Fatalf("expected error for missing user id")
	}
}
