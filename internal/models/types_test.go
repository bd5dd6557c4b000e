package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/punchamoorthee/tenmo-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		obj       any
		wantField string
	}{
		{"send ok", SendRequest{ToUserID: 2, Amount: decimal.NewFromInt(1)}, ""},
		{"send missing recipient", SendRequest{Amount: decimal.NewFromInt(1)}, "toUserId"},
		{"send negative recipient", SendRequest{ToUserID: -1}, "toUserId"},
		{"request missing payer", RequestFundsRequest{}, "fromUserId"},
		{"resolve missing status", ResolveRequest{}, "status"},
		{"resolve ok", ResolveRequest{Status: domain.StatusRejected}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(tt.obj)
			if tt.wantField == "" {
				if errs != nil {
					t.Fatalf("Validate = %+v, want none", errs)
				}
				return
			}
			if len(errs) != 1 || errs[0].Field != tt.wantField {
				t.Fatalf("Validate = %+v, want one error on %s", errs, tt.wantField)
			}
		})
	}
}

func TestDecodeRequests(t *testing.T) {
	var send SendRequest
	if err := json.Unmarshal([]byte(`{"toUserId":7,"amount":"12.50"}`), &send); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if send.ToUserID != 7 || send.Amount.StringFixed(2) != "12.50" {
		t.Errorf("send = %+v", send)
	}

	var resolve ResolveRequest
	if err := json.Unmarshal([]byte(`{"status":"approved"}`), &resolve); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resolve.Status != domain.StatusApproved {
		t.Errorf("status = %s", resolve.Status)
	}
	if err := json.Unmarshal([]byte(`{"status":7}`), &resolve); err == nil {
		t.Error("expected unknown status to be rejected")
	}
}

func TestTransferResponseJSON(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	body, err := json.Marshal(NewTransferResponse(domain.Transfer{
		ID:            9,
		Type:          domain.TypeSend,
		Status:        domain.StatusApproved,
		FromAccountID: 1,
		ToAccountID:   2,
		Amount:        decimal.RequireFromString("300"),
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"transferId":9,"type":2,"status":2,"fromAccountId":1,"toAccountId":2,"amount":"300.00",` +
		`"createdAt":"2026-01-02T03:04:05Z","updatedAt":"2026-01-02T03:04:05Z"}`
	if string(body) != want {
		t.Errorf("got  %s\nwant %s", body, want)
	}
}
