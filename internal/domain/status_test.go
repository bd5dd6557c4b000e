package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TransferStatus
		want     bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusPending, false},
		{StatusApproved, StatusPending, false},
		{StatusApproved, StatusRejected, false},
		{StatusRejected, StatusApproved, false},
		{StatusRejected, StatusRejected, false},
		{StatusPending, TransferStatus(4), false},
		{TransferStatus(0), StatusApproved, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParseTransferStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    TransferStatus
		wantErr bool
	}{
		{"1", StatusPending, false},
		{"2", StatusApproved, false},
		{"3", StatusRejected, false},
		{"approved", StatusApproved, false},
		{" Rejected ", StatusRejected, false},
		{"0", 0, true},
		{"4", 0, true},
		{"done", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTransferStatus(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidStatus) {
				t.Errorf("ParseTransferStatus(%q) error = %v, want ErrInvalidStatus", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseTransferStatus(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestTransferStatusJSON(t *testing.T) {
	var body struct {
		Status TransferStatus `json:"status"`
		Type   TransferType   `json:"type"`
	}
	if err := json.Unmarshal([]byte(`{"status":"Approved","type":2}`), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != StatusApproved || body.Type != TypeSend {
		t.Fatalf("got status=%v type=%v", body.Status, body.Type)
	}

	out, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"status":2,"type":2}` {
		t.Fatalf("marshal = %s", out)
	}

	if err := json.Unmarshal([]byte(`{"status":7}`), &body); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus for unknown status, got %v", err)
	}
	if _, err := json.Marshal(struct{ S TransferStatus }{}); err == nil {
		t.Fatal("expected zero status to be rejected on marshal")
	}
}

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		amount string
		valid  bool
	}{
		{"300.00", true},
		{"0.01", true},
		{"1.500", true},
		{"0", false},
		{"-5.00", false},
		{"0.001", false},
		{"10.999", false},
		{"99999999999.99", true},
		{"100000000000.00", false},
		{"9e10", true},
		{"1e11", false},
		{"1e1000000", false},
		{"1e-1000000", false},
		{"1e30000000", false},
	}
	for _, tt := range tests {
		err := ValidateAmount(decimal.RequireFromString(tt.amount))
		if tt.valid && err != nil {
			t.Errorf("ValidateAmount(%s) = %v, want nil", tt.amount, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("ValidateAmount(%s) = %v, want ErrInvalidAmount", tt.amount, err)
		}
	}
}

func TestTransferValidate(t *testing.T) {
	base := Transfer{
		Type:          TypeSend,
		Status:        StatusApproved,
		FromAccountID: 1,
		ToAccountID:   2,
		Amount:        decimal.RequireFromString("10.00"),
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid transfer rejected: %v", err)
	}

	self := base
	self.ToAccountID = 1
	if err := self.Validate(); !errors.Is(err, ErrSelfTransfer) {
		t.Errorf("self transfer: got %v", err)
	}

	badType := base
	badType.Type = 9
	if err := badType.Validate(); !errors.Is(err, ErrInvalidType) {
		t.Errorf("bad type: got %v", err)
	}

	if !base.Involves(2) || base.Involves(3) {
		t.Error("Involves mismatch")
	}
}

func TestNotFoundWrapping(t *testing.T) {
	if !errors.Is(ErrAccountNotFound, ErrNotFound) || !errors.Is(ErrTransferNotFound, ErrNotFound) {
		t.Fatal("specific not-found errors must match ErrNotFound")
	}
	if !Retryable(ErrLockTimeout) || Retryable(ErrInvalidState) {
		t.Fatal("Retryable mismatch")
	}
}

func TestValidateMoneyRange(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"0", true},
		{"0e1000000", true},
		{"-250.00", true},
		{"1000.005", false},
		{"-99999999999.99", true},
		{"-100000000000", false},
		{"12300e-2", true},
	}
	for _, tt := range tests {
		err := ValidateMoney(decimal.RequireFromString(tt.in))
		if tt.valid != (err == nil) {
			t.Errorf("ValidateMoney(%s) = %v, want valid=%v", tt.in, err, tt.valid)
		}
		if err != nil && !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("ValidateMoney(%s) = %v, want ErrInvalidAmount", tt.in, err)
		}
	}
	if ValidateMoney(MaxAmount) != nil || ValidateMoney(MaxAmount.Add(decimal.New(1, -MoneyScale))) == nil {
		t.Errorf("MaxAmount %s is not the inclusive ceiling", MaxAmount)
	}
}
