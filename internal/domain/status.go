package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TransferStatus is the lifecycle state of a transfer. The numeric values are
// the ones stored in transfers.transfer_status_id and sent over the wire.
type TransferStatus int

const (
	StatusPending  TransferStatus = 1
	StatusApproved TransferStatus = 2
	StatusRejected TransferStatus = 3
)

var statusNames = map[TransferStatus]string{
	StatusPending:  "Pending",
	StatusApproved: "Approved",
	StatusRejected: "Rejected",
}

func (s TransferStatus) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether no further transition is allowed out of s.
func (s TransferStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func (s TransferStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "TransferStatus(" + strconv.Itoa(int(s)) + ")"
}

// CanTransition is the whole state machine: Pending may become Approved or
// Rejected, nothing else moves.
func CanTransition(from, to TransferStatus) bool {
	return from == StatusPending && to.Terminal()
}

// ParseTransferStatus accepts either the numeric id or the name, case-insensitively.
func ParseTransferStatus(s string) (TransferStatus, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		status := TransferStatus(n)
		if !status.Valid() {
			return 0, fmt.Errorf("%w: %d", ErrInvalidStatus, n)
		}
		return status, nil
	}
	for status, name := range statusNames {
		if strings.EqualFold(name, s) {
			return status, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

func (s TransferStatus) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, int(s))
	}
	return []byte(strconv.Itoa(int(s))), nil
}

func (s *TransferStatus) UnmarshalJSON(data []byte) error {
	parsed, err := ParseTransferStatus(string(unquote(data)))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TransferType distinguishes an immediate send from a request awaiting the payer.
type TransferType int

const (
	TypeRequest TransferType = 1
	TypeSend    TransferType = 2
)

var typeNames = map[TransferType]string{
	TypeRequest: "Request",
	TypeSend:    "Send",
}

func (t TransferType) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

func (t TransferType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "TransferType(" + strconv.Itoa(int(t)) + ")"
}

func ParseTransferType(s string) (TransferType, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		typ := TransferType(n)
		if !typ.Valid() {
			return 0, fmt.Errorf("%w: %d", ErrInvalidType, n)
		}
		return typ, nil
	}
	for typ, name := range typeNames {
		if strings.EqualFold(name, s) {
			return typ, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidType, s)
}

func (t TransferType) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, int(t))
	}
	return []byte(strconv.Itoa(int(t))), nil
}

func (t *TransferType) UnmarshalJSON(data []byte) error {
	parsed, err := ParseTransferType(string(unquote(data)))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func unquote(data []byte) []byte {
	data = bytes.TrimSpace(data)
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			return []byte(s)
		}
	}
	return data
}
