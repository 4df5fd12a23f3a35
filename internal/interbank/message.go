// Package interbank owns the wire format exchanged with remote banks and the
// trading subsystem, and the gateway that routes messages between them and the
// local engines.
package interbank

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
)

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrInvalidEnvelope    = errors.New("invalid envelope")
	ErrDuplicateEvent     = errors.New("duplicate event")
)

var valid = validator.New()

// Envelope is the interbank wire frame. Message holds the typed payload for
// MessageType; receivers dedupe on IdempotenceKey.
type Envelope struct {
	MessageType    models.MessageType    `json:"messageType"`
	IdempotenceKey models.IdempotenceKey `json:"idempotenceKey"`
	Message        json.RawMessage       `json:"message"`
}

// Posting is one leg of an interbank transaction as seen on the wire.
type Posting struct {
	AccountNumber string  `json:"account" validate:"required"`
	Amount        float64 `json:"amount" validate:"required"`
	Currency      string  `json:"currency" validate:"required,len=3"`
}

// NewTransaction announces an external transfer to the counterparty bank. The
// counterparty later confirms with CommitTransaction or denies with
// RollbackTransaction, both referencing the NEW_TX idempotence key.
type NewTransaction struct {
	TransferID int64     `json:"transferId" validate:"required"`
	Postings   []Posting `json:"postings" validate:"required,min=2,dive"`
	Message    string    `json:"message"`
}

type CommitTransaction struct {
	TransactionID models.IdempotenceKey `json:"transactionId"`
}

type RollbackTransaction struct {
	TransactionID models.IdempotenceKey `json:"transactionId"`
}

// Ack is the acknowledgement envelope the trading subsystem receives for
// every saga stage transition or failure.
type Ack struct {
	UID     string `json:"uid" validate:"required"`
	Failed  bool   `json:"failed"`
	Message string `json:"message"`
}

func validKey(k models.IdempotenceKey) bool {
	return k.RoutingNumber != 0 && k.LocallyGeneratedKey != ""
}

func checkPayload(mt models.MessageType, msg any) error {
	switch mt {
	case models.MessageNewTx:
		m, ok := msg.(NewTransaction)
		if !ok {
			return fmt.Errorf("%w: expected NewTransaction for %s", ErrInvalidEnvelope, mt)
		}
		return valid.Struct(m)
	case models.MessageCommitTx:
		m, ok := msg.(CommitTransaction)
		if !ok || !validKey(m.TransactionID) {
			return fmt.Errorf("%w: expected CommitTransaction for %s", ErrInvalidEnvelope, mt)
		}
		return nil
	case models.MessageRollbackTx:
		m, ok := msg.(RollbackTransaction)
		if !ok || !validKey(m.TransactionID) {
			return fmt.Errorf("%w: expected RollbackTransaction for %s", ErrInvalidEnvelope, mt)
		}
		return nil
	case models.MessageOtcAck:
		m, ok := msg.(Ack)
		if !ok {
			return fmt.Errorf("%w: expected Ack for %s", ErrInvalidEnvelope, mt)
		}
		return valid.Struct(m)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, mt)
	}
}

// EncodePayload validates msg against mt and serializes it. Payloads are
// validated at construction, before any event row exists.
func EncodePayload(mt models.MessageType, msg any) ([]byte, error) {
	if err := checkPayload(mt, msg); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// DecodePayload parses raw into the payload type of mt and validates it.
func DecodePayload(mt models.MessageType, raw []byte) (any, error) {
	var msg any
	switch mt {
	case models.MessageNewTx:
		var m NewTransaction
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		msg = m
	case models.MessageCommitTx:
		var m CommitTransaction
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		msg = m
	case models.MessageRollbackTx:
		var m RollbackTransaction
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		msg = m
	case models.MessageOtcAck:
		var m Ack
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, mt)
	}
	if err := checkPayload(mt, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// MarshalEvent builds the wire body for an outbox event. Interbank messages
// travel wrapped in an Envelope; acks go to the trading subsystem as a bare
// {uid, failed, message} body.
func MarshalEvent(ev models.Event) ([]byte, error) {
	if _, err := DecodePayload(ev.MessageType, ev.Payload); err != nil {
		return nil, err
	}
	if ev.MessageType == models.MessageOtcAck {
		return ev.Payload, nil
	}
	return json.Marshal(Envelope{
		MessageType:    ev.MessageType,
		IdempotenceKey: ev.IdempotenceKey,
		Message:        ev.Payload,
	})
}
