package models

import (
	"fmt"
	"time"
)

type MessageType string

const (
	MessageNewTx      MessageType = "NEW_TX"
	MessageCommitTx   MessageType = "COMMIT_TX"
	MessageRollbackTx MessageType = "ROLLBACK_TX"
	MessageOtcAck     MessageType = "OTC_ACK"
)

type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "PENDING"
	DeliveryRetrying DeliveryStatus = "RETRYING"
	DeliverySuccess  DeliveryStatus = "SUCCESS"
	DeliveryFailed   DeliveryStatus = "FAILED"
	DeliveryCanceled DeliveryStatus = "CANCELED"
)

type EventDirection string

const (
	DirectionOutgoing EventDirection = "OUTGOING"
	DirectionIncoming EventDirection = "INCOMING"
)

// IdempotenceKey identifies one logical event across redeliveries: the sending
// bank's routing number plus a key generated on its side. Receivers dedupe on it.
type IdempotenceKey struct {
	RoutingNumber       int    `json:"routingNumber"`
	LocallyGeneratedKey string `json:"locallyGeneratedKey"`
}

func (k IdempotenceKey) String() string {
	return fmt.Sprintf("%d-%s", k.RoutingNumber, k.LocallyGeneratedKey)
}

// Event is an outbox entry: a serialized payload bound for a fixed remote
// endpoint. Status tracks the delivery lifecycle; the per-attempt record lives
// in EventDelivery.
type Event struct {
	ID             int64          `json:"id"`
	MessageType    MessageType    `json:"message_type"`
	Payload        []byte         `json:"payload"`
	URL            string         `json:"url"`
	IdempotenceKey IdempotenceKey `json:"idempotence_key"`
	Direction      EventDirection `json:"direction"`
	Status         DeliveryStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// EventDelivery is the audit record of a single delivery attempt. One row per
// attempt, success or failure, never overwritten. HTTPStatus is -1 when the
// attempt failed before an HTTP status existed (transport error).
type EventDelivery struct {
	ID           int64          `json:"id"`
	EventID      int64          `json:"event_id"`
	SentAt       time.Time      `json:"sent_at"`
	Status       DeliveryStatus `json:"status"`
	HTTPStatus   int            `json:"http_status"`
	ResponseBody string         `json:"response_body"`
	DurationMs   int64          `json:"duration_ms"`
}
