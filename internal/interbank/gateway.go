package interbank

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
	repo "github.com/mkrivacevic11921rn/settlement-core/internal/repository"
)

// Dispatcher is the outbox send primitive: fire-and-forget, delivery proceeds
// out of band.
type Dispatcher interface {
	Send(ev models.Event)
}

// ExternalSettler resolves the counterparty leg of an external transfer once
// the remote bank confirms or denies it.
type ExternalSettler interface {
	ConfirmExternal(ctx context.Context, transferID int64) error
	DenyExternal(ctx context.Context, transferID int64) error
}

// Gateway validates message shape on both directions and routes: outbound
// into the outbox engine, inbound into the settlement engine.
type Gateway struct {
	events        repo.Events
	outbox        Dispatcher
	settler       ExternalSettler
	routingNumber int
	interbankURL  string
	tradingURL    string
}

func NewGateway(events repo.Events, outbox Dispatcher, settler ExternalSettler, routingNumber int, interbankURL, tradingURL string) *Gateway {
	return &Gateway{
		events:        events,
		outbox:        outbox,
		settler:       settler,
		routingNumber: routingNumber,
		interbankURL:  interbankURL,
		tradingURL:    tradingURL,
	}
}

func (g *Gateway) newKey() models.IdempotenceKey {
	return models.IdempotenceKey{
		RoutingNumber:       g.routingNumber,
		LocallyGeneratedKey: uuid.NewString(),
	}
}

func (g *Gateway) createOutgoing(ctx context.Context, mt models.MessageType, msg any, url string) (models.Event, error) {
	payload, err := EncodePayload(mt, msg)
	if err != nil {
		return models.Event{}, err
	}
	ev, err := g.events.Create(ctx, models.Event{
		MessageType:    mt,
		Payload:        payload,
		URL:            url,
		IdempotenceKey: g.newKey(),
		Direction:      models.DirectionOutgoing,
		Status:         models.DeliveryPending,
	})
	if err != nil {
		return models.Event{}, fmt.Errorf("create event: %w", err)
	}
	g.outbox.Send(ev)
	return ev, nil
}

// SendNewTransaction announces an external transfer to the remote bank and
// returns the created event; its idempotence key is what COMMIT_TX /
// ROLLBACK_TX will reference.
func (g *Gateway) SendNewTransaction(ctx context.Context, m NewTransaction) (models.Event, error) {
	return g.createOutgoing(ctx, models.MessageNewTx, m, g.interbankURL)
}

func (g *Gateway) SendCommit(ctx context.Context, transactionID models.IdempotenceKey) error {
	_, err := g.createOutgoing(ctx, models.MessageCommitTx, CommitTransaction{TransactionID: transactionID}, g.interbankURL)
	return err
}

func (g *Gateway) SendRollback(ctx context.Context, transactionID models.IdempotenceKey) error {
	_, err := g.createOutgoing(ctx, models.MessageRollbackTx, RollbackTransaction{TransactionID: transactionID}, g.interbankURL)
	return err
}

// SendAck reports a saga stage transition or failure to the trading
// subsystem. Failures to deliver are retried by the outbox; nothing is
// returned to the saga, which must never block on ack delivery.
func (g *Gateway) SendAck(ctx context.Context, uid string, failed bool, message string) {
	if _, err := g.createOutgoing(ctx, models.MessageOtcAck, Ack{UID: uid, Failed: failed, Message: message}, g.tradingURL); err != nil {
		slog.Error("interbank: create ack event", "uid", uid, "err", err)
	}
}

// Receive handles an inbound envelope from a remote bank. Duplicates are
// rejected with ErrDuplicateEvent so the webhook layer can acknowledge them
// idempotently.
func (g *Gateway) Receive(ctx context.Context, env Envelope) error {
	if !validKey(env.IdempotenceKey) {
		return fmt.Errorf("%w: missing idempotence key", ErrInvalidEnvelope)
	}
	if env.MessageType == models.MessageOtcAck {
		return fmt.Errorf("%w: %s is not an inbound interbank type", ErrInvalidEnvelope, env.MessageType)
	}

	exists, err := g.events.ExistsByIdempotenceKey(ctx, env.IdempotenceKey)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateEvent
	}

	msg, err := DecodePayload(env.MessageType, env.Message)
	if err != nil {
		return err
	}

	if _, err := g.events.Create(ctx, models.Event{
		MessageType:    env.MessageType,
		Payload:        env.Message,
		URL:            g.interbankURL,
		IdempotenceKey: env.IdempotenceKey,
		Direction:      models.DirectionIncoming,
		Status:         models.DeliverySuccess,
	}); err != nil {
		return fmt.Errorf("record inbound event: %w", err)
	}

	switch m := msg.(type) {
	case CommitTransaction:
		transferID, err := g.resolveTransfer(ctx, m.TransactionID)
		if err != nil {
			return err
		}
		return g.settler.ConfirmExternal(ctx, transferID)
	case RollbackTransaction:
		transferID, err := g.resolveTransfer(ctx, m.TransactionID)
		if err != nil {
			return err
		}
		return g.settler.DenyExternal(ctx, transferID)
	case NewTransaction:
		// Counterparty-initiated transfers are booked by the account side,
		// which is outside this core. Recording the event is enough here.
		slog.Info("interbank: inbound NEW_TX recorded", "key", env.IdempotenceKey.String())
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, env.MessageType)
	}
}

// resolveTransfer maps a COMMIT_TX/ROLLBACK_TX reference back to the local
// transfer through the original outgoing NEW_TX event.
func (g *Gateway) resolveTransfer(ctx context.Context, transactionID models.IdempotenceKey) (int64, error) {
	ev, err := g.events.GetByIdempotenceKey(ctx, transactionID)
	if err != nil {
		return 0, fmt.Errorf("%w: unknown transaction %s", ErrInvalidEnvelope, transactionID.String())
	}
	if ev.MessageType != models.MessageNewTx || ev.Direction != models.DirectionOutgoing {
		return 0, fmt.Errorf("%w: %s does not reference an outgoing NEW_TX", ErrInvalidEnvelope, transactionID.String())
	}
	msg, err := DecodePayload(models.MessageNewTx, ev.Payload)
	if err != nil {
		return 0, err
	}
	return msg.(NewTransaction).TransferID, nil
}
