package interbank_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkrivacevic11921rn/settlement-core/internal/interbank"
	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
	"github.com/mkrivacevic11921rn/settlement-core/internal/repository/memory"
)

type fakeDispatcher struct {
	sent []models.Event
}

func (d *fakeDispatcher) Send(ev models.Event) { d.sent = append(d.sent, ev) }

type fakeSettler struct {
	confirmed []int64
	denied    []int64
}

func (s *fakeSettler) ConfirmExternal(_ context.Context, id int64) error {
	s.confirmed = append(s.confirmed, id)
	return nil
}

func (s *fakeSettler) DenyExternal(_ context.Context, id int64) error {
	s.denied = append(s.denied, id)
	return nil
}

func newGateway(t *testing.T) (*interbank.Gateway, *fakeDispatcher, *fakeSettler) {
	t.Helper()
	store := memory.NewStore()
	d := &fakeDispatcher{}
	s := &fakeSettler{}
	g := interbank.NewGateway(store.Events, d, s, 111, "http://remote/interbank", "http://trading/ack")
	return g, d, s
}

func TestSendNewTransactionCreatesOutboxEvent(t *testing.T) {
	g, d, _ := newGateway(t)

	ev, err := g.SendNewTransaction(context.Background(), interbank.NewTransaction{
		TransferID: 7,
		Postings: []interbank.Posting{
			{AccountNumber: "111000100", Amount: -50, Currency: "RSD"},
			{AccountNumber: "222000900", Amount: 50, Currency: "RSD"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, models.MessageNewTx, ev.MessageType)
	require.Equal(t, models.DeliveryPending, ev.Status)
	require.Equal(t, 111, ev.IdempotenceKey.RoutingNumber)
	require.NotEmpty(t, ev.IdempotenceKey.LocallyGeneratedKey)
	require.Equal(t, "http://remote/interbank", ev.URL)

	require.Len(t, d.sent, 1)
	require.Equal(t, ev.ID, d.sent[0].ID)
}

func TestSendNewTransactionRejectsInvalidPayload(t *testing.T) {
	g, d, _ := newGateway(t)

	_, err := g.SendNewTransaction(context.Background(), interbank.NewTransaction{TransferID: 7})
	require.Error(t, err)
	require.Empty(t, d.sent)
}

func TestSendAckTargetsTradingSubsystem(t *testing.T) {
	g, d, _ := newGateway(t)

	g.SendAck(context.Background(), "trade-1", true, "no funds")

	require.Len(t, d.sent, 1)
	require.Equal(t, models.MessageOtcAck, d.sent[0].MessageType)
	require.Equal(t, "http://trading/ack", d.sent[0].URL)
}

func TestReceiveCommitResolvesTransfer(t *testing.T) {
	g, _, s := newGateway(t)
	ctx := context.Background()

	out, err := g.SendNewTransaction(ctx, interbank.NewTransaction{
		TransferID: 7,
		Postings: []interbank.Posting{
			{AccountNumber: "111000100", Amount: -50, Currency: "RSD"},
			{AccountNumber: "222000900", Amount: 50, Currency: "RSD"},
		},
	})
	require.NoError(t, err)

	commit, _ := json.Marshal(interbank.CommitTransaction{TransactionID: out.IdempotenceKey})
	err = g.Receive(ctx, interbank.Envelope{
		MessageType:    models.MessageCommitTx,
		IdempotenceKey: models.IdempotenceKey{RoutingNumber: 222, LocallyGeneratedKey: "remote-1"},
		Message:        commit,
	})
	require.NoError(t, err)
	require.Equal(t, []int64{7}, s.confirmed)
	require.Empty(t, s.denied)
}

func TestReceiveRollbackDeniesTransfer(t *testing.T) {
	g, _, s := newGateway(t)
	ctx := context.Background()

	out, err := g.SendNewTransaction(ctx, interbank.NewTransaction{
		TransferID: 7,
		Postings: []interbank.Posting{
			{AccountNumber: "111000100", Amount: -50, Currency: "RSD"},
			{AccountNumber: "222000900", Amount: 50, Currency: "RSD"},
		},
	})
	require.NoError(t, err)

	rollback, _ := json.Marshal(interbank.RollbackTransaction{TransactionID: out.IdempotenceKey})
	err = g.Receive(ctx, interbank.Envelope{
		MessageType:    models.MessageRollbackTx,
		IdempotenceKey: models.IdempotenceKey{RoutingNumber: 222, LocallyGeneratedKey: "remote-1"},
		Message:        rollback,
	})
	require.NoError(t, err)
	require.Equal(t, []int64{7}, s.denied)
}

func TestReceiveDeduplicatesOnIdempotenceKey(t *testing.T) {
	g, _, _ := newGateway(t)
	ctx := context.Background()

	raw, err := interbank.EncodePayload(models.MessageNewTx, interbank.NewTransaction{
		TransferID: 9,
		Postings: []interbank.Posting{
			{AccountNumber: "222000900", Amount: -10, Currency: "RSD"},
			{AccountNumber: "111000100", Amount: 10, Currency: "RSD"},
		},
	})
	require.NoError(t, err)

	env := interbank.Envelope{
		MessageType:    models.MessageNewTx,
		IdempotenceKey: models.IdempotenceKey{RoutingNumber: 222, LocallyGeneratedKey: "remote-1"},
		Message:        raw,
	}
	require.NoError(t, g.Receive(ctx, env))
	require.ErrorIs(t, g.Receive(ctx, env), interbank.ErrDuplicateEvent)
}

func TestReceiveRejectsBadEnvelopes(t *testing.T) {
	g, _, _ := newGateway(t)
	ctx := context.Background()

	// missing idempotence key
	err := g.Receive(ctx, interbank.Envelope{MessageType: models.MessageNewTx})
	require.ErrorIs(t, err, interbank.ErrInvalidEnvelope)

	// acks never arrive on the interbank webhook
	err = g.Receive(ctx, interbank.Envelope{
		MessageType:    models.MessageOtcAck,
		IdempotenceKey: models.IdempotenceKey{RoutingNumber: 222, LocallyGeneratedKey: "x"},
	})
	require.ErrorIs(t, err, interbank.ErrInvalidEnvelope)

	// commit referencing a transaction this bank never announced
	commit, _ := json.Marshal(interbank.CommitTransaction{
		TransactionID: models.IdempotenceKey{RoutingNumber: 111, LocallyGeneratedKey: "ghost"},
	})
	err = g.Receive(ctx, interbank.Envelope{
		MessageType:    models.MessageCommitTx,
		IdempotenceKey: models.IdempotenceKey{RoutingNumber: 222, LocallyGeneratedKey: "r2"},
		Message:        commit,
	})
	require.ErrorIs(t, err, interbank.ErrInvalidEnvelope)
}
