package models

import "time"

type TradeStage string

const (
	StageInitialized      TradeStage = "INITIALIZED"
	StageAssetsReserved   TradeStage = "ASSETS_RESERVED"
	StageAssetsTransfered TradeStage = "ASSETS_TRANSFERED"
	StageFinished         TradeStage = "FINISHED"
)

// TradeSettlement is the working state of one in-flight OTC trade, keyed by
// the caller-supplied uid. The stage determines exactly what a rollback must
// undo.
type TradeSettlement struct {
	UID             string     `json:"uid"`
	BuyerAccountID  int64      `json:"buyer_account_id"`
	SellerAccountID int64      `json:"seller_account_id"`
	Amount          float64    `json:"amount"`
	Stage           TradeStage `json:"stage"`
	Failed          bool       `json:"failed"`
}

// SagaLogRecord is one appended stage transition in the durable saga log.
// Closed marks the uid as settled (terminal success or completed rollback);
// open uids surviving a restart are rolled back during recovery.
type SagaLogRecord struct {
	ID              int64      `json:"id"`
	UID             string     `json:"uid"`
	BuyerAccountID  int64      `json:"buyer_account_id"`
	SellerAccountID int64      `json:"seller_account_id"`
	Amount          float64    `json:"amount"`
	Stage           TradeStage `json:"stage"`
	Failed          bool       `json:"failed"`
	Closed          bool       `json:"closed"`
	At              time.Time  `json:"at"`
}
