// src/models/settlement.go
package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the closed set of transaction types found in a
// marketplace unified transaction export.
type TransactionType string

const (
	TxOrder           TransactionType = "Order"
	TxRefund          TransactionType = "Refund"
	TxServiceFee      TransactionType = "ServiceFee"
	TxTransfer        TransactionType = "Transfer"
	TxFbaInventoryFee TransactionType = "FbaInventoryFee"
	TxFeeAdjustment   TransactionType = "FeeAdjustment"
	TxDebt            TransactionType = "Debt"
)

// TransactionRow is one line of a marketplace unified transaction export,
// after normalization. Immutable once parsed; every money field is an exact
// decimal, never a float.
type TransactionRow struct {
	SettlementID string          `json:"settlement_id"`
	Type         TransactionType `json:"type"`
	PostedDate   time.Time       `json:"posted_date"`
	OrderID      string          `json:"order_id"`
	SKU          string          `json:"sku"`
	Description  string          `json:"description"`
	Quantity     int64           `json:"quantity"`
	Marketplace  string          `json:"marketplace"`

	ProductSales       decimal.Decimal `json:"product_sales"`
	ShippingCredits    decimal.Decimal `json:"shipping_credits"`
	PromotionalRebates decimal.Decimal `json:"promotional_rebates"`
	Taxes              decimal.Decimal `json:"taxes"`
	SellingFees        decimal.Decimal `json:"selling_fees"`
	FBAFees            decimal.Decimal `json:"fba_fees"`
	OtherFees          decimal.Decimal `json:"other_fees"`
	Total              decimal.Decimal `json:"total"`
}

// LineKey identifies one aggregation bucket: a ledger account name plus the
// memo line under it.
type LineKey struct {
	Account string `json:"account"`
	Memo    string `json:"memo"`
}

// TotalLine is one exported bucket of a SettlementTotals, used wherever a
// deterministic ordering is required.
type TotalLine struct {
	Account string          `json:"account"`
	Memo    string          `json:"memo"`
	Amount  decimal.Decimal `json:"amount"`
}

// SettlementTotals is the per-settlement aggregate keyed by (account, memo).
// It is derived state: always rebuilt from scratch per run, never mutated
// in place across runs.
type SettlementTotals struct {
	SettlementID string    `json:"settlement_id"`
	Marketplace  string    `json:"marketplace"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`

	// SourceTotal is the signed sum of the `total` column over every
	// aggregated (non-Debt) row. The aggregator guarantees the bucket
	// contributions reconcile against it exactly.
	SourceTotal decimal.Decimal `json:"source_total"`

	lines map[LineKey]decimal.Decimal
}

func NewSettlementTotals(settlementID string) *SettlementTotals {
	return &SettlementTotals{
		SettlementID: settlementID,
		SourceTotal:  decimal.Zero,
		lines:        make(map[LineKey]decimal.Decimal),
	}
}

// Add accumulates amount into the (account, memo) bucket.
func (t *SettlementTotals) Add(account, memo string, amount decimal.Decimal) {
	key := LineKey{Account: account, Memo: memo}
	t.lines[key] = t.lines[key].Add(amount)
}

// Line returns the current sum for (account, memo); zero if absent.
func (t *SettlementTotals) Line(account, memo string) decimal.Decimal {
	return t.lines[LineKey{Account: account, Memo: memo}]
}

// Lines returns every non-zero bucket sorted by (account, memo), so the
// output is deterministic regardless of map iteration order.
func (t *SettlementTotals) Lines() []TotalLine {
	out := make([]TotalLine, 0, len(t.lines))
	for key, amount := range t.lines {
		if amount.IsZero() {
			continue
		}
		out = append(out, TotalLine{Account: key.Account, Memo: key.Memo, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return out[i].Memo < out[j].Memo
	})
	return out
}

// AccountTotal sums every memo line under one account.
func (t *SettlementTotals) AccountTotal(account string) decimal.Decimal {
	sum := decimal.Zero
	for key, amount := range t.lines {
		if key.Account == account {
			sum = sum.Add(amount)
		}
	}
	return sum
}
