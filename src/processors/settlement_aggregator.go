// src/processors/settlement_aggregator.go
package processors

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/progami/targonos/backend/src/models"
	"github.com/shopspring/decimal"
)

// Fixed chart-of-account bucket names. The journal builder and the
// reconciliation comparator both key off these, so they live here, behind
// the aggregator boundary, where the string-matching rules are isolated.
const (
	AccountSales          = "Amazon Sales"
	AccountRefunds        = "Amazon Refunds"
	AccountCommission     = "Amazon Commission"
	AccountFBAFees        = "Amazon FBA Fees"
	AccountOtherFees      = "Amazon Other Fees"
	AccountSubscription   = "Amazon Subscription Fees"
	AccountAdvertising    = "Amazon Advertising Costs"
	AccountStorage        = "Amazon Storage Fees"
	AccountTransfers      = "Amazon Settlement Transfers"
	AccountFeeAdjustments = "Amazon Fee Adjustments"
)

const (
	MemoSalesPrincipal         = "Sales Principal"
	MemoSalesShipping          = "Sales Shipping"
	MemoSalesShippingPromotion = "Sales Shipping Promotion"
	MemoSalesTax               = "Sales Tax"

	MemoRefundPrincipal         = "Refund Principal"
	MemoRefundShipping          = "Refund Shipping"
	MemoRefundShippingPromotion = "Refund Shipping Promotion"
	MemoRefundTax               = "Refund Tax"

	MemoCommission         = "Commission"
	MemoRefundOfCommission = "Refund of Commission"
	MemoRefundedCommission = "Refunded Commission"

	MemoFBAPerUnit    = "FBA Per Unit Fulfilment Fee"
	MemoAWDProcessing = "AWD Processing Fee"

	MemoSubscription          = "Subscription"
	MemoAdvertising           = "Cost of Advertising"
	MemoStorageFee            = "FBA Storage Fee"
	MemoInboundTransportation = "Inbound Transportation"
	MemoDisbursement          = "Disbursement"
	MemoFeeAdjustment         = "Fee Adjustment"
)

// serviceFeeBuckets routes ServiceFee rows by exact description.
var serviceFeeBuckets = map[string]models.LineKey{
	"Subscription":        {Account: AccountSubscription, Memo: MemoSubscription},
	"Subscription Fee":    {Account: AccountSubscription, Memo: MemoSubscription},
	"Cost of Advertising": {Account: AccountAdvertising, Memo: MemoAdvertising},
}

// transferBuckets routes Transfer rows by exact description.
var transferBuckets = map[string]models.LineKey{
	"":                         {Account: AccountTransfers, Memo: MemoDisbursement},
	"Transfer to bank account": {Account: AccountTransfers, Memo: MemoDisbursement},
}

// inventoryFeeBuckets routes FbaInventoryFee rows by exact description.
var inventoryFeeBuckets = map[string]models.LineKey{
	"FBA storage fee":                 {Account: AccountStorage, Memo: MemoStorageFee},
	"FBA Inventory Storage Fee":       {Account: AccountStorage, Memo: MemoStorageFee},
	"FBA Inbound Transportation Fee":  {Account: AccountFBAFees, Memo: MemoInboundTransportation},
	"Inbound Transportation Program":  {Account: AccountFBAFees, Memo: MemoInboundTransportation},
	"FBA Inventory Placement Service": {Account: AccountFBAFees, Memo: MemoInboundTransportation},
}

// feeAdjustmentBuckets routes FeeAdjustment rows by exact description.
var feeAdjustmentBuckets = map[string]models.LineKey{
	"":                      {Account: AccountFeeAdjustments, Memo: MemoFeeAdjustment},
	"FBA fee adjustment":    {Account: AccountFeeAdjustments, Memo: MemoFeeAdjustment},
	"FBA Pick & Pack Fee":   {Account: AccountFeeAdjustments, Memo: MemoFeeAdjustment},
	"Commission adjustment": {Account: AccountFeeAdjustments, Memo: MemoFeeAdjustment},
}

// awdPattern tags fulfilment-fee rows that belong to the AWD bucket:
// a case-insensitive whole-word "AWD" anywhere in the description.
var awdPattern = regexp.MustCompile(`(?i)\bAWD\b`)

var (
	ErrNoRows               = errors.New("aggregator: no rows to aggregate")
	ErrMixedSettlements     = errors.New("aggregator: rows span multiple settlement ids")
	ErrConservationViolated = errors.New("aggregator: attributed total does not reconcile with source total")
)

// UnclassifiedRowError reports a row whose description has no fixed bucket.
type UnclassifiedRowError struct {
	Index       int // 1-based position in the input sequence
	Type        models.TransactionType
	Description string
}

func (e *UnclassifiedRowError) Error() string {
	return fmt.Sprintf("aggregator: row %d: no bucket for %s row with description %q", e.Index, e.Type, e.Description)
}

// UnbalancedRowError reports a row whose per-category amounts do not sum to
// its total column, which would leave dollars unattributed.
type UnbalancedRowError struct {
	Index int
	Delta decimal.Decimal
}

func (e *UnbalancedRowError) Error() string {
	return fmt.Sprintf("aggregator: row %d: category amounts differ from total by %s", e.Index, e.Delta.String())
}

// SettlementAggregator folds normalized transaction rows into per-settlement
// (account, memo) totals using the fixed classification rules.
type SettlementAggregator struct{}

func NewSettlementAggregator() *SettlementAggregator { return &SettlementAggregator{} }

// Aggregate folds rows sharing one settlement id into SettlementTotals.
// Debt rows are excluded entirely. Expense buckets carry the negated source
// amount so that fee lines read as positive costs; the conservation check at
// the end guarantees every source dollar was attributed exactly once.
// Output is deterministic regardless of row order.
func (a *SettlementAggregator) Aggregate(rows []models.TransactionRow) (*models.SettlementTotals, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	totals := models.NewSettlementTotals(rows[0].SettlementID)

	// Working sums for the fulfilment-fee split: the non-AWD per-unit line
	// is emitted once, after shipping chargebacks have been netted in.
	perUnitFees := decimal.Zero
	shippingChargebacks := decimal.Zero

	// attributed mirrors every bucket contribution with its original source
	// sign, for the conservation check against SourceTotal.
	attributed := decimal.Zero

	credit := func(account, memo string, amount decimal.Decimal) {
		if amount.IsZero() {
			return
		}
		totals.Add(account, memo, amount)
		attributed = attributed.Add(amount)
	}
	// expense buckets store the negated source amount
	debit := func(account, memo string, amount decimal.Decimal) {
		if amount.IsZero() {
			return
		}
		totals.Add(account, memo, amount.Neg())
		attributed = attributed.Add(amount)
	}

	for i, row := range rows {
		if row.SettlementID != totals.SettlementID {
			return nil, fmt.Errorf("%w: %q and %q", ErrMixedSettlements, totals.SettlementID, row.SettlementID)
		}

		if row.Type == models.TxDebt {
			continue // excluded from aggregation entirely
		}

		totals.SourceTotal = totals.SourceTotal.Add(row.Total)
		if totals.Marketplace == "" && row.Marketplace != "" {
			totals.Marketplace = row.Marketplace
		}
		if !row.PostedDate.IsZero() {
			if totals.PeriodStart.IsZero() || row.PostedDate.Before(totals.PeriodStart) {
				totals.PeriodStart = row.PostedDate
			}
			if totals.PeriodEnd.IsZero() || row.PostedDate.After(totals.PeriodEnd) {
				totals.PeriodEnd = row.PostedDate
			}
		}

		switch row.Type {
		case models.TxOrder, models.TxRefund:
			catSum := row.ProductSales.Add(row.ShippingCredits).Add(row.PromotionalRebates).
				Add(row.Taxes).Add(row.SellingFees).Add(row.FBAFees).Add(row.OtherFees)
			if !catSum.Equal(row.Total) {
				return nil, &UnbalancedRowError{Index: i + 1, Delta: row.Total.Sub(catSum)}
			}

			if row.Type == models.TxOrder {
				credit(AccountSales, MemoSalesPrincipal, row.ProductSales)
				credit(AccountSales, MemoSalesShipping, row.ShippingCredits)
				credit(AccountSales, MemoSalesShippingPromotion, row.PromotionalRebates)
				credit(AccountSales, MemoSalesTax, row.Taxes)
				debit(AccountCommission, MemoCommission, row.SellingFees)
			} else {
				credit(AccountRefunds, MemoRefundPrincipal, row.ProductSales)
				credit(AccountRefunds, MemoRefundShipping, row.ShippingCredits)
				credit(AccountRefunds, MemoRefundShippingPromotion, row.PromotionalRebates)
				credit(AccountRefunds, MemoRefundTax, row.Taxes)
				// The selling-fee sign distinguishes a commission returned
				// by the marketplace from a commission charged back on the
				// refund. The split follows the observed sign, never the
				// memo text.
				if row.SellingFees.IsPositive() {
					debit(AccountCommission, MemoRefundOfCommission, row.SellingFees)
				} else {
					debit(AccountCommission, MemoRefundedCommission, row.SellingFees)
				}
			}

			if awdPattern.MatchString(row.Description) {
				debit(AccountFBAFees, MemoAWDProcessing, row.FBAFees)
			} else {
				perUnitFees = perUnitFees.Add(row.FBAFees)
				attributed = attributed.Add(row.FBAFees)
			}
			// Shipping chargebacks ride in the "other" column and are
			// netted into the per-unit fulfilment line below.
			shippingChargebacks = shippingChargebacks.Add(row.OtherFees)
			attributed = attributed.Add(row.OtherFees)

		case models.TxServiceFee:
			key, ok := serviceFeeBuckets[row.Description]
			if !ok {
				return nil, &UnclassifiedRowError{Index: i + 1, Type: row.Type, Description: row.Description}
			}
			debit(key.Account, key.Memo, row.Total)

		case models.TxTransfer:
			key, ok := transferBuckets[row.Description]
			if !ok {
				return nil, &UnclassifiedRowError{Index: i + 1, Type: row.Type, Description: row.Description}
			}
			credit(key.Account, key.Memo, row.Total)

		case models.TxFbaInventoryFee:
			key, ok := inventoryFeeBuckets[row.Description]
			if !ok {
				return nil, &UnclassifiedRowError{Index: i + 1, Type: row.Type, Description: row.Description}
			}
			debit(key.Account, key.Memo, row.Total)

		case models.TxFeeAdjustment:
			key, ok := feeAdjustmentBuckets[row.Description]
			if !ok {
				return nil, &UnclassifiedRowError{Index: i + 1, Type: row.Type, Description: row.Description}
			}
			debit(key.Account, key.Memo, row.Total)
		}
	}

	netPerUnit := perUnitFees.Add(shippingChargebacks)
	if !netPerUnit.IsZero() {
		totals.Add(AccountFBAFees, MemoFBAPerUnit, netPerUnit.Neg())
	}

	if !attributed.Equal(totals.SourceTotal) {
		return nil, fmt.Errorf("%w: attributed %s, source %s",
			ErrConservationViolated, attributed.String(), totals.SourceTotal.String())
	}

	return totals, nil
}
