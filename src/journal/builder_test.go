package journal

import (
	"testing"

	"github.com/progami/targonos/backend/src/models"
	"github.com/progami/targonos/backend/src/processors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fullAccountMap() AccountMap {
	return AccountMap{
		processors.AccountSales:          "ref-sales",
		processors.AccountRefunds:        "ref-refunds",
		processors.AccountCommission:     "ref-commission",
		processors.AccountFBAFees:        "ref-fba",
		processors.AccountOtherFees:      "ref-other",
		processors.AccountSubscription:   "ref-subscription",
		processors.AccountAdvertising:    "ref-advertising",
		processors.AccountStorage:        "ref-storage",
		processors.AccountFeeAdjustments: "ref-adjustments",
		ClearingAccount:                  "ref-clearing",
	}
}

func sampleTotals() *models.SettlementTotals {
	totals := models.NewSettlementTotals("12345")
	totals.SourceTotal = d("100.00")
	// Revenue buckets carry credit-normal (positive) sums.
	totals.Add(processors.AccountSales, processors.MemoSalesPrincipal, d("150.00"))
	totals.Add(processors.AccountRefunds, processors.MemoRefundPrincipal, d("-20.00"))
	// Expense buckets carry positive costs.
	totals.Add(processors.AccountCommission, processors.MemoCommission, d("22.50"))
	totals.Add(processors.AccountFBAFees, processors.MemoFBAPerUnit, d("7.50"))
	totals.Add(processors.AccountStorage, processors.MemoStorageFee, d("3.10"))
	return totals
}

func lineByAccount(draft *models.JournalDraft, account string) *models.JournalLine {
	for i := range draft.Lines {
		if draft.Lines[i].Account == account {
			return &draft.Lines[i]
		}
	}
	return nil
}

func TestBuildSplitsAccountsAcrossJournals(t *testing.T) {
	cogs, pnl := NewBuilder(fullAccountMap()).Build(sampleTotals())

	assert.Equal(t, models.JournalCOGS, cogs.Kind)
	assert.Equal(t, "PLUTUS-12345-COGS", cogs.DocNumber)
	assert.Nil(t, lineByAccount(cogs, processors.AccountSales))
	assert.NotNil(t, lineByAccount(cogs, processors.AccountFBAFees))
	assert.NotNil(t, lineByAccount(cogs, processors.AccountStorage))

	assert.Equal(t, "PLUTUS-12345-PNL", pnl.DocNumber)
	assert.NotNil(t, lineByAccount(pnl, processors.AccountSales))
	assert.NotNil(t, lineByAccount(pnl, processors.AccountCommission))
	assert.Nil(t, lineByAccount(pnl, processors.AccountFBAFees))
}

func TestBuildRevenueLinesAreCreditNegative(t *testing.T) {
	_, pnl := NewBuilder(fullAccountMap()).Build(sampleTotals())

	sales := lineByAccount(pnl, processors.AccountSales)
	require.NotNil(t, sales)
	assert.True(t, sales.Amount.Equal(d("-150.00")), "sales credit is negative, got %s", sales.Amount)

	refunds := lineByAccount(pnl, processors.AccountRefunds)
	require.NotNil(t, refunds)
	assert.True(t, refunds.Amount.Equal(d("20.00")), "refund debit is positive, got %s", refunds.Amount)

	commission := lineByAccount(pnl, processors.AccountCommission)
	require.NotNil(t, commission)
	assert.True(t, commission.Amount.Equal(d("22.50")))
}

func TestBuildDraftsBalanceToZero(t *testing.T) {
	cogs, pnl := NewBuilder(fullAccountMap()).Build(sampleTotals())

	for _, draft := range []*models.JournalDraft{cogs, pnl} {
		assert.True(t, draft.Total().IsZero(), "%s draft total %s", draft.Kind, draft.Total())
		clearing := lineByAccount(draft, ClearingAccount)
		require.NotNil(t, clearing, "%s draft has a clearing line", draft.Kind)
		assert.Equal(t, "Settlement 12345", clearing.Memo)
		assert.Equal(t, "ref-clearing", clearing.AccountRef)
	}
}

func TestBuildOmitsZeroBuckets(t *testing.T) {
	totals := models.NewSettlementTotals("12345")
	totals.SourceTotal = d("10.00")
	totals.Add(processors.AccountSales, processors.MemoSalesPrincipal, d("10.00"))
	totals.Add(processors.AccountCommission, processors.MemoCommission, d("5.00"))
	totals.Add(processors.AccountCommission, processors.MemoCommission, d("-5.00"))

	_, pnl := NewBuilder(fullAccountMap()).Build(totals)

	// The commission bucket nets to zero, so no line is emitted for it.
	assert.Nil(t, lineByAccount(pnl, processors.AccountCommission))
	require.NotNil(t, lineByAccount(pnl, processors.AccountSales))
}

func TestBuildTransfersExcludedFromBothJournals(t *testing.T) {
	totals := sampleTotals()
	totals.Add(processors.AccountTransfers, processors.MemoDisbursement, d("-500.00"))

	cogs, pnl := NewBuilder(fullAccountMap()).Build(totals)
	assert.Nil(t, lineByAccount(cogs, processors.AccountTransfers))
	assert.Nil(t, lineByAccount(pnl, processors.AccountTransfers))
}

func TestBuildMissingMappingIsFatal(t *testing.T) {
	accounts := fullAccountMap()
	delete(accounts, processors.AccountSales)

	_, pnl := NewBuilder(accounts).Build(sampleTotals())

	require.True(t, pnl.HasFatalBlock())
	assert.Equal(t, BlockMissingAccountMapping, pnl.Blocks[0].Code)
	assert.Nil(t, lineByAccount(pnl, processors.AccountSales))
}

func TestBuildMissingClearingMappingIsFatal(t *testing.T) {
	accounts := fullAccountMap()
	delete(accounts, ClearingAccount)

	cogs, pnl := NewBuilder(accounts).Build(sampleTotals())

	for _, draft := range []*models.JournalDraft{cogs, pnl} {
		require.True(t, draft.HasFatalBlock(), "%s draft", draft.Kind)
		assert.Equal(t, BlockUnbalancedJournal, draft.Blocks[0].Code)
	}
}

func TestBuildEmptyJournalBlock(t *testing.T) {
	totals := models.NewSettlementTotals("12345")
	totals.SourceTotal = d("10.00")
	totals.Add(processors.AccountSales, processors.MemoSalesPrincipal, d("10.00"))

	cogs, pnl := NewBuilder(fullAccountMap()).Build(totals)

	// No cost buckets: the COGS draft is empty against a non-zero total.
	require.True(t, cogs.HasFatalBlock())
	assert.Equal(t, BlockEmptyJournal, cogs.Blocks[0].Code)
	assert.False(t, pnl.HasFatalBlock())
}

func TestBuildZeroSettlementProducesNoBlocks(t *testing.T) {
	totals := models.NewSettlementTotals("12345")

	cogs, pnl := NewBuilder(fullAccountMap()).Build(totals)
	assert.Empty(t, cogs.Lines)
	assert.Empty(t, pnl.Lines)
	assert.False(t, cogs.HasFatalBlock())
	assert.False(t, pnl.HasFatalBlock())
}

func TestDocNumbers(t *testing.T) {
	assert.Equal(t, "PLUTUS-777-COGS", DocNumber("777", models.JournalCOGS))
	assert.Equal(t, "PLUTUS-777-PNL", DocNumber("777", models.JournalPNL))
	assert.Equal(t, "PLUTUS-777", SettlementEntryKey("777"))
	assert.Equal(t, "PLUTUS-777-FBA", PurchaseDocNumber("777"))
	assert.Equal(t, "Settlement 777", MemoForSettlement("777"))
}
