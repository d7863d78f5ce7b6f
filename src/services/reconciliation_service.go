// src/services/reconciliation_service.go
package services

import (
	"fmt"
	"sort"

	"github.com/progami/targonos/backend/src/journal"
	"github.com/progami/targonos/backend/src/models"
	"github.com/progami/targonos/backend/src/parsers/ledgerexport"
	"github.com/progami/targonos/backend/src/processors"
	"github.com/shopspring/decimal"
)

// Tolerance is the maximum absolute difference a comparison may carry and
// still count as ok: one cent.
var Tolerance = decimal.RequireFromString("0.01")

// ComparisonLine is one ok / not-ok check of the reconciliation report.
type ComparisonLine struct {
	Ok       bool            `json:"ok"`
	Name     string          `json:"name"`
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
	Delta    decimal.Decimal `json:"delta"`
}

// ReconciliationReport is the comparator's output: every comparison in a
// stable order plus the mismatch count.
type ReconciliationReport struct {
	Lines      []ComparisonLine `json:"lines"`
	Mismatches int              `json:"mismatches"`
}

// ReconciliationService independently recomputes expected totals from raw
// marketplace exports and diffs them against what the ledger actually
// holds. It has no write access: a pure audit over already posted state.
type ReconciliationService struct {
	aggregator *processors.SettlementAggregator
}

func NewReconciliationService() *ReconciliationService {
	return &ReconciliationService{aggregator: processors.NewSettlementAggregator()}
}

// Compare recomputes per-account and per-(account, memo) totals for every
// settlement present in the raw rows, joins them to the posted totals via
// the settlement-id → doc-number mapping recovered from ledger memo text,
// and verifies each posted document's total against the transaction list.
func (s *ReconciliationService) Compare(rows []models.TransactionRow, glRows []ledgerexport.GLRow, txRows []ledgerexport.TxListRow) (*ReconciliationReport, error) {
	bySettlement := make(map[string][]models.TransactionRow)
	var settlementIDs []string
	for _, row := range rows {
		if _, seen := bySettlement[row.SettlementID]; !seen {
			settlementIDs = append(settlementIDs, row.SettlementID)
		}
		bySettlement[row.SettlementID] = append(bySettlement[row.SettlementID], row)
	}
	sort.Strings(settlementIDs)

	// Posted side, joined back to settlements through memo text.
	docToSettlement := ledgerexport.SettlementsByDocNumber(glRows)

	type memoKey struct{ settlementID, account, memo string }
	type acctKey struct{ settlementID, account string }
	actualByMemo := make(map[memoKey]decimal.Decimal)
	actualByAcct := make(map[acctKey]decimal.Decimal)
	for _, gl := range glRows {
		settlementID, ok := docToSettlement[gl.DocNumber]
		if !ok {
			continue
		}
		mk := memoKey{settlementID, gl.Account, gl.Memo}
		ak := acctKey{settlementID, gl.Account}
		actualByMemo[mk] = actualByMemo[mk].Add(gl.Amount)
		actualByAcct[ak] = actualByAcct[ak].Add(gl.Amount)
	}

	actualDocTotals := make(map[string]decimal.Decimal)
	for _, tx := range txRows {
		actualDocTotals[tx.DocNumber] = actualDocTotals[tx.DocNumber].Add(tx.Amount)
	}

	report := &ReconciliationReport{}
	check := func(name string, expected, actual decimal.Decimal) {
		delta := actual.Sub(expected)
		ok := delta.Abs().LessThanOrEqual(Tolerance)
		if !ok {
			report.Mismatches++
		}
		report.Lines = append(report.Lines, ComparisonLine{
			Ok: ok, Name: name, Expected: expected, Actual: actual, Delta: delta,
		})
	}

	builder := journal.NewBuilder(identityAccountMap())

	for _, settlementID := range settlementIDs {
		totals, err := s.aggregator.Aggregate(bySettlement[settlementID])
		if err != nil {
			return nil, fmt.Errorf("%w: settlement %s: %v", ErrAggregationFailed, settlementID, err)
		}

		cogs, pnl := builder.Build(totals)

		expectedByAcct := make(map[string]decimal.Decimal)
		var lineOrder []models.JournalLine
		for _, draft := range []*models.JournalDraft{cogs, pnl} {
			for _, line := range draft.Lines {
				expectedByAcct[line.Account] = expectedByAcct[line.Account].Add(line.Amount)
				lineOrder = append(lineOrder, line)
			}
		}

		accounts := make([]string, 0, len(expectedByAcct))
		for account := range expectedByAcct {
			accounts = append(accounts, account)
		}
		sort.Strings(accounts)
		for _, account := range accounts {
			check(fmt.Sprintf("settlement %s account %q", settlementID, account),
				expectedByAcct[account],
				actualByAcct[acctKey{settlementID, account}])
		}

		for _, line := range lineOrder {
			check(fmt.Sprintf("settlement %s account %q memo %q", settlementID, line.Account, line.Memo),
				line.Amount,
				actualByMemo[memoKey{settlementID, line.Account, line.Memo}])
		}

		for _, draft := range []*models.JournalDraft{cogs, pnl} {
			check(fmt.Sprintf("settlement %s document %s total", settlementID, draft.DocNumber),
				debitTotal(draft),
				actualDocTotals[draft.DocNumber])
		}
	}

	return report, nil
}

// identityAccountMap lets the comparator build drafts without a chart of
// accounts: refs are irrelevant here, only names and amounts are compared.
func identityAccountMap() journal.AccountMap {
	names := []string{
		processors.AccountSales,
		processors.AccountRefunds,
		processors.AccountCommission,
		processors.AccountFBAFees,
		processors.AccountOtherFees,
		processors.AccountSubscription,
		processors.AccountAdvertising,
		processors.AccountStorage,
		processors.AccountTransfers,
		processors.AccountFeeAdjustments,
		journal.ClearingAccount,
	}
	m := make(journal.AccountMap, len(names))
	for _, name := range names {
		m[name] = name
	}
	return m
}

// debitTotal is the sum of a draft's positive lines, matching how the
// transaction-list export reports a document's total.
func debitTotal(draft *models.JournalDraft) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range draft.Lines {
		if line.Amount.IsPositive() {
			sum = sum.Add(line.Amount)
		}
	}
	return sum
}
