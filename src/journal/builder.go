// src/journal/builder.go
package journal

import (
	"fmt"

	"github.com/progami/targonos/backend/src/models"
	"github.com/progami/targonos/backend/src/processors"
)

// Processing block codes attached by the builder.
const (
	BlockMissingAccountMapping = "missing_account_mapping"
	BlockEmptyJournal          = "empty_journal"
	BlockUnbalancedJournal     = "unbalanced_journal"
)

// ClearingAccount receives the balancing line of each draft, representing
// the receivable side of the settlement.
const ClearingAccount = "Amazon Clearing"

// AccountMap resolves a bucket account name to the external ledger's
// account reference.
type AccountMap map[string]string

// cogsAccounts are the inventory/fulfilment-cost-bearing buckets; every
// other bucket except settlement transfers belongs to the P&L journal.
// Transfers are cash movements and appear on neither journal.
var cogsAccounts = map[string]bool{
	processors.AccountFBAFees:        true,
	processors.AccountStorage:        true,
	processors.AccountOtherFees:      true,
	processors.AccountFeeAdjustments: true,
}

var pnlAccounts = map[string]bool{
	processors.AccountSales:        true,
	processors.AccountRefunds:      true,
	processors.AccountCommission:   true,
	processors.AccountSubscription: true,
	processors.AccountAdvertising:  true,
}

// revenueAccounts have credit-normal balance: their bucket totals are
// negated so that every draft line is debit-positive / credit-negative.
var revenueAccounts = map[string]bool{
	processors.AccountSales:   true,
	processors.AccountRefunds: true,
}

// Builder converts aggregated settlement totals into the two journal
// drafts the poster needs, resolving bucket names through the account map.
type Builder struct {
	accounts AccountMap
}

func NewBuilder(accounts AccountMap) *Builder {
	return &Builder{accounts: accounts}
}

// Build produces the COGS and P&L drafts for one settlement. Zero-amount
// buckets are omitted. A missing account mapping for a non-zero bucket, or
// an empty draft while the settlement's raw total is non-zero, attaches a
// fatal block; the poster refuses drafts carrying fatal blocks.
func (b *Builder) Build(totals *models.SettlementTotals) (cogs, pnl *models.JournalDraft) {
	cogs = b.buildDraft(models.JournalCOGS, totals, cogsAccounts)
	pnl = b.buildDraft(models.JournalPNL, totals, pnlAccounts)
	return cogs, pnl
}

func (b *Builder) buildDraft(kind models.JournalKind, totals *models.SettlementTotals, include map[string]bool) *models.JournalDraft {
	draft := &models.JournalDraft{
		Kind:         kind,
		SettlementID: totals.SettlementID,
		DocNumber:    DocNumber(totals.SettlementID, kind),
		Date:         totals.PeriodEnd,
	}

	for _, line := range totals.Lines() {
		if !include[line.Account] {
			continue
		}

		amount := line.Amount
		if revenueAccounts[line.Account] {
			amount = amount.Neg()
		}
		if amount.IsZero() {
			continue
		}

		ref, ok := b.accounts[line.Account]
		if !ok {
			draft.AddBlock(BlockMissingAccountMapping,
				fmt.Sprintf("no ledger account mapped for %q (memo %q, amount %s)", line.Account, line.Memo, amount.String()),
				true)
			continue
		}

		draft.Lines = append(draft.Lines, models.JournalLine{
			Account:    line.Account,
			AccountRef: ref,
			Memo:       line.Memo,
			Amount:     amount,
		})
	}

	if len(draft.Lines) == 0 {
		if !totals.SourceTotal.IsZero() {
			draft.AddBlock(BlockEmptyJournal,
				fmt.Sprintf("%s journal has no lines while settlement total is %s", kind, totals.SourceTotal.String()),
				true)
		}
		return draft
	}

	// Balancing line: the negated sum of the bucket lines, against the
	// settlement clearing account.
	balance := draft.Total().Neg()
	if !balance.IsZero() {
		ref, ok := b.accounts[ClearingAccount]
		if !ok {
			draft.AddBlock(BlockUnbalancedJournal,
				fmt.Sprintf("no ledger account mapped for %q to balance %s", ClearingAccount, balance.String()),
				true)
			return draft
		}
		draft.Lines = append(draft.Lines, models.JournalLine{
			Account:    ClearingAccount,
			AccountRef: ref,
			Memo:       MemoForSettlement(totals.SettlementID),
			Amount:     balance,
		})
	}

	return draft
}

// DocNumber is the deterministic document number for one settlement draft.
func DocNumber(settlementID string, kind models.JournalKind) string {
	suffix := "PNL"
	if kind == models.JournalCOGS {
		suffix = "COGS"
	}
	return fmt.Sprintf("PLUTUS-%s-%s", settlementID, suffix)
}

// SettlementEntryKey is the settlement-level document key the processing
// registry is unique on.
func SettlementEntryKey(settlementID string) string {
	return "PLUTUS-" + settlementID
}

// PurchaseDocNumber is the document number of the fulfilment-cost purchase
// carrying the per-SKU allocation lines.
func PurchaseDocNumber(settlementID string) string {
	return fmt.Sprintf("PLUTUS-%s-FBA", settlementID)
}

// MemoForSettlement is the memo text carried on posted entries; the
// reconciliation comparator recovers the settlement id from it.
func MemoForSettlement(settlementID string) string {
	return fmt.Sprintf("Settlement %s", settlementID)
}
