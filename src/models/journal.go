// src/models/journal.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// JournalKind distinguishes the two drafts built per settlement.
type JournalKind string

const (
	JournalCOGS JournalKind = "cogs"
	JournalPNL  JournalKind = "pnl"
)

// JournalLine is one (account, amount, memo) line of a draft. AccountRef is
// the external ledger's account reference resolved from the account map.
type JournalLine struct {
	Account    string          `json:"account"`
	AccountRef string          `json:"account_ref"`
	Memo       string          `json:"memo"`
	Amount     decimal.Decimal `json:"amount"`
}

// ProcessingBlock is a structured warning or error attached to a draft.
// A fatal block prevents the draft from ever being posted.
type ProcessingBlock struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// JournalDraft is a COGS or P&L journal entry candidate. Drafts are never
// posted directly; they always pass through the idempotent poster.
type JournalDraft struct {
	Kind         JournalKind       `json:"kind"`
	SettlementID string            `json:"settlement_id"`
	DocNumber    string            `json:"doc_number"`
	Date         time.Time         `json:"date"`
	Lines        []JournalLine     `json:"lines"`
	Blocks       []ProcessingBlock `json:"blocks,omitempty"`
}

// AddBlock appends a processing block to the draft.
func (d *JournalDraft) AddBlock(code, message string, fatal bool) {
	d.Blocks = append(d.Blocks, ProcessingBlock{Code: code, Message: message, Fatal: fatal})
}

// HasFatalBlock reports whether any attached block is fatal.
func (d *JournalDraft) HasFatalBlock() bool {
	for _, b := range d.Blocks {
		if b.Fatal {
			return true
		}
	}
	return false
}

// Total is the signed sum of every line amount on the draft.
func (d *JournalDraft) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, line := range d.Lines {
		sum = sum.Add(line.Amount)
	}
	return sum
}

// ProcessingRecord is the durable "already posted" marker, unique on the
// settlement journal entry id and on (marketplace, invoice id). Created only
// after both postings succeed; append-only from the engine's perspective.
type ProcessingRecord struct {
	ID                       int64     `json:"id"`
	SettlementID             string    `json:"settlement_id"`
	Marketplace              string    `json:"marketplace"`
	InvoiceID                string    `json:"invoice_id"`
	SettlementJournalEntryID string    `json:"settlement_journal_entry_id"`
	COGSJournalEntryID       string    `json:"cogs_journal_entry_id"`
	PNLJournalEntryID        string    `json:"pnl_journal_entry_id"`
	PostedTotalCents         int64     `json:"posted_total_cents"`
	CreatedAt                time.Time `json:"created_at"`
}
