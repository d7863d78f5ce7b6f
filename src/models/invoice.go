// src/models/invoice.go
package models

import "time"

// AuditInvoiceSummary identifies one audit-grade invoice, as grouped
// server-side by (invoice id, normalized marketplace). Read-only; used only
// for matching.
type AuditInvoiceSummary struct {
	InvoiceID   string    `json:"invoice_id"`
	Marketplace string    `json:"marketplace"`
	RowCount    int       `json:"row_count"`
	MinDate     time.Time `json:"min_date"`
	MaxDate     time.Time `json:"max_date"`
	Markets     []string  `json:"markets"`
}

// MatchOutcome is the closed set of invoice-matching outcomes. Callers must
// handle every variant; anything other than Contained is not ready to post.
type MatchOutcome string

const (
	MatchContained   MatchOutcome = "contained"
	MatchOverlapping MatchOutcome = "overlapping"
	MatchAmbiguous   MatchOutcome = "ambiguous"
	MatchNoCandidate MatchOutcome = "no_candidate"
)

// MatchResult is the outcome of matching one settlement period against the
// available audit invoices. InvoiceID is set only for Contained and
// Overlapping; Candidates lists the tied invoice ids on Ambiguous.
type MatchResult struct {
	Outcome    MatchOutcome `json:"outcome"`
	InvoiceID  string       `json:"invoice_id,omitempty"`
	Candidates []string     `json:"candidates,omitempty"`
}

// Matched reports whether the result is the single unambiguous contained
// match required before posting.
func (r MatchResult) Matched() bool {
	return r.Outcome == MatchContained && r.InvoiceID != ""
}
