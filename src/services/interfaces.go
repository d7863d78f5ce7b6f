// src/services/interfaces.go
package services

import (
	"context"
	"errors"

	"github.com/progami/targonos/backend/src/ledger"
	"github.com/progami/targonos/backend/src/models"
)

// Define common service errors
var (
	ErrParsingFailed     = errors.New("export parsing failed")
	ErrAggregationFailed = errors.New("settlement aggregation failed")
)

// SettlementState is the poster's per-settlement state machine. posted is
// terminal; blocked is terminal until a re-run with corrected inputs.
type SettlementState string

const (
	StateUnmatched SettlementState = "unmatched"
	StateMatched   SettlementState = "matched"
	StatePreviewed SettlementState = "previewed"
	StatePosted    SettlementState = "posted"
	StateBlocked   SettlementState = "blocked"
)

// Block reasons attached to blocked outcomes for operator triage.
const (
	ReasonAggregationFailed = "aggregation_failed"
	ReasonNoInvoiceMatch    = "no_invoice_match"
	ReasonAmbiguousMatch    = "ambiguous_match"
	ReasonOverlapOnly       = "overlapping_match_only"
	ReasonAlreadyProcessed  = "already_processed"
	ReasonMissingAuditRows  = "missing_scoped_audit_rows"
	ReasonFatalBlocks       = "blocking_preview_condition"
	ReasonAllocationFailed  = "allocation_failed"
	ReasonStalePurchase     = "purchase_changed_since_preview"
	ReasonLedgerError       = "ledger_error"
	ReasonPartialPosting    = "partial_posting"
	ReasonRecordConflict    = "processing_record_conflict"
)

// SettlementOutcome reports one settlement's trip through the poster.
type SettlementOutcome struct {
	SettlementID string                   `json:"settlement_id"`
	Marketplace  string                   `json:"marketplace,omitempty"`
	State        SettlementState          `json:"state"`
	Reason       string                   `json:"reason,omitempty"`
	Detail       string                   `json:"detail,omitempty"`
	Match        models.MatchResult       `json:"match"`
	COGSEntryID  string                   `json:"cogs_entry_id,omitempty"`
	PNLEntryID   string                   `json:"pnl_entry_id,omitempty"`
	Blocks       []models.ProcessingBlock `json:"blocks,omitempty"`
	DryRun       bool                     `json:"dry_run"`
}

// ProcessingRegistry is the engine's only owned persistent state: two
// lookups and one atomic insert over the processing records, independent of
// the storage engine behind it.
type ProcessingRegistry interface {
	BySettlementEntry(settlementJournalEntryID string) (*models.ProcessingRecord, error)
	ByInvoice(marketplace, invoiceID string) (*models.ProcessingRecord, error)
	// Insert must fail with model.ErrAlreadyProcessed on either uniqueness
	// collision rather than overwrite.
	Insert(rec *models.ProcessingRecord) error
	List() ([]models.ProcessingRecord, error)
}

// CredentialStore persists the ledger connection credential between calls.
type CredentialStore interface {
	Load(realmID string) (ledger.Credential, error)
	Save(cred ledger.Credential) error
}

// Poster drives settlements through the posting state machine.
type Poster interface {
	ProcessSettlement(ctx context.Context, rows []models.TransactionRow, invoices []models.AuditInvoiceSummary, post bool) SettlementOutcome
}
