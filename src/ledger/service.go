// src/ledger/service.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Account is one entry of the external ledger's chart of accounts.
type Account struct {
	Ref  string `json:"ref"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// EntryLine is one line of a posted or draft journal entry on the wire.
type EntryLine struct {
	AccountRef string          `json:"accountRef"`
	Memo       string          `json:"memo"`
	Amount     decimal.Decimal `json:"amount"`
}

// JournalEntry is the external ledger's journal entry representation.
type JournalEntry struct {
	ID          string      `json:"id,omitempty"`
	DocNumber   string      `json:"docNumber"`
	TxnDate     time.Time   `json:"txnDate"`
	PrivateNote string      `json:"privateNote"`
	Lines       []EntryLine `json:"lines"`
}

// PurchaseLine is one line item of a purchase document.
type PurchaseLine struct {
	ID          string `json:"id,omitempty"`
	SKU         string `json:"sku"`
	Region      string `json:"region"`
	Quantity    int64  `json:"quantity"`
	AmountCents int64  `json:"amountCents"`
	Memo        string `json:"memo,omitempty"`
}

// Purchase is a purchase document with allocatable line items.
type Purchase struct {
	ID        string         `json:"id,omitempty"`
	DocNumber string         `json:"docNumber"`
	TxnDate   time.Time      `json:"txnDate"`
	Lines     []PurchaseLine `json:"lines"`
}

// EntryQuery filters journal entry listings. DocNumberContains matches as a
// substring; zero dates are open-ended.
type EntryQuery struct {
	DocNumberContains string
	DateFrom          time.Time
	DateTo            time.Time
}

// APIError is a non-2xx response from the ledger service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger api: status %d: %s", e.StatusCode, e.Message)
}

// ErrAuth marks authentication/authorization failures distinctly, since the
// caller may want to drop the persisted credential on them.
var ErrAuth = errors.New("ledger api: authentication failed")

// Service is the external ledger-service capability. Every call takes the
// current credential and returns a possibly refreshed one; the caller is
// responsible for persisting the returned credential before the next call.
// The connection carries a single mutable token, so calls must not be made
// concurrently.
type Service interface {
	GetAccounts(ctx context.Context, cred Credential) ([]Account, Credential, error)

	QueryJournalEntries(ctx context.Context, cred Credential, q EntryQuery) ([]JournalEntry, Credential, error)
	CreateJournalEntry(ctx context.Context, cred Credential, entry JournalEntry) (JournalEntry, Credential, error)
	UpdateJournalEntry(ctx context.Context, cred Credential, entry JournalEntry) (JournalEntry, Credential, error)

	QueryPurchases(ctx context.Context, cred Credential, docNumberContains string) ([]Purchase, Credential, error)
	CreatePurchase(ctx context.Context, cred Credential, p Purchase) (Purchase, Credential, error)
	UpdatePurchase(ctx context.Context, cred Credential, p Purchase) (Purchase, Credential, error)
}
