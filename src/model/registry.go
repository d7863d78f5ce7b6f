// src/model/registry.go
package model

import (
	"database/sql"

	"github.com/progami/targonos/backend/src/ledger"
	"github.com/progami/targonos/backend/src/models"
)

// SQLRegistry adapts the processing-record functions to the registry
// interface the posting service consumes.
type SQLRegistry struct {
	DB *sql.DB
}

func (r *SQLRegistry) BySettlementEntry(settlementJournalEntryID string) (*models.ProcessingRecord, error) {
	return GetProcessingRecordBySettlementEntry(r.DB, settlementJournalEntryID)
}

func (r *SQLRegistry) ByInvoice(marketplace, invoiceID string) (*models.ProcessingRecord, error) {
	return GetProcessingRecordByInvoice(r.DB, marketplace, invoiceID)
}

func (r *SQLRegistry) Insert(rec *models.ProcessingRecord) error {
	return InsertProcessingRecord(r.DB, rec)
}

func (r *SQLRegistry) List() ([]models.ProcessingRecord, error) {
	return ListProcessingRecords(r.DB)
}

// SQLCredentialStore persists ledger credentials in sqlite.
type SQLCredentialStore struct {
	DB *sql.DB
}

func (s *SQLCredentialStore) Load(realmID string) (ledger.Credential, error) {
	return GetLedgerCredential(s.DB, realmID)
}

func (s *SQLCredentialStore) Save(cred ledger.Credential) error {
	return SaveLedgerCredential(s.DB, cred)
}
