// src/model/processing_record.go
package model

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/progami/targonos/backend/src/models"
)

// ErrAlreadyProcessed is returned when an insert collides with either
// uniqueness constraint: the settlement journal entry id, or the
// (marketplace, invoice id) pair. The constraints make a racing second
// insert fail closed instead of double-posting.
var ErrAlreadyProcessed = errors.New("processing record already exists")

// GetProcessingRecordBySettlementEntry looks up the record for a settlement
// journal entry id. Returns (nil, nil) when none exists.
func GetProcessingRecordBySettlementEntry(db *sql.DB, settlementJournalEntryID string) (*models.ProcessingRecord, error) {
	return scanOne(db.QueryRow(`
		SELECT id, settlement_id, marketplace, invoice_id, settlement_journal_entry_id,
		       cogs_journal_entry_id, pnl_journal_entry_id, posted_total_cents, created_at
		FROM processing_records
		WHERE settlement_journal_entry_id = ?`, settlementJournalEntryID))
}

// GetProcessingRecordByInvoice looks up the record for a (marketplace,
// invoice id) pair. Returns (nil, nil) when none exists.
func GetProcessingRecordByInvoice(db *sql.DB, marketplace, invoiceID string) (*models.ProcessingRecord, error) {
	return scanOne(db.QueryRow(`
		SELECT id, settlement_id, marketplace, invoice_id, settlement_journal_entry_id,
		       cogs_journal_entry_id, pnl_journal_entry_id, posted_total_cents, created_at
		FROM processing_records
		WHERE marketplace = ? AND invoice_id = ?`, marketplace, invoiceID))
}

// InsertProcessingRecord writes the record in a single statement, relying on
// the unique indexes for atomicity. A constraint violation surfaces as
// ErrAlreadyProcessed.
func InsertProcessingRecord(db *sql.DB, rec *models.ProcessingRecord) error {
	res, err := db.Exec(`
		INSERT INTO processing_records
			(settlement_id, marketplace, invoice_id, settlement_journal_entry_id,
			 cogs_journal_entry_id, pnl_journal_entry_id, posted_total_cents)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SettlementID, rec.Marketplace, rec.InvoiceID, rec.SettlementJournalEntryID,
		rec.COGSJournalEntryID, rec.PNLJournalEntryID, rec.PostedTotalCents)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyProcessed
		}
		return fmt.Errorf("inserting processing record: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading processing record id: %w", err)
	}
	return nil
}

// ListProcessingRecords returns every record, newest first, for operator
// triage and the batch tool's skip decisions.
func ListProcessingRecords(db *sql.DB) ([]models.ProcessingRecord, error) {
	rows, err := db.Query(`
		SELECT id, settlement_id, marketplace, invoice_id, settlement_journal_entry_id,
		       cogs_journal_entry_id, pnl_journal_entry_id, posted_total_cents, created_at
		FROM processing_records
		ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing processing records: %w", err)
	}
	defer rows.Close()

	var records []models.ProcessingRecord
	for rows.Next() {
		var rec models.ProcessingRecord
		if err := rows.Scan(&rec.ID, &rec.SettlementID, &rec.Marketplace, &rec.InvoiceID,
			&rec.SettlementJournalEntryID, &rec.COGSJournalEntryID, &rec.PNLJournalEntryID,
			&rec.PostedTotalCents, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning processing record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanOne(row *sql.Row) (*models.ProcessingRecord, error) {
	var rec models.ProcessingRecord
	err := row.Scan(&rec.ID, &rec.SettlementID, &rec.Marketplace, &rec.InvoiceID,
		&rec.SettlementJournalEntryID, &rec.COGSJournalEntryID, &rec.PNLJournalEntryID,
		&rec.PostedTotalCents, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning processing record: %w", err)
	}
	return &rec, nil
}

// isUniqueViolation matches sqlite's constraint error text; modernc/sqlite
// does not export a typed error for it.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "UNIQUE")
}
