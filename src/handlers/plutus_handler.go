// src/handlers/plutus_handler.go
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/progami/targonos/backend/src/config"
	"github.com/progami/targonos/backend/src/logger"
	"github.com/progami/targonos/backend/src/models"
	"github.com/progami/targonos/backend/src/parsers/amazon"
	"github.com/progami/targonos/backend/src/parsers/auditinvoice"
	"github.com/progami/targonos/backend/src/parsers/ledgerexport"
	"github.com/progami/targonos/backend/src/security/validation"
	"github.com/progami/targonos/backend/src/services"
	"github.com/progami/targonos/backend/src/utils"
)

// PlutusHandler exposes the settlement pipeline to the ops suite: posted
// record listings, dry-run/post processing, and the reconciliation report.
type PlutusHandler struct {
	poster   services.Poster
	registry services.ProcessingRegistry
	recon    *services.ReconciliationService
}

func NewPlutusHandler(poster services.Poster, registry services.ProcessingRegistry, recon *services.ReconciliationService) *PlutusHandler {
	return &PlutusHandler{poster: poster, registry: registry, recon: recon}
}

// HandleGetProcessingRecords lists every processing record, newest first.
func (h *PlutusHandler) HandleGetProcessingRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.registry.List()
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list processing records", "error", err)
		utils.SendJSONError(w, "failed to list processing records", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, records, http.StatusOK)
}

type processRequest struct {
	TransactionsCSV string `json:"transactions_csv"`
	AuditCSV        string `json:"audit_csv"`
	Post            bool   `json:"post"`
}

// HandleProcessSettlements runs the posting pipeline over an uploaded
// marketplace export plus its audit invoice export. Dry-run unless the
// request asks to post and posting is enabled in config.
func (h *PlutusHandler) HandleProcessSettlements(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	var req processRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, config.Cfg.MaxExportSizeBytes)).Decode(&req); err != nil {
		utils.SendJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := validation.ValidateExportText("transactions_csv", req.TransactionsCSV); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidateExportText("audit_csv", req.AuditCSV); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := amazon.NewParser(config.Cfg.MaxExportRows).Parse(strings.NewReader(req.TransactionsCSV))
	if err != nil {
		ctxLogger.Warn("Transaction export rejected", "error", err)
		utils.SendJSONError(w, fmt.Sprintf("transaction export: %v", err), http.StatusBadRequest)
		return
	}

	invoiceRows, err := auditinvoice.NewParser().Parse(strings.NewReader(req.AuditCSV))
	if err != nil {
		ctxLogger.Warn("Audit invoice export rejected", "error", err)
		utils.SendJSONError(w, fmt.Sprintf("audit invoice export: %v", err), http.StatusBadRequest)
		return
	}
	invoices := auditinvoice.Summarize(invoiceRows)

	post := req.Post && config.Cfg.PostingEnabled
	if req.Post && !config.Cfg.PostingEnabled {
		ctxLogger.Warn("Post requested but posting is disabled; running dry-run instead")
	}

	groups, ids := services.GroupBySettlement(rows)

	// Settlements post sequentially: the ledger connection's token must
	// never be used concurrently.
	outcomes := make([]services.SettlementOutcome, 0, len(ids))
	for _, id := range ids {
		outcomes = append(outcomes, h.poster.ProcessSettlement(r.Context(), groups[id], invoices, post))
	}

	utils.SendJSON(w, outcomes, http.StatusOK)
}

type reconcileRequest struct {
	AmazonCSVs []string `json:"amazon_csvs"`
	LedgerCSV  string   `json:"ledger_csv"`
	TxListCSV  string   `json:"txlist_csv"`
}

// HandleReconciliationReport recomputes expected totals from raw exports
// and diffs them against the posted ledger exports. Read-only.
func (h *PlutusHandler) HandleReconciliationReport(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, config.Cfg.MaxExportSizeBytes)).Decode(&req); err != nil {
		utils.SendJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	parser := amazon.NewParser(config.Cfg.MaxExportRows)
	var allRows []models.TransactionRow
	for i, raw := range req.AmazonCSVs {
		if err := validation.ValidateExportText(fmt.Sprintf("amazon export %d", i+1), raw); err != nil {
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		rows, err := parser.Parse(strings.NewReader(raw))
		if err != nil {
			utils.SendJSONError(w, fmt.Sprintf("amazon export %d: %v", i+1, err), http.StatusBadRequest)
			return
		}
		allRows = append(allRows, rows...)
	}

	glRows, err := ledgerexport.ParseGeneralLedger(strings.NewReader(req.LedgerCSV))
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("general-ledger export: %v", err), http.StatusBadRequest)
		return
	}
	txRows, err := ledgerexport.ParseTransactionList(strings.NewReader(req.TxListCSV))
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("transaction-list export: %v", err), http.StatusBadRequest)
		return
	}

	report, err := h.recon.Compare(allRows, glRows, txRows)
	if err != nil {
		logger.FromContext(r.Context()).Error("Reconciliation failed", "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	utils.SendJSON(w, report, http.StatusOK)
}
