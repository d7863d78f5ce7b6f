// src/services/posting_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/progami/targonos/backend/src/allocation"
	"github.com/progami/targonos/backend/src/journal"
	"github.com/progami/targonos/backend/src/ledger"
	"github.com/progami/targonos/backend/src/logger"
	"github.com/progami/targonos/backend/src/matching"
	"github.com/progami/targonos/backend/src/model"
	"github.com/progami/targonos/backend/src/models"
	"github.com/progami/targonos/backend/src/processors"
	"github.com/shopspring/decimal"
)

const (
	ckAccountMap = "plutus_account_map"

	DefaultCacheExpiration = 15 * time.Minute
	CacheCleanupInterval   = 30 * time.Minute
)

var centsFactor = decimal.NewFromInt(100)

// PostingService walks one settlement through
// unmatched → matched → previewed → posted, or parks it in blocked with a
// triage reason. Settlements are processed sequentially: the ledger
// connection carries a single mutable token, so calls must never race.
type PostingService struct {
	ledgerSvc  ledger.Service
	registry   ProcessingRegistry
	creds      CredentialStore
	aggregator *processors.SettlementAggregator
	realmID    string
	cache      *cache.Cache
}

func NewPostingService(
	ledgerSvc ledger.Service,
	registry ProcessingRegistry,
	creds CredentialStore,
	realmID string,
	reportCache *cache.Cache,
) *PostingService {
	return &PostingService{
		ledgerSvc:  ledgerSvc,
		registry:   registry,
		creds:      creds,
		aggregator: processors.NewSettlementAggregator(),
		realmID:    realmID,
		cache:      reportCache,
	}
}

// ProcessSettlement runs the full pipeline for the rows of one settlement.
// With post=false the run stops at previewed (dry-run); the processing
// registry is consulted before any external call either way, so re-running
// an already posted settlement is a no-op.
func (s *PostingService) ProcessSettlement(ctx context.Context, rows []models.TransactionRow, invoices []models.AuditInvoiceSummary, post bool) SettlementOutcome {
	out := SettlementOutcome{State: StateUnmatched, DryRun: !post}

	totals, err := s.aggregator.Aggregate(rows)
	if err != nil {
		if len(rows) > 0 {
			out.SettlementID = rows[0].SettlementID
		}
		return blocked(out, ReasonAggregationFailed, err.Error())
	}
	out.SettlementID = totals.SettlementID
	out.Marketplace = models.NormalizeMarketplace(totals.Marketplace)

	// --- unmatched → matched ---
	match := matching.Match(matching.Period{
		Marketplace: out.Marketplace,
		Start:       totals.PeriodStart,
		End:         totals.PeriodEnd,
	}, invoices)
	out.Match = match

	switch match.Outcome {
	case models.MatchNoCandidate:
		return blocked(out, ReasonNoInvoiceMatch, "no audit invoice candidate for period")
	case models.MatchAmbiguous:
		return blocked(out, ReasonAmbiguousMatch, "candidates: "+strings.Join(match.Candidates, ", "))
	case models.MatchOverlapping:
		return blocked(out, ReasonOverlapOnly, fmt.Sprintf("invoice %s only overlaps the settlement period; review required", match.InvoiceID))
	}

	// Idempotency: both registry lookups happen before any external call.
	entryKey := journal.SettlementEntryKey(totals.SettlementID)
	if rec, err := s.registry.BySettlementEntry(entryKey); err != nil {
		return blocked(out, ReasonRecordConflict, err.Error())
	} else if rec != nil {
		return alreadyProcessed(out, rec)
	}
	if rec, err := s.registry.ByInvoice(out.Marketplace, match.InvoiceID); err != nil {
		return blocked(out, ReasonRecordConflict, err.Error())
	} else if rec != nil {
		return alreadyProcessed(out, rec)
	}

	matchedInvoice := findInvoice(invoices, out.Marketplace, match.InvoiceID)
	if matchedInvoice == nil || matchedInvoice.RowCount == 0 {
		return blocked(out, ReasonMissingAuditRows, fmt.Sprintf("invoice %s has no scoped audit rows", match.InvoiceID))
	}
	out.State = StateMatched

	// --- matched → previewed ---
	cred, err := s.creds.Load(s.realmID)
	if err != nil {
		return blocked(out, ReasonLedgerError, err.Error())
	}

	accounts, cred, err := s.accountMap(ctx, cred)
	if err != nil {
		return blocked(out, ReasonLedgerError, err.Error())
	}

	cogs, pnl := journal.NewBuilder(accounts).Build(totals)
	out.Blocks = append(append([]models.ProcessingBlock{}, cogs.Blocks...), pnl.Blocks...)
	if cogs.HasFatalBlock() || pnl.HasFatalBlock() || len(cogs.Lines) == 0 || len(pnl.Lines) == 0 {
		return blocked(out, ReasonFatalBlocks, "journal drafts carry fatal blocks or empty lines")
	}
	out.State = StatePreviewed

	// Allocation of the shared fulfilment cost is validated against the
	// ledger's current state before any posting attempt.
	cred, reason, detail := s.syncFulfilmentPurchase(ctx, cred, totals, rows, post)
	if reason != "" {
		return blocked(out, reason, detail)
	}

	if !post {
		return out
	}

	// --- previewed → posted ---
	postedCOGS, cred, err := s.ledgerSvc.CreateJournalEntry(ctx, cred, toLedgerEntry(cogs))
	cred = s.persist(cred)
	if err != nil {
		return blocked(out, ReasonLedgerError, fmt.Sprintf("posting COGS journal: %v", err))
	}
	out.COGSEntryID = postedCOGS.ID

	postedPNL, cred, err := s.ledgerSvc.CreateJournalEntry(ctx, cred, toLedgerEntry(pnl))
	s.persist(cred)
	if err != nil {
		// The ledger has the COGS entry but not the P&L entry and exposes
		// no cross-entry transaction; no automatic compensation is
		// attempted. Flagged distinctly for manual reconciliation.
		return blocked(out, ReasonPartialPosting,
			fmt.Sprintf("COGS entry %s posted but P&L posting failed: %v; manual reconciliation required", postedCOGS.ID, err))
	}
	out.PNLEntryID = postedPNL.ID

	rec := &models.ProcessingRecord{
		SettlementID:             totals.SettlementID,
		Marketplace:              out.Marketplace,
		InvoiceID:                match.InvoiceID,
		SettlementJournalEntryID: entryKey,
		COGSJournalEntryID:       postedCOGS.ID,
		PNLJournalEntryID:        postedPNL.ID,
		PostedTotalCents:         totals.SourceTotal.Mul(centsFactor).IntPart(),
	}
	if err := s.registry.Insert(rec); err != nil {
		if errors.Is(err, model.ErrAlreadyProcessed) {
			return blocked(out, ReasonRecordConflict, "concurrent run recorded this settlement first; postings require manual review")
		}
		return blocked(out, ReasonRecordConflict, fmt.Sprintf("postings succeeded but recording failed: %v", err))
	}

	out.State = StatePosted
	logger.L.Info("Settlement posted",
		"settlementID", totals.SettlementID, "invoiceID", match.InvoiceID,
		"cogsEntryID", postedCOGS.ID, "pnlEntryID", postedPNL.ID)
	return out
}

// accountMap resolves bucket account names to ledger refs from the chart of
// accounts, cached per run.
func (s *PostingService) accountMap(ctx context.Context, cred ledger.Credential) (journal.AccountMap, ledger.Credential, error) {
	if cached, found := s.cache.Get(ckAccountMap); found {
		return cached.(journal.AccountMap), cred, nil
	}

	accounts, cred, err := s.ledgerSvc.GetAccounts(ctx, cred)
	cred = s.persist(cred)
	if err != nil {
		return nil, cred, err
	}

	m := make(journal.AccountMap, len(accounts))
	for _, a := range accounts {
		m[a.Name] = a.Ref
	}
	s.cache.Set(ckAccountMap, m, cache.DefaultExpiration)
	return m, cred, nil
}

// syncFulfilmentPurchase splits the per-unit fulfilment cost across the
// settlement's (sku, region) claims and reconciles the allocation with the
// ledger's purchase document. A cent-amount mismatch on an existing
// purchase means the document changed since preview and is a rejection
// before any posting attempt.
func (s *PostingService) syncFulfilmentPurchase(ctx context.Context, cred ledger.Credential, totals *models.SettlementTotals, rows []models.TransactionRow, post bool) (ledger.Credential, string, string) {
	perUnit := totals.Line(processors.AccountFBAFees, processors.MemoFBAPerUnit)
	if perUnit.IsZero() {
		return cred, "", ""
	}

	claims := fulfilmentClaims(rows)
	if len(claims) < 2 {
		// A single claim is not a split; the journal line already carries
		// the full amount.
		return cred, "", ""
	}

	totalCents := perUnit.Mul(centsFactor).IntPart()
	shares, err := allocation.Allocate(totalCents, claims)
	if err != nil {
		return cred, ReasonAllocationFailed, err.Error()
	}

	doc := journal.PurchaseDocNumber(totals.SettlementID)
	existing, cred, err := s.ledgerSvc.QueryPurchases(ctx, cred, doc)
	cred = s.persist(cred)
	if err != nil {
		return cred, ReasonLedgerError, fmt.Sprintf("querying purchase %s: %v", doc, err)
	}

	if len(existing) > 0 {
		current := make(map[string]int64, len(existing[0].Lines))
		for _, line := range existing[0].Lines {
			current[line.SKU+"\x00"+line.Region] = line.AmountCents
		}
		for i, c := range claims {
			if current[c.SKU+"\x00"+c.Region] != shares[i] {
				return cred, ReasonStalePurchase,
					fmt.Sprintf("purchase %s line (%s, %s) is %d cents in the ledger, expected %d", doc, c.SKU, c.Region, current[c.SKU+"\x00"+c.Region], shares[i])
			}
		}
		return cred, "", ""
	}

	if !post {
		return cred, "", ""
	}

	purchase := ledger.Purchase{DocNumber: doc, TxnDate: totals.PeriodEnd}
	for i, c := range claims {
		purchase.Lines = append(purchase.Lines, ledger.PurchaseLine{
			SKU:         c.SKU,
			Region:      c.Region,
			Quantity:    c.Units,
			AmountCents: shares[i],
			Memo:        journal.MemoForSettlement(totals.SettlementID),
		})
	}
	_, cred, err = s.ledgerSvc.CreatePurchase(ctx, cred, purchase)
	cred = s.persist(cred)
	if err != nil {
		return cred, ReasonLedgerError, fmt.Sprintf("creating purchase %s: %v", doc, err)
	}
	return cred, "", ""
}

// persist saves the credential whenever a call returned a changed one; the
// token must be durable before the next call uses it.
func (s *PostingService) persist(cred ledger.Credential) ledger.Credential {
	stored, err := s.creds.Load(cred.RealmID)
	if err == nil && !cred.Changed(stored) {
		return cred
	}
	if err := s.creds.Save(cred); err != nil {
		logger.L.Error("Failed to persist ledger credential", "realmID", cred.RealmID, "error", err)
	}
	return cred
}

// fulfilmentClaims folds Order rows into per-(sku, region) unit claims,
// sorted for deterministic allocation order.
func fulfilmentClaims(rows []models.TransactionRow) []allocation.Claim {
	units := make(map[allocation.Claim]int64)
	for _, row := range rows {
		if row.Type != models.TxOrder || row.SKU == "" || row.Quantity <= 0 {
			continue
		}
		key := allocation.Claim{SKU: row.SKU, Region: models.NormalizeMarketplace(row.Marketplace)}
		units[key] += row.Quantity
	}

	claims := make([]allocation.Claim, 0, len(units))
	for key, n := range units {
		key.Units = n
		claims = append(claims, key)
	}
	sort.Slice(claims, func(i, j int) bool {
		if claims[i].SKU != claims[j].SKU {
			return claims[i].SKU < claims[j].SKU
		}
		return claims[i].Region < claims[j].Region
	})
	return claims
}

func toLedgerEntry(draft *models.JournalDraft) ledger.JournalEntry {
	entry := ledger.JournalEntry{
		DocNumber:   draft.DocNumber,
		TxnDate:     draft.Date,
		PrivateNote: journal.MemoForSettlement(draft.SettlementID),
	}
	for _, line := range draft.Lines {
		entry.Lines = append(entry.Lines, ledger.EntryLine{
			AccountRef: line.AccountRef,
			Memo:       line.Memo,
			Amount:     line.Amount,
		})
	}
	return entry
}

func findInvoice(invoices []models.AuditInvoiceSummary, marketplace, invoiceID string) *models.AuditInvoiceSummary {
	for i := range invoices {
		if invoices[i].Marketplace == marketplace && invoices[i].InvoiceID == invoiceID {
			return &invoices[i]
		}
	}
	return nil
}

func blocked(out SettlementOutcome, reason, detail string) SettlementOutcome {
	out.State = StateBlocked
	out.Reason = reason
	out.Detail = detail
	return out
}

func alreadyProcessed(out SettlementOutcome, rec *models.ProcessingRecord) SettlementOutcome {
	out.State = StateBlocked
	out.Reason = ReasonAlreadyProcessed
	out.Detail = fmt.Sprintf("posted as entries %s / %s", rec.COGSJournalEntryID, rec.PNLJournalEntryID)
	out.COGSEntryID = rec.COGSJournalEntryID
	out.PNLEntryID = rec.PNLJournalEntryID
	return out
}
