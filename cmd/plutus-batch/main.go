// Command plutus-batch re-runs the settlement pipeline over a marketplace
// export plus its audit invoice export and prints a JSON status report.
// Dry-run by default; --post actually writes to the ledger.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/progami/targonos/backend/src/config"
	"github.com/progami/targonos/backend/src/database"
	"github.com/progami/targonos/backend/src/ledger"
	"github.com/progami/targonos/backend/src/logger"
	"github.com/progami/targonos/backend/src/model"
	"github.com/progami/targonos/backend/src/models"
	"github.com/progami/targonos/backend/src/parsers/amazon"
	"github.com/progami/targonos/backend/src/parsers/auditinvoice"
	"github.com/progami/targonos/backend/src/services"
)

// batchEntry is one settlement's line in the JSON report. Disposition folds
// the poster's state machine down to what an operator acts on: ready (would
// post), wait (needs human attention), skip (already posted), posted,
// failed.
type batchEntry struct {
	SettlementID string `json:"settlement_id"`
	Disposition  string `json:"disposition"`
	State        string `json:"state"`
	Reason       string `json:"reason,omitempty"`
	Detail       string `json:"detail,omitempty"`
	InvoiceID    string `json:"invoice_id,omitempty"`
	COGSEntryID  string `json:"cogs_entry_id,omitempty"`
	PNLEntryID   string `json:"pnl_entry_id,omitempty"`
}

func main() {
	amazonPath := flag.String("amazon", "", "raw marketplace export CSV")
	auditPath := flag.String("audit", "", "audit invoice export CSV")
	startDate := flag.String("start-date", "", "only settlements whose period starts on/after this date (YYYY-MM-DD)")
	only := flag.String("only", "", "comma-separated settlement ids to process")
	allPending := flag.Bool("all-pending", false, "process every settlement in the export")
	post := flag.Bool("post", false, "actually post to the ledger (default dry-run)")
	flag.Parse()

	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	if *amazonPath == "" || *auditPath == "" {
		fmt.Fprintln(os.Stderr, "usage: plutus-batch --amazon export.csv --audit invoices.csv [--start-date YYYY-MM-DD] [--only id1,id2 | --all-pending] [--post]")
		os.Exit(2)
	}
	if *only == "" && !*allPending {
		fmt.Fprintln(os.Stderr, "plutus-batch: pass --only or --all-pending")
		os.Exit(2)
	}

	rows := parseAmazon(*amazonPath)
	invoices := parseAudit(*auditPath)

	groups, ids := services.GroupBySettlement(rows)
	ids = filterIDs(ids, groups, *only, *startDate)

	database.InitDB(config.Cfg.DatabasePath)
	database.RunMigrations(config.Cfg.DatabasePath)

	tokens := ledger.NewTokenSource(
		config.Cfg.LedgerTokenURL,
		config.Cfg.LedgerClientID,
		config.Cfg.LedgerClientSecret,
	)
	ledgerSvc := ledger.NewHTTPService(
		config.Cfg.LedgerBaseURL,
		config.Cfg.LedgerPageSize,
		config.Cfg.LedgerCallInterval,
		tokens,
	)
	registry := &model.SQLRegistry{DB: database.DB}
	credStore := &model.SQLCredentialStore{DB: database.DB}
	accountCache := cache.New(services.DefaultCacheExpiration, services.CacheCleanupInterval)
	poster := services.NewPostingService(ledgerSvc, registry, credStore, config.Cfg.LedgerRealmID, accountCache)

	doPost := *post && config.Cfg.PostingEnabled
	if *post && !config.Cfg.PostingEnabled {
		logger.L.Warn("--post given but POSTING_ENABLED is false; running dry-run")
	}

	report := make([]batchEntry, 0, len(ids))
	failed := false
	for _, id := range ids {
		out := poster.ProcessSettlement(context.Background(), groups[id], invoices, doPost)
		entry := batchEntry{
			SettlementID: id,
			Disposition:  disposition(out),
			State:        string(out.State),
			Reason:       out.Reason,
			Detail:       out.Detail,
			InvoiceID:    out.Match.InvoiceID,
			COGSEntryID:  out.COGSEntryID,
			PNLEntryID:   out.PNLEntryID,
		}
		if entry.Disposition == "failed" {
			failed = true
		}
		report = append(report, entry)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fatal("encoding report: %v", err)
	}
	if failed {
		os.Exit(1)
	}
}

func disposition(out services.SettlementOutcome) string {
	switch out.State {
	case services.StatePosted:
		return "posted"
	case services.StatePreviewed:
		return "ready"
	case services.StateBlocked:
		switch out.Reason {
		case services.ReasonAlreadyProcessed:
			return "skip"
		case services.ReasonNoInvoiceMatch, services.ReasonAmbiguousMatch,
			services.ReasonOverlapOnly, services.ReasonMissingAuditRows,
			services.ReasonFatalBlocks, services.ReasonStalePurchase:
			return "wait"
		default:
			return "failed"
		}
	default:
		return "wait"
	}
}

func filterIDs(ids []string, groups map[string][]models.TransactionRow, only, startDate string) []string {
	keep := func(string) bool { return true }
	if only != "" {
		wanted := make(map[string]bool)
		for _, id := range strings.Split(only, ",") {
			wanted[strings.TrimSpace(id)] = true
		}
		keep = func(id string) bool { return wanted[id] }
	}

	var cutoff time.Time
	if startDate != "" {
		var err error
		cutoff, err = time.Parse("2006-01-02", startDate)
		if err != nil {
			fatal("invalid --start-date %q: %v", startDate, err)
		}
	}

	var out []string
	for _, id := range ids {
		if !keep(id) {
			continue
		}
		if !cutoff.IsZero() && periodStart(groups[id]).Before(cutoff) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func periodStart(rows []models.TransactionRow) time.Time {
	var min time.Time
	for _, row := range rows {
		if row.PostedDate.IsZero() {
			continue
		}
		if min.IsZero() || row.PostedDate.Before(min) {
			min = row.PostedDate
		}
	}
	return min
}

func parseAmazon(path string) []models.TransactionRow {
	f, err := os.Open(path)
	if err != nil {
		fatal("opening %s: %v", path, err)
	}
	defer f.Close()
	rows, err := amazon.NewParser(config.Cfg.MaxExportRows).Parse(f)
	if err != nil {
		fatal("parsing %s: %v", path, err)
	}
	return rows
}

func parseAudit(path string) []models.AuditInvoiceSummary {
	f, err := os.Open(path)
	if err != nil {
		fatal("opening %s: %v", path, err)
	}
	defer f.Close()
	rows, err := auditinvoice.NewParser().Parse(f)
	if err != nil {
		fatal("parsing %s: %v", path, err)
	}
	return auditinvoice.Summarize(rows)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
