// Command plutus-reconcile recomputes expected settlement totals from raw
// marketplace exports and diffs them against ledger exports, printing one
// TAP-like ok / not ok line per comparison. Exits 1 on any mismatch.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/progami/targonos/backend/src/config"
	"github.com/progami/targonos/backend/src/logger"
	"github.com/progami/targonos/backend/src/models"
	"github.com/progami/targonos/backend/src/parsers/amazon"
	"github.com/progami/targonos/backend/src/parsers/ledgerexport"
	"github.com/progami/targonos/backend/src/services"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ",") }

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func main() {
	var amazonPaths stringSliceFlag
	flag.Var(&amazonPaths, "amazon", "raw marketplace export CSV (repeatable)")
	ledgerPath := flag.String("ledger", "", "general-ledger export CSV")
	txlistPath := flag.String("txlist", "", "transaction-list export CSV")
	flag.Parse()

	config.LoadConfigForTools()
	logger.InitLogger(config.Cfg.LogLevel)

	if len(amazonPaths) == 0 || *ledgerPath == "" || *txlistPath == "" {
		fmt.Fprintln(os.Stderr, "usage: plutus-reconcile --amazon export.csv [--amazon more.csv] --ledger gl.csv --txlist txlist.csv")
		os.Exit(2)
	}

	parser := amazon.NewParser(config.Cfg.MaxExportRows)
	var rows []models.TransactionRow
	for _, path := range amazonPaths {
		f, err := os.Open(path)
		if err != nil {
			fatal("opening %s: %v", path, err)
		}
		parsed, err := parser.Parse(f)
		f.Close()
		if err != nil {
			fatal("parsing %s: %v", path, err)
		}
		rows = append(rows, parsed...)
	}

	glFile, err := os.Open(*ledgerPath)
	if err != nil {
		fatal("opening %s: %v", *ledgerPath, err)
	}
	glRows, err := ledgerexport.ParseGeneralLedger(glFile)
	glFile.Close()
	if err != nil {
		fatal("parsing %s: %v", *ledgerPath, err)
	}

	txFile, err := os.Open(*txlistPath)
	if err != nil {
		fatal("opening %s: %v", *txlistPath, err)
	}
	txRows, err := ledgerexport.ParseTransactionList(txFile)
	txFile.Close()
	if err != nil {
		fatal("parsing %s: %v", *txlistPath, err)
	}

	report, err := services.NewReconciliationService().Compare(rows, glRows, txRows)
	if err != nil {
		fatal("reconciliation: %v", err)
	}

	fmt.Printf("1..%d\n", len(report.Lines))
	for i, line := range report.Lines {
		if line.Ok {
			fmt.Printf("ok %d - %s\n", i+1, line.Name)
			continue
		}
		fmt.Printf("not ok %d - %s  expected=%s actual=%s delta=%s\n",
			i+1, line.Name, line.Expected, line.Actual, line.Delta)
	}

	if report.Mismatches > 0 {
		fmt.Printf("# %d mismatch(es)\n", report.Mismatches)
		os.Exit(1)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
