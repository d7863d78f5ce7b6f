// src/parsers/ledgerexport/parser.go
//
// Parsers for the two exports the reconciliation comparator reads back from
// the external ledger: the general-ledger export (per-line) and the
// transaction-list export (per-document). Both are read-only inputs; the
// comparator never writes to the ledger.
package ledgerexport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const headerScanLimit = 8

var (
	ErrHeaderNotFound = errors.New("ledger export parser: header row not found")

	glColumns     = []string{"num", "account", "memo/description", "amount"}
	txListColumns = []string{"num", "amount"}
)

// settlementMemoPattern recovers the settlement id the posting engine
// writes into entry memo text.
var settlementMemoPattern = regexp.MustCompile(`Settlement (\S+)`)

// GLRow is one line of the general-ledger export.
type GLRow struct {
	DocNumber string
	Account   string
	Memo      string
	Amount    decimal.Decimal
}

// TxListRow is one document of the transaction-list export.
type TxListRow struct {
	DocNumber string
	Amount    decimal.Decimal
}

// ParseGeneralLedger reads a general-ledger export.
func ParseGeneralLedger(file io.Reader) ([]GLRow, error) {
	records, colIndex, err := readDelimited(file, glColumns)
	if err != nil {
		return nil, err
	}

	var rows []GLRow
	for i, record := range records {
		field := fieldFunc(record, colIndex)
		docNumber := field("num")
		if docNumber == "" {
			continue // subtotal / section rows
		}
		amount, err := parseAmount(field("amount"))
		if err != nil {
			return nil, fmt.Errorf("ledger export parser: general ledger row %d: %w", i+1, err)
		}
		rows = append(rows, GLRow{
			DocNumber: docNumber,
			Account:   field("account"),
			Memo:      field("memo/description"),
			Amount:    amount,
		})
	}
	return rows, nil
}

// ParseTransactionList reads a transaction-list export.
func ParseTransactionList(file io.Reader) ([]TxListRow, error) {
	records, colIndex, err := readDelimited(file, txListColumns)
	if err != nil {
		return nil, err
	}

	var rows []TxListRow
	for i, record := range records {
		field := fieldFunc(record, colIndex)
		docNumber := field("num")
		if docNumber == "" {
			continue
		}
		amount, err := parseAmount(field("amount"))
		if err != nil {
			return nil, fmt.Errorf("ledger export parser: transaction list row %d: %w", i+1, err)
		}
		rows = append(rows, TxListRow{DocNumber: docNumber, Amount: amount})
	}
	return rows, nil
}

// SettlementsByDocNumber recovers the settlement-id → doc-number mapping
// from memo text, inverted to doc-number → settlement-id for joining.
func SettlementsByDocNumber(rows []GLRow) map[string]string {
	out := make(map[string]string)
	for _, row := range rows {
		if m := settlementMemoPattern.FindStringSubmatch(row.Memo); m != nil {
			out[row.DocNumber] = m[1]
		}
	}
	return out
}

func readDelimited(file io.Reader, required []string) ([][]string, map[string]int, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	colIndex, err := scanForHeader(reader, required)
	if err != nil {
		return nil, nil, err
	}

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("ledger export parser: failed to read CSV record: %w", err)
		}
		records = append(records, record)
	}
	return records, colIndex, nil
}

func scanForHeader(reader *csv.Reader, required []string) (map[string]int, error) {
	for attempt := 0; attempt < headerScanLimit; attempt++ {
		record, err := reader.Read()
		if err == io.EOF {
			return nil, ErrHeaderNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("ledger export parser: failed to read CSV header candidate: %w", err)
		}

		index := make(map[string]int, len(record))
		for i, name := range record {
			index[strings.ToLower(strings.TrimSpace(name))] = i
		}

		found := true
		for _, col := range required {
			if _, ok := index[col]; !ok {
				found = false
				break
			}
		}
		if found {
			return index, nil
		}
	}
	return nil, ErrHeaderNotFound
}

func fieldFunc(record []string, colIndex map[string]int) func(string) string {
	return func(name string) string {
		idx, ok := colIndex[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}
}

func parseAmount(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return decimal.Zero, nil
	}
	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = cleaned[1 : len(cleaned)-1]
	}
	cleaned = strings.NewReplacer("$", "", ",", "", " ", "").Replace(cleaned)
	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q is not a number", raw)
	}
	if negative {
		value = value.Neg()
	}
	return value, nil
}
