// src/parsers/amazon/parser.go
package amazon

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/progami/targonos/backend/src/models"
	"github.com/progami/targonos/backend/src/security/validation"
	"github.com/shopspring/decimal"
)

// headerScanLimit bounds how deep into the file the header row may sit.
// Marketplace exports prepend a free-text banner of varying length, so the
// header is located by content, not position.
const headerScanLimit = 8

// requiredColumns must all be present (case-insensitive) on the header row.
var requiredColumns = []string{
	"settlement id",
	"type",
	"description",
	"product sales",
	"shipping credits",
	"promotional rebates",
	"taxes",
	"selling fees",
	"fba fees",
	"other",
	"total",
}

// optionalColumns are picked up when present.
var optionalColumns = []string{
	"date/time",
	"order id",
	"sku",
	"quantity",
	"marketplace",
}

// dateLayouts are tried in order when parsing the date/time column.
var dateLayouts = []string{
	"Jan 2, 2006 3:04:05 PM MST",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02.01.2006 15:04:05 MST",
	"02/01/2006",
}

// typeNames maps the export's type column values onto the closed
// TransactionType set.
var typeNames = map[string]models.TransactionType{
	"order":             models.TxOrder,
	"refund":            models.TxRefund,
	"service fee":       models.TxServiceFee,
	"transfer":          models.TxTransfer,
	"fba inventory fee": models.TxFbaInventoryFee,
	"fee adjustment":    models.TxFeeAdjustment,
	"debt":              models.TxDebt,
}

// Money values are rejected outside this magnitude.
var maxMoneyMagnitude = decimal.NewFromInt(1_000_000_000)

var (
	ErrHeaderNotFound = errors.New("amazon parser: header row not found")
	ErrTooManyRows    = errors.New("amazon parser: row count limit exceeded")
)

// MalformedRowError reports a row that could not be normalized. Row is the
// 1-based index of the offending data row (counted after the header).
type MalformedRowError struct {
	Row    int
	Column string
	Value  string
	Reason string
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("amazon parser: malformed row %d, column %q, value %q: %s", e.Row, e.Column, e.Value, e.Reason)
}

// Parser implements the transaction normalizer for marketplace unified
// transaction exports. It is a pure transform: no side effects.
type Parser struct {
	// MaxRows aborts parsing once exceeded. Zero means unlimited.
	MaxRows int
}

// NewParser creates a parser with the given row-count guard.
func NewParser(maxRows int) *Parser {
	return &Parser{MaxRows: maxRows}
}

// Parse reads a unified transaction export and returns its rows in file
// order. The header row may appear anywhere within the first few records;
// quoted fields, embedded newlines and doubled quotes are handled by the
// CSV reader.
func (p *Parser) Parse(file io.Reader) ([]models.TransactionRow, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // Allow variable number of fields per record

	colIndex, err := scanForHeader(reader)
	if err != nil {
		return nil, err
	}

	var rows []models.TransactionRow
	rowNum := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("amazon parser: failed to read CSV record: %w", err)
		}
		rowNum++

		if p.MaxRows > 0 && rowNum > p.MaxRows {
			return nil, fmt.Errorf("%w: more than %d data rows", ErrTooManyRows, p.MaxRows)
		}

		// Skip fully blank records (trailing newlines etc.)
		if isBlankRecord(record) {
			continue
		}

		row, err := buildRow(record, colIndex, rowNum)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// scanForHeader reads records until it finds one containing every required
// column name, case-insensitively, and returns the column index map.
func scanForHeader(reader *csv.Reader) (map[string]int, error) {
	for attempt := 0; attempt < headerScanLimit; attempt++ {
		record, err := reader.Read()
		if err == io.EOF {
			return nil, ErrHeaderNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("amazon parser: failed to read CSV header candidate: %w", err)
		}

		index := make(map[string]int, len(record))
		for i, name := range record {
			index[strings.ToLower(strings.TrimSpace(name))] = i
		}

		found := true
		for _, col := range requiredColumns {
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

func isBlankRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func buildRow(record []string, colIndex map[string]int, rowNum int) (models.TransactionRow, error) {
	field := func(name string) string {
		idx, ok := colIndex[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	money := func(name string) (decimal.Decimal, error) {
		raw := field(name)
		value, err := normalizeMoney(raw)
		if err != nil {
			return decimal.Zero, &MalformedRowError{Row: rowNum, Column: name, Value: raw, Reason: err.Error()}
		}
		return value, nil
	}

	typeRaw := field("type")
	txType, ok := typeNames[strings.ToLower(typeRaw)]
	if !ok {
		return models.TransactionRow{}, &MalformedRowError{Row: rowNum, Column: "type", Value: typeRaw, Reason: "unknown transaction type"}
	}

	row := models.TransactionRow{
		SettlementID: field("settlement id"),
		Type:         txType,
		OrderID:      field("order id"),
		SKU:          field("sku"),
		Description:  field("description"),
		Marketplace:  field("marketplace"),
	}

	// Descriptions and order ids end up in ledger memos.
	for _, col := range []string{"description", "order id"} {
		if err := validation.CheckFormulaInjection(field(col), col, row.SettlementID); err != nil {
			return models.TransactionRow{}, &MalformedRowError{Row: rowNum, Column: col, Value: field(col), Reason: "formula injection pattern"}
		}
	}

	if dateRaw := field("date/time"); dateRaw != "" {
		date, err := parseDate(dateRaw)
		if err != nil {
			return models.TransactionRow{}, &MalformedRowError{Row: rowNum, Column: "date/time", Value: dateRaw, Reason: "unrecognized date format"}
		}
		row.PostedDate = date
	}

	if qtyRaw := field("quantity"); qtyRaw != "" {
		qty, err := decimal.NewFromString(qtyRaw)
		if err != nil || !qty.IsInteger() {
			return models.TransactionRow{}, &MalformedRowError{Row: rowNum, Column: "quantity", Value: qtyRaw, Reason: "not an integer"}
		}
		row.Quantity = qty.IntPart()
	}

	var err error
	if row.ProductSales, err = money("product sales"); err != nil {
		return models.TransactionRow{}, err
	}
	if row.ShippingCredits, err = money("shipping credits"); err != nil {
		return models.TransactionRow{}, err
	}
	if row.PromotionalRebates, err = money("promotional rebates"); err != nil {
		return models.TransactionRow{}, err
	}
	if row.Taxes, err = money("taxes"); err != nil {
		return models.TransactionRow{}, err
	}
	if row.SellingFees, err = money("selling fees"); err != nil {
		return models.TransactionRow{}, err
	}
	if row.FBAFees, err = money("fba fees"); err != nil {
		return models.TransactionRow{}, err
	}
	if row.OtherFees, err = money("other"); err != nil {
		return models.TransactionRow{}, err
	}
	if row.Total, err = money("total"); err != nil {
		return models.TransactionRow{}, err
	}

	return row, nil
}

// normalizeMoney cleans a raw money string: currency symbols, thousands
// separators and NBSPs are stripped, parenthesized values become negative.
// Empty values are zero.
func normalizeMoney(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return decimal.Zero, nil
	}

	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = cleaned[1 : len(cleaned)-1]
	}

	replacer := strings.NewReplacer("$", "", "€", "", "£", "", "¥", "", ",", "", " ", "", " ", "")
	cleaned = replacer.Replace(cleaned)
	cleaned = strings.TrimPrefix(cleaned, "+")

	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, errors.New("not a number")
	}
	if negative {
		value = value.Neg()
	}
	if value.Abs().GreaterThan(maxMoneyMagnitude) {
		return decimal.Zero, errors.New("magnitude out of range")
	}
	return value, nil
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no layout matched %q", raw)
}
