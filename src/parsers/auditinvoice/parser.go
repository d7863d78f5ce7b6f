// src/parsers/auditinvoice/parser.go
package auditinvoice

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/progami/targonos/backend/src/models"
	"github.com/shopspring/decimal"
)

const headerScanLimit = 8

var requiredColumns = []string{
	"invoice id",
	"market",
	"date",
	"sku",
	"quantity",
	"net amount",
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"Jan 2, 2006",
}

var ErrHeaderNotFound = errors.New("audit invoice parser: header row not found")

// Row is one line of an audit invoice export.
type Row struct {
	InvoiceID   string
	Market      string
	Date        time.Time
	OrderID     string
	SKU         string
	Quantity    int64
	Description string
	NetAmount   decimal.Decimal
}

// Parser reads audit-grade invoice exports.
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

// Parse returns the export's rows in file order.
func (p *Parser) Parse(file io.Reader) ([]Row, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	colIndex, err := scanForHeader(reader)
	if err != nil {
		return nil, err
	}

	var rows []Row
	rowNum := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("audit invoice parser: failed to read CSV record: %w", err)
		}
		rowNum++

		field := func(name string) string {
			idx, ok := colIndex[name]
			if !ok || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}

		row := Row{
			InvoiceID:   field("invoice id"),
			Market:      field("market"),
			OrderID:     field("order id"),
			SKU:         field("sku"),
			Description: field("description"),
		}
		if row.InvoiceID == "" {
			continue
		}

		row.Date, err = parseDate(field("date"))
		if err != nil {
			return nil, fmt.Errorf("audit invoice parser: row %d: %w", rowNum, err)
		}

		if qtyRaw := field("quantity"); qtyRaw != "" {
			qty, qerr := decimal.NewFromString(qtyRaw)
			if qerr != nil || !qty.IsInteger() {
				return nil, fmt.Errorf("audit invoice parser: row %d: quantity %q is not an integer", rowNum, qtyRaw)
			}
			row.Quantity = qty.IntPart()
		}

		row.NetAmount, err = decimal.NewFromString(strings.ReplaceAll(field("net amount"), ",", ""))
		if err != nil {
			return nil, fmt.Errorf("audit invoice parser: row %d: net amount: %w", rowNum, err)
		}

		rows = append(rows, row)
	}
	return rows, nil
}

// Summarize groups rows by (invoice id, normalized marketplace) into the
// read-only summaries the matcher consumes.
func Summarize(rows []Row) []models.AuditInvoiceSummary {
	type groupKey struct{ invoiceID, marketplace string }

	groups := make(map[groupKey]*models.AuditInvoiceSummary)
	markets := make(map[groupKey]map[string]struct{})

	for _, row := range rows {
		key := groupKey{invoiceID: row.InvoiceID, marketplace: models.NormalizeMarketplace(row.Market)}
		sum, ok := groups[key]
		if !ok {
			sum = &models.AuditInvoiceSummary{
				InvoiceID:   key.invoiceID,
				Marketplace: key.marketplace,
				MinDate:     row.Date,
				MaxDate:     row.Date,
			}
			groups[key] = sum
			markets[key] = make(map[string]struct{})
		}
		sum.RowCount++
		if row.Date.Before(sum.MinDate) {
			sum.MinDate = row.Date
		}
		if row.Date.After(sum.MaxDate) {
			sum.MaxDate = row.Date
		}
		markets[key][row.Market] = struct{}{}
	}

	out := make([]models.AuditInvoiceSummary, 0, len(groups))
	for key, sum := range groups {
		for label := range markets[key] {
			sum.Markets = append(sum.Markets, label)
		}
		sort.Strings(sum.Markets)
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InvoiceID != out[j].InvoiceID {
			return out[i].InvoiceID < out[j].InvoiceID
		}
		return out[i].Marketplace < out[j].Marketplace
	})
	return out
}

func scanForHeader(reader *csv.Reader) (map[string]int, error) {
	for attempt := 0; attempt < headerScanLimit; attempt++ {
		record, err := reader.Read()
		if err == io.EOF {
			return nil, ErrHeaderNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("audit invoice parser: failed to read CSV header candidate: %w", err)
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

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}
