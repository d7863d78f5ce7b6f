// src/matching/matcher.go
package matching

import (
	"time"

	"github.com/progami/targonos/backend/src/models"
)

// Period is the settlement side of a match: the marketplace and the
// inclusive date range the settlement covers.
type Period struct {
	Marketplace string
	Start       time.Time
	End         time.Time
}

// Match selects the audit invoice backing a settlement period.
//
// Candidates are filtered to the settlement's marketplace. An invoice whose
// [MinDate, MaxDate] lies wholly inside the period wins as a contained
// match; failing that, any overlap at all yields an overlapping match. If
// more than one candidate remains at the winning rank the result is
// ambiguous — the matcher fails closed rather than guessing.
func Match(period Period, candidates []models.AuditInvoiceSummary) models.MatchResult {
	var contained, overlapping []models.AuditInvoiceSummary

	for _, inv := range candidates {
		if inv.Marketplace != period.Marketplace {
			continue
		}
		if isContained(inv, period) {
			contained = append(contained, inv)
		} else if overlaps(inv, period) {
			overlapping = append(overlapping, inv)
		}
	}

	switch {
	case len(contained) == 1:
		return models.MatchResult{Outcome: models.MatchContained, InvoiceID: contained[0].InvoiceID}
	case len(contained) > 1:
		return models.MatchResult{Outcome: models.MatchAmbiguous, Candidates: invoiceIDs(contained)}
	case len(overlapping) == 1:
		return models.MatchResult{Outcome: models.MatchOverlapping, InvoiceID: overlapping[0].InvoiceID}
	case len(overlapping) > 1:
		return models.MatchResult{Outcome: models.MatchAmbiguous, Candidates: invoiceIDs(overlapping)}
	default:
		return models.MatchResult{Outcome: models.MatchNoCandidate}
	}
}

func isContained(inv models.AuditInvoiceSummary, period Period) bool {
	return !inv.MinDate.Before(period.Start) && !inv.MaxDate.After(period.End)
}

func overlaps(inv models.AuditInvoiceSummary, period Period) bool {
	return !inv.MaxDate.Before(period.Start) && !inv.MinDate.After(period.End)
}

func invoiceIDs(invoices []models.AuditInvoiceSummary) []string {
	ids := make([]string, len(invoices))
	for i, inv := range invoices {
		ids[i] = inv.InvoiceID
	}
	return ids
}
