// src/services/grouping.go
package services

import (
	"sort"

	"github.com/progami/targonos/backend/src/models"
)

// GroupBySettlement splits normalized rows by settlement id, returning the
// ids in sorted order so batch runs process settlements deterministically.
func GroupBySettlement(rows []models.TransactionRow) (map[string][]models.TransactionRow, []string) {
	groups := make(map[string][]models.TransactionRow)
	for _, row := range rows {
		groups[row.SettlementID] = append(groups[row.SettlementID], row)
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return groups, ids
}
