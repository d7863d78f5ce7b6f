// src/allocation/allocation.go
package allocation

import (
	"errors"
	"fmt"
	"sort"
)

// Claim is one (sku, region, units) demand against a shared line amount.
type Claim struct {
	SKU    string
	Region string
	Units  int64
}

func (c Claim) key() string { return c.SKU + "\x00" + c.Region }

var (
	ErrTooFewClaims   = errors.New("allocation: at least two claims required")
	ErrDuplicateClaim = errors.New("allocation: duplicate (sku, region) claim")
	ErrInvalidWeight  = errors.New("allocation: claim units must be positive")
)

// Allocate splits totalCents across the claims proportionally to their
// units, using largest-remainder rounding so the allocated cents always sum
// to totalCents exactly.
//
// Each claim's exact share is totalCents * units / totalUnits in integer
// arithmetic. Shares are truncated toward zero and the leftover cents are
// handed out one at a time to the claims with the largest fractional
// remainder, ties broken by input order. The result is indexed like the
// input claims.
func Allocate(totalCents int64, claims []Claim) ([]int64, error) {
	if len(claims) < 2 {
		return nil, ErrTooFewClaims
	}

	seen := make(map[string]struct{}, len(claims))
	var totalUnits int64
	for _, c := range claims {
		if c.Units <= 0 {
			return nil, fmt.Errorf("%w: sku %q region %q has %d units", ErrInvalidWeight, c.SKU, c.Region, c.Units)
		}
		if _, dup := seen[c.key()]; dup {
			return nil, fmt.Errorf("%w: sku %q region %q", ErrDuplicateClaim, c.SKU, c.Region)
		}
		seen[c.key()] = struct{}{}
		totalUnits += c.Units
	}

	shares := make([]int64, len(claims))
	remainders := make([]int64, len(claims))
	var allocated int64
	for i, c := range claims {
		product := totalCents * c.Units
		shares[i] = product / totalUnits
		remainders[i] = product % totalUnits
		if remainders[i] < 0 {
			// Keep remainders non-negative for negative totals so the
			// leftover distribution below stays deterministic.
			shares[i]--
			remainders[i] += totalUnits
		}
		allocated += shares[i]
	}

	leftover := totalCents - allocated

	// Hand out leftover cents to the largest remainders, input order on ties.
	order := make([]int, len(claims))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]] > remainders[order[b]]
	})
	for i := int64(0); i < leftover; i++ {
		shares[order[i%int64(len(claims))]]++
	}

	return shares, nil
}
