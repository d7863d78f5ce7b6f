// src/models/marketplace.go
package models

import "strings"

// marketplaceCodes maps raw marketplace labels, as they appear in exports,
// to the normalized code both the settlement and audit-invoice sides share.
var marketplaceCodes = map[string]string{
	"amazon.com":    "US",
	"amazon.ca":     "CA",
	"amazon.com.mx": "MX",
	"amazon.co.uk":  "UK",
	"amazon.de":     "DE",
	"amazon.fr":     "FR",
	"amazon.it":     "IT",
	"amazon.es":     "ES",
	"amazon.nl":     "NL",
	"amazon.se":     "SE",
	"amazon.pl":     "PL",
	"amazon.com.be": "BE",
	"amazon.co.jp":  "JP",
	"amazon.com.au": "AU",
}

// NormalizeMarketplace collapses a raw marketplace label to its code.
// Labels that already look like a code pass through uppercased; unknown
// labels are returned trimmed and uppercased so mismatches stay visible
// instead of silently colliding.
func NormalizeMarketplace(label string) string {
	cleaned := strings.ToLower(strings.TrimSpace(label))
	if code, ok := marketplaceCodes[cleaned]; ok {
		return code
	}
	return strings.ToUpper(strings.TrimSpace(label))
}
