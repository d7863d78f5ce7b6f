// backend/src/validation/export_validation.go
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/progami/targonos/backend/src/logger"
)

var ErrValidationFailed = errors.New("validation failed")

// Formula injection characters at the start of a field. Export text ends up
// in ledger memos and may be re-exported to spreadsheets downstream.
var formulaInjectionPrefixRegex = regexp.MustCompile(`^[=+@\t]`)

func truncateForLog(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

// ValidateExportText rejects uploads that cannot be a text CSV: empty
// bodies, null bytes, invalid UTF-8. Parsers handle the rest.
func ValidateExportText(name, content string) error {
	if content == "" {
		return fmt.Errorf("%w: %s is empty", ErrValidationFailed, name)
	}
	if bytes.IndexByte([]byte(content), 0) != -1 {
		logger.L.Warn("Export rejected: binary content in text upload", "export", name)
		return fmt.Errorf("%w: %s appears to be binary, not text/CSV", ErrValidationFailed, name)
	}
	if !utf8.ValidString(content) {
		logger.L.Warn("Export rejected: invalid UTF-8", "export", name)
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrValidationFailed, name)
	}
	return nil
}

// CheckFormulaInjection detects fields starting with spreadsheet formula
// triggers.
func CheckFormulaInjection(s, fieldName, contextID string) error {
	prefix := s
	if len(s) > 10 {
		prefix = s[:10]
	}
	if formulaInjectionPrefixRegex.MatchString(prefix) {
		errMsg := fmt.Sprintf("potential formula injection pattern detected in field '%s'", fieldName)
		logger.L.Warn(errMsg, "contextID", contextID, "contentPreview", truncateForLog(s, 50))
		return fmt.Errorf("%w: %s", ErrValidationFailed, errMsg)
	}
	return nil
}
