package validation

import (
	"os"
	"testing"

	"github.com/progami/targonos/backend/src/logger"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

func TestValidateExportText(t *testing.T) {
	assert.NoError(t, ValidateExportText("export", "settlement id,type\n12345,Order\n"))

	assert.Error(t, ValidateExportText("export", ""))
	assert.Error(t, ValidateExportText("export", "abc\x00def"))
	assert.Error(t, ValidateExportText("export", string([]byte{0xff, 0xfe, 0xfd})))
}

func TestCheckFormulaInjection(t *testing.T) {
	for _, bad := range []string{"=SUM(A1:A9)", "+cmd", "@import", "\tpayload"} {
		assert.Error(t, CheckFormulaInjection(bad, "description", "S1"), "value %q", bad)
	}
	for _, good := range []string{"Blue Widget", "-12.50", "normal = text", ""} {
		assert.NoError(t, CheckFormulaInjection(good, "description", "S1"), "value %q", good)
	}
}
