package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/progami/targonos/backend/src/journal"
	"github.com/progami/targonos/backend/src/ledger"
	"github.com/progami/targonos/backend/src/logger"
	"github.com/progami/targonos/backend/src/model"
	"github.com/progami/targonos/backend/src/models"
	"github.com/progami/targonos/backend/src/processors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

// --- Fakes ---

type fakeLedger struct {
	accounts        []ledger.Account
	purchases       map[string][]ledger.Purchase
	failPNLPosting  bool
	calls           int
	createdEntries  []ledger.JournalEntry
	createdPurchase []ledger.Purchase
}

func newFakeLedger() *fakeLedger {
	names := []string{
		processors.AccountSales, processors.AccountRefunds,
		processors.AccountCommission, processors.AccountFBAFees,
		processors.AccountOtherFees, processors.AccountSubscription,
		processors.AccountAdvertising, processors.AccountStorage,
		processors.AccountFeeAdjustments, journal.ClearingAccount,
	}
	f := &fakeLedger{purchases: make(map[string][]ledger.Purchase)}
	for i, name := range names {
		f.accounts = append(f.accounts, ledger.Account{Ref: fmt.Sprintf("ref-%d", i), Name: name})
	}
	return f
}

func (f *fakeLedger) GetAccounts(ctx context.Context, cred ledger.Credential) ([]ledger.Account, ledger.Credential, error) {
	f.calls++
	return f.accounts, cred, nil
}

func (f *fakeLedger) QueryJournalEntries(ctx context.Context, cred ledger.Credential, q ledger.EntryQuery) ([]ledger.JournalEntry, ledger.Credential, error) {
	f.calls++
	return nil, cred, nil
}

func (f *fakeLedger) CreateJournalEntry(ctx context.Context, cred ledger.Credential, entry ledger.JournalEntry) (ledger.JournalEntry, ledger.Credential, error) {
	f.calls++
	if f.failPNLPosting && strings.HasSuffix(entry.DocNumber, "-PNL") {
		return ledger.JournalEntry{}, cred, &ledger.APIError{StatusCode: 500, Message: "boom"}
	}
	entry.ID = fmt.Sprintf("JE-%d", len(f.createdEntries)+1)
	f.createdEntries = append(f.createdEntries, entry)
	return entry, cred, nil
}

func (f *fakeLedger) UpdateJournalEntry(ctx context.Context, cred ledger.Credential, entry ledger.JournalEntry) (ledger.JournalEntry, ledger.Credential, error) {
	f.calls++
	return entry, cred, nil
}

func (f *fakeLedger) QueryPurchases(ctx context.Context, cred ledger.Credential, docNumberContains string) ([]ledger.Purchase, ledger.Credential, error) {
	f.calls++
	return f.purchases[docNumberContains], cred, nil
}

func (f *fakeLedger) CreatePurchase(ctx context.Context, cred ledger.Credential, p ledger.Purchase) (ledger.Purchase, ledger.Credential, error) {
	f.calls++
	p.ID = fmt.Sprintf("PO-%d", len(f.createdPurchase)+1)
	f.createdPurchase = append(f.createdPurchase, p)
	return p, cred, nil
}

func (f *fakeLedger) UpdatePurchase(ctx context.Context, cred ledger.Credential, p ledger.Purchase) (ledger.Purchase, ledger.Credential, error) {
	f.calls++
	return p, cred, nil
}

type fakeRegistry struct {
	byEntry   map[string]*models.ProcessingRecord
	byInvoice map[string]*models.ProcessingRecord
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		byEntry:   make(map[string]*models.ProcessingRecord),
		byInvoice: make(map[string]*models.ProcessingRecord),
	}
}

func invoiceKey(marketplace, invoiceID string) string { return marketplace + "\x00" + invoiceID }

func (r *fakeRegistry) BySettlementEntry(key string) (*models.ProcessingRecord, error) {
	return r.byEntry[key], nil
}

func (r *fakeRegistry) ByInvoice(marketplace, invoiceID string) (*models.ProcessingRecord, error) {
	return r.byInvoice[invoiceKey(marketplace, invoiceID)], nil
}

func (r *fakeRegistry) Insert(rec *models.ProcessingRecord) error {
	if r.byEntry[rec.SettlementJournalEntryID] != nil ||
		r.byInvoice[invoiceKey(rec.Marketplace, rec.InvoiceID)] != nil {
		return model.ErrAlreadyProcessed
	}
	r.byEntry[rec.SettlementJournalEntryID] = rec
	r.byInvoice[invoiceKey(rec.Marketplace, rec.InvoiceID)] = rec
	return nil
}

func (r *fakeRegistry) List() ([]models.ProcessingRecord, error) {
	var out []models.ProcessingRecord
	for _, rec := range r.byEntry {
		out = append(out, *rec)
	}
	return out, nil
}

type fakeCredStore struct {
	cred  ledger.Credential
	saves int
}

func (s *fakeCredStore) Load(realmID string) (ledger.Credential, error) { return s.cred, nil }

func (s *fakeCredStore) Save(cred ledger.Credential) error {
	s.cred = cred
	s.saves++
	return nil
}

// --- Fixtures ---

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(d int) time.Time { return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC) }

func settlementRows() []models.TransactionRow {
	order := func(orderID, sku string, qty int64, sales, fees, fba string, posted time.Time) models.TransactionRow {
		row := models.TransactionRow{
			SettlementID: "12345",
			Type:         models.TxOrder,
			OrderID:      orderID,
			SKU:          sku,
			Quantity:     qty,
			Marketplace:  "amazon.com",
			PostedDate:   posted,
			ProductSales: dec(sales),
			SellingFees:  dec(fees),
			FBAFees:      dec(fba),
		}
		row.Total = row.ProductSales.Add(row.SellingFees).Add(row.FBAFees)
		return row
	}
	return []models.TransactionRow{
		order("111-1", "SKU-A", 2, "59.98", "-9.00", "-6.12", day(2)),
		order("111-2", "SKU-B", 1, "24.99", "-3.75", "-3.06", day(8)),
	}
}

func matchingInvoices() []models.AuditInvoiceSummary {
	return []models.AuditInvoiceSummary{{
		InvoiceID:   "INV-1",
		Marketplace: "US",
		RowCount:    3,
		MinDate:     day(3),
		MaxDate:     day(7),
	}}
}

func newService(l *fakeLedger, r *fakeRegistry, c *fakeCredStore) *PostingService {
	if c.cred.RealmID == "" {
		c.cred = ledger.Credential{
			RealmID: "realm-1",
			Token:   oauth2.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)},
		}
	}
	return NewPostingService(l, r, c, "realm-1", cache.New(time.Minute, time.Minute))
}

// --- Tests ---

func TestProcessSettlementPostsOnce(t *testing.T) {
	fl := newFakeLedger()
	fr := newFakeRegistry()
	svc := newService(fl, fr, &fakeCredStore{})

	out := svc.ProcessSettlement(context.Background(), settlementRows(), matchingInvoices(), true)

	require.Equal(t, StatePosted, out.State, "reason=%s detail=%s", out.Reason, out.Detail)
	assert.Equal(t, "12345", out.SettlementID)
	assert.Equal(t, "US", out.Marketplace)
	assert.Equal(t, "INV-1", out.Match.InvoiceID)
	assert.NotEmpty(t, out.COGSEntryID)
	assert.NotEmpty(t, out.PNLEntryID)
	assert.NotEqual(t, out.COGSEntryID, out.PNLEntryID)

	require.Len(t, fl.createdEntries, 2)
	assert.Equal(t, "PLUTUS-12345-COGS", fl.createdEntries[0].DocNumber)
	assert.Equal(t, "PLUTUS-12345-PNL", fl.createdEntries[1].DocNumber)

	// One fulfilment purchase with exact-cent allocation across both SKUs.
	require.Len(t, fl.createdPurchase, 1)
	purchase := fl.createdPurchase[0]
	assert.Equal(t, "PLUTUS-12345-FBA", purchase.DocNumber)
	require.Len(t, purchase.Lines, 2)
	var cents int64
	for _, line := range purchase.Lines {
		cents += line.AmountCents
	}
	assert.Equal(t, int64(918), cents, "allocated cents equal the per-unit total")

	rec, err := fr.BySettlementEntry("PLUTUS-12345")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "INV-1", rec.InvoiceID)
}

func TestProcessSettlementSecondRunIsNoOp(t *testing.T) {
	fl := newFakeLedger()
	fr := newFakeRegistry()
	svc := newService(fl, fr, &fakeCredStore{})

	first := svc.ProcessSettlement(context.Background(), settlementRows(), matchingInvoices(), true)
	require.Equal(t, StatePosted, first.State)

	callsAfterFirst := fl.calls
	second := svc.ProcessSettlement(context.Background(), settlementRows(), matchingInvoices(), true)

	assert.Equal(t, StateBlocked, second.State)
	assert.Equal(t, ReasonAlreadyProcessed, second.Reason)
	assert.Equal(t, first.COGSEntryID, second.COGSEntryID)
	assert.Equal(t, first.PNLEntryID, second.PNLEntryID)
	assert.Equal(t, callsAfterFirst, fl.calls, "an already posted settlement makes zero external calls")

	records, err := fr.List()
	require.NoError(t, err)
	assert.Len(t, records, 1, "exactly one processing record")
}

func TestProcessSettlementDryRun(t *testing.T) {
	fl := newFakeLedger()
	fr := newFakeRegistry()
	svc := newService(fl, fr, &fakeCredStore{})

	out := svc.ProcessSettlement(context.Background(), settlementRows(), matchingInvoices(), false)

	assert.Equal(t, StatePreviewed, out.State, "reason=%s detail=%s", out.Reason, out.Detail)
	assert.True(t, out.DryRun)
	assert.Empty(t, fl.createdEntries, "dry-run never posts")
	assert.Empty(t, fl.createdPurchase)

	records, _ := fr.List()
	assert.Empty(t, records, "dry-run writes no processing record")
}

func TestProcessSettlementNoMatchMakesNoExternalCalls(t *testing.T) {
	fl := newFakeLedger()
	svc := newService(fl, newFakeRegistry(), &fakeCredStore{})

	out := svc.ProcessSettlement(context.Background(), settlementRows(), nil, true)

	assert.Equal(t, StateBlocked, out.State)
	assert.Equal(t, ReasonNoInvoiceMatch, out.Reason)
	assert.Zero(t, fl.calls)
}

func TestProcessSettlementOverlappingMatchBlocks(t *testing.T) {
	fl := newFakeLedger()
	svc := newService(fl, newFakeRegistry(), &fakeCredStore{})

	invoices := []models.AuditInvoiceSummary{{
		InvoiceID: "INV-1", Marketplace: "US", RowCount: 3,
		MinDate: day(5), MaxDate: day(20),
	}}
	out := svc.ProcessSettlement(context.Background(), settlementRows(), invoices, true)

	assert.Equal(t, StateBlocked, out.State)
	assert.Equal(t, ReasonOverlapOnly, out.Reason)
	assert.Zero(t, fl.calls)
}

func TestProcessSettlementAmbiguousMatchBlocks(t *testing.T) {
	fl := newFakeLedger()
	svc := newService(fl, newFakeRegistry(), &fakeCredStore{})

	invoices := []models.AuditInvoiceSummary{
		{InvoiceID: "INV-1", Marketplace: "US", RowCount: 1, MinDate: day(3), MaxDate: day(4)},
		{InvoiceID: "INV-2", Marketplace: "US", RowCount: 1, MinDate: day(6), MaxDate: day(7)},
	}
	out := svc.ProcessSettlement(context.Background(), settlementRows(), invoices, true)

	assert.Equal(t, StateBlocked, out.State)
	assert.Equal(t, ReasonAmbiguousMatch, out.Reason)
	assert.Contains(t, out.Detail, "INV-1")
	assert.Contains(t, out.Detail, "INV-2")
	assert.Zero(t, fl.calls)
}

func TestProcessSettlementEmptyInvoiceBlocks(t *testing.T) {
	fl := newFakeLedger()
	svc := newService(fl, newFakeRegistry(), &fakeCredStore{})

	invoices := matchingInvoices()
	invoices[0].RowCount = 0
	out := svc.ProcessSettlement(context.Background(), settlementRows(), invoices, true)

	assert.Equal(t, StateBlocked, out.State)
	assert.Equal(t, ReasonMissingAuditRows, out.Reason)
	assert.Zero(t, fl.calls)
}

func TestProcessSettlementPartialPosting(t *testing.T) {
	fl := newFakeLedger()
	fl.failPNLPosting = true
	fr := newFakeRegistry()
	svc := newService(fl, fr, &fakeCredStore{})

	out := svc.ProcessSettlement(context.Background(), settlementRows(), matchingInvoices(), true)

	assert.Equal(t, StateBlocked, out.State)
	assert.Equal(t, ReasonPartialPosting, out.Reason)
	assert.Contains(t, out.Detail, "manual reconciliation")

	require.Len(t, fl.createdEntries, 1, "COGS entry was posted before the failure")
	records, _ := fr.List()
	assert.Empty(t, records, "no processing record on partial posting")
}

func TestProcessSettlementStalePurchase(t *testing.T) {
	fl := newFakeLedger()
	// An existing fulfilment purchase whose cents no longer match the
	// allocation the engine would produce.
	fl.purchases["PLUTUS-12345-FBA"] = []ledger.Purchase{{
		ID:        "PO-9",
		DocNumber: "PLUTUS-12345-FBA",
		Lines: []ledger.PurchaseLine{
			{SKU: "SKU-A", Region: "US", AmountCents: 1},
			{SKU: "SKU-B", Region: "US", AmountCents: 917},
		},
	}}
	fr := newFakeRegistry()
	svc := newService(fl, fr, &fakeCredStore{})

	out := svc.ProcessSettlement(context.Background(), settlementRows(), matchingInvoices(), true)

	assert.Equal(t, StateBlocked, out.State)
	assert.Equal(t, ReasonStalePurchase, out.Reason)
	assert.Empty(t, fl.createdEntries, "rejection happens before any posting attempt")
}

func TestProcessSettlementAggregationFailure(t *testing.T) {
	fl := newFakeLedger()
	svc := newService(fl, newFakeRegistry(), &fakeCredStore{})

	rows := []models.TransactionRow{{
		SettlementID: "12345",
		Type:         models.TxServiceFee,
		Description:  "Mystery Fee",
		Total:        dec("-1.00"),
	}}
	out := svc.ProcessSettlement(context.Background(), rows, matchingInvoices(), true)

	assert.Equal(t, StateBlocked, out.State)
	assert.Equal(t, ReasonAggregationFailed, out.Reason)
	assert.Equal(t, "12345", out.SettlementID)
	assert.Zero(t, fl.calls)
}

func TestProcessSettlementInvoiceAlreadyRecorded(t *testing.T) {
	fl := newFakeLedger()
	fr := newFakeRegistry()
	svc := newService(fl, fr, &fakeCredStore{})

	// Seed only the invoice-side record: the settlement-entry lookup
	// misses, so the precheck catches it via ByInvoice instead.
	rec := &models.ProcessingRecord{
		SettlementID: "999", Marketplace: "US", InvoiceID: "INV-1",
		SettlementJournalEntryID: "PLUTUS-999",
		COGSJournalEntryID:       "JE-A", PNLJournalEntryID: "JE-B",
	}
	require.NoError(t, fr.Insert(rec))

	out := svc.ProcessSettlement(context.Background(), settlementRows(), matchingInvoices(), true)
	assert.Equal(t, StateBlocked, out.State)
	assert.Equal(t, ReasonAlreadyProcessed, out.Reason)
	assert.Zero(t, fl.calls)
}

func TestProcessSettlementPersistsCredentialChanges(t *testing.T) {
	fl := newFakeLedger()
	store := &fakeCredStore{}
	svc := newService(fl, newFakeRegistry(), store)

	out := svc.ProcessSettlement(context.Background(), settlementRows(), matchingInvoices(), true)
	require.Equal(t, StatePosted, out.State)
	// The fake never rotates the token, so nothing needed persisting.
	assert.Zero(t, store.saves)
}

func TestGroupBySettlement(t *testing.T) {
	rows := []models.TransactionRow{
		{SettlementID: "B"},
		{SettlementID: "A"},
		{SettlementID: "B"},
	}
	groups, ids := GroupBySettlement(rows)
	assert.Equal(t, []string{"A", "B"}, ids)
	assert.Len(t, groups["B"], 2)
	assert.Len(t, groups["A"], 1)
}
