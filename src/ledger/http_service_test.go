package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/progami/targonos/backend/src/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

func validCred() Credential {
	return Credential{
		RealmID: "realm-1",
		Token:   oauth2.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)},
	}
}

func newTestService(t *testing.T, handler http.HandlerFunc, pageSize int) Service {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHTTPService(server.URL, pageSize, time.Nanosecond, nil)
}

func TestGetAccounts(t *testing.T) {
	var gotAuth, gotPath string
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{
			"accounts": []Account{{Ref: "42", Name: "Amazon Sales", Type: "Income"}},
		})
	}, 10)

	accounts, cred, err := svc.GetAccounts(context.Background(), validCred())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "42", accounts[0].Ref)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "/v1/realm-1/accounts", gotPath)
	assert.Equal(t, "tok", cred.Token.AccessToken, "no rotation header, credential unchanged")
}

func TestQueryPurchasesPaginates(t *testing.T) {
	const total = 5
	var starts []int
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		start, _ := strconv.Atoi(r.URL.Query().Get("startPosition"))
		size, _ := strconv.Atoi(r.URL.Query().Get("maxResults"))
		starts = append(starts, start)

		var page []Purchase
		for i := start; i < start+size && i <= total; i++ {
			page = append(page, Purchase{ID: fmt.Sprintf("PO-%d", i)})
		}
		json.NewEncoder(w).Encode(map[string]any{"total": total, "purchases": page})
	}, 2)

	purchases, _, err := svc.QueryPurchases(context.Background(), validCred(), "PLUTUS-")
	require.NoError(t, err)
	require.Len(t, purchases, total)
	assert.Equal(t, []int{1, 3, 5}, starts, "pages until the reported total is satisfied")
	assert.Equal(t, "PO-1", purchases[0].ID)
	assert.Equal(t, "PO-5", purchases[4].ID)
}

func TestQueryPurchasesStopsOnShortPage(t *testing.T) {
	calls := 0
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		// The server claims more results than it ever returns.
		json.NewEncoder(w).Encode(map[string]any{"total": 100, "purchases": []Purchase{{ID: "PO-1"}}})
	}, 2)

	purchases, _, err := svc.QueryPurchases(context.Background(), validCred(), "")
	require.NoError(t, err)
	assert.Len(t, purchases, 1)
	assert.Equal(t, 1, calls, "a short page ends the listing")
}

func TestSessionTokenRotation(t *testing.T) {
	expiry := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Session-Token", "rotated-tok")
		w.Header().Set("X-Session-Expires", expiry.Format(time.RFC3339))
		json.NewEncoder(w).Encode(map[string]any{"accounts": []Account{}})
	}, 10)

	_, cred, err := svc.GetAccounts(context.Background(), validCred())
	require.NoError(t, err)
	assert.Equal(t, "rotated-tok", cred.Token.AccessToken)
	assert.True(t, cred.Token.Expiry.Equal(expiry))
}

func TestAuthFailure(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, 10)

	_, _, err := svc.GetAccounts(context.Background(), validCred())
	assert.ErrorIs(t, err, ErrAuth)
}

func TestAPIErrorCarriesStatusAndBody(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, "doc number already exists")
	}, 10)

	entry := JournalEntry{DocNumber: "PLUTUS-1-PNL"}
	_, _, err := svc.CreateJournalEntry(context.Background(), validCred(), entry)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "already exists")
}

func TestCreateJournalEntryRoundTrip(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/realm-1/journal-entries", r.URL.Path)

		var entry JournalEntry
		require.NoError(t, json.NewDecoder(r.Body).Decode(&entry))
		entry.ID = "JE-77"
		json.NewEncoder(w).Encode(entry)
	}, 10)

	entry := JournalEntry{
		DocNumber:   "PLUTUS-12345-PNL",
		PrivateNote: "Settlement 12345",
		Lines: []EntryLine{
			{AccountRef: "1", Memo: "Sales Principal", Amount: decimal.RequireFromString("-84.97")},
			{AccountRef: "9", Memo: "Settlement 12345", Amount: decimal.RequireFromString("84.97")},
		},
	}
	created, _, err := svc.CreateJournalEntry(context.Background(), validCred(), entry)
	require.NoError(t, err)
	assert.Equal(t, "JE-77", created.ID)
	assert.Equal(t, "PLUTUS-12345-PNL", created.DocNumber)
	require.Len(t, created.Lines, 2)
	assert.True(t, created.Lines[0].Amount.Equal(decimal.RequireFromString("-84.97")))
}
