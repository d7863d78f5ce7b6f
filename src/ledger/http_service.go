// src/ledger/http_service.go
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/progami/targonos/backend/src/logger"
	"golang.org/x/time/rate"
)

// sessionTokenHeader carries a server-side token rotation: when present on a
// response, the rotated token replaces the one used for the call and must be
// persisted by the caller before the next call.
const (
	sessionTokenHeader  = "X-Session-Token"
	sessionExpiryHeader = "X-Session-Expires"
)

type httpService struct {
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	pageSize int
	tokens   *TokenSource
}

// NewHTTPService builds the ledger-service client. callInterval paces
// outbound calls; pageSize bounds each listing request.
func NewHTTPService(baseURL string, pageSize int, callInterval time.Duration, tokens *TokenSource) Service {
	return &httpService{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(callInterval), 1),
		pageSize: pageSize,
		tokens:   tokens,
	}
}

// ensure refreshes the credential through the token source when the current
// token is missing or expired.
func (s *httpService) ensure(ctx context.Context, cred Credential) (Credential, error) {
	if cred.Valid() {
		return cred, nil
	}
	logger.L.Info("Ledger credential expired, refreshing", "realmID", cred.RealmID)
	return s.tokens.Refresh(ctx, cred.RealmID)
}

// doJSON performs one call. The returned credential reflects any token the
// server rotated on this response.
func (s *httpService) doJSON(ctx context.Context, cred Credential, method, path string, query url.Values, body, out any) (Credential, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return cred, err
	}

	endpoint := s.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return cred, fmt.Errorf("ledger api: encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return cred, fmt.Errorf("ledger api: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.Token.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return cred, fmt.Errorf("ledger api: request failed: %w", err)
	}
	defer resp.Body.Close()

	if rotated := resp.Header.Get(sessionTokenHeader); rotated != "" {
		cred.Token.AccessToken = rotated
		if raw := resp.Header.Get(sessionExpiryHeader); raw != "" {
			if expiry, perr := time.Parse(time.RFC3339, raw); perr == nil {
				cred.Token.Expiry = expiry
			}
		}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return cred, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return cred, &APIError{StatusCode: resp.StatusCode, Message: string(raw)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return cred, fmt.Errorf("ledger api: decoding response: %w", err)
		}
	}
	return cred, nil
}

func (s *httpService) GetAccounts(ctx context.Context, cred Credential) ([]Account, Credential, error) {
	cred, err := s.ensure(ctx, cred)
	if err != nil {
		return nil, cred, err
	}
	var out struct {
		Accounts []Account `json:"accounts"`
	}
	cred, err = s.doJSON(ctx, cred, http.MethodGet, "/v1/"+cred.RealmID+"/accounts", nil, nil, &out)
	if err != nil {
		return nil, cred, err
	}
	return out.Accounts, cred, nil
}

type journalEntriesPage struct {
	Total   int            `json:"total"`
	Entries []JournalEntry `json:"entries"`
}

func (s *httpService) QueryJournalEntries(ctx context.Context, cred Credential, q EntryQuery) ([]JournalEntry, Credential, error) {
	cred, err := s.ensure(ctx, cred)
	if err != nil {
		return nil, cred, err
	}

	var all []JournalEntry
	start := 1
	for {
		query := url.Values{}
		query.Set("startPosition", strconv.Itoa(start))
		query.Set("maxResults", strconv.Itoa(s.pageSize))
		if q.DocNumberContains != "" {
			query.Set("docNumberContains", q.DocNumberContains)
		}
		if !q.DateFrom.IsZero() {
			query.Set("dateFrom", q.DateFrom.Format("2006-01-02"))
		}
		if !q.DateTo.IsZero() {
			query.Set("dateTo", q.DateTo.Format("2006-01-02"))
		}

		var page journalEntriesPage
		cred, err = s.doJSON(ctx, cred, http.MethodGet, "/v1/"+cred.RealmID+"/journal-entries", query, nil, &page)
		if err != nil {
			return nil, cred, err
		}
		all = append(all, page.Entries...)

		// Page until the reported total is satisfied or a short page ends
		// the listing, whichever comes first.
		if len(all) >= page.Total || len(page.Entries) < s.pageSize {
			return all, cred, nil
		}
		start += len(page.Entries)
	}
}

func (s *httpService) CreateJournalEntry(ctx context.Context, cred Credential, entry JournalEntry) (JournalEntry, Credential, error) {
	cred, err := s.ensure(ctx, cred)
	if err != nil {
		return JournalEntry{}, cred, err
	}
	var out JournalEntry
	cred, err = s.doJSON(ctx, cred, http.MethodPost, "/v1/"+cred.RealmID+"/journal-entries", nil, entry, &out)
	if err != nil {
		return JournalEntry{}, cred, err
	}
	return out, cred, nil
}

func (s *httpService) UpdateJournalEntry(ctx context.Context, cred Credential, entry JournalEntry) (JournalEntry, Credential, error) {
	cred, err := s.ensure(ctx, cred)
	if err != nil {
		return JournalEntry{}, cred, err
	}
	var out JournalEntry
	cred, err = s.doJSON(ctx, cred, http.MethodPut, "/v1/"+cred.RealmID+"/journal-entries/"+entry.ID, nil, entry, &out)
	if err != nil {
		return JournalEntry{}, cred, err
	}
	return out, cred, nil
}

type purchasesPage struct {
	Total     int        `json:"total"`
	Purchases []Purchase `json:"purchases"`
}

func (s *httpService) QueryPurchases(ctx context.Context, cred Credential, docNumberContains string) ([]Purchase, Credential, error) {
	cred, err := s.ensure(ctx, cred)
	if err != nil {
		return nil, cred, err
	}

	var all []Purchase
	start := 1
	for {
		query := url.Values{}
		query.Set("startPosition", strconv.Itoa(start))
		query.Set("maxResults", strconv.Itoa(s.pageSize))
		if docNumberContains != "" {
			query.Set("docNumberContains", docNumberContains)
		}

		var page purchasesPage
		cred, err = s.doJSON(ctx, cred, http.MethodGet, "/v1/"+cred.RealmID+"/purchases", query, nil, &page)
		if err != nil {
			return nil, cred, err
		}
		all = append(all, page.Purchases...)

		if len(all) >= page.Total || len(page.Purchases) < s.pageSize {
			return all, cred, nil
		}
		start += len(page.Purchases)
	}
}

func (s *httpService) CreatePurchase(ctx context.Context, cred Credential, p Purchase) (Purchase, Credential, error) {
	cred, err := s.ensure(ctx, cred)
	if err != nil {
		return Purchase{}, cred, err
	}
	var out Purchase
	cred, err = s.doJSON(ctx, cred, http.MethodPost, "/v1/"+cred.RealmID+"/purchases", nil, p, &out)
	if err != nil {
		return Purchase{}, cred, err
	}
	return out, cred, nil
}

func (s *httpService) UpdatePurchase(ctx context.Context, cred Credential, p Purchase) (Purchase, Credential, error) {
	cred, err := s.ensure(ctx, cred)
	if err != nil {
		return Purchase{}, cred, err
	}
	var out Purchase
	cred, err = s.doJSON(ctx, cred, http.MethodPut, "/v1/"+cred.RealmID+"/purchases/"+p.ID, nil, p, &out)
	if err != nil {
		return Purchase{}, cred, err
	}
	return out, cred, nil
}
