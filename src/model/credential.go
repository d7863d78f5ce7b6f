// src/model/credential.go
package model

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/progami/targonos/backend/src/ledger"
)

// GetLedgerCredential loads the persisted credential for a realm. Returns
// (zero credential, nil) when none has been stored yet; the ledger client
// will mint one on first use.
func GetLedgerCredential(db *sql.DB, realmID string) (ledger.Credential, error) {
	cred := ledger.Credential{RealmID: realmID}
	var expiresAt sql.NullTime
	err := db.QueryRow(`
		SELECT access_token, refresh_token, token_type, expires_at
		FROM ledger_credentials
		WHERE realm_id = ?`, realmID).
		Scan(&cred.Token.AccessToken, &cred.Token.RefreshToken, &cred.Token.TokenType, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Credential{RealmID: realmID}, nil
	}
	if err != nil {
		return ledger.Credential{}, fmt.Errorf("loading ledger credential: %w", err)
	}
	if expiresAt.Valid {
		cred.Token.Expiry = expiresAt.Time
	}
	return cred, nil
}

// SaveLedgerCredential upserts the credential for its realm. Must be called
// whenever a ledger call returns a changed credential, before the next call.
func SaveLedgerCredential(db *sql.DB, cred ledger.Credential) error {
	var expiresAt any
	if !cred.Token.Expiry.IsZero() {
		expiresAt = cred.Token.Expiry.UTC().Format(time.RFC3339)
	}
	_, err := db.Exec(`
		INSERT INTO ledger_credentials (realm_id, access_token, refresh_token, token_type, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(realm_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expires_at = excluded.expires_at,
			updated_at = CURRENT_TIMESTAMP`,
		cred.RealmID, cred.Token.AccessToken, cred.Token.RefreshToken, cred.Token.TokenType, expiresAt)
	if err != nil {
		return fmt.Errorf("saving ledger credential: %w", err)
	}
	return nil
}
