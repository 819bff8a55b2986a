package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/pocketpay/transferd/pkg/transfer"
)

type CredentialDB struct {
	db  *sql.DB
	rdb *sql.DB
}

// NewCredentialDB creates a new DB
func NewCredentialDB(db, rdb *sql.DB) (*CredentialDB, error) {
	return &CredentialDB{
		db:  db,
		rdb: rdb,
	}, nil
}

func (db *CredentialDB) CreateCredentialTable() error {
	_, err := db.db.Exec(`
	CREATE TABLE IF NOT EXISTS t_credentials(
		wallet_id TEXT NOT NULL PRIMARY KEY,
		session_key TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp
	);
	`)

	return err
}

// GetCredentials returns the current session credentials for a wallet.
func (db *CredentialDB) GetCredentials(walletID string) (*transfer.SessionCredentials, error) {
	var creds transfer.SessionCredentials

	err := db.rdb.QueryRow(`
	SELECT session_key, refresh_token FROM t_credentials WHERE wallet_id = $1
	`, walletID).Scan(&creds.SessionKey, &creds.RefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, transfer.ErrNotFound
		}

		return nil, err
	}

	return &creds, nil
}

// SetCredentials stores the initial credentials for a wallet.
func (db *CredentialDB) SetCredentials(walletID string, creds *transfer.SessionCredentials) error {
	_, err := db.db.Exec(`
	INSERT INTO t_credentials (wallet_id, session_key, refresh_token, updated_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT(wallet_id) DO UPDATE SET session_key = $2, refresh_token = $3, updated_at = $4
	`, walletID, creds.SessionKey, creds.RefreshToken, time.Now().UTC())

	return err
}

// Rotate swaps the wallet's credentials with compare-and-swap semantics:
// the update only lands if the stored session key is still the one the
// challenge was executed with. A concurrent rotation surfaces as
// ErrCredentialConflict so a spent credential is never reused.
func (db *CredentialDB) Rotate(walletID string, old, next *transfer.SessionCredentials) error {
	res, err := db.db.Exec(`
	UPDATE t_credentials SET session_key = $1, refresh_token = $2, updated_at = $3
	WHERE wallet_id = $4 AND session_key = $5
	`, next.SessionKey, next.RefreshToken, time.Now().UTC(), walletID, old.SessionKey)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return transfer.ErrCredentialConflict
	}

	return nil
}
