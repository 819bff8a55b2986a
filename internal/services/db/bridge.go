package db

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/pocketpay/transferd/pkg/transfer"
	"github.com/shopspring/decimal"
)

type BridgeDB struct {
	db  *sql.DB
	rdb *sql.DB
}

// NewBridgeDB creates a new DB
func NewBridgeDB(db, rdb *sql.DB) (*BridgeDB, error) {
	return &BridgeDB{
		db:  db,
		rdb: rdb,
	}, nil
}

// CreateBridgeTables creates the bridge and bridge history tables.
func (db *BridgeDB) CreateBridgeTables() error {
	_, err := db.db.Exec(`
	CREATE TABLE IF NOT EXISTS t_bridges(
		id TEXT NOT NULL PRIMARY KEY,
		user_id TEXT NOT NULL,
		wallet_id TEXT NOT NULL,
		to_addr TEXT NOT NULL,
		source_chain_id INTEGER NOT NULL,
		dest_chain_id INTEGER NOT NULL,
		amount TEXT NOT NULL,
		token TEXT NOT NULL,
		service_fee TEXT NOT NULL DEFAULT '0',
		network_fee TEXT NOT NULL DEFAULT '0',
		speed TEXT NOT NULL,
		status TEXT NOT NULL,
		burn_provider_id TEXT NOT NULL DEFAULT '',
		mint_provider_id TEXT NOT NULL DEFAULT '',
		burn_tx_hash TEXT NOT NULL DEFAULT '',
		mint_tx_hash TEXT NOT NULL DEFAULT '',
		attestation_hash TEXT NOT NULL DEFAULT '',
		attestation TEXT NOT NULL DEFAULT '',
		attestation_expires_at TIMESTAMP DEFAULT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
		last_polled_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
		last_progress_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
		completed_at TIMESTAMP DEFAULT NULL
	);
	`)
	if err != nil {
		return err
	}

	_, err = db.db.Exec(`
	CREATE TABLE IF NOT EXISTS t_bridge_history(
		record_id TEXT NOT NULL,
		status TEXT NOT NULL,
		tx_hash TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT current_timestamp
	);
	`)
	if err != nil {
		return err
	}

	_, err = db.db.Exec(`
	CREATE INDEX IF NOT EXISTS idx_bridges_status ON t_bridges (status);
	`)
	if err != nil {
		return err
	}

	_, err = db.db.Exec(`
	CREATE INDEX IF NOT EXISTS idx_bridge_history_record ON t_bridge_history (record_id, created_at);
	`)

	return err
}

// AddBridge inserts a new record together with its initial history entry.
func (db *BridgeDB) AddBridge(b *transfer.BridgeTransfer, entry *transfer.HistoryEntry) error {
	dbtx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer dbtx.Rollback()

	_, err = dbtx.Exec(`
	INSERT INTO t_bridges (id, user_id, wallet_id, to_addr, source_chain_id, dest_chain_id, amount, token, service_fee, network_fee, speed, status, burn_provider_id, mint_provider_id, burn_tx_hash, mint_tx_hash, attestation_hash, attestation, attestation_expires_at, reason, created_at, last_polled_at, last_progress_at, completed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`, b.ID.String(), b.UserID, b.WalletID, b.To, b.SourceChainID, b.DestChainID, b.Amount.String(), b.Token, b.ServiceFee.String(), b.NetworkFee.String(), b.Speed, b.Status, b.BurnProviderID, b.MintProviderID, b.BurnTxHash, b.MintTxHash, b.AttestationHash, b.Attestation, b.AttestationExpiresAt, b.Reason, b.CreatedAt, b.LastPolledAt, b.LastProgressAt, b.CompletedAt)
	if err != nil {
		return err
	}

	if entry != nil {
		err = addHistory(dbtx, "t_bridge_history", entry)
		if err != nil {
			return err
		}
	}

	return dbtx.Commit()
}

// SaveBridge writes the record back, appending a history entry in the same
// tx when a transition happened.
func (db *BridgeDB) SaveBridge(b *transfer.BridgeTransfer, entry *transfer.HistoryEntry) error {
	dbtx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer dbtx.Rollback()

	_, err = dbtx.Exec(`
	UPDATE t_bridges SET status = $1, burn_provider_id = $2, mint_provider_id = $3, burn_tx_hash = $4, mint_tx_hash = $5, attestation_hash = $6, attestation = $7, attestation_expires_at = $8, reason = $9, last_polled_at = $10, last_progress_at = $11, completed_at = $12
	WHERE id = $13
	`, b.Status, b.BurnProviderID, b.MintProviderID, b.BurnTxHash, b.MintTxHash, b.AttestationHash, b.Attestation, b.AttestationExpiresAt, b.Reason, b.LastPolledAt, b.LastProgressAt, b.CompletedAt, b.ID.String())
	if err != nil {
		return err
	}

	if entry != nil {
		err = addHistory(dbtx, "t_bridge_history", entry)
		if err != nil {
			return err
		}
	}

	return dbtx.Commit()
}

// GetBridge returns a single record by id.
func (db *BridgeDB) GetBridge(id uuid.UUID) (*transfer.BridgeTransfer, error) {
	row := db.rdb.QueryRow(`
	SELECT id, user_id, wallet_id, to_addr, source_chain_id, dest_chain_id, amount, token, service_fee, network_fee, speed, status, burn_provider_id, mint_provider_id, burn_tx_hash, mint_tx_hash, attestation_hash, attestation, attestation_expires_at, reason, created_at, last_polled_at, last_progress_at, completed_at
	FROM t_bridges
	WHERE id = $1
	`, id.String())

	return scanBridge(row)
}

// GetNonTerminal returns every bridge record the reconciler still polls.
func (db *BridgeDB) GetNonTerminal() ([]*transfer.BridgeTransfer, error) {
	rows, err := db.rdb.Query(`
	SELECT id, user_id, wallet_id, to_addr, source_chain_id, dest_chain_id, amount, token, service_fee, network_fee, speed, status, burn_provider_id, mint_provider_id, burn_tx_hash, mint_tx_hash, attestation_hash, attestation, attestation_expires_at, reason, created_at, last_polled_at, last_progress_at, completed_at
	FROM t_bridges
	WHERE status NOT IN ($1, $2, $3)
	ORDER BY created_at ASC
	`, transfer.BridgeStatusComplete, transfer.BridgeStatusFailed, transfer.BridgeStatusCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bridges := []*transfer.BridgeTransfer{}
	for rows.Next() {
		b, err := scanBridge(rows)
		if err != nil {
			return nil, err
		}

		bridges = append(bridges, b)
	}

	return bridges, rows.Err()
}

// GetHistory returns the append-only audit trail for a record, oldest first.
func (db *BridgeDB) GetHistory(id uuid.UUID) ([]*transfer.HistoryEntry, error) {
	return getHistory(db.rdb, "t_bridge_history", id)
}

// HistoryHasStatus reports whether a status was ever recorded for a record.
func (db *BridgeDB) HistoryHasStatus(id uuid.UUID, status transfer.BridgeStatus) (bool, error) {
	var count int
	err := db.rdb.QueryRow(`
	SELECT COUNT(*) FROM t_bridge_history WHERE record_id = $1 AND status = $2
	`, id.String(), status).Scan(&count)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

func scanBridge(row rowScanner) (*transfer.BridgeTransfer, error) {
	var b transfer.BridgeTransfer
	var id, amount, serviceFee, networkFee string
	var attExpiresAt, completedAt sql.NullTime

	err := row.Scan(&id, &b.UserID, &b.WalletID, &b.To, &b.SourceChainID, &b.DestChainID, &amount, &b.Token, &serviceFee, &networkFee, &b.Speed, &b.Status, &b.BurnProviderID, &b.MintProviderID, &b.BurnTxHash, &b.MintTxHash, &b.AttestationHash, &b.Attestation, &attExpiresAt, &b.Reason, &b.CreatedAt, &b.LastPolledAt, &b.LastProgressAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, transfer.ErrNotFound
		}

		return nil, err
	}

	b.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}

	b.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}

	b.ServiceFee, err = decimal.NewFromString(serviceFee)
	if err != nil {
		return nil, err
	}

	b.NetworkFee, err = decimal.NewFromString(networkFee)
	if err != nil {
		return nil, err
	}

	if attExpiresAt.Valid {
		at := attExpiresAt.Time
		b.AttestationExpiresAt = &at
	}

	if completedAt.Valid {
		ct := completedAt.Time
		b.CompletedAt = &ct
	}

	return &b, nil
}
