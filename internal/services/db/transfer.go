package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pocketpay/transferd/pkg/transfer"
	"github.com/shopspring/decimal"
)

type TransferDB struct {
	db  *sql.DB
	rdb *sql.DB
}

// NewTransferDB creates a new DB
func NewTransferDB(db, rdb *sql.DB) (*TransferDB, error) {
	return &TransferDB{
		db:  db,
		rdb: rdb,
	}, nil
}

// CreateTransferTables creates the transfer and transfer history tables.
// History is append-only; rows are never updated or deleted.
func (db *TransferDB) CreateTransferTables() error {
	_, err := db.db.Exec(`
	CREATE TABLE IF NOT EXISTS t_transfers(
		id TEXT NOT NULL PRIMARY KEY,
		user_id TEXT NOT NULL,
		wallet_id TEXT NOT NULL,
		to_addr TEXT NOT NULL,
		chain_id INTEGER NOT NULL,
		amount TEXT NOT NULL,
		token TEXT NOT NULL,
		service_fee TEXT NOT NULL DEFAULT '0',
		network_fee TEXT NOT NULL DEFAULT '0',
		mode TEXT NOT NULL,
		fee_level TEXT NOT NULL,
		status TEXT NOT NULL,
		provider_id TEXT NOT NULL DEFAULT '',
		tx_hash TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		accelerated INTEGER NOT NULL DEFAULT 0,
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
	CREATE TABLE IF NOT EXISTS t_transfer_history(
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

	return db.createTransferIndexes()
}

func (db *TransferDB) createTransferIndexes() error {
	// reconciler refill query
	_, err := db.db.Exec(`
	CREATE INDEX IF NOT EXISTS idx_transfers_status ON t_transfers (status);
	`)
	if err != nil {
		return err
	}

	_, err = db.db.Exec(`
	CREATE INDEX IF NOT EXISTS idx_transfers_user_created ON t_transfers (user_id, created_at);
	`)
	if err != nil {
		return err
	}

	_, err = db.db.Exec(`
	CREATE INDEX IF NOT EXISTS idx_transfer_history_record ON t_transfer_history (record_id, created_at);
	`)

	return err
}

// AddTransfer inserts a new record together with its initial history entry.
func (db *TransferDB) AddTransfer(t *transfer.Transfer, entry *transfer.HistoryEntry) error {
	dbtx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer dbtx.Rollback()

	_, err = dbtx.Exec(`
	INSERT INTO t_transfers (id, user_id, wallet_id, to_addr, chain_id, amount, token, service_fee, network_fee, mode, fee_level, status, provider_id, tx_hash, reason, accelerated, created_at, last_polled_at, last_progress_at, completed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, t.ID.String(), t.UserID, t.WalletID, t.To, t.ChainID, t.Amount.String(), t.Token, t.ServiceFee.String(), t.NetworkFee.String(), t.Mode, t.FeeLevel, t.Status, t.ProviderID, t.TxHash, t.Reason, t.Accelerated, t.CreatedAt, t.LastPolledAt, t.LastProgressAt, t.CompletedAt)
	if err != nil {
		return err
	}

	if entry != nil {
		err = addHistory(dbtx, "t_transfer_history", entry)
		if err != nil {
			return err
		}
	}

	return dbtx.Commit()
}

// SaveTransfer writes the record back and, when a transition happened,
// appends its history entry in the same tx so the record is never left
// half-mutated.
func (db *TransferDB) SaveTransfer(t *transfer.Transfer, entry *transfer.HistoryEntry) error {
	dbtx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer dbtx.Rollback()

	_, err = dbtx.Exec(`
	UPDATE t_transfers SET status = $1, provider_id = $2, tx_hash = $3, reason = $4, fee_level = $5, accelerated = $6, last_polled_at = $7, last_progress_at = $8, completed_at = $9
	WHERE id = $10
	`, t.Status, t.ProviderID, t.TxHash, t.Reason, t.FeeLevel, t.Accelerated, t.LastPolledAt, t.LastProgressAt, t.CompletedAt, t.ID.String())
	if err != nil {
		return err
	}

	if entry != nil {
		err = addHistory(dbtx, "t_transfer_history", entry)
		if err != nil {
			return err
		}
	}

	return dbtx.Commit()
}

// GetTransfer returns a single record by id.
func (db *TransferDB) GetTransfer(id uuid.UUID) (*transfer.Transfer, error) {
	row := db.rdb.QueryRow(`
	SELECT id, user_id, wallet_id, to_addr, chain_id, amount, token, service_fee, network_fee, mode, fee_level, status, provider_id, tx_hash, reason, accelerated, created_at, last_polled_at, last_progress_at, completed_at
	FROM t_transfers
	WHERE id = $1
	`, id.String())

	return scanTransfer(row)
}

// GetNonTerminal returns every record the reconciler still needs to poll.
func (db *TransferDB) GetNonTerminal() ([]*transfer.Transfer, error) {
	rows, err := db.rdb.Query(`
	SELECT id, user_id, wallet_id, to_addr, chain_id, amount, token, service_fee, network_fee, mode, fee_level, status, provider_id, tx_hash, reason, accelerated, created_at, last_polled_at, last_progress_at, completed_at
	FROM t_transfers
	WHERE status NOT IN ($1, $2, $3, $4)
	ORDER BY created_at ASC
	`, transfer.StatusComplete, transfer.StatusFailed, transfer.StatusCancelled, transfer.StatusDenied)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transfers := []*transfer.Transfer{}
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}

		transfers = append(transfers, t)
	}

	return transfers, rows.Err()
}

// GetHistory returns the append-only audit trail for a record, oldest first.
func (db *TransferDB) GetHistory(id uuid.UUID) ([]*transfer.HistoryEntry, error) {
	return getHistory(db.rdb, "t_transfer_history", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (*transfer.Transfer, error) {
	var t transfer.Transfer
	var id, amount, serviceFee, networkFee string
	var completedAt sql.NullTime

	err := row.Scan(&id, &t.UserID, &t.WalletID, &t.To, &t.ChainID, &amount, &t.Token, &serviceFee, &networkFee, &t.Mode, &t.FeeLevel, &t.Status, &t.ProviderID, &t.TxHash, &t.Reason, &t.Accelerated, &t.CreatedAt, &t.LastPolledAt, &t.LastProgressAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, transfer.ErrNotFound
		}

		return nil, err
	}

	t.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}

	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}

	t.ServiceFee, err = decimal.NewFromString(serviceFee)
	if err != nil {
		return nil, err
	}

	t.NetworkFee, err = decimal.NewFromString(networkFee)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		ct := completedAt.Time
		t.CompletedAt = &ct
	}

	return &t, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func addHistory(ex execer, table string, entry *transfer.HistoryEntry) error {
	_, err := ex.Exec(fmt.Sprintf(`
	INSERT INTO %s (record_id, status, tx_hash, note, created_at)
	VALUES ($1, $2, $3, $4, $5)
	`, table), entry.RecordID.String(), entry.Status, entry.TxHash, entry.Note, entry.CreatedAt)

	return err
}

func getHistory(rdb *sql.DB, table string, id uuid.UUID) ([]*transfer.HistoryEntry, error) {
	rows, err := rdb.Query(fmt.Sprintf(`
	SELECT record_id, status, tx_hash, note, created_at
	FROM %s
	WHERE record_id = $1
	ORDER BY created_at ASC
	`, table), id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*transfer.HistoryEntry{}
	for rows.Next() {
		var e transfer.HistoryEntry
		var rid string
		var createdAt time.Time

		err = rows.Scan(&rid, &e.Status, &e.TxHash, &e.Note, &createdAt)
		if err != nil {
			return nil, err
		}

		e.RecordID, err = uuid.Parse(rid)
		if err != nil {
			return nil, err
		}
		e.CreatedAt = createdAt

		entries = append(entries, &e)
	}

	return entries, rows.Err()
}
