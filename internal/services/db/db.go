package db

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pocketpay/transferd/internal/storage"
)

const (
	dbBaseFolder   = "data"
	dbConfigString = "cache=private&_journal=WAL&mode=rwc&_txlock=immediate&_busy_timeout=10000"
)

type DB struct {
	db  *sql.DB
	rdb *sql.DB

	locks sync.Map

	TransferDB   *TransferDB
	BridgeDB     *BridgeDB
	CredentialDB *CredentialDB
}

// NewDB instantiates the store and creates any missing tables.
func NewDB(basePath string) (*DB, error) {
	folderPath := fmt.Sprintf("%s/%s", basePath, dbBaseFolder)
	path := fmt.Sprintf("%s/transferd.db", folderPath)

	if !storage.Exists(folderPath) {
		err := storage.CreateDir(folderPath)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", path, dbConfigString))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	err = db.Ping()
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1)

	transferDB, err := NewTransferDB(db, db)
	if err != nil {
		return nil, err
	}

	bridgeDB, err := NewBridgeDB(db, db)
	if err != nil {
		return nil, err
	}

	credentialDB, err := NewCredentialDB(db, db)
	if err != nil {
		return nil, err
	}

	d := &DB{
		db:           db,
		rdb:          db,
		TransferDB:   transferDB,
		BridgeDB:     bridgeDB,
		CredentialDB: credentialDB,
	}

	err = transferDB.CreateTransferTables()
	if err != nil {
		return nil, err
	}

	err = bridgeDB.CreateBridgeTables()
	if err != nil {
		return nil, err
	}

	err = credentialDB.CreateCredentialTable()
	if err != nil {
		return nil, err
	}

	return d, nil
}

// LockRecord serializes mutation of a single record across the api and the
// reconciler. The returned func releases the lock.
func (d *DB) LockRecord(id string) func() {
	v, _ := d.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()

	return mu.Unlock
}

// Close closes the db
func (d *DB) Close() error {
	return d.db.Close()
}
