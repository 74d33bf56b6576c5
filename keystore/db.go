/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package keystore is the signing-key collaborator of the zone data
// engine: a sqlite-backed store of DNSSEC key pairs per zone, handing
// out signing contexts that satisfy the zone package's KeyStore
// contract. Private key material never crosses the contract boundary;
// the zone engine only ever sees locator strings and DNSKEY RRs.
package keystore

import (
	"crypto"
	"database/sql"
	"fmt"
	"log"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/miekg/dns"
)

var DefaultTables = map[string]string{

	// The DnssecKeyStore contains both the private and public DNSSEC keys
	// for each zone that we're managing signing for.
	"DnssecKeyStore": `CREATE TABLE IF NOT EXISTS 'DnssecKeyStore' (
id		  INTEGER PRIMARY KEY,
zonename	  TEXT,
state		  TEXT,
keyid		  INTEGER,
flags		  INTEGER,
algorithm	  TEXT,
creator	  	  TEXT,
privatekey	  TEXT,
keyrr		  TEXT,
comment		  TEXT,
UNIQUE (zonename, keyid)
)`,
}

// PrivateKeyCache holds one parsed key pair: the crypto.Signer the
// signing context uses and the DNSKEY RR published in the zone.
type PrivateKeyCache struct {
	K         crypto.PrivateKey
	CS        crypto.Signer
	Algorithm uint8
	KeyId     uint16
	State     string
	DnskeyRR  dns.DNSKEY
}

// DnssecActiveKeys is a zone's active key set split into key-signing
// and zone-signing roles.
type DnssecActiveKeys struct {
	KSKs []*PrivateKeyCache
	ZSKs []*PrivateKeyCache
}

// KeyDB wraps the sqlite key database plus a per-zone cache of parsed
// private keys, so repeated signing passes do not re-parse BIND-format
// key material on every run.
type KeyDB struct {
	DB *sql.DB
	mu sync.Mutex

	DnssecCache map[string]*DnssecActiveKeys // map[zonename]
	Ctx         string
}

// Tx carries the KeyDB context string through a transaction so
// concurrent Begin calls are caught instead of deadlocking sqlite.
type Tx struct {
	*sql.Tx
	KeyDB   *KeyDB
	context string
}

func (tx *Tx) Commit() error {
	err := tx.Tx.Commit()
	tx.KeyDB.Ctx = ""
	if err != nil {
		log.Printf("Error committing KeyDB transaction (%s): %v", tx.context, err)
	}
	return err
}

func (tx *Tx) Rollback() error {
	err := tx.Tx.Rollback()
	tx.KeyDB.Ctx = ""
	if err != nil {
		log.Printf("Error rolling back KeyDB transaction (%s): %v", tx.context, err)
	}
	return err
}

func (db *KeyDB) Begin(context string) (*Tx, error) {
	if db.Ctx != "" {
		return nil, fmt.Errorf("KeyDB transaction already in progress: %s", db.Ctx)
	}
	db.Ctx = context
	tx, err := db.DB.Begin()
	if err != nil {
		db.Ctx = ""
		return nil, err
	}
	return &Tx{Tx: tx, KeyDB: db, context: context}, nil
}

func (db *KeyDB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.DB.Query(query, args...)
}

func (db *KeyDB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.DB.QueryRow(query, args...)
}

func (db *KeyDB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.DB.Exec(query, args...)
}

func (db *KeyDB) Close() error {
	return db.DB.Close()
}

func dbSetupTables(db *sql.DB) error {
	for t, s := range DefaultTables {
		stmt, err := db.Prepare(s)
		if err != nil {
			return fmt.Errorf("dbSetupTables: error from %s schema: %v", t, err)
		}
		if _, err = stmt.Exec(); err != nil {
			return fmt.Errorf("dbSetupTables: failed to set up schema for %s: %v", t, err)
		}
	}
	return nil
}

// NewKeyDB opens (creating if needed) the sqlite key database at dbfile.
// With force set, existing tables are dropped and recreated.
func NewKeyDB(dbfile string, force bool) (*KeyDB, error) {
	if dbfile == "" {
		return nil, fmt.Errorf("error: DB filename unspecified")
	}
	db, err := sql.Open("sqlite3", dbfile)
	if err != nil {
		return nil, fmt.Errorf("NewKeyDB: Error from sql.Open: %v", err)
	}

	if force {
		for table := range DefaultTables {
			if _, err = db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return nil, fmt.Errorf("NewKeyDB: Error when dropping table %s: %v", table, err)
			}
		}
	}
	if err := dbSetupTables(db); err != nil {
		return nil, err
	}
	return &KeyDB{
		DB:          db,
		DnssecCache: make(map[string]*DnssecActiveKeys),
	}, nil
}
