/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package keystore

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/miekg/dns"
)

// KeystorePost is the management command envelope the daemon's API
// forwards to the keystore: add/list/setstate/delete of DNSSEC keys.
type KeystorePost struct {
	Command    string
	SubCommand string
	Zone       string
	Keyid      uint16
	Flags      uint16
	Algorithm  uint8
	PrivateKey string
	KeyRR      string
	State      string
}

// DnssecKey is the API-facing description of one stored key. The
// private key is never returned in full.
type DnssecKey struct {
	Zone       string
	Keyid      uint16
	Flags      uint16
	State      string
	Algorithm  string
	PrivateKey string
	Keystr     string
}

// KeystoreResponse carries the result of a management command.
type KeystoreResponse struct {
	Time       time.Time
	Dnsseckeys map[string]DnssecKey
	Msg        string
	Error      bool
	ErrorMsg   string
}

// DnssecKeyMgmt handles the keystore management sub-commands:
// list/add/setstate/delete. Private keys are masked in list output.
func (kdb *KeyDB) DnssecKeyMgmt(kp KeystorePost) (*KeystoreResponse, error) {
	const (
		addDnskeySql = `
INSERT OR REPLACE INTO DnssecKeyStore (zonename, state, keyid, flags, algorithm, privatekey, keyrr) VALUES (?, ?, ?, ?, ?, ?, ?)`
		setStateDnskeySql = `UPDATE DnssecKeyStore SET state=? WHERE zonename=? AND keyid=?`
		deleteDnskeySql   = `DELETE FROM DnssecKeyStore WHERE zonename=? AND keyid=?`
		getAllDnskeysSql  = `SELECT zonename, state, keyid, flags, algorithm, privatekey, keyrr FROM DnssecKeyStore`
		getDnskeySql      = `
SELECT zonename, state, keyid, flags, algorithm, privatekey, keyrr FROM DnssecKeyStore WHERE zonename=? AND keyid=?`
	)

	kdb.mu.Lock()
	defer kdb.mu.Unlock()

	resp := &KeystoreResponse{Time: time.Now()}

	tx, err := kdb.Begin("DnssecKeyMgmt")
	if err != nil {
		return resp, err
	}
	defer func() {
		if err == nil {
			tx.Commit()
		} else {
			log.Printf("Error: %v. Rollback.", err)
			tx.Rollback()
		}
	}()

	switch kp.SubCommand {
	case "list":
		rows, qerr := tx.Query(getAllDnskeysSql)
		if qerr != nil {
			err = qerr
			return resp, err
		}
		defer rows.Close()

		var zonename, state, algorithm, privatekey, keyrrstr string
		var keyid, flags int

		tmp := map[string]DnssecKey{}
		for rows.Next() {
			if err = rows.Scan(&zonename, &state, &keyid, &flags, &algorithm, &privatekey, &keyrrstr); err != nil {
				return resp, err
			}
			if len(privatekey) < 10 {
				privatekey = "ULTRA SECRET KEY"
			}
			mapkey := fmt.Sprintf("%s::%d", zonename, keyid)
			tmp[mapkey] = DnssecKey{
				Zone:       zonename,
				Keyid:      uint16(keyid),
				Flags:      uint16(flags),
				State:      state,
				Algorithm:  algorithm,
				PrivateKey: fmt.Sprintf("%s*****%s", privatekey[0:5], privatekey[len(privatekey)-5:]),
				Keystr:     keyrrstr,
			}
		}
		resp.Dnsseckeys = tmp
		resp.Msg = "Here are all the DNSSEC keys that we know"

	case "add": // AKA "import"
		res, xerr := tx.Exec(addDnskeySql, kp.Zone, kp.State, kp.Keyid, kp.Flags,
			dns.AlgorithmToString[kp.Algorithm], kp.PrivateKey, kp.KeyRR)
		if xerr != nil {
			err = xerr
			resp.Error = true
			resp.ErrorMsg = err.Error()
			return resp, err
		}
		rows, _ := res.RowsAffected()
		resp.Msg = fmt.Sprintf("Updated %d rows", rows)
		delete(kdb.DnssecCache, kp.Zone)

	case "setstate":
		res, xerr := tx.Exec(setStateDnskeySql, kp.State, kp.Zone, kp.Keyid)
		if xerr != nil {
			err = xerr
			resp.Error = true
			resp.ErrorMsg = err.Error()
			return resp, err
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			resp.Msg = fmt.Sprintf("Key %s (keyid %d) not found", kp.Zone, kp.Keyid)
		} else {
			resp.Msg = fmt.Sprintf("Key %s (keyid %d) state set to %s", kp.Zone, kp.Keyid, kp.State)
		}
		delete(kdb.DnssecCache, kp.Zone)

	case "delete":
		row := tx.QueryRow(getDnskeySql, kp.Zone, kp.Keyid)
		var zonename, state, algorithm, privatekey, keyrr string
		var keyid, flags int
		if err = row.Scan(&zonename, &state, &keyid, &flags, &algorithm, &privatekey, &keyrr); err != nil {
			resp.Error = true
			if err == sql.ErrNoRows {
				resp.ErrorMsg = fmt.Sprintf("Key %s (keyid %d) not found", kp.Zone, kp.Keyid)
			} else {
				resp.ErrorMsg = err.Error()
			}
			return resp, err
		}
		res, xerr := tx.Exec(deleteDnskeySql, kp.Zone, kp.Keyid)
		if xerr != nil {
			err = xerr
			resp.Error = true
			resp.ErrorMsg = err.Error()
			return resp, err
		}
		rows, _ := res.RowsAffected()
		resp.Msg = fmt.Sprintf("Key %s (keyid %d) deleted (%d rows)", kp.Zone, kp.Keyid, rows)
		delete(kdb.DnssecCache, kp.Zone)

	default:
		resp.Error = true
		resp.ErrorMsg = fmt.Sprintf("DnssecKeyMgmt: unknown SubCommand: %s", kp.SubCommand)
	}
	return resp, nil
}

// GetDnssecActiveKeys returns the parsed active key set for zonename,
// split into KSKs and ZSKs, from cache when possible. A zone with no
// active KSK is a hard error; a zone whose only key is a CSK uses it in
// both roles.
func (kdb *KeyDB) GetDnssecActiveKeys(zonename string) (*DnssecActiveKeys, error) {
	const fetchDnssecPrivKeySql = `
SELECT keyid, flags, algorithm, privatekey, keyrr FROM DnssecKeyStore WHERE zonename=? AND state='active'`

	kdb.mu.Lock()
	defer kdb.mu.Unlock()

	if data, ok := kdb.DnssecCache[zonename]; ok {
		return data, nil
	}

	var dak DnssecActiveKeys

	rows, err := kdb.Query(fetchDnssecPrivKeySql, zonename)
	if err != nil {
		log.Printf("Error from kdb.Query(%s, %s): %v", fetchDnssecPrivKeySql, zonename, err)
		return nil, err
	}
	defer rows.Close()

	var algorithm, privatekey, keyrrstr string
	var flags, keyid int

	for rows.Next() {
		if err := rows.Scan(&keyid, &flags, &algorithm, &privatekey, &keyrrstr); err != nil {
			return nil, err
		}
		pkc, err := PrepareKeyCache(privatekey, keyrrstr, dns.StringToAlgorithm[algorithm])
		if err != nil {
			return nil, fmt.Errorf("error from PrepareKeyCache for %s keyid %d: %v", zonename, keyid, err)
		}
		pkc.State = "active"
		if (flags & 0x0001) != 0 { // SEP bit
			dak.KSKs = append(dak.KSKs, pkc)
		} else {
			dak.ZSKs = append(dak.ZSKs, pkc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dak.KSKs) == 0 && len(dak.ZSKs) == 0 {
		return nil, fmt.Errorf("no active DNSSEC key found for zone %s", zonename)
	}
	// No KSK found is a hard error.
	if len(dak.KSKs) == 0 {
		return nil, fmt.Errorf("no active DNSSEC KSK found for zone %s", zonename)
	}
	// When using a CSK it will have flags = 257, but also be used as a ZSK.
	if len(dak.ZSKs) == 0 {
		dak.ZSKs = append(dak.ZSKs, dak.KSKs[0])
	}

	kdb.DnssecCache[zonename] = &dak
	return &dak, nil
}
