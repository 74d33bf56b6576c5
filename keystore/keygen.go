/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package keystore

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"log"
	"slices"

	"github.com/gookit/goutil/dump"
	"github.com/miekg/dns"
)

// GenerateKeypair generates a new DNSSEC key pair of the given
// algorithm and role (ZSK, KSK or CSK), stores it in the keystore in
// the given state, and returns the parsed key.
func (kdb *KeyDB) GenerateKeypair(zonename, creator, state string, alg uint8, keytype string, ttl uint32) (*PrivateKeyCache, string, error) {
	if _, exist := dns.AlgorithmToString[alg]; !exist {
		return nil, "", fmt.Errorf("GenerateKeypair: Error: unknown algorithm: %d", alg)
	}
	if !slices.Contains([]string{"ZSK", "KSK", "CSK"}, keytype) {
		return nil, "", fmt.Errorf("GenerateKeypair: Error: unknown key type: %s", keytype)
	}

	var bits int
	switch alg {
	case dns.ECDSAP256SHA256, dns.ED25519:
		bits = 256
	case dns.ECDSAP384SHA384:
		bits = 384
	case dns.RSASHA256, dns.RSASHA512:
		bits = 2048
	default:
		return nil, "", fmt.Errorf("GenerateKeypair: Error: no keygen support for algorithm %s",
			dns.AlgorithmToString[alg])
	}

	nkey := new(dns.DNSKEY)
	nkey.Algorithm = alg
	nkey.Flags = 256
	if keytype == "KSK" || keytype == "CSK" {
		nkey.Flags = 257
	}
	nkey.Protocol = 3
	nkey.Hdr = dns.RR_Header{
		Name:   dns.Fqdn(zonename),
		Rrtype: dns.TypeDNSKEY,
		Class:  dns.ClassINET,
		Ttl:    ttl,
	}

	privkey, err := nkey.Generate(bits)
	if err != nil {
		return nil, "", fmt.Errorf("Error from nkey.Generate: %v", err)
	}

	var pk crypto.PrivateKey
	switch privkey := privkey.(type) {
	case *rsa.PrivateKey, ed25519.PrivateKey, *ecdsa.PrivateKey:
		pk = privkey
	default:
		return nil, "", fmt.Errorf("Error: unknown private key type: %T", privkey)
	}

	privkeystr := nkey.PrivateKeyString(pk) // BIND private key format
	if Debug {
		dump.P(nkey.String())
	}

	pkc, err := PrepareKeyCache(privkeystr, nkey.String(), alg)
	if err != nil {
		return nil, "", fmt.Errorf("Error from PrepareKeyCache: %v", err)
	}
	pkc.State = state

	resp, err := kdb.DnssecKeyMgmt(KeystorePost{
		SubCommand: "add",
		Zone:       dns.Fqdn(zonename),
		Keyid:      pkc.KeyId,
		Flags:      nkey.Flags,
		Algorithm:  alg,
		PrivateKey: privkeystr,
		KeyRR:      nkey.String(),
		State:      state,
	})
	if err != nil {
		return nil, "", fmt.Errorf("Error storing generated key: %v", err)
	}
	msg := fmt.Sprintf("Generated %s %s key %d for zone %s (creator %s): %s",
		dns.AlgorithmToString[alg], keytype, pkc.KeyId, zonename, creator, resp.Msg)
	log.Print(msg)

	return pkc, msg, nil
}

// Debug enables verbose dumps of generated key material (public parts
// only) during keygen.
var Debug bool
