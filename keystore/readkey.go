/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package keystore

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// PrepareKeyCache parses a stored key pair into a PrivateKeyCache. The
// private key is the bare base64/BIND value as stored in the keystore;
// it is wrapped into Private-key-format v1.3 here because that is the
// only format miekg/dns reads.
func PrepareKeyCache(privkey, pubkey string, alg uint8) (*PrivateKeyCache, error) {
	rr, err := dns.NewRR(pubkey)
	if err != nil {
		return nil, fmt.Errorf("error reading public key '%s': %v", pubkey, err)
	}
	dnskey, ok := rr.(*dns.DNSKEY)
	if !ok {
		return nil, fmt.Errorf("public key RR is a %s, not a DNSKEY", dns.TypeToString[rr.Header().Rrtype])
	}

	// Keys generated internally are stored in full BIND private-key
	// format; keys imported from bare base64 get the wrapper added.
	src := privkey
	if !strings.Contains(privkey, "Private-key-format") {
		src = fmt.Sprintf(`Private-key-format: v1.3
Algorithm: %d (%s)
PrivateKey: %s`, alg, dns.AlgorithmToString[alg], privkey)
	}

	var pkc PrivateKeyCache
	pkc.K, err = dnskey.NewPrivateKey(src)
	if err != nil {
		return nil, fmt.Errorf("error parsing private key for %s: %v", dnskey.Header().Name, err)
	}
	pkc.Algorithm = dnskey.Algorithm
	pkc.KeyId = dnskey.KeyTag()
	pkc.DnskeyRR = *dnskey

	switch pkc.Algorithm {
	case dns.RSASHA256, dns.RSASHA512:
		pkc.CS = pkc.K.(*rsa.PrivateKey)
	case dns.ED25519:
		pkc.CS = pkc.K.(ed25519.PrivateKey)
	case dns.ECDSAP256SHA256, dns.ECDSAP384SHA384:
		pkc.CS = pkc.K.(*ecdsa.PrivateKey)
	default:
		return nil, fmt.Errorf("no support for algorithm %s yet", dns.AlgorithmToString[pkc.Algorithm])
	}

	return &pkc, nil
}
