/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package keystore

import (
	"fmt"

	"github.com/miekg/dns"

	"github.com/zonesign/zonesign/zone"
)

// signingContext is one zone's signing session: the active keys, parsed
// once at context creation and addressed by locator for the duration of
// the signing pass. The context is not safe for concurrent use; the
// signing driver owns it exclusively, per the engine's resource model.
type signingContext struct {
	zoneName string
	byLoc    map[string]*PrivateKeyCache
	keys     []zone.ActiveKey
	released bool
}

// locator is the stable handle the zone engine uses to name a key
// without ever seeing its private half.
func locator(zoneName string, keyid uint16) string {
	return fmt.Sprintf("%s::%d", zoneName, keyid)
}

// CreateContext loads the zone's active keys and returns the signing
// context handle the zone engine passes back on every Sign call.
func (kdb *KeyDB) CreateContext(zoneName string) (zone.SigningContext, error) {
	dak, err := kdb.GetDnssecActiveKeys(zoneName)
	if err != nil {
		return nil, err
	}

	sc := &signingContext{
		zoneName: zoneName,
		byLoc:    make(map[string]*PrivateKeyCache),
	}
	add := func(pkc *PrivateKeyCache, isKSK bool) {
		loc := locator(zoneName, pkc.KeyId)
		if _, dup := sc.byLoc[loc]; dup {
			return // a CSK appears in both role lists
		}
		sc.byLoc[loc] = pkc
		dnskey := pkc.DnskeyRR
		sc.keys = append(sc.keys, zone.ActiveKey{
			Locator:   loc,
			KeyTag:    pkc.KeyId,
			Algorithm: pkc.Algorithm,
			IsKSK:     isKSK,
			DNSKEY:    &dnskey,
		})
	}
	for _, pkc := range dak.KSKs {
		add(pkc, true)
	}
	for _, pkc := range dak.ZSKs {
		add(pkc, false)
	}
	return sc, nil
}

// DestroyContext releases the signing context. Signing with a destroyed
// context fails; the key material itself stays cached in the KeyDB.
func (kdb *KeyDB) DestroyContext(ctx zone.SigningContext) error {
	sc, ok := ctx.(*signingContext)
	if !ok || sc == nil {
		return fmt.Errorf("DestroyContext: not a keystore signing context")
	}
	sc.released = true
	sc.byLoc = nil
	sc.keys = nil
	return nil
}

// ActiveKeys reports the keys the context was created with.
func (kdb *KeyDB) ActiveKeys(ctx zone.SigningContext) ([]zone.ActiveKey, error) {
	sc, ok := ctx.(*signingContext)
	if !ok || sc == nil {
		return nil, fmt.Errorf("ActiveKeys: not a keystore signing context")
	}
	if sc.released {
		return nil, fmt.Errorf("ActiveKeys: signing context for %s already destroyed", sc.zoneName)
	}
	return sc.keys, nil
}

// Sign computes rrsig.Signature over rrset with the key named by
// key.Locator. All other RRSIG fields are the caller's responsibility.
func (kdb *KeyDB) Sign(ctx zone.SigningContext, key zone.ActiveKey, rrsig *dns.RRSIG, rrset []dns.RR) error {
	sc, ok := ctx.(*signingContext)
	if !ok || sc == nil {
		return fmt.Errorf("Sign: not a keystore signing context")
	}
	if sc.released {
		return fmt.Errorf("Sign: signing context for %s already destroyed", sc.zoneName)
	}
	pkc, ok := sc.byLoc[key.Locator]
	if !ok {
		return fmt.Errorf("Sign: unknown key locator %s", key.Locator)
	}
	if err := rrsig.Sign(pkc.CS, rrset); err != nil {
		return fmt.Errorf("Sign: RRSIG over %s/%s with key %d: %v",
			rrsig.Hdr.Name, dns.TypeToString[rrsig.TypeCovered], pkc.KeyId, err)
	}
	return nil
}

var _ zone.KeyStore = (*KeyDB)(nil)
