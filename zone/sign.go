/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package zone

import (
	"github.com/miekg/dns"
	"golang.org/x/exp/rand"

	"github.com/zonesign/zonesign/nametree"
)

// SigningContext is an opaque handle a KeyStore hands back from
// CreateContext and expects back on every Sign/DestroyContext call. Its
// concrete type is private to the KeyStore implementation; the zone
// package never inspects it.
type SigningContext interface{}

// ActiveKey describes one key currently eligible to sign, as reported by
// a KeyStore. IsKSK marks a key-signing key (the SEP bit, RFC 4034
// section 2.1.1): SignZone only uses KSKs to sign the DNSKEY RRset and
// ZSKs for everything else, promoting a lone key to cover both roles.
type ActiveKey struct {
	Locator   string
	KeyTag    uint16
	Algorithm uint8
	IsKSK     bool
	DNSKEY    *dns.DNSKEY
}

// KeyStore is the zone data engine's collaborator contract with a key
// management backend: create a signing context for a zone, enumerate
// its currently active keys, sign an RRset, and release the context.
// Modelled as an HSM-shaped interface so a real implementation never
// needs to hand raw private key material to the zone package; the
// reference implementation in package keystore backs it with a
// database/sql-held key in BIND private-key format and miekg/dns's own
// RRSIG.Sign.
type KeyStore interface {
	CreateContext(zoneName string) (SigningContext, error)
	DestroyContext(ctx SigningContext) error
	ActiveKeys(ctx SigningContext) ([]ActiveKey, error)
	// Sign computes rrsig.Signature (base64) over rrset. rrsig's
	// Algorithm, KeyTag, SignerName, Inception and Expiration fields
	// are already populated by the caller.
	Sign(ctx SigningContext, key ActiveKey, rrsig *dns.RRSIG, rrset []dns.RR) error
}

// SignZone (re)signs every RRset and denial-of-existence record that
// needs it, and the DNSKEY RRset itself. A resync call first runs
// Entize, Examine (ModeWire - a zone that fails structural validation
// is never signed) and either Nsecify or Nsecify3 depending on the
// zone's policy, then signs. Cancellation is observed between each
// Domain's worth of work. The signing context is released on every exit
// path.
func (zd *ZoneData) SignZone(now int64) error {
	if zd.Frozen {
		return ErrFrozen
	}
	if zd.KeyStore == nil {
		return assertErr("SignZone", "zone %s has no KeyStore configured", zd.ZoneName)
	}
	if zd.Policy == nil {
		return assertErr("SignZone", "zone %s has no SigningPolicy configured", zd.ZoneName)
	}

	// The emitted zone must carry a serial the last recipient has not
	// seen; re-run the serial policy if the internal serial has not
	// moved past the last outbound one.
	if !SerialGT(zd.InternalSerial, zd.OutboundSerial) || !zd.Initialized {
		if err := zd.BumpSerial(now); err != nil {
			return err
		}
	}

	if err := zd.Entize(); err != nil {
		return err
	}
	if _, err := zd.Examine(ModeWire); err != nil {
		return err
	}

	ctx, err := zd.KeyStore.CreateContext(zd.ZoneName)
	if err != nil {
		return fatalErr("SignZone", "create signing context: %v", err)
	}
	defer zd.KeyStore.DestroyContext(ctx)

	keys, err := zd.KeyStore.ActiveKeys(ctx)
	if err != nil {
		return fatalErr("SignZone", "no active keys: %v", err)
	}
	if len(keys) == 0 {
		return fatalErr("SignZone", "zone %s has no active signing keys", zd.ZoneName)
	}
	ksks, zsks := splitKeys(keys)

	// The DNSKEY RRset must be in place before the denial chain is
	// built or the apex bitmap will not list it.
	zd.installDNSKEYs(ksks, zsks)

	if zd.Policy.NSEC3 != nil {
		if err := zd.Nsecify3(); err != nil {
			return err
		}
	} else {
		if err := zd.Nsecify(); err != nil {
			return err
		}
	}

	zd.mu.Lock()
	defer zd.mu.Unlock()

	dnskeys, _ := zd.Apex.RRtypes.Get(dns.TypeDNSKEY)
	if err := zd.signRRset(ctx, dnskeys, ksks, now, zd.Policy.SigValidityRegularS); err != nil {
		return err
	}

	var domains []*Domain
	zd.Domains.Do(func(n *nametree.Node[*Domain]) { domains = append(domains, n.Value) })

	for _, d := range domains {
		if zd.checkCancelledLocked() {
			return ErrCancelled
		}
		if d.Status == DomOccluded || isENTStatus(d.Status) {
			continue
		}
		if err := zd.signDomain(ctx, d, zsks, now); err != nil {
			return err
		}
	}

	var denials []*Denial
	zd.Denials.Do(func(n *nametree.Node[*Denial]) { denials = append(denials, n.Value) })
	for _, den := range denials {
		if zd.checkCancelledLocked() {
			return ErrCancelled
		}
		if err := zd.signDenial(ctx, den, zsks, now); err != nil {
			return err
		}
	}

	zd.OutboundSerial = zd.InternalSerial
	delete(zd.Options, OptDirty)
	return nil
}

func splitKeys(keys []ActiveKey) (ksks, zsks []ActiveKey) {
	for _, k := range keys {
		if k.IsKSK {
			ksks = append(ksks, k)
		} else {
			zsks = append(zsks, k)
		}
	}
	// A zone with a single key uses it for both roles (CSK).
	if len(ksks) == 0 {
		ksks = zsks
	}
	if len(zsks) == 0 {
		zsks = ksks
	}
	return ksks, zsks
}

// installDNSKEYs replaces the apex DNSKEY RRset with the current active
// key set (each distinct key tag once, KSKs first).
func (zd *ZoneData) installDNSKEYs(ksks, zsks []ActiveKey) {
	zd.mu.Lock()
	defer zd.mu.Unlock()
	rrset := zd.Apex.RRtypes.GetOrCreate(zd.ZoneName, dns.TypeDNSKEY)
	seen := map[uint16]bool{}
	var rrs []dns.RR
	for _, k := range append(append([]ActiveKey{}, ksks...), zsks...) {
		if k.DNSKEY == nil || seen[k.KeyTag] {
			continue
		}
		seen[k.KeyTag] = true
		rrs = append(rrs, k.DNSKEY)
	}
	rrset.RRs = rrs
}

func (zd *ZoneData) signDomain(ctx SigningContext, d *Domain, zsks []ActiveKey, now int64) error {
	if d.Status == DomNS {
		// A delegation's own NS (and any glue) is unsigned; only DS
		// (if present) and the denial record get RRSIGs here.
		if rrset, ok := d.RRtypes.Get(dns.TypeDS); ok {
			if err := zd.signRRset(ctx, rrset, zsks, now, zd.Policy.SigValidityRegularS); err != nil {
				return err
			}
		}
		return nil
	}
	for _, t := range d.RRtypes.Keys() {
		if t == dns.TypeRRSIG || t == dns.TypeDNSKEY {
			continue
		}
		rrset, ok := d.RRtypes.Get(t)
		if !ok || rrset.IsEmpty() {
			continue
		}
		if err := zd.signRRset(ctx, rrset, zsks, now, zd.Policy.SigValidityRegularS); err != nil {
			return err
		}
	}
	return nil
}

// signDenial signs one NSEC/NSEC3 RRset. Denial records get their own,
// typically shorter, validity window: they are cheap to regenerate and a
// long-lived denial is a bigger replay surface than a long-lived RRSIG
// over real data.
func (zd *ZoneData) signDenial(ctx SigningContext, den *Denial, zsks []ActiveKey, now int64) error {
	if den.RRset == nil || den.RRset.IsEmpty() {
		return nil
	}
	validity := zd.Policy.SigValidityDenialS
	if validity == 0 {
		validity = zd.Policy.SigValidityRegularS
	}
	return zd.signRRset(ctx, den.RRset, zsks, now, validity)
}

// signRRset re-signs rrset with every key in keys unless it already
// carries a still-valid, not-about-to-expire signature from that key
// (needsResigning).
func (zd *ZoneData) signRRset(ctx SigningContext, rrset *RRset, keys []ActiveKey, now, validity int64) error {
	if rrset == nil || rrset.IsEmpty() {
		return nil
	}
	offset := zd.Policy.SigInceptionOffsetS

	var rrsigs []dns.RR
	for _, key := range keys {
		if !zd.needsResigning(rrset, key.KeyTag, now) {
			for _, sig := range rrset.RRSIGs {
				if rs, ok := sig.(*dns.RRSIG); ok && rs.KeyTag == key.KeyTag && rs.TypeCovered == rrset.RRtype {
					rrsigs = append(rrsigs, rs)
				}
			}
			continue
		}
		// Jitter widens each signature's window by a random amount so a
		// whole zone's signatures do not all expire in the same second.
		var jitter int64
		if zd.Policy.SigJitterS > 0 {
			jitter = rand.Int63n(zd.Policy.SigJitterS + 1)
		}
		rrsig := &dns.RRSIG{
			Hdr:         dns.RR_Header{Name: rrset.Name, Rrtype: dns.TypeRRSIG, Class: dns.ClassINET, Ttl: zd.DefaultTTL},
			TypeCovered: rrset.RRtype,
			Algorithm:   key.Algorithm,
			Labels:      uint8(nametree.NumLabels(rrset.Name)),
			OrigTtl:     zd.DefaultTTL,
			Expiration:  uint32(now + validity + jitter),
			Inception:   uint32(now - offset - jitter),
			KeyTag:      key.KeyTag,
			SignerName:  zd.ZoneName,
		}
		if err := zd.KeyStore.Sign(ctx, key, rrsig, rrset.RRs); err != nil {
			return fatalErr("SignZone", "sign %s/%s with key %d: %v",
				rrset.Name, dns.TypeToString[rrset.RRtype], key.KeyTag, err)
		}
		rrsigs = append(rrsigs, rrsig)
	}
	rrset.RRSIGs = rrsigs
	return nil
}

// needsResigning reports whether rrset's existing signature from keyTag
// is missing, or has burned through three quarters of its validity
// window.
func (zd *ZoneData) needsResigning(rrset *RRset, keyTag uint16, now int64) bool {
	for _, sig := range rrset.RRSIGs {
		rs, ok := sig.(*dns.RRSIG)
		if !ok || rs.KeyTag != keyTag || rs.TypeCovered != rrset.RRtype {
			continue
		}
		remaining := int64(rs.Expiration) - now
		total := int64(rs.Expiration) - int64(rs.Inception)
		if total <= 0 {
			return true
		}
		return remaining < total/4
	}
	return true
}
