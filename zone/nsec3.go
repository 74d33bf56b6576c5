/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package zone

import (
	"sort"
	"strings"

	"github.com/miekg/dns"

	"github.com/zonesign/zonesign/nametree"
)

// Nsecify3 builds (or rebuilds) the zone's NSEC3 denial-of-existence
// chain per RFC 5155: every included owner name is hashed with the
// zone's NSEC3 parameters, the hashes are sorted to form the chain, and
// one NSEC3 RR is placed at each hashed owner name in a dedicated
// "twin" tree. With Opt-Out enabled, unsigned delegations (NS without a
// DS) and the ENT chains that exist only to reach them are left out of
// the chain, per RFC 5155 section 7.1.
func (zd *ZoneData) Nsecify3() error {
	zd.mu.Lock()
	defer zd.mu.Unlock()

	if zd.Policy == nil || zd.Policy.NSEC3 == nil {
		return argErr("Nsecify3", "zone %s is not configured for NSEC3", zd.ZoneName)
	}
	params := zd.Policy.NSEC3

	owners := zd.nsec3ChainOwners(params.OptOut)
	if len(owners) == 0 {
		return assertErr("Nsecify3", "zone %s has no authoritative owner names", zd.ZoneName)
	}

	// NSEC3PARAM goes in before bitmaps are computed so the apex bitmap
	// reflects it from the first chain build onward.
	zd.setNSEC3PARAM(params)

	type hashed struct {
		hash string
		d    *Domain
	}
	entries := make([]hashed, 0, len(owners))
	seen := make(map[string]*Domain, len(owners))
	for _, d := range owners {
		if zd.checkCancelledLocked() {
			return ErrCancelled
		}
		h := dns.HashName(d.Name, params.Algorithm, params.Iterations, params.Salt)
		if prior, dup := seen[h]; dup {
			return &CollisionError{Hash: h, Name1: prior.Name, Name2: d.Name}
		}
		seen[h] = d
		entries = append(entries, hashed{hash: h, d: d})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].hash < entries[j].hash })

	zd.Denials = nametree.New[*Denial]()
	zd.NSEC3Domains = nametree.New[*Domain]()

	flags := uint8(0)
	if params.OptOut {
		flags = 1
	}

	for i, e := range entries {
		next := entries[(i+1)%len(entries)]
		hashedOwner := strings.ToLower(e.hash) + "." + zd.ZoneName

		types := bitmapTypes(e.d)
		types = append(types, dns.TypeRRSIG)
		sort.Slice(types, func(a, b int) bool { return types[a] < types[b] })

		// Base32hex encodes 5 bits/char; for algorithm 1 (SHA-1) this
		// always works out to 20 bytes, but compute it from the encoded
		// length rather than hardcoding the algorithm.
		hashLen := uint8(len(next.hash) * 5 / 8)

		nsec3 := &dns.NSEC3{
			Hdr:        dns.RR_Header{Name: hashedOwner, Rrtype: dns.TypeNSEC3, Class: dns.ClassINET, Ttl: zd.DefaultTTL},
			Hash:       params.Algorithm,
			Flags:      flags,
			Iterations: params.Iterations,
			SaltLength: uint8(len(params.Salt) / 2),
			Salt:       params.Salt,
			HashLength: hashLen,
			NextDomain: next.hash,
			TypeBitMap: dedupTypes(types),
		}

		twin := NewDomain(hashedOwner)
		twin.Status = DomHash
		twin.OriginalName = e.d.Name
		e.d.NSEC3Twin = twin
		if _, err := zd.NSEC3Domains.Insert(hashedOwner, twin); err != nil {
			return fatalErr("Nsecify3", "%v", err)
		}

		rrset := NewRRset(hashedOwner, dns.TypeNSEC3)
		rrset.RRs = []dns.RR{nsec3}
		den := &Denial{Owner: hashedOwner, RRtype: dns.TypeNSEC3, RRset: rrset, Domain: e.d, NxtChanged: true, BitmapChanged: true}
		e.d.Denial = den
		if _, err := zd.Denials.Insert(hashedOwner, den); err != nil {
			return fatalErr("Nsecify3", "%v", err)
		}
	}

	return nil
}

// nsec3ChainOwners returns the Domains that must be hashed into the
// NSEC3 chain. Under Opt-Out, unsigned-delegation NS owners and the
// ENT_NS chains leading only to them are excluded; the count of skipped
// owner names (NS and ENT_NS alike) is kept on the zone for the
// operator-facing sign report.
func (zd *ZoneData) nsec3ChainOwners(optOut bool) []*Domain {
	var owners []*Domain
	optedOut := 0
	zd.Domains.Do(func(n *nametree.Node[*Domain]) {
		d := n.Value
		if d.Glue {
			return
		}
		switch d.Status {
		case DomApex, DomAuth, DomENTAuth:
			owners = append(owners, d)
		case DomDS:
			owners = append(owners, d)
		case DomNS, DomENTNS:
			// A delegation with a DS is a signed delegation and stays in
			// the chain even under Opt-Out.
			if _, signed := d.RRtypes.Get(dns.TypeDS); signed || !optOut {
				owners = append(owners, d)
			} else {
				optedOut++
			}
		}
	})
	zd.OptedOutDelegations = optedOut
	return owners
}

func (zd *ZoneData) setNSEC3PARAM(params *NSEC3Params) {
	rr := &dns.NSEC3PARAM{
		Hdr:        dns.RR_Header{Name: zd.ZoneName, Rrtype: dns.TypeNSEC3PARAM, Class: dns.ClassINET, Ttl: zd.DefaultTTL},
		Hash:       params.Algorithm,
		Flags:      0,
		Iterations: params.Iterations,
		SaltLength: uint8(len(params.Salt) / 2),
		Salt:       params.Salt,
	}
	rrset := NewRRset(zd.ZoneName, dns.TypeNSEC3PARAM)
	rrset.RRs = []dns.RR{rr}
	zd.Apex.RRtypes.Set(dns.TypeNSEC3PARAM, rrset)
}
