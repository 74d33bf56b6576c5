/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package zone

import (
	"sort"

	"github.com/miekg/dns"

	"github.com/zonesign/zonesign/nametree"
)

// Nsecify builds (or rebuilds) the zone's NSEC denial-of-existence
// chain: one NSEC RR per authoritative owner name (APEX, AUTH, NS,
// DS, ENT_AUTH, ENT_NS), each pointing to the next authoritative name in
// canonical order and listing the RR types present there. The chain is
// always rebuilt from scratch; stale denial nodes do not survive.
func (zd *ZoneData) Nsecify() error {
	zd.mu.Lock()
	defer zd.mu.Unlock()

	if zd.Policy != nil && zd.Policy.NSEC3 != nil {
		return argErr("Nsecify", "zone %s is configured for NSEC3, not NSEC", zd.ZoneName)
	}

	chain := zd.denialChainOwners()
	if len(chain) == 0 {
		return assertErr("Nsecify", "zone %s has no authoritative owner names", zd.ZoneName)
	}

	zd.Denials = nametree.New[*Denial]()

	for i, d := range chain {
		if zd.checkCancelledLocked() {
			return ErrCancelled
		}
		next := chain[(i+1)%len(chain)]
		types := bitmapTypes(d)
		types = append(types, dns.TypeNSEC, dns.TypeRRSIG)
		sort.Slice(types, func(a, b int) bool { return types[a] < types[b] })

		nsec := &dns.NSEC{
			Hdr:        dns.RR_Header{Name: d.Name, Rrtype: dns.TypeNSEC, Class: dns.ClassINET, Ttl: zd.DefaultTTL},
			NextDomain: next.Name,
			TypeBitMap: dedupTypes(types),
		}

		rrset := NewRRset(d.Name, dns.TypeNSEC)
		rrset.RRs = []dns.RR{nsec}
		den := &Denial{Owner: d.Name, RRtype: dns.TypeNSEC, RRset: rrset, Domain: d, NxtChanged: true, BitmapChanged: true}
		d.Denial = den
		if _, err := zd.Denials.Insert(d.Name, den); err != nil {
			return fatalErr("Nsecify", "%v", err)
		}
	}

	return nil
}

// denialChainOwners returns, in canonical order, every Domain that must
// carry a denial-of-existence record: APEX, AUTH, NS (delegation
// owners - their own name is still denied even though the data below
// them is not), DS, ENT_AUTH and ENT_NS, but not OCCLUDED names (they
// are shadowed and unreachable) nor glue or ENT_GLUE.
func (zd *ZoneData) denialChainOwners() []*Domain {
	var chain []*Domain
	zd.Domains.Do(func(n *nametree.Node[*Domain]) {
		d := n.Value
		if d.Glue {
			return
		}
		switch d.Status {
		case DomApex, DomAuth, DomNS, DomDS, DomENTAuth, DomENTNS:
			chain = append(chain, d)
		}
	})
	return chain
}

// bitmapTypes returns the RR types present at d, for the NSEC/NSEC3
// type bitmap (excluding the denial RR's own type, added by the caller).
func bitmapTypes(d *Domain) []uint16 {
	return append([]uint16(nil), d.RRtypes.Keys()...)
}

func dedupTypes(types []uint16) []uint16 {
	out := types[:0:0]
	var last uint16
	first := true
	for _, t := range types {
		if first || t != last {
			out = append(out, t)
		}
		first = false
		last = t
	}
	return out
}
