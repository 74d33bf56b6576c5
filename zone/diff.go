/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package zone

import (
	"github.com/miekg/dns"

	"github.com/zonesign/zonesign/nametree"
)

// SigDecision records, for one RRset, whether its signatures survive the
// pending transaction or must be regenerated, and why.
type SigDecision struct {
	Name   string
	RRtype uint16
	Resign bool
	Reason string
}

// Diff walks every signable RRset and decides which existing RRSIGs
// remain valid against the given active key set and which must be
// regenerated: a signature is invalidated when the covered RRset has
// staged changes, when it was made by a key no longer active, or when an
// active key has not signed the RRset at all.
func (zd *ZoneData) Diff(keys []ActiveKey) []SigDecision {
	zd.mu.Lock()
	defer zd.mu.Unlock()

	// The DNSKEY RRset is held to the KSK set, everything else to the
	// ZSK set, mirroring the role split the signing driver applies.
	ksks, zsks := splitKeys(keys)
	kskTags := make(map[uint16]bool, len(ksks))
	for _, k := range ksks {
		kskTags[k.KeyTag] = true
	}
	zskTags := make(map[uint16]bool, len(zsks))
	for _, k := range zsks {
		zskTags[k.KeyTag] = true
	}

	var decisions []SigDecision
	zd.Domains.Do(func(n *nametree.Node[*Domain]) {
		d := n.Value
		if d.Status == DomOccluded || d.Glue {
			return
		}
		for _, t := range d.RRtypes.Keys() {
			if t == dns.TypeRRSIG {
				continue
			}
			// At a delegation only the DS RRset is signed.
			if d.Status == DomNS && t != dns.TypeDS {
				continue
			}
			rrset, ok := d.RRtypes.Get(t)
			if !ok {
				continue
			}
			active := zskTags
			if t == dns.TypeDNSKEY {
				active = kskTags
			}
			decisions = append(decisions, diffRRset(rrset, active))
		}
	})
	return decisions
}

func diffRRset(rrset *RRset, active map[uint16]bool) SigDecision {
	dec := SigDecision{Name: rrset.Name, RRtype: rrset.RRtype}

	if rrset.HasPending() {
		dec.Resign = true
		dec.Reason = "covered RRset has staged changes"
		return dec
	}
	if rrset.IsEmpty() {
		return dec
	}
	if len(rrset.RRSIGs) == 0 {
		dec.Resign = true
		dec.Reason = "unsigned"
		return dec
	}

	signedBy := make(map[uint16]bool, len(rrset.RRSIGs))
	for _, sig := range rrset.RRSIGs {
		rs, ok := sig.(*dns.RRSIG)
		if !ok || rs.TypeCovered != rrset.RRtype {
			continue
		}
		if !active[rs.KeyTag] {
			dec.Resign = true
			dec.Reason = "signed by a retired key"
			return dec
		}
		signedBy[rs.KeyTag] = true
	}
	for tag := range active {
		if !signedBy[tag] {
			dec.Resign = true
			dec.Reason = "new active key has not signed"
			return dec
		}
	}
	return dec
}
