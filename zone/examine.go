/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package zone

import (
	"fmt"

	"github.com/miekg/dns"

	"github.com/zonesign/zonesign/nametree"
)

// ExamineMode selects how Examine reacts to a structural problem: a zone
// received over a transport session cannot safely keep serving stale
// data and aborts on the first violation, while a zone being loaded from
// a file is reported in full so an operator can fix every problem in one
// pass.
type ExamineMode int

const (
	ModeWire ExamineMode = iota
	ModeFile
)

// Examine walks every Domain and checks RFC 1034/2181 structural
// invariants: CNAME may not coexist with other types, at most one CNAME
// or DNAME per owner, and a delegation cut may carry only NS, DS, RRSIG,
// and in-bailiwick glue. It returns accumulated warnings (ModeFile) or
// stops at the first violation (ModeWire).
func (zd *ZoneData) Examine(mode ExamineMode) ([]string, error) {
	zd.mu.Lock()
	defer zd.mu.Unlock()

	var warnings []string
	var all []*Domain
	zd.Domains.Do(func(n *nametree.Node[*Domain]) { all = append(all, n.Value) })

	for _, d := range all {
		w, err := zd.examineDomain(d, mode)
		warnings = append(warnings, w...)
		if err != nil {
			return warnings, err
		}
	}
	return warnings, nil
}

func (zd *ZoneData) examineDomain(d *Domain, mode ExamineMode) ([]string, error) {
	var warnings []string
	types := d.RRtypes.Keys()
	isApex := nametree.Equal(d.Name, zd.ZoneName)

	report := func(format string, a ...interface{}) ([]string, error) {
		msg := fmt.Sprintf(format, a...)
		if mode == ModeWire {
			return warnings, fatalErr("Examine", msg)
		}
		warnings = append(warnings, msg)
		return nil, nil
	}

	if hasType(types, dns.TypeCNAME) {
		for _, t := range types {
			switch t {
			case dns.TypeCNAME, dns.TypeRRSIG, dns.TypeNSEC, dns.TypeNSEC3:
				continue
			default:
				if w, err := report("%s: CNAME coexists with %s", d.Name, dns.TypeToString[t]); err != nil {
					return w, err
				}
			}
		}
		cname := d.RRtypes.GetOnlyRRSet(dns.TypeCNAME)
		if len(cname.RRs) > 1 {
			if w, err := report("%s: more than one CNAME", d.Name); err != nil {
				return w, err
			}
		}
	}

	if hasType(types, dns.TypeDNAME) {
		dname := d.RRtypes.GetOnlyRRSet(dns.TypeDNAME)
		if len(dname.RRs) > 1 {
			if w, err := report("%s: more than one DNAME", d.Name); err != nil {
				return w, err
			}
		}
	}

	if hasType(types, dns.TypeNS) && !isApex {
		for _, t := range types {
			switch t {
			case dns.TypeNS, dns.TypeDS, dns.TypeRRSIG, dns.TypeNSEC, dns.TypeNSEC3:
				continue
			case dns.TypeA, dns.TypeAAAA:
				if !isInBailiwickGlueOwner(d) {
					if w, err := report("%s: out-of-bailiwick glue at a zone cut", d.Name); err != nil {
						return w, err
					}
				}
			default:
				if w, err := report("%s: %s not allowed at a zone cut", d.Name, dns.TypeToString[t]); err != nil {
					return w, err
				}
			}
		}
	}

	if mode == ModeFile && d.Status == DomOccluded && d.RRtypes.Count() > 0 {
		warnings = append(warnings, fmt.Sprintf("%s: data occluded by an ancestor delegation or DNAME", d.Name))
	}

	return warnings, nil
}

func hasType(types []uint16, want uint16) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

// isInBailiwickGlueOwner reports whether d's own NS RRset delegates to a
// nameserver name equal to d itself, the classic in-bailiwick glue case
// where address records are required at the cut to avoid a referral loop.
func isInBailiwickGlueOwner(d *Domain) bool {
	nsset, ok := d.RRtypes.Get(dns.TypeNS)
	if !ok {
		return false
	}
	for _, rr := range nsset.RRs {
		if ns, ok := rr.(*dns.NS); ok && nametree.Equal(ns.Ns, d.Name) {
			return true
		}
	}
	return false
}
