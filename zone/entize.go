/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package zone

import (
	"github.com/miekg/dns"

	"github.com/zonesign/zonesign/nametree"
)

// Entize closes the name tree: every authoritative Domain gets a path of
// Parent links up to the apex, creating ENT (empty non-terminal) Domains
// for any intermediate name that does not already carry data, and it
// classifies every Domain's DomainStatus, including the occlusion
// overlay (delegation cuts and DNAMEs shadow their descendants).
func (zd *ZoneData) Entize() error {
	zd.mu.Lock()
	defer zd.mu.Unlock()

	if zd.Apex == nil {
		return assertErr("Entize", "zone %s has no apex domain", zd.ZoneName)
	}

	var names []string
	zd.Domains.Do(func(n *nametree.Node[*Domain]) { names = append(names, n.Name) })

	for _, name := range names {
		if nametree.Equal(name, zd.ZoneName) {
			continue
		}
		node, ok := zd.Domains.Find(name)
		if !ok {
			continue
		}
		d := node.Value
		if d.Parent != nil {
			continue
		}
		if err := zd.closeToApex(d); err != nil {
			return err
		}
	}

	var all []*Domain
	zd.Domains.Do(func(n *nametree.Node[*Domain]) { all = append(all, n.Value) })
	for _, d := range all {
		zd.updateDomainStatus(d)
	}
	zd.classifyENTs(all)

	// Glue is only known after classification, so the counters bumped
	// during the climb are provisional; recount them exactly.
	for _, d := range all {
		d.SubdomainCount = 0
		d.SubdomainAuth = 0
	}
	for _, d := range all {
		if d.Parent == nil {
			continue
		}
		d.Parent.SubdomainCount++
		if !d.Glue {
			d.Parent.SubdomainAuth++
		}
	}

	return nil
}

// closeToApex walks from d toward the apex, creating any missing
// intermediate Domain as an ENT, and stops as soon as it reaches an
// ancestor that already exists (whether ENT or authoritative) or the
// apex itself.
func (zd *ZoneData) closeToApex(d *Domain) error {
	entKind := DomENTAuth
	if d.isDelegationOnly() {
		entKind = DomENTNS
	}

	child := d
	name := nametree.StripLeftLabel(d.Name)
	for !nametree.Equal(name, zd.ZoneName) {
		if !nametree.IsSubdomain(zd.ZoneName, name) {
			return assertErr("Entize", "%s climbed outside zone %s", d.Name, zd.ZoneName)
		}
		if node, ok := zd.Domains.Find(name); ok {
			anc := node.Value
			if anc.Status == DomENTNS && entKind == DomENTAuth {
				anc.Status = DomENTAuth
			}
			zd.wireChild(anc, child)
			return nil
		}
		anc := NewDomain(name)
		anc.Status = entKind
		if _, err := zd.Domains.Insert(name, anc); err != nil {
			return fatalErr("Entize", "%v", err)
		}
		zd.wireChild(anc, child)
		child = anc
		name = nametree.StripLeftLabel(name)
	}

	zd.wireChild(zd.Apex, child)
	return nil
}

func (zd *ZoneData) wireChild(parent, child *Domain) {
	if child.Parent == parent {
		return
	}
	child.Parent = parent
	parent.SubdomainCount++
	if !child.Glue {
		parent.SubdomainAuth++
	}
}

// isOccluded reports whether d is shadowed by an ancestor DNAME or by an
// ancestor delegation NS it is not in-bailiwick glue for.
func (zd *ZoneData) isOccluded(d *Domain) (occluded, isGlue bool) {
	for anc := d.Parent; anc != nil; anc = anc.Parent {
		if nametree.Equal(anc.Name, zd.ZoneName) {
			break
		}
		if _, ok := anc.RRtypes.Get(dns.TypeDNAME); ok {
			return true, false
		}
		if nsset, ok := anc.RRtypes.Get(dns.TypeNS); ok {
			if domainIsGlueFor(d.Name, nsset.RRs) {
				return false, true
			}
			return true, false
		}
	}
	return false, false
}

// domainIsGlueFor reports whether name is the target of one of nsRRs: an
// owner name sitting at a delegation's own nameserver name carries glue,
// not occluded data.
func domainIsGlueFor(name string, nsRRs []dns.RR) bool {
	for _, rr := range nsRRs {
		if ns, ok := rr.(*dns.NS); ok && nametree.Equal(name, ns.Ns) {
			return true
		}
	}
	return false
}

func (zd *ZoneData) updateDomainStatus(d *Domain) {
	if nametree.Equal(d.Name, zd.ZoneName) {
		d.Status = DomApex
		return
	}
	occluded, isGlue := zd.isOccluded(d)
	d.Glue = isGlue
	if occluded {
		d.Status = DomOccluded
		return
	}
	d.Status = d.contentStatus(false)
}

// classifyENTs decides each empty non-terminal's kind from what lives
// below it: authoritative data or a signed delegation (NS with DS)
// anywhere in the subtree wins ENT_AUTH, otherwise an unsigned
// delegation makes it ENT_NS, otherwise everything below turned out to
// be glue or occluded and the ENT is ENT_GLUE.
func (zd *ZoneData) classifyENTs(all []*Domain) {
	const (
		hasAuth = 1 << iota
		hasDeleg
	)
	marks := make(map[*Domain]int)
	for _, d := range all {
		if d.RRtypes.Count() == 0 {
			continue
		}
		var mark int
		switch {
		case d.Glue || d.Status == DomOccluded:
			continue
		case d.Status == DomNS:
			mark = hasDeleg
			if _, signed := d.RRtypes.Get(dns.TypeDS); signed {
				mark = hasAuth
			}
		default:
			mark = hasAuth
		}
		for anc := d.Parent; anc != nil; anc = anc.Parent {
			if anc.RRtypes.Count() == 0 {
				marks[anc] |= mark
			}
		}
	}
	for _, d := range all {
		if !isENTStatus(d.Status) {
			continue
		}
		switch m := marks[d]; {
		case m&hasAuth != 0:
			d.Status = DomENTAuth
		case m&hasDeleg != 0:
			d.Status = DomENTNS
		default:
			d.Status = DomENTGlue
		}
	}
}
