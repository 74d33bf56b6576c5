/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package zone

import "github.com/miekg/dns"

// DomainStatus classifies a Domain's role in the zone, per the data
// model's owner-name classification.
type DomainStatus uint8

const (
	DomNone DomainStatus = iota
	// DomApex is the zone's own apex (SOA owner).
	DomApex
	// DomAuth is an ordinary authoritative, non-apex, non-delegation name.
	DomAuth
	// DomNS is a delegation cut: an NS RRset below the apex.
	DomNS
	// DomDS is a name holding a DS RRset without an NS RRset.
	DomDS
	// DomENTAuth is an empty non-terminal whose descendants are authoritative data.
	DomENTAuth
	// DomENTNS is an empty non-terminal that leads solely to unsigned delegations.
	DomENTNS
	// DomENTGlue is an ENT whose entire subtree turned out to be glue or occluded.
	DomENTGlue
	// DomOccluded is a name shadowed by an ancestor DNAME or delegation NS.
	DomOccluded
	// DomHash is an NSEC3 hashed owner name (lives in the NSEC3 twin tree).
	DomHash
)

func (s DomainStatus) String() string {
	switch s {
	case DomApex:
		return "APEX"
	case DomAuth:
		return "AUTH"
	case DomNS:
		return "NS"
	case DomDS:
		return "DS"
	case DomENTAuth:
		return "ENT_AUTH"
	case DomENTNS:
		return "ENT_NS"
	case DomENTGlue:
		return "ENT_GLUE"
	case DomOccluded:
		return "OCCLUDED"
	case DomHash:
		return "HASH"
	default:
		return "NONE"
	}
}

// Domain is one owner name in the zone's name tree: its RRset collection,
// its place in the delegation/ENT hierarchy, and (for authoritative
// domains) the Denial record that will carry its NSEC or NSEC3 RR. The
// Parent back-link and subdomain counters are maintained by Entize and
// the commit-time pruning.
type Domain struct {
	Name    string
	RRtypes *RRTypeStore
	Status  DomainStatus

	Parent         *Domain
	SubdomainCount int
	SubdomainAuth  int

	// Glue is true when this domain holds only in-bailiwick glue
	// address records below a delegation cut, and so does not count
	// against the parent's SubdomainAuth and is exempt from occlusion.
	Glue bool

	// NSEC3Twin links an authoritative Domain to its hashed owner name
	// in the NSEC3 tree; OriginalName is the reverse link from the twin
	// back to the plaintext Domain.
	NSEC3Twin    *Domain
	OriginalName string

	Denial *Denial
}

// NewDomain returns an empty, unparented Domain.
func NewDomain(name string) *Domain {
	return &Domain{Name: name, RRtypes: NewRRTypeStore(), Status: DomNone}
}

// IsENT reports whether d carries no RRsets of its own.
func (d *Domain) IsENT() bool {
	return d.RRtypes.Count() == 0
}

func isENTStatus(s DomainStatus) bool {
	return s == DomENTAuth || s == DomENTNS || s == DomENTGlue
}

// isDelegationOnly reports whether d's own RRset content is exactly a
// delegation: NS (and optionally DS), nothing else. Used by
// closure to decide whether climbing from d creates ENT_NS ancestors.
func (d *Domain) isDelegationOnly() bool {
	if d.RRtypes.Count() == 0 {
		return false
	}
	if _, ok := d.RRtypes.Get(dns.TypeNS); !ok {
		return false
	}
	for _, t := range d.RRtypes.Keys() {
		switch t {
		case dns.TypeNS, dns.TypeDS, dns.TypeRRSIG, dns.TypeNSEC, dns.TypeNSEC3:
			continue
		default:
			return false
		}
	}
	return true
}

// contentStatus classifies d from its own RRset content alone, ignoring
// occlusion by ancestors (that overlay is applied separately).
func (d *Domain) contentStatus(isApex bool) DomainStatus {
	if isApex {
		return DomApex
	}
	if d.RRtypes.Count() == 0 {
		return DomENTAuth
	}
	if _, ok := d.RRtypes.Get(dns.TypeNS); ok {
		return DomNS
	}
	if _, ok := d.RRtypes.Get(dns.TypeDS); ok {
		return DomDS
	}
	return DomAuth
}

// Denial is the denial-of-existence record synthesised for one
// authoritative owner name: an NSEC RR at Owner, or (when the zone's
// SigningPolicy enables NSEC3) an NSEC3 RR at the hashed owner name.
type Denial struct {
	Owner  string
	RRtype uint16 // dns.TypeNSEC or dns.TypeNSEC3
	RRset  *RRset
	Domain *Domain

	// BitmapChanged/NxtChanged mirror the corresponding RR's content so
	// incremental re-signing can tell whether only the signature (not
	// the RR itself) needs refreshing.
	BitmapChanged bool
	NxtChanged    bool
}
