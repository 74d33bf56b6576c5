/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package zone implements the in-memory DNSSEC zone data engine: an
// ordered name tree over the zone's owner names, closure of empty
// non-terminals, structural validation, NSEC/NSEC3 denial-of-existence
// chain construction, SOA serial maintenance and the RRSIG signing
// driver. It knows nothing about wire transport or persistence; those
// are the concern of the keystore and cmd/zsignd packages built on top
// of it.
package zone

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/miekg/dns"

	"github.com/zonesign/zonesign/nametree"
)

// ZoneOption is a boolean knob on a ZoneData, held in a map rather than
// a struct of bools so new options can be added without shifting a
// positional constructor argument.
type ZoneOption uint8

const (
	// OptAllowUpdates is set on every new zone; AddRR and DeleteRR do not
	// consult it (only Frozen makes them refuse changes).
	OptAllowUpdates ZoneOption = iota
	// OptDirty marks that committed changes exist which have not yet
	// flowed through Entize/Examine/Nsecify/SignZone.
	OptDirty
	// OptNSEC3OptOut is not consulted by Nsecify3, which takes Opt-Out
	// from Policy.NSEC3.OptOut.
	OptNSEC3OptOut
)

// SerialPolicy selects how BumpSerial computes the next SOA serial.
type SerialPolicy string

const (
	SerialUnixtime    SerialPolicy = "unixtime"
	SerialCounter     SerialPolicy = "counter"
	SerialDateCounter SerialPolicy = "datecounter"
	SerialKeep        SerialPolicy = "keep"
)

// NSEC3Params mirrors the RFC 5155 zone-wide NSEC3 parameters. A nil
// *NSEC3Params on a SigningPolicy means the zone uses NSEC, not NSEC3.
type NSEC3Params struct {
	Algorithm  uint8
	OptOut     bool
	Iterations uint16
	Salt       string // hex, "" for no salt
}

// SigningPolicy is the zone-wide signing configuration: SOA serial
// policy, signature timing, and denial-of-existence mechanism.
type SigningPolicy struct {
	SOASerial           SerialPolicy
	SigInceptionOffsetS int64 // seconds to back-date RRSIG inception
	SigJitterS          int64 // max random seconds subtracted from inception and added to expiration
	SigValidityDenialS  int64
	SigValidityRegularS int64
	NSEC3               *NSEC3Params
}

// ZoneData is the root of the in-memory data engine for one zone: its
// ordered name tree, its denial-of-existence chain, its signing policy,
// and the serial numbers of the last inbound/internal/outbound versions.
// The mutex serialises all structural mutation; canonical-order
// traversal is only stable while it is held.
type ZoneData struct {
	mu sync.Mutex

	ZoneName   string
	Apex       *Domain
	DefaultTTL uint32

	Domains      *nametree.Tree[*Domain]
	Denials      *nametree.Tree[*Denial]
	NSEC3Domains *nametree.Tree[*Domain] // hashed owner name -> twin Domain; nil tree when Policy.NSEC3 == nil

	InboundSerial  uint32
	InternalSerial uint32
	OutboundSerial uint32
	Initialized    bool

	// OptedOutDelegations is the number of owner names (unsigned
	// delegations and the ENT_NS names above them) the last Nsecify3
	// pass left out of the chain under Opt-Out.
	OptedOutDelegations int

	Frozen  bool
	Options map[ZoneOption]bool

	Policy   *SigningPolicy
	KeyStore KeyStore

	cancelled atomic.Bool

	Logger *log.Logger
}

// NewZoneData allocates an empty ZoneData for zoneName and installs the
// apex Domain. ttl is the default TTL new RRsets are created with.
func NewZoneData(zoneName string, ttl uint32, policy *SigningPolicy, logger *log.Logger) *ZoneData {
	zoneName = dns.Fqdn(zoneName)
	if logger == nil {
		logger = log.Default()
	}
	zd := &ZoneData{
		ZoneName:   zoneName,
		DefaultTTL: ttl,
		Domains:    nametree.New[*Domain](),
		Denials:    nametree.New[*Denial](),
		Policy:     policy,
		Options:    map[ZoneOption]bool{OptAllowUpdates: true},
		Logger:     logger,
	}
	if policy != nil && policy.NSEC3 != nil {
		zd.NSEC3Domains = nametree.New[*Domain]()
	}
	apex := NewDomain(zoneName)
	apex.Status = DomApex
	zd.Apex = apex
	zd.Domains.Insert(zoneName, apex)
	return zd
}

// GetDomain returns the Domain for name, creating it (unparented, status
// DomNone pending the next Entize) if it does not already exist.
func (zd *ZoneData) GetDomain(name string) *Domain {
	name = dns.Fqdn(name)
	if node, ok := zd.Domains.Find(name); ok {
		return node.Value
	}
	d := NewDomain(name)
	zd.Domains.Insert(name, d)
	return d
}

// LookupDomain returns the Domain for name without creating it.
func (zd *ZoneData) LookupDomain(name string) (*Domain, bool) {
	node, ok := zd.Domains.Find(dns.Fqdn(name))
	if !ok {
		return nil, false
	}
	return node.Value, true
}

// AddRR stages rr for addition at its owner name. The change is not
// visible in RRset.RRs until Commit is called.
func (zd *ZoneData) AddRR(rr dns.RR) error {
	if zd.Frozen {
		return ErrFrozen
	}
	if rr == nil {
		return argErr("AddRR", "nil RR")
	}
	zd.mu.Lock()
	defer zd.mu.Unlock()
	if !nametree.IsSubdomain(zd.ZoneName, rr.Header().Name) {
		return argErr("AddRR", "%s is not in zone %s", rr.Header().Name, zd.ZoneName)
	}
	name := dns.Fqdn(rr.Header().Name)
	d := zd.getDomainLocked(name)
	rrset := d.RRtypes.GetOrCreate(name, rr.Header().Rrtype)
	return rrset.Add(rr)
}

// DeleteRR stages rr for removal from its owner name's RRset.
func (zd *ZoneData) DeleteRR(rr dns.RR) error {
	if zd.Frozen {
		return ErrFrozen
	}
	if rr == nil {
		return argErr("DeleteRR", "nil RR")
	}
	zd.mu.Lock()
	defer zd.mu.Unlock()
	name := dns.Fqdn(rr.Header().Name)
	node, ok := zd.Domains.Find(name)
	if !ok {
		return nil
	}
	rrset, ok := node.Value.RRtypes.Get(rr.Header().Rrtype)
	if !ok {
		return nil
	}
	return rrset.Delete(rr)
}

func (zd *ZoneData) getDomainLocked(name string) *Domain {
	if node, ok := zd.Domains.Find(name); ok {
		return node.Value
	}
	d := NewDomain(name)
	zd.Domains.Insert(name, d)
	return d
}

// Commit applies every staged add/delete across the whole zone, then
// drops empty RRsets and empty leaf Domains (other than the apex, which
// always survives), including Domains whose staged changes were rolled
// back before they were ever committed. On the first per-RRset failure
// the pending changes of every touched domain are discarded and the
// error is returned; domains committed before the failure keep their
// changes.
func (zd *ZoneData) Commit() error {
	if zd.Frozen {
		return ErrFrozen
	}
	zd.mu.Lock()
	defer zd.mu.Unlock()

	// Reverse canonical order per the commit design: a child is
	// committed and (if left empty) pruned before its parent is
	// examined, so a parent ENT that lost its only child in this same
	// commit is itself eligible for pruning in the same pass.
	var touched []*Domain
	for n := zd.Domains.Last(); n != nil; n = n.Prev() {
		if n.Value.RRtypes.HasPending() {
			touched = append(touched, n.Value)
		}
	}

	for _, d := range touched {
		if err := d.RRtypes.CommitAll(); err != nil {
			for _, undo := range touched {
				undo.RRtypes.RollbackAll()
			}
			return fatalErr("Commit", "%s: %v", d.Name, err)
		}
		d.RRtypes.DropEmpty()
	}

	var names []string
	for n := zd.Domains.Last(); n != nil; n = n.Prev() {
		names = append(names, n.Name)
	}
	for _, name := range names {
		if nametree.Equal(name, zd.ZoneName) {
			continue
		}
		node, ok := zd.Domains.Find(name)
		if !ok {
			continue
		}
		node.Value.RRtypes.DropEmpty()
		zd.pruneEmptyLeaf(node.Value)
	}

	if len(touched) > 0 {
		zd.Options[OptDirty] = true
	}
	return nil
}

// pruneEmptyLeaf deletes d, and climbs to prune its ancestors in turn,
// as long as each is a leaf with no RRsets and no denial record - never
// the apex, and never a Domain still needed to hold up a surviving child.
func (zd *ZoneData) pruneEmptyLeaf(d *Domain) {
	for d != nil &&
		!nametree.Equal(d.Name, zd.ZoneName) &&
		d.RRtypes.Count() == 0 &&
		d.SubdomainCount == 0 &&
		d.Denial == nil {
		zd.Domains.Delete(d.Name)
		parent := d.Parent
		if parent == nil {
			return
		}
		parent.SubdomainCount--
		if !d.Glue {
			parent.SubdomainAuth--
		}
		d = parent
	}
}

// Rollback discards every staged add/delete across the whole zone.
func (zd *ZoneData) Rollback() {
	zd.mu.Lock()
	defer zd.mu.Unlock()
	zd.Domains.Do(func(n *nametree.Node[*Domain]) {
		n.Value.RRtypes.RollbackAll()
	})
}

// Freeze prevents further AddRR/DeleteRR/Commit calls from taking
// effect until Thaw is called, pausing update processing during
// maintenance windows.
func (zd *ZoneData) Freeze() {
	zd.mu.Lock()
	defer zd.mu.Unlock()
	zd.Frozen = true
}

// Thaw reverses Freeze.
func (zd *ZoneData) Thaw() {
	zd.mu.Lock()
	defer zd.mu.Unlock()
	zd.Frozen = false
}

// Cancel requests that the currently running SignZone/Nsecify3 pass stop
// at the next per-Domain cooperative checkpoint, returning ErrCancelled.
// It is independent of the data mutex so it can be called from another
// goroutine while a pass is in progress.
func (zd *ZoneData) Cancel() {
	zd.cancelled.Store(true)
}

// checkCancelledLocked consumes a pending cancellation request. Safe to
// call while holding zd.mu.
func (zd *ZoneData) checkCancelledLocked() bool {
	return zd.cancelled.CompareAndSwap(true, false)
}
