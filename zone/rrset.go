/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package zone

import (
	"fmt"

	"github.com/miekg/dns"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// RRset is a set of resource records sharing owner, class and type. Adds
// and deletes are staged in pending lists until Commit promotes them;
// Rollback discards the pending lists untouched.
type RRset struct {
	Name   string
	RRtype uint16
	RRs    []dns.RR
	RRSIGs []dns.RR

	pendingAdd []dns.RR
	pendingDel []dns.RR
}

// NewRRset returns an empty RRset for name/rrtype.
func NewRRset(name string, rrtype uint16) *RRset {
	return &RRset{Name: name, RRtype: rrtype}
}

// Add stages rr for addition. The RR's owner and type must match the RRset.
func (rs *RRset) Add(rr dns.RR) error {
	if rr == nil {
		return argErr("RRset.Add", "nil RR")
	}
	if rr.Header().Rrtype != rs.RRtype {
		return argErr("RRset.Add", "RR type %s does not match RRset type %s",
			dns.TypeToString[rr.Header().Rrtype], dns.TypeToString[rs.RRtype])
	}
	rs.pendingAdd = append(rs.pendingAdd, rr)
	return nil
}

// Delete stages rr for removal. It is not an error to delete an RR that
// is not present; the caller is expected to log that as a warning.
func (rs *RRset) Delete(rr dns.RR) error {
	if rr == nil {
		return argErr("RRset.Delete", "nil RR")
	}
	rs.pendingDel = append(rs.pendingDel, rr)
	return nil
}

// HasPending reports whether this RRset has staged but uncommitted changes.
func (rs *RRset) HasPending() bool {
	return len(rs.pendingAdd) > 0 || len(rs.pendingDel) > 0
}

// Commit applies the pending adds/deletes to RRs, preserving set
// semantics (no duplicate presentation form), and clears the pending
// lists. Deleting a signed RRset drops its RRSIGs, since they no longer
// cover the post-commit content.
func (rs *RRset) Commit() error {
	if !rs.HasPending() {
		return nil
	}
	for _, del := range rs.pendingDel {
		rs.RRs = removeRR(rs.RRs, del)
	}
	for _, add := range rs.pendingAdd {
		if !containsRR(rs.RRs, add) {
			rs.RRs = append(rs.RRs, add)
		}
	}
	rs.RRSIGs = nil
	rs.pendingAdd = nil
	rs.pendingDel = nil
	return nil
}

// Rollback discards pending adds/deletes, leaving RRs/RRSIGs untouched.
func (rs *RRset) Rollback() {
	rs.pendingAdd = nil
	rs.pendingDel = nil
}

// IsEmpty reports whether the RRset carries no committed data.
func (rs *RRset) IsEmpty() bool {
	return len(rs.RRs) == 0
}

func removeRR(rrs []dns.RR, target dns.RR) []dns.RR {
	out := rrs[:0:0]
	removed := false
	for _, rr := range rrs {
		if !removed && sameRdata(rr, target) {
			removed = true
			continue
		}
		out = append(out, rr)
	}
	return out
}

func containsRR(rrs []dns.RR, target dns.RR) bool {
	for _, rr := range rrs {
		if sameRdata(rr, target) {
			return true
		}
	}
	return false
}

// sameRdata compares two RRs by presentation form rather than Go struct
// equality: several dns.RR implementations hold slice fields (TXT, NSEC,
// ...) that panic under the == operator.
func sameRdata(a, b dns.RR) bool {
	return a.String() == b.String()
}

// RRTypeStore maps an RR type to the (single, per class) RRset carrying
// it at one owner name: a concurrent-map keyed by the numeric RR type,
// sharded by the type value itself.
type RRTypeStore struct {
	data cmap.ConcurrentMap[uint16, *RRset]
}

// NewRRTypeStore returns an empty type store.
func NewRRTypeStore() *RRTypeStore {
	return &RRTypeStore{
		data: cmap.NewWithCustomShardingFunction[uint16, *RRset](func(key uint16) uint32 {
			return uint32(key)
		}),
	}
}

// Get returns the RRset for rrtype, if any.
func (s *RRTypeStore) Get(rrtype uint16) (*RRset, bool) {
	return s.data.Get(rrtype)
}

// GetOnlyRRSet returns the RRset for rrtype, or a zero-value RRset if absent.
func (s *RRTypeStore) GetOnlyRRSet(rrtype uint16) RRset {
	rrset, ok := s.data.Get(rrtype)
	if !ok {
		return RRset{}
	}
	return *rrset
}

// GetOrCreate returns the RRset for rrtype, creating an empty one owned
// by name if it did not already exist.
func (s *RRTypeStore) GetOrCreate(name string, rrtype uint16) *RRset {
	if rs, ok := s.data.Get(rrtype); ok {
		return rs
	}
	rs := NewRRset(name, rrtype)
	s.data.Set(rrtype, rs)
	return rs
}

// Set installs rrset under rrtype.
func (s *RRTypeStore) Set(rrtype uint16, rrset *RRset) {
	s.data.Set(rrtype, rrset)
}

// Delete removes rrtype from the store entirely.
func (s *RRTypeStore) Delete(rrtype uint16) {
	s.data.Remove(rrtype)
}

// Count returns the number of distinct RR types stored.
func (s *RRTypeStore) Count() int {
	return s.data.Count()
}

// Keys returns the RR types present, in no particular order.
func (s *RRTypeStore) Keys() []uint16 {
	return s.data.Keys()
}

// HasPending reports whether any RRset in the store has staged changes.
func (s *RRTypeStore) HasPending() bool {
	for _, t := range s.data.Keys() {
		rs, ok := s.data.Get(t)
		if ok && rs.HasPending() {
			return true
		}
	}
	return false
}

// CommitAll commits every RRset in the store, stopping (and reporting)
// at the first failure so the caller can roll back the whole Domain.
func (s *RRTypeStore) CommitAll() error {
	for _, t := range s.data.Keys() {
		rs, ok := s.data.Get(t)
		if !ok {
			continue
		}
		if err := rs.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", dns.TypeToString[t], err)
		}
	}
	return nil
}

// DropEmpty removes every RRset left with no committed RRs and no
// pending changes, so an emptied Domain becomes visible as such to the
// post-commit pruning pass.
func (s *RRTypeStore) DropEmpty() {
	for _, t := range s.data.Keys() {
		if rs, ok := s.data.Get(t); ok && rs.IsEmpty() && !rs.HasPending() {
			s.data.Remove(t)
		}
	}
}

// RollbackAll discards pending changes on every RRset in the store.
func (s *RRTypeStore) RollbackAll() {
	for _, t := range s.data.Keys() {
		if rs, ok := s.data.Get(t); ok {
			rs.Rollback()
		}
	}
}
