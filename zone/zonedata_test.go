package zone

import (
	"fmt"
	"strings"
	"testing"

	"github.com/miekg/dns"
)

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	if err != nil {
		t.Fatalf("dns.NewRR(%q): %v", s, err)
	}
	return rr
}

// newTestZone builds "example." with an SOA and apex NS, committed.
func newTestZone(t *testing.T) *ZoneData {
	t.Helper()
	zd := NewZoneData("example.", 3600, &SigningPolicy{SOASerial: SerialCounter}, nil)
	for _, s := range []string{
		"example. 3600 IN SOA ns1.example. hostmaster.example. 1 3600 600 604800 3600",
		"example. 3600 IN NS ns1.example.",
		"ns1.example. 3600 IN A 192.0.2.1",
	} {
		if err := zd.AddRR(mustRR(t, s)); err != nil {
			t.Fatalf("AddRR(%q): %v", s, err)
		}
	}
	if err := zd.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return zd
}

// S1: minimal zone example. with SOA/NS at the apex and the in-zone
// nameserver ns1.example.: a two-link NSEC chain.
func TestMinimalZoneNSECChainCoversApexAndNameserver(t *testing.T) {
	zd := newTestZone(t)
	if err := zd.Entize(); err != nil {
		t.Fatalf("Entize: %v", err)
	}
	if _, err := zd.Examine(ModeWire); err != nil {
		t.Fatalf("Examine: %v", err)
	}
	if err := zd.Nsecify(); err != nil {
		t.Fatalf("Nsecify: %v", err)
	}

	if zd.Domains.Size() != 2 { // apex + ns1.example. (has an A record, so it's its own Domain)
		t.Errorf("Domains.Size() = %d, want 2", zd.Domains.Size())
	}
	if zd.Denials.Size() != 2 {
		t.Errorf("Denials.Size() = %d, want 2", zd.Denials.Size())
	}

	node, ok := zd.Denials.Find(zd.ZoneName)
	if !ok {
		t.Fatalf("no denial at apex")
	}
	nsec := node.Value.RRset.RRs[0].(*dns.NSEC)
	wantTypes := map[uint16]bool{dns.TypeSOA: true, dns.TypeNS: true, dns.TypeNSEC: true, dns.TypeRRSIG: true}
	if len(nsec.TypeBitMap) != len(wantTypes) {
		t.Errorf("apex NSEC bitmap = %v, want exactly %v", nsec.TypeBitMap, wantTypes)
	}
	for _, bt := range nsec.TypeBitMap {
		if !wantTypes[bt] {
			t.Errorf("unexpected type %s in apex NSEC bitmap", dns.TypeToString[bt])
		}
	}
}

// S2: a.b.c.example. forces entize to create ENT_AUTH ancestors and the
// denial chain visits all five names in canonical order.
func TestEntizeCreatesENTAncestorsInCanonicalOrder(t *testing.T) {
	zd := newTestZone(t)
	if err := zd.AddRR(mustRR(t, "a.b.c.example. 3600 IN A 192.0.2.2")); err != nil {
		t.Fatalf("AddRR: %v", err)
	}
	if err := zd.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := zd.Entize(); err != nil {
		t.Fatalf("Entize: %v", err)
	}

	for _, name := range []string{"c.example.", "b.c.example."} {
		d, ok := zd.LookupDomain(name)
		if !ok {
			t.Fatalf("expected ENT at %s", name)
		}
		if d.Status != DomENTAuth {
			t.Errorf("%s status = %s, want ENT_AUTH", name, d.Status)
		}
	}

	if _, err := zd.Examine(ModeWire); err != nil {
		t.Fatalf("Examine: %v", err)
	}
	if err := zd.Nsecify(); err != nil {
		t.Fatalf("Nsecify: %v", err)
	}

	var got []string
	for n := zd.Denials.First(); n != nil; n = n.Next() {
		got = append(got, n.Name)
	}
	want := []string{"example.", "c.example.", "b.c.example.", "a.b.c.example.", "ns1.example."}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("denial chain order = %v, want %v", got, want)
	}
}

// S5: stage changes, roll back, commit - committed tree stays empty.
func TestRollbackDiscardsUncommittedChanges(t *testing.T) {
	zd := NewZoneData("example.", 3600, &SigningPolicy{SOASerial: SerialCounter}, nil)
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("h%d.example.", i)
		if err := zd.AddRR(mustRR(t, name+" 3600 IN A 192.0.2.1")); err != nil {
			t.Fatalf("AddRR: %v", err)
		}
	}
	zd.Rollback()
	if err := zd.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if zd.Domains.Size() != 1 {
		t.Errorf("Domains.Size() = %d, want 1 (apex only)", zd.Domains.Size())
	}
}

// P3: a second Commit with nothing staged changes nothing.
func TestCommitIsIdempotent(t *testing.T) {
	zd := newTestZone(t)
	if err := zd.AddRR(mustRR(t, "w.example. 3600 IN A 192.0.2.7")); err != nil {
		t.Fatalf("AddRR: %v", err)
	}
	if err := zd.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	sizeAfterOne := zd.Domains.Size()
	rrset, _ := zd.GetDomain("w.example.").RRtypes.Get(dns.TypeA)
	afterOne := len(rrset.RRs)

	if err := zd.Commit(); err != nil {
		t.Fatalf("second Commit: %v", err)
	}
	if zd.Domains.Size() != sizeAfterOne {
		t.Errorf("Domains.Size() changed on idempotent Commit: %d -> %d", sizeAfterOne, zd.Domains.Size())
	}
	if len(rrset.RRs) != afterOne {
		t.Errorf("RRset size changed on idempotent Commit: %d -> %d", afterOne, len(rrset.RRs))
	}
}

// Deleting the last RR of a leaf Domain prunes the Domain, and any ENT
// ancestors left holding nothing, in the same Commit.
func TestCommitPrunesEmptyLeafAndENTChain(t *testing.T) {
	zd := newTestZone(t)
	rr := mustRR(t, "a.b.c.example. 3600 IN A 192.0.2.2")
	if err := zd.AddRR(rr); err != nil {
		t.Fatalf("AddRR: %v", err)
	}
	if err := zd.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := zd.Entize(); err != nil {
		t.Fatalf("Entize: %v", err)
	}

	if err := zd.DeleteRR(rr); err != nil {
		t.Fatalf("DeleteRR: %v", err)
	}
	if err := zd.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	for _, name := range []string{"a.b.c.example.", "b.c.example.", "c.example."} {
		if _, ok := zd.LookupDomain(name); ok {
			t.Errorf("%s survived the pruning commit", name)
		}
	}
}

func TestDeleteRRAbsentOwnerIsNotAnError(t *testing.T) {
	zd := newTestZone(t)
	if err := zd.DeleteRR(mustRR(t, "ghost.example. 3600 IN A 192.0.2.1")); err != nil {
		t.Errorf("DeleteRR of absent owner = %v, want nil", err)
	}
}

func TestAddRROutsideZoneRejected(t *testing.T) {
	zd := NewZoneData("example.", 3600, nil, nil)
	if err := zd.AddRR(mustRR(t, "other. 3600 IN A 192.0.2.1")); err == nil {
		t.Errorf("expected error adding RR outside zone")
	}
}

func TestFrozenZoneRejectsMutation(t *testing.T) {
	zd := newTestZone(t)
	zd.Freeze()
	if err := zd.AddRR(mustRR(t, "x.example. 3600 IN A 192.0.2.9")); err != ErrFrozen {
		t.Errorf("AddRR on frozen zone = %v, want ErrFrozen", err)
	}
	zd.Thaw()
	if err := zd.AddRR(mustRR(t, "x.example. 3600 IN A 192.0.2.9")); err != nil {
		t.Errorf("AddRR after Thaw: %v", err)
	}
}
