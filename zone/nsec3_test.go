package zone

import (
	"testing"

	"github.com/miekg/dns"
)

func newNSEC3TestZone(t *testing.T, optOut bool) *ZoneData {
	t.Helper()
	policy := &SigningPolicy{
		SOASerial: SerialCounter,
		NSEC3:     &NSEC3Params{Algorithm: 1, Iterations: 0, Salt: "", OptOut: optOut},
	}
	zd := NewZoneData("example.", 3600, policy, nil)
	for _, s := range []string{
		"example. 3600 IN SOA ns1.example. hostmaster.example. 1 3600 600 604800 3600",
		"example. 3600 IN NS ns1.example.",
		"ns1.example. 3600 IN A 192.0.2.1",
		"a.b.c.example. 3600 IN A 192.0.2.2",
	} {
		if err := zd.AddRR(mustRR(t, s)); err != nil {
			t.Fatalf("AddRR(%q): %v", s, err)
		}
	}
	if err := zd.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := zd.Entize(); err != nil {
		t.Fatalf("Entize: %v", err)
	}
	return zd
}

// S3: five authoritative/ENT names, one twin each, hashed owners distinct.
func TestNsecify3BuildsOneTwinPerAuthoritativeName(t *testing.T) {
	zd := newNSEC3TestZone(t, false)
	if err := zd.Nsecify3(); err != nil {
		t.Fatalf("Nsecify3: %v", err)
	}
	// example., c.example., b.c.example., a.b.c.example., ns1.example.
	if zd.NSEC3Domains.Size() != 5 {
		t.Errorf("NSEC3Domains.Size() = %d, want 5", zd.NSEC3Domains.Size())
	}
	if zd.Denials.Size() != zd.NSEC3Domains.Size() {
		t.Errorf("Denials.Size() = %d, want %d", zd.Denials.Size(), zd.NSEC3Domains.Size())
	}

	seen := map[string]bool{}
	for n := zd.NSEC3Domains.First(); n != nil; n = n.Next() {
		if seen[n.Name] {
			t.Fatalf("duplicate hashed owner %s", n.Name)
		}
		seen[n.Name] = true
	}
}

// S4: with Opt-Out, an unsigned delegation's NS owner (and its glue)
// drop out of the NSEC3 chain.
func TestNsecify3OptOutSkipsUnsignedDelegation(t *testing.T) {
	policy := &SigningPolicy{
		SOASerial: SerialCounter,
		NSEC3:     &NSEC3Params{Algorithm: 1, Iterations: 0, Salt: "", OptOut: true},
	}
	zd := NewZoneData("example.", 3600, policy, nil)
	for _, s := range []string{
		"example. 3600 IN SOA ns1.example. hostmaster.example. 1 3600 600 604800 3600",
		"example. 3600 IN NS ns1.example.",
		"ns1.example. 3600 IN A 192.0.2.1",
		"deleg.example. 3600 IN NS ns.deleg.example.",
		"ns.deleg.example. 3600 IN A 192.0.2.9",
	} {
		if err := zd.AddRR(mustRR(t, s)); err != nil {
			t.Fatalf("AddRR(%q): %v", s, err)
		}
	}
	if err := zd.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := zd.Entize(); err != nil {
		t.Fatalf("Entize: %v", err)
	}

	withoutOptOut := zd.nsec3ChainOwners(false)
	withOptOut := zd.nsec3ChainOwners(true)
	if len(withOptOut) >= len(withoutOptOut) {
		t.Errorf("opt-out chain (%d) should be shorter than full chain (%d)", len(withOptOut), len(withoutOptOut))
	}

	if err := zd.Nsecify3(); err != nil {
		t.Fatalf("Nsecify3: %v", err)
	}
	if _, found := zd.LookupDomain("deleg.example."); !found {
		t.Fatalf("deleg.example. Domain missing")
	}
	for n := zd.NSEC3Domains.First(); n != nil; n = n.Next() {
		if n.Value.OriginalName == "deleg.example." {
			t.Errorf("deleg.example. should be excluded from the opt-out chain")
		}
	}
}

// An empty non-terminal whose subtree holds only an unsigned delegation
// classifies as ENT_NS and drops out of the chain under Opt-Out; one
// with authoritative data anywhere below stays ENT_AUTH.
func TestEntClassificationFollowsSubtreeContent(t *testing.T) {
	zd := NewZoneData("example.", 3600, &SigningPolicy{SOASerial: SerialCounter}, nil)
	for _, s := range []string{
		"example. 3600 IN SOA ns1.example. hostmaster.example. 1 3600 600 604800 3600",
		"example. 3600 IN NS ns1.example.",
		"ns1.example. 3600 IN A 192.0.2.1",
		"deleg.only.example. 3600 IN NS ns.elsewhere.invalid.",
		"host.mixed.example. 3600 IN A 192.0.2.8",
		"deleg.mixed.example. 3600 IN NS ns.elsewhere.invalid.",
	} {
		if err := zd.AddRR(mustRR(t, s)); err != nil {
			t.Fatalf("AddRR(%q): %v", s, err)
		}
	}
	if err := zd.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := zd.Entize(); err != nil {
		t.Fatalf("Entize: %v", err)
	}

	only, ok := zd.LookupDomain("only.example.")
	if !ok {
		t.Fatalf("only.example. ENT missing")
	}
	if only.Status != DomENTNS {
		t.Errorf("only.example. status = %s, want ENT_NS", only.Status)
	}
	mixed, ok := zd.LookupDomain("mixed.example.")
	if !ok {
		t.Fatalf("mixed.example. ENT missing")
	}
	if mixed.Status != DomENTAuth {
		t.Errorf("mixed.example. status = %s, want ENT_AUTH", mixed.Status)
	}

	for _, d := range zd.nsec3ChainOwners(true) {
		if d.Name == "only.example." || d.Name == "deleg.only.example." {
			t.Errorf("%s should be opted out of the chain", d.Name)
		}
	}
	if zd.OptedOutDelegations != 3 {
		t.Errorf("OptedOutDelegations = %d, want 3 (two NS owners and one ENT_NS)", zd.OptedOutDelegations)
	}
}

// RFC 5155 section 3.2: NSEC3 never lists itself in its own bitmap;
// the apex bitmap carries NSEC3PARAM from the first chain build.
func TestNsecify3BitmapExcludesNSEC3IncludesParam(t *testing.T) {
	zd := newNSEC3TestZone(t, false)
	if err := zd.Nsecify3(); err != nil {
		t.Fatalf("Nsecify3: %v", err)
	}

	apexTwin := zd.Apex.NSEC3Twin
	if apexTwin == nil {
		t.Fatalf("apex has no NSEC3 twin")
	}
	for n := zd.Denials.First(); n != nil; n = n.Next() {
		nsec3 := n.Value.RRset.RRs[0].(*dns.NSEC3)
		sawParam := false
		for _, bt := range nsec3.TypeBitMap {
			if bt == dns.TypeNSEC3 {
				t.Errorf("twin %s lists NSEC3 in its own bitmap", n.Name)
			}
			if bt == dns.TypeNSEC3PARAM {
				sawParam = true
			}
		}
		if n.Name == apexTwin.Name && !sawParam {
			t.Errorf("apex twin bitmap is missing NSEC3PARAM: %v", nsec3.TypeBitMap)
		}
		if n.Name != apexTwin.Name && sawParam {
			t.Errorf("non-apex twin %s lists NSEC3PARAM", n.Name)
		}
	}
}

func TestNsecify3RejectsWhenZoneIsNSECOnly(t *testing.T) {
	zd := newTestZone(t)
	if err := zd.Entize(); err != nil {
		t.Fatalf("Entize: %v", err)
	}
	if err := zd.Nsecify3(); err == nil {
		t.Errorf("expected error calling Nsecify3 on a non-NSEC3 zone")
	}
}
