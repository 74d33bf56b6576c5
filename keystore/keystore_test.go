package keystore

import (
	"path/filepath"
	"testing"

	"github.com/miekg/dns"

	"github.com/zonesign/zonesign/zone"
)

func newTestKeyDB(t *testing.T) *KeyDB {
	t.Helper()
	kdb, err := NewKeyDB(filepath.Join(t.TempDir(), "keys.db"), false)
	if err != nil {
		t.Fatalf("NewKeyDB: %v", err)
	}
	t.Cleanup(func() { kdb.Close() })
	return kdb
}

func TestGenerateKeypairRoundTrips(t *testing.T) {
	kdb := newTestKeyDB(t)

	pkc, _, err := kdb.GenerateKeypair("example.", "test", "active", dns.ECDSAP256SHA256, "CSK", 3600)
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if pkc.DnskeyRR.Flags != 257 {
		t.Errorf("CSK flags = %d, want 257", pkc.DnskeyRR.Flags)
	}

	// The generated key must come back out of the database, parsed.
	kdb.DnssecCache = map[string]*DnssecActiveKeys{}
	dak, err := kdb.GetDnssecActiveKeys("example.")
	if err != nil {
		t.Fatalf("GetDnssecActiveKeys: %v", err)
	}
	if len(dak.KSKs) != 1 {
		t.Fatalf("KSKs = %d, want 1", len(dak.KSKs))
	}
	// A lone CSK doubles as the ZSK.
	if len(dak.ZSKs) != 1 || dak.ZSKs[0] != dak.KSKs[0] {
		t.Errorf("CSK was not promoted to the ZSK role")
	}
	if dak.KSKs[0].KeyId != pkc.KeyId {
		t.Errorf("restored keyid %d != generated %d", dak.KSKs[0].KeyId, pkc.KeyId)
	}
}

func TestSigningContextSignsVerifiably(t *testing.T) {
	kdb := newTestKeyDB(t)
	if _, _, err := kdb.GenerateKeypair("example.", "test", "active", dns.ECDSAP256SHA256, "CSK", 3600); err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	ctx, err := kdb.CreateContext("example.")
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	keys, err := kdb.ActiveKeys(ctx)
	if err != nil {
		t.Fatalf("ActiveKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("ActiveKeys = %d keys, want 1", len(keys))
	}
	key := keys[0]

	soa, err := dns.NewRR("example. 3600 IN SOA ns1.example. hostmaster.example. 1 3600 600 604800 3600")
	if err != nil {
		t.Fatalf("NewRR: %v", err)
	}
	rrset := []dns.RR{soa}
	rrsig := &dns.RRSIG{
		Hdr:         dns.RR_Header{Name: "example.", Rrtype: dns.TypeRRSIG, Class: dns.ClassINET, Ttl: 3600},
		TypeCovered: dns.TypeSOA,
		Algorithm:   key.Algorithm,
		Labels:      1,
		OrigTtl:     3600,
		Expiration:  1_700_100_000,
		Inception:   1_700_000_000,
		KeyTag:      key.KeyTag,
		SignerName:  "example.",
	}
	if err := kdb.Sign(ctx, key, rrsig, rrset); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := rrsig.Verify(key.DNSKEY, rrset); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}

	if err := kdb.DestroyContext(ctx); err != nil {
		t.Fatalf("DestroyContext: %v", err)
	}
	if err := kdb.Sign(ctx, key, rrsig, rrset); err == nil {
		t.Errorf("Sign succeeded on a destroyed context")
	}
}

func TestKeyMgmtStateTransitions(t *testing.T) {
	kdb := newTestKeyDB(t)
	pkc, _, err := kdb.GenerateKeypair("example.", "test", "published", dns.ECDSAP256SHA256, "KSK", 3600)
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	// A merely published key is not active yet.
	if _, err := kdb.GetDnssecActiveKeys("example."); err == nil {
		t.Errorf("GetDnssecActiveKeys found keys despite none being active")
	}

	resp, err := kdb.DnssecKeyMgmt(KeystorePost{
		SubCommand: "setstate", Zone: "example.", Keyid: pkc.KeyId, State: "active",
	})
	if err != nil {
		t.Fatalf("setstate: %v (%s)", err, resp.ErrorMsg)
	}
	if _, err := kdb.GetDnssecActiveKeys("example."); err != nil {
		t.Errorf("GetDnssecActiveKeys after setstate: %v", err)
	}

	resp, err = kdb.DnssecKeyMgmt(KeystorePost{
		SubCommand: "delete", Zone: "example.", Keyid: pkc.KeyId,
	})
	if err != nil {
		t.Fatalf("delete: %v (%s)", err, resp.ErrorMsg)
	}
	if _, err := kdb.GetDnssecActiveKeys("example."); err == nil {
		t.Errorf("GetDnssecActiveKeys found keys after delete")
	}
}

// The KeyDB satisfies the zone engine's KeyStore contract end to end:
// a zone signed through it carries verifiable RRSIGs.
func TestKeyDBDrivesZoneSigning(t *testing.T) {
	kdb := newTestKeyDB(t)
	if _, _, err := kdb.GenerateKeypair("example.", "test", "active", dns.ECDSAP256SHA256, "CSK", 3600); err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	zd := zone.NewZoneData("example.", 3600, &zone.SigningPolicy{
		SOASerial:           zone.SerialCounter,
		SigValidityRegularS: 14 * 86400,
		SigValidityDenialS:  7 * 86400,
		SigInceptionOffsetS: 300,
	}, nil)
	zd.KeyStore = kdb
	for _, s := range []string{
		"example. 3600 IN SOA ns1.example. hostmaster.example. 1 3600 600 604800 3600",
		"example. 3600 IN NS ns1.example.",
		"ns1.example. 3600 IN A 192.0.2.1",
	} {
		rr, err := dns.NewRR(s)
		if err != nil {
			t.Fatalf("NewRR(%q): %v", s, err)
		}
		if err := zd.AddRR(rr); err != nil {
			t.Fatalf("AddRR: %v", err)
		}
	}
	if err := zd.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := zd.SignZone(1_700_000_000); err != nil {
		t.Fatalf("SignZone: %v", err)
	}

	dak, err := kdb.GetDnssecActiveKeys("example.")
	if err != nil {
		t.Fatalf("GetDnssecActiveKeys: %v", err)
	}
	dnskey := &dak.KSKs[0].DnskeyRR

	soaset, _ := zd.Apex.RRtypes.Get(dns.TypeSOA)
	if len(soaset.RRSIGs) == 0 {
		t.Fatalf("SOA unsigned")
	}
	rrsig := soaset.RRSIGs[0].(*dns.RRSIG)
	if err := rrsig.Verify(dnskey, soaset.RRs); err != nil {
		t.Errorf("SOA RRSIG does not verify: %v", err)
	}
}
