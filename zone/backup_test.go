package zone

import (
	"bytes"
	"strings"
	"testing"
)

func TestBackupRoundTripRestoresChainState(t *testing.T) {
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
	if err := zd.Nsecify(); err != nil {
		t.Fatalf("Nsecify: %v", err)
	}

	var buf bytes.Buffer
	if err := zd.WriteBackup(&buf); err != nil {
		t.Fatalf("WriteBackup: %v", err)
	}

	restored := NewZoneData("example.", 3600, zd.Policy, nil)
	if err := restored.RestoreBackup(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}

	if restored.Domains.Size() != zd.Domains.Size() {
		t.Errorf("restored Domains.Size() = %d, want %d", restored.Domains.Size(), zd.Domains.Size())
	}
	if restored.Denials.Size() != zd.Denials.Size() {
		t.Errorf("restored Denials.Size() = %d, want %d", restored.Denials.Size(), zd.Denials.Size())
	}

	// Parent linkage is re-established by name, all the way to the apex.
	d, ok := restored.LookupDomain("a.b.c.example.")
	if !ok {
		t.Fatalf("a.b.c.example. missing after restore")
	}
	var path []string
	for anc := d.Parent; anc != nil; anc = anc.Parent {
		path = append(path, anc.Name)
		if anc.Name == restored.ZoneName {
			break
		}
	}
	want := "b.c.example.,c.example.,example."
	if strings.Join(path, ",") != want {
		t.Errorf("parent chain = %v, want %s", path, want)
	}

	// The denial RRs themselves survive byte-for-byte.
	node, ok := restored.Denials.Find("a.b.c.example.")
	if !ok {
		t.Fatalf("denial for a.b.c.example. missing after restore")
	}
	orig, _ := zd.Denials.Find("a.b.c.example.")
	if node.Value.RRset.RRs[0].String() != orig.Value.RRset.RRs[0].String() {
		t.Errorf("restored NSEC differs:\n got %s\nwant %s",
			node.Value.RRset.RRs[0], orig.Value.RRset.RRs[0])
	}
}

func TestBackupRoundTripNSEC3Twins(t *testing.T) {
	zd := newNSEC3TestZone(t, false)
	if err := zd.Nsecify3(); err != nil {
		t.Fatalf("Nsecify3: %v", err)
	}

	var buf bytes.Buffer
	if err := zd.WriteBackup(&buf); err != nil {
		t.Fatalf("WriteBackup: %v", err)
	}

	restored := NewZoneData("example.", 3600, zd.Policy, nil)
	if err := restored.RestoreBackup(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}
	if restored.NSEC3Domains.Size() != zd.NSEC3Domains.Size() {
		t.Errorf("restored NSEC3Domains.Size() = %d, want %d",
			restored.NSEC3Domains.Size(), zd.NSEC3Domains.Size())
	}

	// Twin back-references point at the restored original Domains.
	for n := restored.NSEC3Domains.First(); n != nil; n = n.Next() {
		orig, ok := restored.LookupDomain(n.Value.OriginalName)
		if !ok {
			t.Errorf("twin %s references missing original %s", n.Name, n.Value.OriginalName)
			continue
		}
		if orig.NSEC3Twin != n.Value {
			t.Errorf("original %s does not link back to twin %s", orig.Name, n.Name)
		}
	}
}

func TestRestoreBackupRejectsCorruption(t *testing.T) {
	zd := newTestZone(t)
	if err := zd.Entize(); err != nil {
		t.Fatalf("Entize: %v", err)
	}
	if err := zd.Nsecify(); err != nil {
		t.Fatalf("Nsecify: %v", err)
	}
	var buf bytes.Buffer
	if err := zd.WriteBackup(&buf); err != nil {
		t.Fatalf("WriteBackup: %v", err)
	}
	good := buf.String()

	cases := map[string]string{
		"missing opening magic": strings.Replace(good, backupMagic+"\n", "", 1),
		"missing closing magic": strings.TrimSuffix(good, backupMagic+"\n"),
		"unknown tag":           strings.Replace(good, ";DNAME ", ";WHAT ", 1),
		"NSEC before any DNAME": backupMagic + "\n;NSEC example. 3600 IN NSEC example. SOA NS NSEC RRSIG\n" + backupMagic + "\n",
		"garbage RR":            backupMagic + "\n;DNAME example. APEX 0 0\n;NSEC \n" + backupMagic + "\n",
		"empty":                 "",
	}
	for name, corrupt := range cases {
		restored := newTestZone(t)
		before := restored.Domains.Size()
		if err := restored.RestoreBackup(strings.NewReader(corrupt)); err == nil {
			t.Errorf("%s: RestoreBackup accepted corrupted input", name)
		}
		// A failed restore must not leave partial state behind.
		if restored.Domains.Size() != before {
			t.Errorf("%s: Domains changed after failed restore", name)
		}
	}
}

func TestBackupOrderMirrorsCanonicalTraversal(t *testing.T) {
	zd := newTestZone(t)
	if err := zd.AddRR(mustRR(t, "zz.example. 3600 IN TXT \"last\"")); err != nil {
		t.Fatalf("AddRR: %v", err)
	}
	if err := zd.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := zd.Entize(); err != nil {
		t.Fatalf("Entize: %v", err)
	}
	if err := zd.Nsecify(); err != nil {
		t.Fatalf("Nsecify: %v", err)
	}

	var buf bytes.Buffer
	if err := zd.WriteBackup(&buf); err != nil {
		t.Fatalf("WriteBackup: %v", err)
	}
	var fromFile []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.HasPrefix(line, ";DNAME ") {
			fromFile = append(fromFile, strings.Fields(line)[1])
		}
	}
	var fromTree []string
	for n := zd.Domains.First(); n != nil; n = n.Next() {
		fromTree = append(fromTree, n.Name)
	}
	if strings.Join(fromFile, ",") != strings.Join(fromTree, ",") {
		t.Errorf("backup order %v != canonical order %v", fromFile, fromTree)
	}
}
