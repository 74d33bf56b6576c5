package zone

import (
	"testing"
)

func examineZone(t *testing.T, extra ...string) *ZoneData {
	t.Helper()
	zd := newTestZone(t)
	for _, s := range extra {
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

func TestExamineRejectsCNAMECoexistence(t *testing.T) {
	zd := examineZone(t,
		"alias.example. 3600 IN CNAME target.example.",
		"alias.example. 3600 IN TXT \"not allowed here\"",
	)
	if _, err := zd.Examine(ModeWire); err == nil {
		t.Errorf("ModeWire accepted CNAME coexisting with TXT")
	}
	warnings, err := zd.Examine(ModeFile)
	if err != nil {
		t.Fatalf("ModeFile should warn, not fail: %v", err)
	}
	if len(warnings) == 0 {
		t.Errorf("ModeFile produced no warnings")
	}
}

func TestExamineRejectsMultipleCNAMEs(t *testing.T) {
	zd := examineZone(t,
		"alias.example. 3600 IN CNAME one.example.",
		"alias.example. 3600 IN CNAME two.example.",
	)
	if _, err := zd.Examine(ModeWire); err == nil {
		t.Errorf("ModeWire accepted two CNAMEs at one owner")
	}
}

func TestExamineRejectsForeignTypeAtZoneCut(t *testing.T) {
	zd := examineZone(t,
		"deleg.example. 3600 IN NS ns.deleg.example.",
		"deleg.example. 3600 IN TXT \"data at a cut\"",
	)
	if _, err := zd.Examine(ModeWire); err == nil {
		t.Errorf("ModeWire accepted TXT at a delegation cut")
	}
}

func TestExamineAcceptsDelegationWithDSAndGlue(t *testing.T) {
	zd := examineZone(t,
		"deleg.example. 3600 IN NS deleg.example.",
		"deleg.example. 3600 IN DS 12345 13 2 49FD46E6C4B45C55D4AC69CBD3CD34AC1AFE51DE7FA7E8C5D8439FE1A7B9F1CD",
		"deleg.example. 3600 IN A 192.0.2.53",
	)
	if _, err := zd.Examine(ModeWire); err != nil {
		t.Errorf("valid delegation rejected: %v", err)
	}
}

func TestExamineFileModeReportsOcclusion(t *testing.T) {
	zd := examineZone(t,
		"deleg.example. 3600 IN NS ns.elsewhere.invalid.",
		"below.deleg.example. 3600 IN TXT \"occluded\"",
	)
	warnings, err := zd.Examine(ModeFile)
	if err != nil {
		t.Fatalf("Examine(ModeFile): %v", err)
	}
	found := false
	for _, w := range warnings {
		if w == "below.deleg.example.: data occluded by an ancestor delegation or DNAME" {
			found = true
		}
	}
	if !found {
		t.Errorf("occlusion not reported; warnings = %v", warnings)
	}
}
