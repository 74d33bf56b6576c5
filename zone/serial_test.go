package zone

import (
	"errors"
	"testing"
)

func TestSerialGTEHandlesWraparound(t *testing.T) {
	cases := []struct {
		a, b uint32
		want bool
	}{
		{1, 1, true},
		{2, 1, true},
		{1, 2, false},
		{0, 0xFFFFFFFF, true}, // 0 is one past the max value: wraps forward
		{0xFFFFFFFF, 0, false},
	}
	for _, c := range cases {
		if got := SerialGTE(c.a, c.b); got != c.want {
			t.Errorf("SerialGTE(%d, %d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func newSerialZone(t *testing.T, policy SerialPolicy) *ZoneData {
	t.Helper()
	zd := NewZoneData("example.", 3600, &SigningPolicy{SOASerial: policy}, nil)
	if err := zd.AddRR(mustRR(t, "example. 3600 IN SOA ns1.example. hostmaster.example. 5 3600 600 604800 3600")); err != nil {
		t.Fatalf("AddRR: %v", err)
	}
	if err := zd.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return zd
}

// P6: serial update under any policy (other than a non-increasing keep)
// produces a strictly greater serial.
func TestBumpSerialCounterIncrements(t *testing.T) {
	zd := newSerialZone(t, SerialCounter)
	if err := zd.BumpSerial(1_700_000_000); err != nil {
		t.Fatalf("BumpSerial: %v", err)
	}
	if zd.InternalSerial != 6 {
		t.Errorf("InternalSerial = %d, want 6", zd.InternalSerial)
	}
}

func TestBumpSerialUnixtimeFallsBackToIncrementWhenNotGreater(t *testing.T) {
	zd := newSerialZone(t, SerialUnixtime)
	// A tiny unix time (1) yields a serial that is not DNS-serial-greater
	// than the zone's existing serial (5), so the policy must fall back
	// to a plain increment.
	if err := zd.BumpSerial(1); err != nil {
		t.Fatalf("BumpSerial: %v", err)
	}
	if zd.InternalSerial != 6 {
		t.Errorf("InternalSerial = %d, want 6 (fallback increment)", zd.InternalSerial)
	}
}

// S6: on the first bump, "keep" adopts the inbound SOA serial verbatim.
func TestSerialKeepTakesInboundVerbatim(t *testing.T) {
	zd := newSerialZone(t, SerialKeep)
	if err := zd.BumpSerial(0); err != nil {
		t.Fatalf("BumpSerial: %v", err)
	}
	if zd.InternalSerial != 5 {
		t.Errorf("InternalSerial = %d, want 5 (kept verbatim)", zd.InternalSerial)
	}
}

func TestSerialKeepFailsWhenInboundDoesNotIncrease(t *testing.T) {
	zd := newSerialZone(t, SerialKeep)
	if err := zd.BumpSerial(0); err != nil {
		t.Fatalf("first BumpSerial: %v", err)
	}
	// Once initialized, an inbound serial that has not moved past the
	// internal one must be rejected, not silently reused.
	zd.SetInboundSerial(5)
	if err := zd.BumpSerial(0); !errors.Is(err, ErrSerialPolicy) {
		t.Errorf("BumpSerial = %v, want ErrSerialPolicy", err)
	}
	zd.SetInboundSerial(3)
	if err := zd.BumpSerial(0); !errors.Is(err, ErrSerialPolicy) {
		t.Errorf("BumpSerial with decreasing inbound = %v, want ErrSerialPolicy", err)
	}
}

func TestSerialKeepAcceptsIncreasingInbound(t *testing.T) {
	zd := newSerialZone(t, SerialKeep)
	if err := zd.BumpSerial(0); err != nil {
		t.Fatalf("first BumpSerial: %v", err)
	}
	zd.SetInboundSerial(9)
	if err := zd.BumpSerial(0); err != nil {
		t.Fatalf("BumpSerial: %v", err)
	}
	if zd.InternalSerial != 9 {
		t.Errorf("InternalSerial = %d, want 9", zd.InternalSerial)
	}
}

func TestSerialUnixtimeUsesWallClockWhenGreater(t *testing.T) {
	zd := newSerialZone(t, SerialUnixtime)
	now := int64(1_700_000_000)
	if err := zd.BumpSerial(now); err != nil {
		t.Fatalf("BumpSerial: %v", err)
	}
	if zd.InternalSerial != uint32(now) {
		t.Errorf("InternalSerial = %d, want %d", zd.InternalSerial, now)
	}
}

func TestSerialDateCounterFormatsUTCDate(t *testing.T) {
	zd := newSerialZone(t, SerialDateCounter)
	// 2023-11-14 22:13:20 UTC
	if err := zd.BumpSerial(1_700_000_000); err != nil {
		t.Fatalf("BumpSerial: %v", err)
	}
	if zd.InternalSerial != 2023111400 {
		t.Errorf("InternalSerial = %d, want 2023111400", zd.InternalSerial)
	}
	// A second bump the same day falls back to a plain increment.
	if err := zd.BumpSerial(1_700_000_000); err != nil {
		t.Fatalf("second BumpSerial: %v", err)
	}
	if zd.InternalSerial != 2023111401 {
		t.Errorf("InternalSerial = %d, want 2023111401", zd.InternalSerial)
	}
}

// A wall-clock value more than 2^31 ahead of the previous serial is not
// RFC 1982 serial-greater, so the policy must step by increment instead
// of jumping; the new serial stays serial-greater than the old one.
func TestSerialUnixtimeHugeJumpStaysMonotonic(t *testing.T) {
	zd := newSerialZone(t, SerialUnixtime)
	if err := zd.BumpSerial(1); err != nil { // falls back to 5+1
		t.Fatalf("BumpSerial: %v", err)
	}
	prev := zd.InternalSerial
	if err := zd.BumpSerial(int64(prev) + (1 << 31) + 5000); err != nil {
		t.Fatalf("BumpSerial: %v", err)
	}
	if !SerialGT(zd.InternalSerial, prev) {
		t.Errorf("InternalSerial %d is not serial-greater than %d", zd.InternalSerial, prev)
	}
	if zd.InternalSerial-prev > 1<<31-1 {
		t.Errorf("delta = %d exceeds the 2^31-1 clamp", zd.InternalSerial-prev)
	}
}
