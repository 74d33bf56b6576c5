/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package zone

import "github.com/miekg/dns"

// SerialGTE implements RFC 1982 serial number arithmetic: it reports
// whether a is greater than or equal to b under 32-bit wraparound.
// Plain unsigned comparison is wrong the moment a serial wraps.
func SerialGTE(a, b uint32) bool {
	if a == b {
		return true
	}
	diff := a - b
	return diff < 1<<31
}

// SerialGT reports whether a is strictly greater than b under RFC 1982
// wraparound arithmetic.
func SerialGT(a, b uint32) bool {
	return a != b && SerialGTE(a, b)
}

// serialMax returns whichever of a and b is RFC 1982 serial-greater.
func serialMax(a, b uint32) uint32 {
	if SerialGTE(a, b) {
		return a
	}
	return b
}

// maxSerialDelta caps a single serial step at 2^31-1; any larger jump
// would make the new serial compare as smaller than the old one under
// RFC 1982 arithmetic.
const maxSerialDelta = 1<<31 - 1

// SetInboundSerial records the SOA serial observed on the zone's input
// side. The serial policies consult it when computing the next internal
// serial.
func (zd *ZoneData) SetInboundSerial(serial uint32) {
	zd.mu.Lock()
	defer zd.mu.Unlock()
	zd.InboundSerial = serial
}

// BumpSerial computes the zone's next SOA serial according to the
// configured serial policy and rewrites the SOA RRset in place. now is
// the current unix time, passed in rather than read internally so the
// computation stays deterministic and testable.
//
// On the first bump of a freshly loaded zone the SOA's own serial seeds
// the previous-internal value, and the inbound value too if it is still
// 0; afterwards the inbound serial only moves via SetInboundSerial.
func (zd *ZoneData) BumpSerial(now int64) error {
	zd.mu.Lock()
	defer zd.mu.Unlock()

	soaset, ok := zd.Apex.RRtypes.Get(dns.TypeSOA)
	if !ok || len(soaset.RRs) == 0 {
		return assertErr("BumpSerial", "zone %s has no SOA", zd.ZoneName)
	}
	soa, ok := soaset.RRs[0].(*dns.SOA)
	if !ok {
		return assertErr("BumpSerial", "zone %s SOA RRset holds a non-SOA RR", zd.ZoneName)
	}

	if !zd.Initialized {
		zd.InternalSerial = soa.Serial
		if zd.InboundSerial == 0 {
			zd.InboundSerial = soa.Serial
		}
	}

	next, err := zd.nextSerial(now)
	if err != nil {
		return err
	}

	soa.Serial = next
	zd.InternalSerial = next
	zd.Initialized = true
	return nil
}

// nextSerial applies the zone's serial policy. All policies except
// "keep" guarantee the result is RFC 1982 serial-greater than the
// previous internal serial; "keep" takes the inbound serial verbatim
// and fails when that would move the serial backwards or not at all.
func (zd *ZoneData) nextSerial(now int64) (uint32, error) {
	policy := SerialCounter
	if zd.Policy != nil && zd.Policy.SOASerial != "" {
		policy = zd.Policy.SOASerial
	}

	prev := zd.InternalSerial
	inbound := zd.InboundSerial

	var want uint32
	switch policy {
	case SerialKeep:
		if zd.Initialized && !SerialGT(inbound, prev) {
			return 0, serialErr("BumpSerial",
				"keep policy: inbound serial %d is not greater than internal serial %d", inbound, prev)
		}
		return inbound, nil

	case SerialCounter:
		want = serialMax(inbound, prev)

	case SerialUnixtime:
		want = serialMax(inbound, uint32(now))

	case SerialDateCounter:
		want = uint32(dateFromUnix(now)) * 100

	default:
		return 0, argErr("BumpSerial", "unknown serial policy %q", policy)
	}

	if !SerialGT(want, prev) {
		want = prev + 1
	}
	delta := want - prev
	if delta > maxSerialDelta {
		delta = maxSerialDelta
	}
	return prev + delta, nil
}

// dateFromUnix returns the YYYYMMDD integer for a unix timestamp, UTC.
func dateFromUnix(sec int64) int {
	t := unixToUTCDate(sec)
	return t.year*10000 + t.month*100 + t.day
}

type ymd struct{ year, month, day int }

// unixToUTCDate is a tiny civil-calendar conversion (Howard Hinnant's
// days_from_civil algorithm, run in reverse) so serial.go does not need
// to import time just to format a date-counter serial.
func unixToUTCDate(sec int64) ymd {
	days := sec / 86400
	if sec%86400 < 0 {
		days--
	}
	z := days + 719468
	era := z / 146097
	if z < 0 {
		era = (z - 146096) / 146097
	}
	doe := z - era*146097
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	y := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	d := doy - (153*mp+2)/5 + 1
	m := mp + 3
	if mp >= 10 {
		m = mp - 9
	}
	if m <= 2 {
		y++
	}
	return ymd{year: int(y), month: int(m), day: int(d)}
}
