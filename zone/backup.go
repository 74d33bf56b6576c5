/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package zone

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"github.com/zonesign/zonesign/nametree"
)

// backupMagic opens and closes every backup file, so a truncated read or
// a file from an incompatible version is caught immediately rather than
// partially parsed.
const backupMagic = "; zonesign-backup v1"

// WriteBackup serialises the committed zone state in canonical
// traversal order: one ";DNAME" line per Domain, an immediately
// following ";DNAME3" line if it has an NSEC3 twin, and the owner's
// denial RR (";NSEC" or ";NSEC3") if one exists. Restoring a backup
// skips the whole nsecify pass on daemon restart.
func (zd *ZoneData) WriteBackup(w io.Writer) error {
	zd.mu.Lock()
	defer zd.mu.Unlock()

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, backupMagic)

	var err error
	zd.Domains.Do(func(n *nametree.Node[*Domain]) {
		if err != nil {
			return
		}
		d := n.Value
		if _, werr := fmt.Fprintf(bw, ";DNAME %s %s %d %d\n", d.Name, d.Status, d.SubdomainCount, d.SubdomainAuth); werr != nil {
			err = werr
			return
		}
		if d.NSEC3Twin != nil {
			if _, werr := fmt.Fprintf(bw, ";DNAME3 %s\n", d.NSEC3Twin.Name); werr != nil {
				err = werr
				return
			}
		}
		if d.Denial != nil && d.Denial.RRset != nil {
			for _, rr := range d.Denial.RRset.RRs {
				tag := ";NSEC"
				if rr.Header().Rrtype == dns.TypeNSEC3 {
					tag = ";NSEC3"
				}
				if _, werr := fmt.Fprintf(bw, "%s %s\n", tag, rr.String()); werr != nil {
					err = werr
					return
				}
			}
		}
	})
	if err != nil {
		return fatalErr("WriteBackup", "%v", err)
	}

	fmt.Fprintln(bw, backupMagic)
	return bw.Flush()
}

// RestoreBackup reads a backup written by WriteBackup and repopulates
// zd's Domain tree, parent linkage, NSEC3 twins and denial RRsets into a
// scratch ZoneData first. Any malformed or out-of-order token marks the
// backup corrupted: RestoreBackup returns an error and zd is left
// unmodified, so the caller can fall back to re-reading the original
// zone input instead of trusting partial state.
func (zd *ZoneData) RestoreBackup(r io.Reader) error {
	work := NewZoneData(zd.ZoneName, zd.DefaultTTL, zd.Policy, zd.Logger)
	work.KeyStore = zd.KeyStore
	work.NSEC3Domains = nametree.New[*Domain]()
	// The scratch apex inserted by NewZoneData is replaced by the one
	// read back from the backup, below.
	work.Domains.Delete(work.ZoneName)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	if !sc.Scan() {
		return fatalErr("RestoreBackup", "empty backup file")
	}
	if strings.TrimSpace(sc.Text()) != backupMagic {
		return fatalErr("RestoreBackup", "missing opening file magic")
	}

	var lastDomain *Domain
	sawClosingMagic := false

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n")
		if line == backupMagic {
			sawClosingMagic = true
			break
		}
		tag, rest, ok := strings.Cut(line, " ")
		if !ok {
			return fatalErr("RestoreBackup", "malformed line: %q", line)
		}

		switch tag {
		case ";DNAME":
			d, err := parseDNAMELine(rest)
			if err != nil {
				return fatalErr("RestoreBackup", "%v", err)
			}
			if _, err := work.Domains.Insert(d.Name, d); err != nil {
				return fatalErr("RestoreBackup", "duplicate ;DNAME %s", d.Name)
			}
			lastDomain = d

		case ";DNAME3":
			if lastDomain == nil {
				return fatalErr("RestoreBackup", ";DNAME3 out of order: %q", line)
			}
			hashName := dns.Fqdn(strings.TrimSpace(rest))
			twin := NewDomain(hashName)
			twin.Status = DomHash
			twin.OriginalName = lastDomain.Name
			lastDomain.NSEC3Twin = twin
			if _, err := work.NSEC3Domains.Insert(hashName, twin); err != nil {
				return fatalErr("RestoreBackup", "duplicate ;DNAME3 %s", hashName)
			}

		case ";NSEC", ";NSEC3":
			if lastDomain == nil {
				return fatalErr("RestoreBackup", "%s out of order: %q", tag, line)
			}
			rr, err := dns.NewRR(rest)
			if err != nil || rr == nil {
				return fatalErr("RestoreBackup", "%s: invalid RR %q: %v", tag, rest, err)
			}
			rrtype := dns.TypeNSEC
			owner := lastDomain
			if tag == ";NSEC3" {
				rrtype = dns.TypeNSEC3
				if owner.NSEC3Twin != nil {
					owner = owner.NSEC3Twin
				}
			}
			if owner.Denial == nil {
				rrset := NewRRset(owner.Name, rrtype)
				owner.Denial = &Denial{Owner: owner.Name, RRtype: rrtype, RRset: rrset, Domain: lastDomain}
				work.Denials.Insert(owner.Name, owner.Denial)
			}
			owner.Denial.RRset.RRs = append(owner.Denial.RRset.RRs, rr)

		default:
			return fatalErr("RestoreBackup", "unrecognised tag %q", tag)
		}
	}
	if err := sc.Err(); err != nil {
		return fatalErr("RestoreBackup", "%v", err)
	}
	if !sawClosingMagic {
		return fatalErr("RestoreBackup", "missing closing file magic")
	}
	if _, ok := work.Domains.Find(work.ZoneName); !ok {
		return fatalErr("RestoreBackup", "backup carries no apex Domain for %s", work.ZoneName)
	}

	if err := work.relinkParents(); err != nil {
		return err
	}

	zd.mu.Lock()
	defer zd.mu.Unlock()
	zd.Domains = work.Domains
	zd.Denials = work.Denials
	zd.NSEC3Domains = work.NSEC3Domains
	if apexNode, ok := zd.Domains.Find(zd.ZoneName); ok {
		zd.Apex = apexNode.Value
	}
	return nil
}

func parseDNAMELine(rest string) (*Domain, error) {
	fields := strings.Fields(rest)
	if len(fields) != 4 {
		return nil, fmt.Errorf("malformed ;DNAME fields: %q", rest)
	}
	d := NewDomain(dns.Fqdn(fields[0]))
	count, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, fmt.Errorf("malformed subdomain_count: %q", fields[2])
	}
	auth, err := strconv.Atoi(fields[3])
	if err != nil {
		return nil, fmt.Errorf("malformed subdomain_auth: %q", fields[3])
	}
	d.SubdomainCount = count
	d.SubdomainAuth = auth
	d.Status = parseDomainStatus(fields[1])
	return d, nil
}

func parseDomainStatus(s string) DomainStatus {
	switch s {
	case "APEX":
		return DomApex
	case "AUTH":
		return DomAuth
	case "NS":
		return DomNS
	case "DS":
		return DomDS
	case "ENT_AUTH":
		return DomENTAuth
	case "ENT_NS":
		return DomENTNS
	case "ENT_GLUE":
		return DomENTGlue
	case "OCCLUDED":
		return DomOccluded
	case "HASH":
		return DomHash
	default:
		return DomNone
	}
}

// relinkParents re-establishes Parent back-references for every restored
// Domain by canonical-name lookup, mirroring Entize's climb but over an
// already-closed tree instead of building one.
func (work *ZoneData) relinkParents() error {
	var err error
	work.Domains.Do(func(n *nametree.Node[*Domain]) {
		if err != nil {
			return
		}
		d := n.Value
		if nametree.Equal(d.Name, work.ZoneName) {
			return
		}
		name := nametree.StripLeftLabel(d.Name)
		for {
			node, ok := work.Domains.Find(name)
			if ok {
				d.Parent = node.Value
				return
			}
			if nametree.Equal(name, work.ZoneName) {
				err = fatalErr("RestoreBackup", "%s: parent chain does not reach the apex", d.Name)
				return
			}
			name = nametree.StripLeftLabel(name)
		}
	})
	return err
}
