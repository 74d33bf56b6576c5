/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/miekg/dns"
	"gopkg.in/yaml.v3"

	"github.com/zonesign/zonesign/config"
	"github.com/zonesign/zonesign/zone"
)

// ParseZones loads every zone named in the config (inline zones:
// section plus the optional zonesfile yaml) into the registry and
// starts a signer worker for each. Called once, at startup.
func ParseZones(conf *Conf) error {
	if conf.ZonesFile != "" {
		extra, err := readZonesFile(conf.ZonesFile)
		if err != nil {
			return err
		}
		if conf.Zones == nil {
			conf.Zones = map[string]config.ZoneConf{}
		}
		for name, zc := range extra {
			if _, dup := conf.Zones[name]; dup {
				return fmt.Errorf("zone %s configured both inline and in %s", name, conf.ZonesFile)
			}
			conf.Zones[name] = zc
		}
	}

	for name, zc := range conf.Zones {
		if zc.Name == "" {
			zc.Name = dns.Fqdn(name)
		}
		if err := loadZone(conf, zc); err != nil {
			return fmt.Errorf("zone %s: %v", zc.Name, err)
		}
	}
	return nil
}

// readZonesFile reads a yaml map of zone name to ZoneConf, the same
// shape as the inline zones: config section.
func readZonesFile(path string) (map[string]config.ZoneConf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading zones file %s: %v", path, err)
	}
	var zones map[string]config.ZoneConf
	if err := yaml.Unmarshal(data, &zones); err != nil {
		return nil, fmt.Errorf("parsing zones file %s: %v", path, err)
	}
	return zones, nil
}

// policyFor merges the zone's overrides onto the signing defaults.
func policyFor(conf *Conf, zc config.ZoneConf) *zone.SigningPolicy {
	pol := &zone.SigningPolicy{
		SOASerial:           zone.SerialPolicy(conf.Signing.SoaSerial),
		SigInceptionOffsetS: conf.Signing.SigInceptionOffset,
		SigJitterS:          conf.Signing.SigJitter,
		SigValidityDenialS:  conf.Signing.SigValidityDenial,
		SigValidityRegularS: conf.Signing.SigValidityRegular,
	}
	if zc.SoaSerial != "" {
		pol.SOASerial = zone.SerialPolicy(zc.SoaSerial)
	}
	if zc.NSEC3 != nil {
		pol.NSEC3 = &zone.NSEC3Params{
			Algorithm:  zc.NSEC3.Algorithm,
			OptOut:     zc.NSEC3.OptOut,
			Iterations: zc.NSEC3.Iterations,
			Salt:       zc.NSEC3.Salt,
		}
		if pol.NSEC3.Algorithm == 0 {
			pol.NSEC3.Algorithm = dns.SHA1
		}
	}
	return pol
}

// loadZone reads one zone file into a fresh ZoneData, validates it in
// file mode (warn, do not refuse), and registers it with its worker.
func loadZone(conf *Conf, zc config.ZoneConf) error {
	ttl := zc.DefaultTTL
	if ttl == 0 {
		ttl = 3600
	}
	zd := zone.NewZoneData(zc.Name, ttl, policyFor(conf, zc), log.Default())
	zd.KeyStore = conf.Internal.KeyDB

	if err := readZoneFile(zd, zc.Zonefile); err != nil {
		return err
	}
	if err := zd.Commit(); err != nil {
		return err
	}
	if err := zd.Entize(); err != nil {
		return err
	}
	warnings, err := zd.Examine(zone.ModeFile)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		log.Printf("zone %s: warning: %s", zc.Name, w)
	}
	if zc.Frozen {
		zd.Freeze()
	}

	zone.Zones.Set(zc.Name, zd)
	StartSignerEngine(conf, zd)
	log.Printf("zone %s: loaded %d names from %s", zc.Name, zd.Domains.Size(), zc.Zonefile)
	return nil
}

// readZoneFile stages every RR in the file into zd and records the
// inbound SOA serial. This is the file adapter: parse errors here are
// the operator's zone file problem, reported with line numbers.
func readZoneFile(zd *zone.ZoneData, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening zone file %s: %v", path, err)
	}
	defer f.Close()

	zp := dns.NewZoneParser(f, zd.ZoneName, path)
	zp.SetIncludeAllowed(true)

	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		if soa, isSOA := rr.(*dns.SOA); isSOA {
			zd.SetInboundSerial(soa.Serial)
		}
		if err := zd.AddRR(rr); err != nil {
			return fmt.Errorf("staging %s: %v", rr.Header().Name, err)
		}
	}
	if err := zp.Err(); err != nil {
		return fmt.Errorf("parsing zone file %s: %v", path, err)
	}
	return nil
}

// WriteZoneFile emits the committed zone, its signatures and denial
// chain in canonical traversal order.
func WriteZoneFile(zd *zone.ZoneData, path string) error {
	// Write-then-rename in the target directory so a crash mid-write
	// never leaves a truncated signed zone behind.
	f, err := os.CreateTemp(filepath.Dir(path), ".zsignd-*.zone")
	if err != nil {
		return err
	}
	defer f.Close()

	for n := zd.Domains.First(); n != nil; n = n.Next() {
		d := n.Value
		for _, t := range d.RRtypes.Keys() {
			rrset, ok := d.RRtypes.Get(t)
			if !ok {
				continue
			}
			for _, rr := range rrset.RRs {
				fmt.Fprintln(f, rr.String())
			}
			for _, sig := range rrset.RRSIGs {
				fmt.Fprintln(f, sig.String())
			}
		}
	}
	for n := zd.Denials.First(); n != nil; n = n.Next() {
		if n.Value.RRset == nil {
			continue
		}
		for _, rr := range n.Value.RRset.RRs {
			fmt.Fprintln(f, rr.String())
		}
		for _, sig := range n.Value.RRset.RRSIGs {
			fmt.Fprintln(f, sig.String())
		}
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}
