/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package main

import (
	"fmt"
	"os"

	"github.com/miekg/dns"

	"github.com/zonesign/zonesign/api"
	"github.com/zonesign/zonesign/zone"
)

// ZoneOps dispatches one zone command from the API. The signing
// commands are funneled through the zone's signer worker; the others
// (freeze/thaw, cancel, the zonefile and backup writers, restore-backup
// and the read-only chain dump) act directly.
func ZoneOps(conf *Conf, cp api.CommandPost) (api.CommandResponse, error) {
	var resp api.CommandResponse

	zd, exist := zone.Zones.Get(dns.Fqdn(cp.Zone))
	if !exist {
		return resp, fmt.Errorf("Zone %s is unknown", cp.Zone)
	}
	resp.Zone = zd.ZoneName

	switch cp.SubCommand {
	case "sign-zone", "generate-nsec", "generate-nsec3", "bump-serial":
		sr := EnqueueSign(conf, zd.ZoneName, cp.SubCommand, nil)
		resp.Msg = sr.Msg
		resp.Serial = sr.Serial
		resp.Error = sr.Error
		resp.ErrorMsg = sr.ErrorMsg
		return resp, nil

	case "show-nsec-chain":
		var err error
		resp.Names, err = ShowDenialChain(zd)
		return resp, err

	case "freeze":
		if zd.Frozen {
			return resp, fmt.Errorf("FreezeZone: zone %s is already frozen", zd.ZoneName)
		}
		zd.Freeze()
		resp.Msg = fmt.Sprintf("Zone %s is now frozen", zd.ZoneName)
		return resp, nil

	case "thaw":
		if !zd.Frozen {
			return resp, fmt.Errorf("ThawZone: zone %s is not frozen", zd.ZoneName)
		}
		zd.Thaw()
		resp.Msg = fmt.Sprintf("Zone %s is now thawed", zd.ZoneName)
		return resp, nil

	case "cancel":
		zd.Cancel()
		resp.Msg = fmt.Sprintf("Zone %s: cancellation requested", zd.ZoneName)
		return resp, nil

	case "write-zonefile":
		var path string
		for _, zc := range conf.Zones {
			if dns.Fqdn(zc.Name) == zd.ZoneName {
				path = zc.Zonefile + ".signed"
			}
		}
		if path == "" {
			return resp, fmt.Errorf("zone %s has no configured zonefile", zd.ZoneName)
		}
		if err := WriteZoneFile(zd, path); err != nil {
			return resp, err
		}
		resp.Msg = fmt.Sprintf("Zone %s written to %s", zd.ZoneName, path)
		return resp, nil

	case "write-backup":
		path := backupPath(zd.ZoneName)
		f, err := os.Create(path)
		if err != nil {
			return resp, err
		}
		defer f.Close()
		if err := zd.WriteBackup(f); err != nil {
			return resp, err
		}
		resp.Msg = fmt.Sprintf("Zone %s backed up to %s", zd.ZoneName, path)
		return resp, nil

	case "restore-backup":
		path := backupPath(zd.ZoneName)
		f, err := os.Open(path)
		if err != nil {
			return resp, err
		}
		defer f.Close()
		if err := zd.RestoreBackup(f); err != nil {
			// A corrupt backup is abandoned; the zone file is the
			// fallback source of truth.
			return resp, fmt.Errorf("backup %s is corrupt, reload from zone file: %v", path, err)
		}
		resp.Msg = fmt.Sprintf("Zone %s restored from %s", zd.ZoneName, path)
		return resp, nil

	default:
		return resp, fmt.Errorf("ZoneOps: unknown sub command: \"%s\"", cp.SubCommand)
	}
}

func backupPath(zoneName string) string {
	return fmt.Sprintf("/var/lib/zsignd/%sbackup", zoneName)
}

// ShowDenialChain returns the zone's denial records in chain order, one
// presentation-form RR per entry.
func ShowDenialChain(zd *zone.ZoneData) ([]string, error) {
	var rrs []string
	for n := zd.Denials.First(); n != nil; n = n.Next() {
		if n.Value.RRset == nil || len(n.Value.RRset.RRs) == 0 {
			continue
		}
		rrs = append(rrs, n.Value.RRset.RRs[0].String())
	}
	if len(rrs) == 0 {
		return rrs, fmt.Errorf("zone %s has no denial chain (not signed yet?)", zd.ZoneName)
	}
	return rrs, nil
}
