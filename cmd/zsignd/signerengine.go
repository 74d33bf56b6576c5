/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package main

import (
	"fmt"
	"log"
	"time"

	"github.com/gookit/goutil/dump"

	"github.com/zonesign/zonesign/config"
	"github.com/zonesign/zonesign/zone"
)

// SignRequest is one unit of work for a zone's signer worker.
type SignRequest struct {
	Cmd  string
	Resp chan SignResponse
}

// SignResponse reports the outcome back to the API handler.
type SignResponse struct {
	Msg      string
	Serial   uint32
	Error    bool
	ErrorMsg string
}

// StartSignerEngine starts the single signer worker goroutine for zd.
// All mutation of one zone's data flows through its worker, so the
// engine's single-threaded-per-zone discipline holds no matter how many
// API requests arrive concurrently.
func StartSignerEngine(conf *Conf, zd *zone.ZoneData) {
	conf.Internal.mu.Lock()
	defer conf.Internal.mu.Unlock()
	if _, running := conf.Internal.SignQ[zd.ZoneName]; running {
		return
	}
	q := make(chan SignRequest, 8)
	conf.Internal.SignQ[zd.ZoneName] = q
	go signerEngine(zd, q)
}

// EnqueueSign hands a command to the zone's worker and waits for the
// outcome.
func EnqueueSign(conf *Conf, zoneName, cmd string, resp chan SignResponse) SignResponse {
	conf.Internal.mu.Lock()
	q, ok := conf.Internal.SignQ[zoneName]
	conf.Internal.mu.Unlock()
	if !ok {
		return SignResponse{Error: true, ErrorMsg: fmt.Sprintf("no signer worker for zone %s", zoneName)}
	}
	if resp == nil {
		resp = make(chan SignResponse, 1)
	}
	q <- SignRequest{Cmd: cmd, Resp: resp}
	return <-resp
}

func signerEngine(zd *zone.ZoneData, q chan SignRequest) {
	log.Printf("signerEngine: worker for zone %s starting", zd.ZoneName)
	for req := range q {
		resp := handleSignRequest(zd, req.Cmd)
		if req.Resp != nil {
			req.Resp <- resp
		}
	}
	log.Printf("signerEngine: worker for zone %s exiting", zd.ZoneName)
}

func handleSignRequest(zd *zone.ZoneData, cmd string) SignResponse {
	start := time.Now()
	var err error
	var msg string

	switch cmd {
	case "sign-zone":
		if err = zd.SignZone(time.Now().Unix()); err == nil {
			msg = fmt.Sprintf("zone %s signed, serial %d, in %v",
				zd.ZoneName, zd.InternalSerial, time.Since(start).Round(time.Millisecond))
			if zd.Policy != nil && zd.Policy.NSEC3 != nil && zd.Policy.NSEC3.OptOut {
				msg += fmt.Sprintf(" (%d names opted out)", zd.OptedOutDelegations)
			}
		}

	case "generate-nsec":
		if err = zd.Entize(); err == nil {
			err = zd.Nsecify()
		}
		msg = fmt.Sprintf("zone %s NSEC chain rebuilt (%d entries)", zd.ZoneName, zd.Denials.Size())

	case "generate-nsec3":
		if err = zd.Entize(); err == nil {
			err = zd.Nsecify3()
		}
		msg = fmt.Sprintf("zone %s NSEC3 chain rebuilt (%d entries, %d opted out)",
			zd.ZoneName, zd.Denials.Size(), zd.OptedOutDelegations)

	case "bump-serial":
		if err = zd.BumpSerial(time.Now().Unix()); err == nil {
			msg = fmt.Sprintf("zone %s serial bumped to %d", zd.ZoneName, zd.InternalSerial)
		}

	default:
		err = fmt.Errorf("unknown signer command %q", cmd)
	}

	if err != nil {
		// Any failed pass may have staged partial changes; roll the
		// pending state back before the worker accepts more work.
		zd.Rollback()
		log.Printf("signerEngine: zone %s: %s failed: %v", zd.ZoneName, cmd, err)
		return SignResponse{Error: true, ErrorMsg: err.Error(), Serial: zd.InternalSerial}
	}
	if config.Globals.Debug {
		dump.P(struct {
			Zone    string
			Serial  uint32
			Domains int
			Denials int
		}{zd.ZoneName, zd.InternalSerial, zd.Domains.Size(), zd.Denials.Size()})
	}
	log.Printf("signerEngine: %s", msg)
	return SignResponse{Msg: msg, Serial: zd.InternalSerial}
}
