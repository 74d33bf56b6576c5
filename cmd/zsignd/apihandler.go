/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/viper"

	"github.com/zonesign/zonesign/api"
	"github.com/zonesign/zonesign/keystore"
)

func APIping(conf *Conf) func(w http.ResponseWriter, r *http.Request) {
	pings := 0
	return func(w http.ResponseWriter, r *http.Request) {
		decoder := json.NewDecoder(r.Body)
		var pp api.PingPost
		if err := decoder.Decode(&pp); err != nil {
			log.Println("APIping: error decoding ping post:", err)
		}
		pings++

		resp := api.PingResponse{
			Time:     time.Now(),
			BootTime: conf.ServerBootTime,
			Client:   r.RemoteAddr,
			Version:  appVersion,
			Msg:      fmt.Sprintf("%s from %s", appName, viper.GetString("apiserver.address")),
			Pings:    pp.Pings + 1,
			Pongs:    pings,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func APIcommand(conf *Conf) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		decoder := json.NewDecoder(r.Body)
		var cp api.CommandPost
		if err := decoder.Decode(&cp); err != nil {
			log.Println("APIcommand: error decoding command post:", err)
		}

		log.Printf("API: received /command request (cmd: %s subcommand: %s zone: %s) from %s.\n",
			cp.Command, cp.SubCommand, cp.Zone, r.RemoteAddr)

		resp := api.CommandResponse{AppName: appName, Time: time.Now()}

		defer func() {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)
		}()

		switch cp.Command {
		case "zone":
			zr, err := ZoneOps(conf, cp)
			zr.AppName = appName
			zr.Time = time.Now()
			if err != nil {
				zr.Error = true
				zr.ErrorMsg = err.Error()
			}
			resp = zr

		case "status":
			resp.Msg = fmt.Sprintf("%s %s, boot time %v", appName, appVersion, conf.ServerBootTime)

		case "stop":
			log.Printf("Daemon instructed to stop. Stopping.")
			resp.Status = "stopping"
			conf.Internal.APIStopCh <- struct{}{}

		default:
			resp.Error = true
			resp.ErrorMsg = fmt.Sprintf("Unknown command: %s", cp.Command)
		}
	}
}

func APIkeystore(conf *Conf) func(w http.ResponseWriter, r *http.Request) {
	kdb := conf.Internal.KeyDB

	return func(w http.ResponseWriter, r *http.Request) {
		decoder := json.NewDecoder(r.Body)
		var kp keystore.KeystorePost
		if err := decoder.Decode(&kp); err != nil {
			log.Println("APIkeystore: error decoding command post:", err)
		}

		log.Printf("API: received /keystore request (cmd: %s subcommand: %s) from %s.\n",
			kp.Command, kp.SubCommand, r.RemoteAddr)

		var resp *keystore.KeystoreResponse
		var err error

		defer func() {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)
		}()

		switch kp.Command {
		case "dnssec-mgmt":
			resp, err = kdb.DnssecKeyMgmt(kp)
			if err != nil {
				log.Printf("Error from DnssecKeyMgmt(): %v", err)
				resp = &keystore.KeystoreResponse{
					Error:    true,
					ErrorMsg: err.Error(),
				}
			}

		case "generate":
			pkc, msg, gerr := kdb.GenerateKeypair(kp.Zone, "zsignd", kp.State, kp.Algorithm, keyTypeFromFlags(kp.Flags), 3600)
			resp = &keystore.KeystoreResponse{Time: time.Now(), Msg: msg}
			if gerr != nil {
				resp.Error = true
				resp.ErrorMsg = gerr.Error()
			} else {
				resp.Msg = fmt.Sprintf("%s (keyid %d)", msg, pkc.KeyId)
			}

		default:
			resp = &keystore.KeystoreResponse{
				Error:    true,
				ErrorMsg: fmt.Sprintf("Unknown command: %s", kp.Command),
			}
		}
	}
}

func keyTypeFromFlags(flags uint16) string {
	if flags&0x0001 != 0 {
		return "KSK"
	}
	return "ZSK"
}

// walkRoutes logs the routing table at startup, a debugging convenience.
func walkRoutes(router *mux.Router, address string) {
	log.Printf("Defined API endpoints for router on: %s\n", address)
	if err := router.Walk(func(route *mux.Route, router *mux.Router, ancestors []*mux.Route) error {
		path, _ := route.GetPathTemplate()
		methods, _ := route.GetMethods()
		for m := range methods {
			log.Printf("%-6s %s\n", methods[m], path)
		}
		return nil
	}); err != nil {
		log.Printf("Logging err: %s\n", err.Error())
	}
}

// SetupRouter wires the API endpoints behind the X-API-Key check.
func SetupRouter(conf *Conf) *mux.Router {
	r := mux.NewRouter().StrictSlash(true)

	sr := r.PathPrefix("/api/v1").Headers("X-API-Key", viper.GetString("apiserver.key")).Subrouter()
	sr.HandleFunc("/ping", APIping(conf)).Methods("POST")
	sr.HandleFunc("/command", APIcommand(conf)).Methods("POST")
	sr.HandleFunc("/keystore", APIkeystore(conf)).Methods("POST")

	return r
}

// APIdispatcher runs the daemon's HTTP API.
func APIdispatcher(conf *Conf) {
	router := SetupRouter(conf)
	address := viper.GetString("apiserver.address")
	if address == "" {
		log.Println("APIdispatcher: no address configured, not starting API server")
		return
	}
	walkRoutes(router, address)
	log.Println("Starting API dispatcher. Listening on", address)
	log.Fatal(http.ListenAndServe(address, router))
}
