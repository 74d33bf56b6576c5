/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/zonesign/zonesign/config"
	"github.com/zonesign/zonesign/keystore"
)

var appVersion = "v0.9.0"
var appName = "zsignd"

// Internal wiring between the API handlers and the per-zone signer
// workers lives here rather than in the config file structs.
type Internal struct {
	KeyDB     *keystore.KeyDB
	APIStopCh chan struct{}
	SignQ     map[string]chan SignRequest
	mu        sync.Mutex
}

type Conf struct {
	config.Config
	Internal Internal
}

func mainloop(conf *Conf) {
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	hupper := make(chan os.Signal, 1)
	signal.Notify(hupper, syscall.SIGHUP)

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		for {
			select {
			case <-exit:
				log.Println("mainloop: Exit signal received. Cleaning up.")
				for name, q := range conf.Internal.SignQ {
					log.Printf("mainloop: stopping signer worker for zone %s", name)
					close(q)
				}
				wg.Done()
			case <-hupper:
				log.Println("mainloop: SIGHUP received. Forcing re-sign of all configured zones.")
				for name := range conf.Zones {
					EnqueueSign(conf, zoneNameFor(conf, name), "sign-zone", nil)
				}
			case <-conf.Internal.APIStopCh:
				log.Println("mainloop: Stop command received. Cleaning up.")
				wg.Done()
			}
		}
	}()
	wg.Wait()

	fmt.Println("mainloop: leaving signal dispatcher")
}

func zoneNameFor(conf *Conf, cfgname string) string {
	if zc, ok := conf.Zones[cfgname]; ok && zc.Name != "" {
		return zc.Name
	}
	return cfgname
}

func main() {
	var cfgFile string
	pflag.StringVar(&cfgFile, "config", config.DefaultCfgFile, "config file")
	pflag.BoolVarP(&config.Globals.Verbose, "verbose", "v", false, "verbose output")
	pflag.BoolVarP(&config.Globals.Debug, "debug", "d", false, "debug output")
	pflag.Parse()

	var conf Conf
	conf.ServerBootTime = time.Now()
	if err := config.ParseConfig(&conf.Config, cfgFile, false); err != nil {
		log.Fatalf("Error parsing config %s: %v", cfgFile, err)
	}
	if config.Globals.Debug {
		keystore.Debug = true
	}

	config.SetupLogging(conf.Log.File)
	log.Printf("%s %s starting (config %s)", appName, appVersion, cfgFile)

	kdb, err := keystore.NewKeyDB(viper.GetString("db.file"), false)
	if err != nil {
		log.Fatalf("Error opening key database: %v", err)
	}
	conf.Internal = Internal{
		KeyDB:     kdb,
		APIStopCh: make(chan struct{}),
		SignQ:     make(map[string]chan SignRequest),
	}

	if err := ParseZones(&conf); err != nil {
		log.Fatalf("Error parsing zones: %v", err)
	}

	go APIdispatcher(&conf)

	mainloop(&conf)
}
