/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package config loads and validates the signer's configuration: the
// daemon service settings, the key database location, the API listener,
// and the per-zone signing policies. Everything is read through viper
// and validated with go-playground/validator struct tags before any
// zone is touched.
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DefaultCfgFile is where the daemon and the CLI look for their
// configuration unless overridden on the command line.
const DefaultCfgFile = "/etc/zonesign/zsignd.yaml"

// Config is the root configuration object, unmarshalled from viper.
type Config struct {
	ServerBootTime time.Time
	Service        ServiceConf
	Apiserver      ApiserverConf
	Db             DbConf
	Signing        SigningConf
	Zones          map[string]ZoneConf
	ZonesFile      string `mapstructure:"zonesfile"`

	Log struct {
		File string `validate:"required"`
	}
}

type ServiceConf struct {
	Name    string `validate:"required"`
	Debug   *bool
	Verbose *bool
}

type ApiserverConf struct {
	Address string `validate:"required"`
	Key     string `validate:"required"`
}

type DbConf struct {
	File string `validate:"required"`
}

// SigningConf is the zone-wide signing policy defaults; individual
// zones may override any field in their ZoneConf.
type SigningConf struct {
	SoaSerial          string `mapstructure:"soa_serial" validate:"required,oneof=unixtime counter datecounter keep"`
	SigInceptionOffset int64  `mapstructure:"sig_inception_offset"`
	SigJitter          int64  `mapstructure:"sig_jitter"`
	SigValidityDenial  int64  `mapstructure:"sig_validity_denial" validate:"required"`
	SigValidityRegular int64  `mapstructure:"sig_validity_regular" validate:"required"`
}

// NSEC3ParamsConf mirrors the RFC 5155 zone parameters as configured.
type NSEC3ParamsConf struct {
	Algorithm  uint8  `mapstructure:"algorithm"`
	OptOut     bool   `mapstructure:"optout"`
	Iterations uint16 `mapstructure:"iterations"`
	Salt       string `mapstructure:"salt"`
}

// ZoneConf describes one zone to sign: where its data comes from and
// what, if anything, deviates from the signing defaults.
type ZoneConf struct {
	Name       string           `validate:"required"`
	Zonefile   string           `mapstructure:"zonefile" validate:"required"`
	DefaultTTL uint32           `mapstructure:"default_ttl"`
	SoaSerial  string           `mapstructure:"soa_serial" validate:"omitempty,oneof=unixtime counter datecounter keep"`
	NSEC3      *NSEC3ParamsConf `mapstructure:"nsec3params"`
	Frozen     bool
}

// Globals carries the flag-level knobs shared by the daemon and CLI.
var Globals = struct {
	Verbose  bool
	Debug    bool
	Zonename string
	ApiKey   string
	BaseUrl  string
}{}

// ParseConfig reads the config file into viper, unmarshals and
// validates it. With safemode set, errors are returned instead of
// terminating the process.
func ParseConfig(conf *Config, cfgfile string, safemode bool) error {
	viper.SetConfigFile(cfgfile)
	if err := viper.ReadInConfig(); err != nil {
		if safemode {
			return fmt.Errorf("ParseConfig: %v", err)
		}
		log.Fatalf("Could not load config %s: Error: %v", cfgfile, err)
	}

	if err := viper.Unmarshal(conf); err != nil {
		if safemode {
			return fmt.Errorf("ParseConfig: Unmarshal error: %v", err)
		}
		log.Fatalf("ParseConfig: Unmarshal error: %v", err)
	}
	// Unmarshal splits keys on ".", which breaks dotted zone names apart;
	// the zones section is decoded again as a whole to keep them intact.
	conf.Zones = nil
	if err := viper.UnmarshalKey("zones", &conf.Zones); err != nil {
		if safemode {
			return fmt.Errorf("ParseConfig: Unmarshal error: %v", err)
		}
		log.Fatalf("ParseConfig: Unmarshal error: %v", err)
	}
	for name, zc := range conf.Zones {
		zc.Name = strings.ToLower(name)
		if !strings.HasSuffix(zc.Name, ".") {
			zc.Name += "."
		}
		conf.Zones[name] = zc
	}

	if err := ValidateConfig(conf, cfgfile); err != nil {
		if safemode {
			return err
		}
		log.Fatalf("Config %q is missing required attributes:\n%v\n", cfgfile, err)
	}
	return nil
}

// ValidateConfig validates the fixed config sections, then each zone
// individually (a map value cannot be validated in one go).
func ValidateConfig(conf *Config, cfgfile string) error {
	configsections := map[string]interface{}{
		"log":       conf.Log,
		"service":   conf.Service,
		"db":        conf.Db,
		"apiserver": conf.Apiserver,
		"signing":   conf.Signing,
	}
	for zname, val := range conf.Zones {
		configsections["zone:"+zname] = val
	}
	return validateBySection(configsections, cfgfile)
}

func validateBySection(configsections map[string]interface{}, cfgfile string) error {
	validate := validator.New()
	for section, values := range configsections {
		if Globals.Debug {
			log.Printf("%s: Validating config for %s section\n", cfgfile, section)
		}
		if err := validate.Struct(values); err != nil {
			return fmt.Errorf("section %s: %v", section, err)
		}
	}
	return nil
}
