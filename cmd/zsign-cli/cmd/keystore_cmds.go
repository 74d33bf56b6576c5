/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/miekg/dns"
	"github.com/spf13/cobra"

	"github.com/zonesign/zonesign/config"
	"github.com/zonesign/zonesign/keystore"
)

var keyState, keyAlg, keyType string
var keyId uint16

var keystoreCmd = &cobra.Command{
	Use:   "keystore",
	Short: "Manage the DNSSEC keys held by zsignd",
}

var keystoreListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all DNSSEC keys in the keystore",
	Run: func(cmd *cobra.Command, args []string) {
		resp := SendKeystoreCommand(keystore.KeystorePost{
			Command: "dnssec-mgmt", SubCommand: "list",
		})
		var rows []string
		for k := range resp.Dnsseckeys {
			rows = append(rows, k)
		}
		sort.Strings(rows)

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "ZONE\tKEYID\tFLAGS\tSTATE\tALGORITHM")
		for _, k := range rows {
			key := resp.Dnsseckeys[k]
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", key.Zone, key.Keyid, key.Flags, key.State, key.Algorithm)
		}
		w.Flush()
	},
}

var keystoreGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new signing key for a zone",
	Run: func(cmd *cobra.Command, args []string) {
		if config.Globals.Zonename == "" {
			log.Fatalf("Error: zone name not specified (use --zone)")
		}
		alg := dns.StringToAlgorithm[keyAlg]
		if alg == 0 {
			log.Fatalf("Error: unknown algorithm %q", keyAlg)
		}
		flags := uint16(256)
		if keyType == "KSK" || keyType == "CSK" {
			flags = 257
		}
		resp := SendKeystoreCommand(keystore.KeystorePost{
			Command:   "generate",
			Zone:      dns.Fqdn(config.Globals.Zonename),
			Algorithm: alg,
			Flags:     flags,
			State:     keyState,
		})
		fmt.Printf("%s\n", resp.Msg)
	},
}

var keystoreSetStateCmd = &cobra.Command{
	Use:   "setstate",
	Short: "Change the state of a stored key (published, active, retired)",
	Run: func(cmd *cobra.Command, args []string) {
		if config.Globals.Zonename == "" {
			log.Fatalf("Error: zone name not specified (use --zone)")
		}
		resp := SendKeystoreCommand(keystore.KeystorePost{
			Command:    "dnssec-mgmt",
			SubCommand: "setstate",
			Zone:       dns.Fqdn(config.Globals.Zonename),
			Keyid:      keyId,
			State:      keyState,
		})
		fmt.Printf("%s\n", resp.Msg)
	},
}

var keystoreDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a stored key",
	Run: func(cmd *cobra.Command, args []string) {
		if config.Globals.Zonename == "" {
			log.Fatalf("Error: zone name not specified (use --zone)")
		}
		resp := SendKeystoreCommand(keystore.KeystorePost{
			Command:    "dnssec-mgmt",
			SubCommand: "delete",
			Zone:       dns.Fqdn(config.Globals.Zonename),
			Keyid:      keyId,
		})
		fmt.Printf("%s\n", resp.Msg)
	},
}

func init() {
	rootCmd.AddCommand(keystoreCmd)
	keystoreCmd.AddCommand(keystoreListCmd, keystoreGenerateCmd, keystoreSetStateCmd, keystoreDeleteCmd)

	keystoreGenerateCmd.Flags().StringVar(&keyAlg, "algorithm", "ECDSAP256SHA256", "DNSSEC algorithm mnemonic")
	keystoreGenerateCmd.Flags().StringVar(&keyType, "keytype", "CSK", "key role: ZSK, KSK or CSK")
	keystoreGenerateCmd.Flags().StringVar(&keyState, "state", "active", "initial key state")
	keystoreSetStateCmd.Flags().StringVar(&keyState, "state", "", "new key state")
	keystoreSetStateCmd.Flags().Uint16Var(&keyId, "keyid", 0, "key tag of the key")
	keystoreDeleteCmd.Flags().Uint16Var(&keyId, "keyid", 0, "key tag of the key")
}

// SendKeystoreCommand posts one keystore command to zsignd.
func SendKeystoreCommand(kp keystore.KeystorePost) keystore.KeystoreResponse {
	_, buf, err := apiClient.RequestNG("POST", "/keystore", kp, true)
	if err != nil {
		log.Fatalf("Error from zsignd: %v", err)
	}

	var resp keystore.KeystoreResponse
	if err := json.Unmarshal(buf, &resp); err != nil {
		log.Fatalf("Error parsing response: %v", err)
	}
	if resp.Error {
		fmt.Printf("Error: %s\n", resp.ErrorMsg)
		os.Exit(1)
	}
	return resp
}
