/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/zonesign/zonesign/api"
	"github.com/zonesign/zonesign/config"
)

var zoneCmd = &cobra.Command{
	Use:   "zone",
	Short: "Operations on a zone held by zsignd",
}

var zoneSignCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign the zone: serial update, denial chain, RRSIGs",
	Run: func(cmd *cobra.Command, args []string) {
		resp := SendZoneCommand("sign-zone")
		fmt.Printf("%s\n", resp.Msg)
	},
}

var zoneNsecCmd = &cobra.Command{
	Use:   "nsec",
	Short: "Rebuild the zone's NSEC chain without signing",
	Run: func(cmd *cobra.Command, args []string) {
		resp := SendZoneCommand("generate-nsec")
		fmt.Printf("%s\n", resp.Msg)
	},
}

var zoneNsec3Cmd = &cobra.Command{
	Use:   "nsec3",
	Short: "Rebuild the zone's NSEC3 chain without signing",
	Run: func(cmd *cobra.Command, args []string) {
		resp := SendZoneCommand("generate-nsec3")
		fmt.Printf("%s\n", resp.Msg)
	},
}

var zoneShowChainCmd = &cobra.Command{
	Use:   "show-chain",
	Short: "Print the zone's denial-of-existence chain in order",
	Run: func(cmd *cobra.Command, args []string) {
		resp := SendZoneCommand("show-nsec-chain")
		for _, rr := range resp.Names {
			fmt.Printf("%s\n", rr)
		}
	},
}

var zoneBumpSerialCmd = &cobra.Command{
	Use:   "bump-serial",
	Short: "Advance the zone's SOA serial per its serial policy",
	Run: func(cmd *cobra.Command, args []string) {
		resp := SendZoneCommand("bump-serial")
		fmt.Printf("%s (serial %d)\n", resp.Msg, resp.Serial)
	},
}

var zoneWriteCmd = &cobra.Command{
	Use:   "write",
	Short: "Write the signed zone to <zonefile>.signed",
	Run: func(cmd *cobra.Command, args []string) {
		resp := SendZoneCommand("write-zonefile")
		fmt.Printf("%s\n", resp.Msg)
	},
}

var zoneFreezeCmd = &cobra.Command{
	Use:   "freeze",
	Short: "Refuse further updates to the zone until thawed",
	Run: func(cmd *cobra.Command, args []string) {
		resp := SendZoneCommand("freeze")
		fmt.Printf("%s\n", resp.Msg)
	},
}

var zoneThawCmd = &cobra.Command{
	Use:   "thaw",
	Short: "Accept updates to the zone again",
	Run: func(cmd *cobra.Command, args []string) {
		resp := SendZoneCommand("thaw")
		fmt.Printf("%s\n", resp.Msg)
	},
}

func init() {
	rootCmd.AddCommand(zoneCmd)
	zoneCmd.AddCommand(zoneSignCmd, zoneNsecCmd, zoneNsec3Cmd, zoneShowChainCmd,
		zoneBumpSerialCmd, zoneWriteCmd, zoneFreezeCmd, zoneThawCmd)
}

// SendZoneCommand posts one zone sub-command to zsignd and dies with a
// useful message on any error, the right behaviour for one-shot CLI use.
func SendZoneCommand(subcommand string) api.CommandResponse {
	if config.Globals.Zonename == "" {
		log.Fatalf("Error: zone name not specified (use --zone)")
	}

	data := api.CommandPost{
		Command:    "zone",
		SubCommand: subcommand,
		Zone:       config.Globals.Zonename,
	}

	_, buf, err := apiClient.RequestNG("POST", "/command", data, true)
	if err != nil {
		log.Fatalf("Error from zsignd: %v", err)
	}

	var resp api.CommandResponse
	if err := json.Unmarshal(buf, &resp); err != nil {
		log.Fatalf("Error parsing response: %v", err)
	}
	if resp.Error {
		fmt.Printf("Error: %s\n", resp.ErrorMsg)
		os.Exit(1)
	}
	return resp
}
