/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package cmd

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/zonesign/zonesign/api"
)

var pings int

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send a ping to the zsignd API to verify that it is alive",
	Run: func(cmd *cobra.Command, args []string) {
		data := api.PingPost{Msg: "ping", Pings: pings}

		_, buf, err := apiClient.RequestNG("POST", "/ping", data, true)
		if err != nil {
			log.Fatalf("Error from zsignd: %v", err)
		}

		var resp api.PingResponse
		if err := json.Unmarshal(buf, &resp); err != nil {
			log.Fatalf("Error parsing response: %v", err)
		}
		fmt.Printf("%s: pings %d, pongs %d, boot time %v\n",
			resp.Msg, resp.Pings, resp.Pongs, resp.BootTime.Format("2006-01-02 15:04:05"))
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVarP(&pings, "count", "c", 1, "ping counter to send")
}
