/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zonesign/zonesign/api"
	"github.com/zonesign/zonesign/config"
)

var cfgFile string
var apiClient *api.ApiClient

var rootCmd = &cobra.Command{
	Use:   "zsign-cli",
	Short: "zsign-cli is a tool used to interact with the zsignd signer via API",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	cobra.OnInitialize(initConfig, initApi)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		fmt.Sprintf("config file (default is %s)", config.DefaultCfgFile))
	rootCmd.PersistentFlags().StringVarP(&config.Globals.Zonename, "zone", "z", "", "zone name")
	rootCmd.PersistentFlags().BoolVarP(&config.Globals.Debug, "debug", "d",
		false, "debug output")
	rootCmd.PersistentFlags().BoolVarP(&config.Globals.Verbose, "verbose", "v",
		false, "verbose output")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigFile(config.DefaultCfgFile)
	}

	viper.AutomaticEnv() // read in environment variables that match

	if err := viper.ReadInConfig(); err == nil {
		if config.Globals.Verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	} else {
		log.Fatalf("Could not load config %s: Error: %v", config.DefaultCfgFile, err)
	}

	config.SetupCliLogging()
}

func initApi() {
	baseurl := viper.GetString("cli.serverurl")
	apikey := viper.GetString("cli.apikey")
	if baseurl == "" {
		baseurl = "http://" + viper.GetString("apiserver.address") + "/api/v1"
	}
	if apikey == "" {
		apikey = viper.GetString("apiserver.key")
	}
	apiClient = api.NewClient("zsign-cli", baseurl, apikey, "X-API-Key", "insecure",
		config.Globals.Verbose, config.Globals.Debug)
}
