// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/sia/sia"
)

var version = "1.0.0"

var (
	cfgFile   string
	host      string
	port      int
	timeout   time.Duration
	outputFmt string
	verbose   bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "edgeo-sia",
	Short: "SIA DC-09 alarm receiver",
	Long: `edgeo-sia receives SIA DC-09 messages from alarm panels over TCP or UDP,
checks CRC, account, encryption and timestamp, acknowledges every frame and
forwards validated events.

Examples:
  # Receive on the default port with accounts from ~/.edgeo-sia.yaml
  edgeo-sia serve

  # Receive on TCP and UDP for one plaintext account, forwarding to MQTT
  edgeo-sia serve --transport both --account 1234 --mqtt-broker tcp://localhost:1883

  # Send a burglary alarm for zone 3 as a panel would
  edgeo-sia send -H 127.0.0.1 --account 1234 --code BA --zone 3`,
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Setup logger
		logLevel := slog.LevelInfo
		if verbose {
			logLevel = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		}))

		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.edgeo-sia.yaml)")
	rootCmd.PersistentFlags().StringVarP(&host, "host", "H", "", "Listen address (serve) or receiver address (send)")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", sia.DefaultPort, "DC-09 port")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "Request timeout")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format (table, json, csv, raw)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	// Bind flags to viper
	viper.BindPFlag("host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".edgeo-sia")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SIA")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("edgeo-sia version %s\n", version)
	},
}
