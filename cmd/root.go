package cmd

import (
	"fmt"
	"github.com/ValentinKolb/meshlink/cmd/radio"
	"github.com/ValentinKolb/meshlink/cmd/sim"
	"github.com/ValentinKolb/meshlink/cmd/util"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "meshlink",
		Short: "mesh radio client",
		Long: fmt.Sprintf(`meshlink (v%s)

A client for LoRa mesh radios speaking the stream protocol over TCP.
It runs the config handshake, keeps a node database, correlates acks
and responses with the packets that asked for them and publishes
everything the device reports as typed events.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of meshlink",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("meshlink v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(radio.RadioCommands)
	RootCmd.AddCommand(sim.SimCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("Level of the library logs written to stderr (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
