package radio

import (
	"context"
	"github.com/ValentinKolb/meshlink/cmd/util"
	"github.com/ValentinKolb/meshlink/mesh/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	conn *client.Connection

	// RadioCommands represents the command group talking to a device
	RadioCommands = &cobra.Command{
		Use:                "radio",
		Short:              "Talk to a mesh radio over TCP",
		Long:               `Connect to a device (or a simulator started with "meshlink sim"), run the config handshake and perform one operation. Flags can also be set as MESHLINK_<FLAG> environment variables (e.g. MESHLINK_HOST=10.0.0.5).`,
		PersistentPreRunE:  connect,
		PersistentPostRunE: disconnect,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add connection flags to every radio command
	util.SetupConnectionFlags(RadioCommands)

	// Add subcommands
	RadioCommands.AddCommand(infoCmd)
	RadioCommands.AddCommand(nodesCmd)
	RadioCommands.AddCommand(textCmd)
	RadioCommands.AddCommand(dataCmd)
	RadioCommands.AddCommand(removeNodeCmd)
	RadioCommands.AddCommand(statsCmd)
	RadioCommands.AddCommand(listenCmd)
}

// connect opens the connection used by the subcommand
func connect(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := util.InitLogging(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), viper.GetDuration("dial-timeout")+viper.GetDuration("handshake-timeout"))
	defer cancel()

	var err error
	conn, err = util.Connect(ctx)
	return err
}

// disconnect closes the connection after the subcommand finished
func disconnect(_ *cobra.Command, _ []string) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}
