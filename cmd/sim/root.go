package sim

import (
	"fmt"
	"github.com/ValentinKolb/meshlink/cmd/util"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"github.com/ValentinKolb/meshlink/mesh/sim"
	"github.com/ValentinKolb/meshlink/mesh/transport/tcp"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"syscall"
)

var (
	simConfig = sim.DefaultConfig()
	SimCmd    = &cobra.Command{
		Use:     "sim",
		Short:   "Serve a simulated mesh device over TCP",
		Long:    `Start a simulated device that speaks the stream protocol on a TCP port, so the radio commands can be tried without hardware. The simulated mesh knows two remote nodes that periodically send positions, telemetry and text messages. The configuration can be set via command line flags or environment variables (MESHLINK_<FLAG>, e.g. MESHLINK_ENDPOINT=0.0.0.0:4403)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	d := sim.DefaultConfig()

	key := "endpoint"
	SimCmd.Flags().String(key, fmt.Sprintf("127.0.0.1:%d", common.DefaultTCPPort), util.WrapString("The address on which the simulator listens"))

	key = "node"
	SimCmd.Flags().String(key, d.NodeNum.String(), util.WrapString("Node number of the simulated device (!xxxxxxxx or decimal)"))

	key = "long-name"
	SimCmd.Flags().String(key, d.LongName, util.WrapString("Long name the device announces"))

	key = "short-name"
	SimCmd.Flags().String(key, d.ShortName, util.WrapString("Short name the device announces"))

	key = "firmware"
	SimCmd.Flags().String(key, d.FirmwareVersion, util.WrapString("Firmware version reported in the handshake"))

	key = "chatter"
	SimCmd.Flags().Duration(key, 0, util.WrapString("Inject traffic from the remote nodes at this interval (0 disables it)"))

	key = "ack-delay"
	SimCmd.Flags().Duration(key, 0, util.WrapString("Delay acks and responses to imitate air time"))
}

// processConfig reads the flags and environment variables into the simulator configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := util.InitLogging(); err != nil {
		return err
	}

	num, err := common.ParseNodeNum(viper.GetString("node"))
	if err != nil {
		return err
	}
	if num == common.BroadcastNum || num == 0 {
		return fmt.Errorf("invalid node number %s", num)
	}

	simConfig.NodeNum = num
	simConfig.LongName = viper.GetString("long-name")
	simConfig.ShortName = viper.GetString("short-name")
	simConfig.FirmwareVersion = viper.GetString("firmware")
	simConfig.AckDelay = viper.GetDuration("ack-delay")
	return nil
}

// run serves the simulated device until interrupted
func run(cmd *cobra.Command, _ []string) error {
	listener, err := tcp.Listen(viper.GetString("endpoint"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev := sim.NewDevice(simConfig)
	if interval := viper.GetDuration("chatter"); interval > 0 {
		go dev.Chatter(ctx, interval)
	}
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	pterm.Info.Printfln("simulated device %s (%s) listening on %s", simConfig.NodeNum, simConfig.LongName, listener.Addr())
	if err := dev.ServeTCP(listener); err != nil && ctx.Err() == nil {
		return err
	}
	pterm.Info.Println("simulator stopped")
	return nil
}
