package radio

import (
	"fmt"
	"github.com/ValentinKolb/meshlink/cmd/util"
	"github.com/ValentinKolb/meshlink/lib/events"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var (
	listenCmd = &cobra.Command{
		Use:   "listen",
		Short: "Prints everything the device reports until interrupted",
		Args:  cobra.NoArgs,
		RunE:  listen,
	}
)

func init() {
	listenCmd.Flags().String("topic", "", util.WrapString("Only print events of this topic and its sub-topics (e.g. receive, receive.text, node)"))
	listenCmd.Flags().Duration("duration", 0, util.WrapString("Stop after this long (0 listens until interrupted)"))
}

func listen(cmd *cobra.Command, _ []string) error {
	topic, _ := cmd.Flags().GetString("topic")
	duration, _ := cmd.Flags().GetDuration("duration")

	// routing, admin and node updates are printed as debug lines
	if viper.GetString("log-level") == "debug" {
		pterm.EnableDebugMessages()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub := conn.Subscribe(events.Topic(topic), func(e events.Event) error {
		printEvent(e)
		return nil
	})
	defer sub.Unsubscribe()

	pterm.Info.Printfln("listening on %s (topic %s), press ctrl+c to stop", conn.Transport(), events.Topic(topic))

	var timeout <-chan time.Time
	if duration > 0 {
		timeout = time.After(duration)
	}
	select {
	case <-ctx.Done():
	case <-timeout:
	case <-conn.Done():
		return fmt.Errorf("connection lost: %w", conn.Err())
	}
	return nil
}

// printEvent writes one line per event
func printEvent(e events.Event) {
	prefix := pterm.Info
	var line string

	switch ev := e.(type) {
	case events.TextReceived:
		prefix = pterm.Success
		line = fmt.Sprintf("%s -> %s: %s", ev.Packet.From, ev.Packet.To, ev.Text)
	case events.PositionReceived:
		line = fmt.Sprintf("%s at %.5f, %.5f (alt %dm)", ev.Packet.From, ev.Position.Latitude(), ev.Position.Longitude(), ev.Position.Altitude)
	case events.TelemetryReceived:
		line = fmt.Sprintf("%s telemetry", ev.Packet.From)
		if dm := ev.Telemetry.DeviceMetrics; dm != nil {
			line += fmt.Sprintf(" battery=%d%% voltage=%.2fV util=%.1f%%", dm.BatteryLevel, dm.Voltage, dm.ChannelUtilization)
		}
		if em := ev.Telemetry.EnvironmentMetrics; em != nil {
			line += fmt.Sprintf(" temp=%.1fC humidity=%.0f%%", em.Temperature, em.RelativeHumidity)
		}
	case events.UserReceived:
		line = fmt.Sprintf("%s is %q (%s)", ev.Packet.From, ev.User.LongName, ev.User.ShortName)
	case events.RoutingReceived:
		prefix = pterm.Debug
		line = fmt.Sprintf("%s routing %s for %08x", ev.Packet.From, ev.Routing.ErrorReason, ev.Packet.Decoded.RequestID)
	case events.AdminReceived:
		prefix = pterm.Debug
		line = fmt.Sprintf("%s admin message (%d bytes)", ev.Packet.From, len(ev.Admin.Raw))
	case events.DataReceived:
		line = fmt.Sprintf("%s data on %s: %x", ev.Packet.From, ev.Packet.Port(), ev.Packet.Decoded.Payload)
	case events.NodeUpdated:
		prefix = pterm.Debug
		line = ev.Node.String()
	case events.NodeRemoved:
		prefix = pterm.Warning
		line = fmt.Sprintf("node %s removed", ev.Num)
	case events.ConnectionLost:
		prefix = pterm.Error
		line = fmt.Sprintf("connection to %s lost: %v", ev.Transport, ev.Err)
	case events.UnhandledReceived:
		prefix = pterm.Debug
		line = "unhandled message"
	default:
		line = fmt.Sprintf("%+v", ev)
	}

	prefix.Printfln("%-18s %s", e.Topic(), line)
}
