package radio

import (
	"context"
	"encoding/hex"
	"fmt"
	"github.com/ValentinKolb/meshlink/cmd/util"
	"github.com/ValentinKolb/meshlink/mesh/client"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"github.com/ValentinKolb/meshlink/mesh/correlator"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"os"
	"strings"
	"time"
)

var (
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Shows what the device reported about itself",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			local := conn.LocalNode()
			data := pterm.TableData{
				{"Node", local.Num().String()},
				{"Firmware", local.Metadata.FirmwareVersion},
				{"Hardware", fmt.Sprintf("%d", local.Metadata.HwModel)},
				{"Reboots", fmt.Sprintf("%d", local.MyInfo.RebootCount)},
				{"Config sections", fmt.Sprintf("%d (+%d module)", len(local.Configs), len(local.ModuleConfigs))},
				{"Transport", conn.Transport()},
			}
			for _, ch := range local.Channels {
				name := ch.Name
				if name == "" {
					name = "(default)"
				}
				data = append(data, []string{fmt.Sprintf("Channel %d", ch.Index), name})
			}
			return pterm.DefaultTable.WithData(data).Render()
		},
	}

	nodesCmd = &cobra.Command{
		Use:   "nodes",
		Short: "Lists the node database, most recently heard first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data := pterm.TableData{{"Node", "Name", "Short", "Hops", "SNR", "Battery", "Position", "Last heard"}}
			for _, r := range conn.Nodes().ByLastHeard() {
				hops, snr, battery, position := "-", "-", "-", "-"
				if r.HasHops {
					hops = fmt.Sprintf("%d", r.HopsAway)
				}
				if r.SNR != 0 {
					snr = fmt.Sprintf("%.1f", r.SNR)
				}
				if r.HasDeviceMetrics {
					battery = fmt.Sprintf("%d%%", r.DeviceMetrics.BatteryLevel)
				}
				if r.HasPosition {
					position = fmt.Sprintf("%.5f, %.5f", r.Position.Latitude(), r.Position.Longitude())
				}
				data = append(data, []string{r.Num.String(), r.Name(), r.User.ShortName, hops, snr, battery, position, util.Ago(r.LastHeard)})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		},
	}

	textCmd = &cobra.Command{
		Use:   "text [message]",
		Short: "Sends a text message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := destination(cmd)
			if err != nil {
				return err
			}
			ack, _ := cmd.Flags().GetBool("ack")

			req, err := conn.SendText(strings.Join(args, " "), to, ack)
			if err != nil {
				return err
			}
			return report(cmd.Context(), req)
		},
	}

	dataCmd = &cobra.Command{
		Use:   "data [hex payload]",
		Short: "Sends a raw payload on a port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := destination(cmd)
			if err != nil {
				return err
			}
			payload, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("payload must be hex: %w", err)
			}
			portName, _ := cmd.Flags().GetString("port")
			port, err := common.ParsePortNum(portName)
			if err != nil {
				return err
			}
			wantResponse, _ := cmd.Flags().GetBool("want-response")
			retries, _ := cmd.Flags().GetInt("retries")

			if !wantResponse {
				req, err := conn.SendData(payload, port, to, false)
				if err != nil {
					return err
				}
				return report(cmd.Context(), req)
			}

			pkt := common.NewDataPacket(payload, port, to, true)
			res, err := conn.SendAndWait(cmd.Context(), pkt, correlator.ExpectResponse, client.RetryPolicy{Attempts: 1 + retries})
			if err != nil {
				return err
			}
			pterm.Success.Printfln("response from %s after %s: %x", res.Packet.From, res.RTT.Truncate(time.Millisecond), res.Packet.Decoded.Payload)
			return nil
		},
	}

	removeNodeCmd = &cobra.Command{
		Use:   "remove-node [node]",
		Short: "Removes a node from the device's node database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			num, err := common.ParseNodeNum(args[0])
			if err != nil {
				return err
			}
			if num == common.BroadcastNum {
				return fmt.Errorf("can not remove the broadcast address")
			}
			req, err := conn.RemoveNode(num)
			if err != nil {
				return err
			}
			if _, err := req.Wait(cmd.Context()); err != nil {
				return err
			}
			pterm.Success.Printfln("node %s removed", num)
			return nil
		},
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Shows the connection counters after the handshake",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if prom, _ := cmd.Flags().GetBool("prometheus"); prom {
				conn.WriteMetrics(os.Stdout)
				return nil
			}
			st := conn.Stats()
			return pterm.DefaultTable.WithData(pterm.TableData{
				{"State", st.State.String()},
				{"Transport", st.Transport},
				{"Frames rx/tx", fmt.Sprintf("%d / %d", st.RxFrames, st.TxFrames)},
				{"Bytes rx/tx", fmt.Sprintf("%d / %d", st.RxBytes, st.TxBytes)},
				{"Frame size mean/p95", fmt.Sprintf("%.1f / %.1f", st.MeanFrameSize, st.P95FrameSize)},
				{"Decode errors", fmt.Sprintf("%d", st.DecodeErrors)},
				{"Framing errors", fmt.Sprintf("%d", st.FramingErrors)},
				{"Console noise", fmt.Sprintf("%d bytes", st.NoiseBytes)},
				{"Unhandled", fmt.Sprintf("%d", st.Unhandled)},
				{"Nodes", fmt.Sprintf("%d", st.Nodes)},
				{"Queue free", fmt.Sprintf("%d", st.QueueFree)},
			}).Render()
		},
	}
)

func init() {
	for _, cmd := range []*cobra.Command{textCmd, dataCmd} {
		cmd.Flags().String("to", "^all", util.WrapString("Destination node (!xxxxxxxx, decimal or ^all)"))
	}
	textCmd.Flags().Bool("ack", false, util.WrapString("Wait until the mesh acknowledged the message"))
	dataCmd.Flags().String("port", "PRIVATE_APP", util.WrapString("Port name or number"))
	dataCmd.Flags().Bool("want-response", false, util.WrapString("Wait for the response of the destination"))
	dataCmd.Flags().Int("retries", 0, util.WrapString("How many times to resend when the response does not arrive"))
	statsCmd.Flags().Bool("prometheus", false, util.WrapString("Print the metrics in the Prometheus text format"))
}

// destination parses the --to flag
func destination(cmd *cobra.Command) (common.NodeNum, error) {
	to, _ := cmd.Flags().GetString("to")
	return common.ParseNodeNum(to)
}

// report waits for tracked requests and prints the outcome
func report(ctx context.Context, req *client.Request) error {
	if !req.Tracked() {
		pterm.Success.Printfln("packet %08x queued", req.ID())
		return nil
	}
	spinner, _ := pterm.DefaultSpinner.WithRemoveWhenDone(true).Start(fmt.Sprintf("waiting for ack of %08x", req.ID()))
	res, err := req.Wait(ctx)
	if spinner != nil {
		_ = spinner.Stop()
	}
	if err != nil {
		return err
	}
	pterm.Success.Printfln("packet %08x acknowledged by %s after %s", req.ID(), res.Packet.From, res.RTT.Truncate(time.Millisecond))
	return nil
}
