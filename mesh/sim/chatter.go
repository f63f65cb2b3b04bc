package sim

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/meshlink/lib/util"
	"github.com/ValentinKolb/meshlink/mesh/codec"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"time"
)

// Chatter injects traffic from the remote nodes every interval until ctx
// ends: positions drifting around the last known location, telemetry and
// the occasional broadcast text.
func (d *Device) Chatter(ctx context.Context, interval time.Duration) {
	rnd := util.NewSeededRand()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for round := 1; ; round++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		nodes := d.Nodes()
		if len(nodes) == 0 {
			continue
		}
		node := nodes[rnd.IntN(len(nodes))]
		now := uint32(time.Now().Unix())

		var port common.PortNum
		var payload []byte
		switch rnd.IntN(3) {
		case 0:
			pos := common.Position{LatitudeI: 475_000_000, LongitudeI: 85_000_000, Altitude: 500}
			if node.Position != nil {
				pos = *node.Position
			}
			pos.LatitudeI += rnd.Int32N(2000) - 1000
			pos.LongitudeI += rnd.Int32N(2000) - 1000
			pos.Time = now
			port, payload = common.PortPositionApp, codec.EncodePosition(&pos)
		case 1:
			port, payload = common.PortTelemetryApp, codec.EncodeTelemetry(&common.Telemetry{
				Time: now,
				DeviceMetrics: &common.DeviceMetrics{
					BatteryLevel:       uint32(40 + rnd.IntN(60)),
					Voltage:            3.6 + rnd.Float32()*0.6,
					ChannelUtilization: rnd.Float32() * 20,
					AirUtilTx:          rnd.Float32() * 5,
					UptimeSeconds:      uint32(round) * uint32(interval/time.Second),
				},
			})
		default:
			port, payload = common.PortTextMessageApp, []byte(fmt.Sprintf("hello #%d from %s", round, node.Num))
		}

		pkt := &common.MeshPacket{
			From:     node.Num,
			To:       common.BroadcastNum,
			HopStart: 3,
			HopLimit: 3 - min(node.HopsAway, 3),
			RxTime:   now,
			RxSNR:    -10 + rnd.Float32()*20,
			RxRSSI:   -120 + rnd.Int32N(60),
			Decoded:  &common.Data{PortNum: port, Payload: payload},
		}
		if n := d.Inject(pkt); n == 0 {
			Logger.Debugf("no client connected, dropped %s", pkt)
		}
	}
}
