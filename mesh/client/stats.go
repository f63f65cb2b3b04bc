package client

import (
	"fmt"
	vmetrics "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
	"io"
	"time"
)

// Stats is a point in time view of the counters of a connection
type Stats struct {
	State     ConnectionState
	Transport string

	RxFrames uint64
	TxFrames uint64
	RxBytes  uint64
	TxBytes  uint64
	// RxRate and TxRate are frames per second (one minute moving average)
	RxRate float64
	TxRate float64

	DecodeErrors  uint64
	FramingErrors uint64
	NoiseBytes    uint64
	Unhandled     uint64

	PendingRequests int
	Resolved        uint64
	TimedOut        uint64
	MeanRTT         time.Duration

	MeanFrameSize float64
	P95FrameSize  float64

	Nodes      int
	QueueFree  uint32
	LastRxTime time.Time
}

// connStats tracks the traffic of one connection. Rates and distributions
// are kept in a go-metrics registry, the Prometheus export goes through a
// VictoriaMetrics set.
type connStats struct {
	registry  gometrics.Registry
	rxFrames  gometrics.Meter
	txFrames  gometrics.Meter
	rxBytes   gometrics.Counter
	txBytes   gometrics.Counter
	decodeErr gometrics.Counter
	unhandled gometrics.Counter
	frameSize gometrics.Histogram
	rtt       gometrics.Timer

	set         *vmetrics.Set
	vmRxFrames  *vmetrics.Counter
	vmTxFrames  *vmetrics.Counter
	vmRxBytes   *vmetrics.Counter
	vmTxBytes   *vmetrics.Counter
	vmDecodeErr *vmetrics.Counter
	vmRTT       *vmetrics.Histogram
}

// newConnStats creates the counters of a connection. gauges are evaluated
// lazily when the metrics are written.
func newConnStats(transport string, gauges map[string]func() float64) *connStats {
	r := gometrics.NewRegistry()
	s := &connStats{
		registry:  r,
		rxFrames:  gometrics.NewRegisteredMeter("rx.frames", r),
		txFrames:  gometrics.NewRegisteredMeter("tx.frames", r),
		rxBytes:   gometrics.NewRegisteredCounter("rx.bytes", r),
		txBytes:   gometrics.NewRegisteredCounter("tx.bytes", r),
		decodeErr: gometrics.NewRegisteredCounter("rx.decode_errors", r),
		unhandled: gometrics.NewRegisteredCounter("rx.unhandled", r),
		frameSize: gometrics.NewRegisteredHistogram("frame.size", r, gometrics.NewExpDecaySample(1028, 0.015)),
		rtt:       gometrics.NewRegisteredTimer("request.rtt", r),
		set:       vmetrics.NewSet(),
	}

	label := fmt.Sprintf("{transport=%q}", transport)
	s.vmRxFrames = s.set.NewCounter("meshlink_rx_frames_total" + label)
	s.vmTxFrames = s.set.NewCounter("meshlink_tx_frames_total" + label)
	s.vmRxBytes = s.set.NewCounter("meshlink_rx_bytes_total" + label)
	s.vmTxBytes = s.set.NewCounter("meshlink_tx_bytes_total" + label)
	s.vmDecodeErr = s.set.NewCounter("meshlink_decode_errors_total" + label)
	s.vmRTT = s.set.NewHistogram("meshlink_request_rtt_seconds" + label)
	for name, fn := range gauges {
		s.set.NewGauge(name+label, fn)
	}
	return s
}

// --------------------------------------------------------------------------
// Recording
// --------------------------------------------------------------------------

func (s *connStats) received(n int) {
	s.rxFrames.Mark(1)
	s.rxBytes.Inc(int64(n))
	s.frameSize.Update(int64(n))
	s.vmRxFrames.Inc()
	s.vmRxBytes.Add(n)
}

func (s *connStats) sent(n int) {
	s.txFrames.Mark(1)
	s.txBytes.Inc(int64(n))
	s.frameSize.Update(int64(n))
	s.vmTxFrames.Inc()
	s.vmTxBytes.Add(n)
}

func (s *connStats) decodeFailed() {
	s.decodeErr.Inc(1)
	s.vmDecodeErr.Inc()
}

func (s *connStats) unhandledMessage() {
	s.unhandled.Inc(1)
}

func (s *connStats) resolved(rtt time.Duration) {
	s.rtt.Update(rtt)
	s.vmRTT.Update(rtt.Seconds())
}

// stop releases the meters of the registry
func (s *connStats) stop() {
	s.registry.UnregisterAll()
}

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// fill copies the counters of the registry into st
func (s *connStats) fill(st *Stats) {
	st.RxFrames = uint64(s.rxFrames.Count())
	st.TxFrames = uint64(s.txFrames.Count())
	st.RxBytes = uint64(s.rxBytes.Count())
	st.TxBytes = uint64(s.txBytes.Count())
	st.RxRate = s.rxFrames.Rate1()
	st.TxRate = s.txFrames.Rate1()
	st.DecodeErrors = uint64(s.decodeErr.Count())
	st.Unhandled = uint64(s.unhandled.Count())
	st.MeanRTT = time.Duration(s.rtt.Mean())
	st.MeanFrameSize = s.frameSize.Mean()
	st.P95FrameSize = s.frameSize.Percentile(0.95)
}

// writePrometheus writes all metrics in the Prometheus text format
func (s *connStats) writePrometheus(w io.Writer) {
	s.set.WritePrometheus(w)
}

// gaugeNames of the lazily evaluated gauges
const (
	gaugePending   = "meshlink_pending_requests"
	gaugeNodes     = "meshlink_nodes"
	gaugeQueueFree = "meshlink_device_queue_free"
	gaugeConnected = "meshlink_connected"
)
