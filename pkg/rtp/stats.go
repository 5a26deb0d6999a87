package rtp

import (
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/prometheus/client_golang/prometheus"
)

// StatsCollector tracks per-session counters and exports them as
// Prometheus metrics, replacing this project's earlier hand-rolled
// MetricsCollector/SessionMetrics with the ecosystem-standard client rather
// than a custom HTTP exporter.
type StatsCollector struct {
	mu sync.Mutex

	packetsSent     prometheus.Counter
	bytesSent       prometheus.Counter
	packetsReceived prometheus.Counter
	bytesReceived   prometheus.Counter
	jitterGauge     prometheus.Gauge

	lastArrival    time.Time
	lastRTPStamp   uint32
	lastTransit    int64
	jitterEstimate float64
}

// sessionSeq assigns each Session a distinct Prometheus label so metrics
// from concurrent calls don't collide; it is process-local and reset on
// restart, which is fine since Prometheus labels only need to be unique
// among currently-registered collectors.
var sessionSeq struct {
	mu  sync.Mutex
	n   uint64
}

func nextSessionLabel() string {
	sessionSeq.mu.Lock()
	defer sessionSeq.mu.Unlock()
	sessionSeq.n++
	return formatUint(sessionSeq.n)
}

func formatUint(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func newStatsCollector() *StatsCollector {
	label := prometheus.Labels{"session": nextSessionLabel()}
	return &StatsCollector{
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sipstack",
			Subsystem:   "rtp",
			Name:        "packets_sent_total",
			Help:        "RTP packets sent by this session.",
			ConstLabels: label,
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sipstack",
			Subsystem:   "rtp",
			Name:        "bytes_sent_total",
			Help:        "RTP payload bytes sent by this session.",
			ConstLabels: label,
		}),
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sipstack",
			Subsystem:   "rtp",
			Name:        "packets_received_total",
			Help:        "RTP packets received by this session.",
			ConstLabels: label,
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sipstack",
			Subsystem:   "rtp",
			Name:        "bytes_received_total",
			Help:        "RTP payload bytes received by this session.",
			ConstLabels: label,
		}),
		jitterGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "sipstack",
			Subsystem:   "rtp",
			Name:        "jitter_estimate_seconds",
			Help:        "RFC 3550 appendix A.8 interarrival jitter estimate.",
			ConstLabels: label,
		}),
	}
}

// Collectors returns the Prometheus collectors backing this session so the
// caller can register them with a prometheus.Registry.
func (s *StatsCollector) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.packetsSent, s.bytesSent, s.packetsReceived, s.bytesReceived, s.jitterGauge}
}

func (s *StatsCollector) recordSent(payloadLen int) {
	s.packetsSent.Inc()
	s.bytesSent.Add(float64(payloadLen))
}

// recordReceived updates packet/byte counters and the running interarrival
// jitter estimate (RFC 3550 §6.4.1 appendix A.8).
func (s *StatsCollector) recordReceived(pkt *rtp.Packet, arrival time.Time, clockRate uint32) {
	s.packetsReceived.Inc()
	s.bytesReceived.Add(float64(len(pkt.Payload)))

	s.mu.Lock()
	defer s.mu.Unlock()

	if clockRate == 0 {
		return
	}
	arrivalRTP := int64(arrival.UnixNano()) * int64(clockRate) / int64(time.Second)
	if !s.lastArrival.IsZero() {
		transit := arrivalRTP - int64(pkt.Timestamp)
		d := transit - s.lastTransit
		if d < 0 {
			d = -d
		}
		s.jitterEstimate += (float64(d) - s.jitterEstimate) / 16.0
		s.jitterGauge.Set(s.jitterEstimate / float64(clockRate))
		s.lastTransit = transit
	} else {
		s.lastTransit = arrivalRTP - int64(pkt.Timestamp)
	}
	s.lastArrival = arrival
	s.lastRTPStamp = pkt.Timestamp
}

// Jitter returns the current interarrival jitter estimate in RTP timestamp
// units; the exported jitter gauge carries the same value in seconds.
func (s *StatsCollector) Jitter() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jitterEstimate
}
