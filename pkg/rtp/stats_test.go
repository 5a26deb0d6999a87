package rtp

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestStatsCollectorRecordsSentAndReceivedCounters(t *testing.T) {
	sc := newStatsCollector()

	sc.recordSent(160)
	sc.recordSent(160)

	require.InDelta(t, 2, testutil.ToFloat64(sc.packetsSent), 0)
	require.InDelta(t, 320, testutil.ToFloat64(sc.bytesSent), 0)

	base := time.Now()
	pkt1 := &rtp.Packet{Header: rtp.Header{Timestamp: 0}}
	pkt2 := &rtp.Packet{Header: rtp.Header{Timestamp: 160}}

	sc.recordReceived(pkt1, base, 8000)
	sc.recordReceived(pkt2, base.Add(20*time.Millisecond), 8000)

	require.InDelta(t, 2, testutil.ToFloat64(sc.packetsReceived), 0)
	require.GreaterOrEqual(t, sc.Jitter(), 0.0)
}

func TestStatsCollectorCollectorsAreDistinctPerSession(t *testing.T) {
	a := newStatsCollector()
	b := newStatsCollector()

	a.recordSent(100)
	require.InDelta(t, 100, testutil.ToFloat64(a.bytesSent), 0)
	require.InDelta(t, 0, testutil.ToFloat64(b.bytesSent), 0)
}
