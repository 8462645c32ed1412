package prom

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/tiercache"
)

func TestCollectorExportsEveryEvent(t *testing.T) {
	m := tiercache.NewMetrics()
	m.Add(tiercache.EventLocalHit, 5)
	m.Inc(tiercache.EventLockTimeout)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(m, "", prometheus.Labels{"cache": "api"})))

	require.Equal(t, len(tiercache.Events()), testutil.CollectAndCount(NewCollector(m, "", nil)))

	fams, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, fams, 1)
	require.Equal(t, "tiercache_events_total", fams[0].GetName())

	got := map[string]float64{}
	for _, mt := range fams[0].GetMetric() {
		var event, cache string
		for _, lp := range mt.GetLabel() {
			switch lp.GetName() {
			case "event":
				event = lp.GetValue()
			case "cache":
				cache = lp.GetValue()
			}
		}
		require.Equal(t, "api", cache)
		got[event] = mt.GetCounter().GetValue()
	}
	require.Equal(t, 5.0, got["local_hit"])
	require.Equal(t, 1.0, got["lock_timeout"])
	require.Equal(t, 0.0, got["miss"])
}
