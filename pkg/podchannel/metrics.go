package podchannel

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a built-in prometheus collector that doubles as a shared
// middleware and an engine extension. Registered as middleware it observes
// every channel; registered as an extension it is reachable by name so other
// middleware (or the embedding process, via Handler) can get at the
// counters.
//
// Typical config wires both to the same instance:
//
//	m := podchannel.NewMetrics()
//	m.RegisterTypes(mwTypes, extTypes)
//
//	middlewares:
//	  - name: metrics
//	    order: 0
//	extensions:
//	  - name: metrics
//	    use: metrics
type Metrics struct {
	registry *prometheus.Registry

	// open tracks the channels whose connect hook reached this instance. A
	// connect hook ordered earlier can stop the chain before OnConnect runs,
	// while the close hook still fires; only counted channels may decrement
	// the gauge.
	mu   sync.Mutex
	open map[*Channel]struct{}

	channelsTotal prometheus.Counter
	channelsOpen  prometheus.Gauge
	bytesRelayed  *prometheus.CounterVec
	failures      prometheus.Counter
}

// NewMetrics builds a Metrics collector backed by its own prometheus
// registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		open:     make(map[*Channel]struct{}),
		channelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podchannel_channels_total",
			Help: "Established channels observed by the collector.",
		}),
		channelsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "podchannel_channels_open",
			Help: "Established channels not yet closed.",
		}),
		bytesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podchannel_relayed_bytes_total",
			Help: "Payload bytes entering the pipeline, by direction.",
		}, []string{"direction"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podchannel_channel_failures_total",
			Help: "Channels torn down by an unrecoverable error.",
		}),
	}
	return m
}

// RegisterTypes makes the instance available to config descriptors, under
// the type id "metrics", in both registries.
func (m *Metrics) RegisterTypes(mw *MiddlewareRegistry, ext *ExtensionTypeRegistry) error {
	if err := mw.Register("metrics", func(*Engine, Params) (Middleware, error) {
		return m, nil
	}); err != nil {
		return err
	}
	return ext.Register("metrics", func(*Engine, Params) (Extension, error) {
		return m, nil
	})
}

// Name implements Middleware.
func (m *Metrics) Name() string {
	return "metrics"
}

// Setup implements Extension: it registers the collectors.
func (m *Metrics) Setup(*Engine) error {
	for _, c := range m.collectors() {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup implements Extension: it unregisters the collectors so a Metrics
// instance can outlive one Engine.
func (m *Metrics) Cleanup() error {
	for _, c := range m.collectors() {
		m.registry.Unregister(c)
	}
	return nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.channelsTotal, m.channelsOpen, m.bytesRelayed, m.failures}
}

// Handler returns an http.Handler serving the collector's registry in
// prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OnConnect implements ConnectHook.
func (m *Metrics) OnConnect(ch *Channel) (Verdict, error) {
	m.mu.Lock()
	m.open[ch] = struct{}{}
	m.mu.Unlock()
	m.channelsTotal.Inc()
	m.channelsOpen.Inc()
	return Continue, nil
}

// OnData implements DataHook.
func (m *Metrics) OnData(_ *Channel, dir Direction, data []byte) ([]byte, Verdict, error) {
	m.bytesRelayed.WithLabelValues(dir.String()).Add(float64(len(data)))
	return data, Continue, nil
}

// OnClose implements CloseHook. The gauge is decremented only for channels
// OnConnect counted, so a stopped connect chain cannot drive it negative.
func (m *Metrics) OnClose(ch *Channel) {
	m.mu.Lock()
	_, counted := m.open[ch]
	delete(m.open, ch)
	m.mu.Unlock()
	if counted {
		m.channelsOpen.Dec()
	}
}

// OnError implements ErrorHook.
func (m *Metrics) OnError(*Channel, error) {
	m.failures.Inc()
}
