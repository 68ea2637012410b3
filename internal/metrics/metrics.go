package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-btlink/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors
var (
	LinkRxLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_rx_lines_total",
		Help: "Total text lines received from the serial link.",
	})
	LinkTxCommands = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_tx_commands_total",
		Help: "Total commands written to the serial link.",
	})
	LinkCorruptLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_corrupt_lines_total",
		Help: "Total inbound lines discarded because they failed text decoding or exceeded the line limit.",
	})
	LinkSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_sessions_total",
		Help: "Total link sessions that reached the connected state.",
	})
	LinkState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "link_state",
		Help: "Current link worker state (0 idle, 1 connecting, 2 connected, 3 closing, 4 closed).",
	})
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "link_queue_depth",
		Help: "Commands waiting in the outbound queue.",
	})
	QueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_queue_dropped_total",
		Help: "Commands dropped by a bounded outbound queue (drop-oldest).",
	})
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_events_dropped_total",
		Help: "Link events dropped because the consumer stopped reading after stop.",
	})
	ControlRxCommands = promauto.NewCounter(prometheus.CounterOpts{
		Name: "control_rx_commands_total",
		Help: "Total commands received from control clients.",
	})
	ControlTxEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "control_tx_events_total",
		Help: "Total link events sent to control clients.",
	})
	ControlRejectedCommands = promauto.NewCounter(prometheus.CounterOpts{
		Name: "control_rejected_commands_total",
		Help: "Total control commands rejected (malformed, rate limited or overflow).",
	})
	HubDroppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_events_total",
		Help: "Total events dropped by hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Total client connection attempts rejected (e.g., max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of active connected clients.",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_broadcast_fanout",
		Help: "Number of clients targeted by the most recent broadcast.",
	})
	HubClientQueueMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_client_queue_max",
		Help: "Deepest per-client outbound queue at the last broadcast.",
	})
	HubClientQueueAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_client_queue_avg",
		Help: "Average per-client outbound queue depth at the last broadcast.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrLinkOpen      = "link_open"
	ErrLinkRead      = "link_read"
	ErrLinkWrite     = "link_write"
	ErrLinkClose     = "link_close"
	ErrTCPRead       = "tcp_read"
	ErrTCPWrite      = "tcp_write"
	ErrHandshake     = "handshake"
	ErrCommandQueue  = "command_overflow"
	ErrWebSocket     = "websocket"
	ErrMDNS          = "mdns"
	ErrPortDiscovery = "port_discovery"
)

// StartHTTP serves /metrics and /ready on addr. Extra routes registered on mux
// are served as well; a nil mux gets a fresh one.
func StartHTTP(addr string, mux *http.ServeMux) *http.Server {
	if mux == nil {
		mux = http.NewServeMux()
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localRx           uint64
	localTx           uint64
	localCorrupt      uint64
	localSessions     uint64
	localState        uint64
	localQueueDepth   uint64
	localQueueDropped uint64
	localEventDrops   uint64
	localCtlRx        uint64
	localCtlTx        uint64
	localCtlRejected  uint64
	localHubDrop      uint64
	localHubKick      uint64
	localHubReject    uint64
	localHubClients   uint64
	localErrors       uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	RxLines         uint64
	TxCommands      uint64
	CorruptLines    uint64
	Sessions        uint64
	State           uint64
	QueueDepth      uint64
	QueueDropped    uint64
	EventsDropped   uint64
	ControlRx       uint64
	ControlTx       uint64
	ControlRejected uint64
	HubDrops        uint64
	HubKicks        uint64
	HubRejects      uint64
	HubClients      uint64
	Errors          uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		RxLines:         atomic.LoadUint64(&localRx),
		TxCommands:      atomic.LoadUint64(&localTx),
		CorruptLines:    atomic.LoadUint64(&localCorrupt),
		Sessions:        atomic.LoadUint64(&localSessions),
		State:           atomic.LoadUint64(&localState),
		QueueDepth:      atomic.LoadUint64(&localQueueDepth),
		QueueDropped:    atomic.LoadUint64(&localQueueDropped),
		EventsDropped:   atomic.LoadUint64(&localEventDrops),
		ControlRx:       atomic.LoadUint64(&localCtlRx),
		ControlTx:       atomic.LoadUint64(&localCtlTx),
		ControlRejected: atomic.LoadUint64(&localCtlRejected),
		HubDrops:        atomic.LoadUint64(&localHubDrop),
		HubKicks:        atomic.LoadUint64(&localHubKick),
		HubRejects:      atomic.LoadUint64(&localHubReject),
		HubClients:      atomic.LoadUint64(&localHubClients),
		Errors:          atomic.LoadUint64(&localErrors),
	}
}

func IncRx() {
	LinkRxLines.Inc()
	atomic.AddUint64(&localRx, 1)
}

func IncTx() {
	LinkTxCommands.Inc()
	atomic.AddUint64(&localTx, 1)
}

// IncCorrupt counts an inbound line discarded by the decoder.
func IncCorrupt() {
	LinkCorruptLines.Inc()
	atomic.AddUint64(&localCorrupt, 1)
}

func IncSession() {
	LinkSessions.Inc()
	atomic.AddUint64(&localSessions, 1)
}

// SetLinkState records the numeric worker state.
func SetLinkState(s int) {
	LinkState.Set(float64(s))
	atomic.StoreUint64(&localState, uint64(s))
}

func SetQueueDepth(n int) {
	QueueDepth.Set(float64(n))
	atomic.StoreUint64(&localQueueDepth, uint64(n))
}

func IncQueueDropped() {
	QueueDropped.Inc()
	atomic.AddUint64(&localQueueDropped, 1)
}

func IncEventDropped() {
	EventsDropped.Inc()
	atomic.AddUint64(&localEventDrops, 1)
}

func IncControlRx() {
	ControlRxCommands.Inc()
	atomic.AddUint64(&localCtlRx, 1)
}

func AddControlTx(n int) {
	ControlTxEvents.Add(float64(n))
	atomic.AddUint64(&localCtlTx, uint64(n))
}

func IncControlRejected() {
	ControlRejectedCommands.Inc()
	atomic.AddUint64(&localCtlRejected, 1)
}

func IncHubDrop() {
	HubDroppedEvents.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func SetBroadcastFanout(n int) { HubBroadcastFanout.Set(float64(n)) }

// SetClientQueueDepth samples per-client queue depth (max and average).
func SetClientQueueDepth(max, avg int) {
	HubClientQueueMax.Set(float64(max))
	HubClientQueueAvg.Set(float64(avg))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register error series so dashboards see zeroes before the first failure.
	for _, lbl := range []string{
		ErrLinkOpen, ErrLinkRead, ErrLinkWrite, ErrLinkClose,
		ErrTCPRead, ErrTCPWrite, ErrHandshake, ErrCommandQueue,
		ErrWebSocket, ErrMDNS, ErrPortDiscovery,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
