// Package telemetry holds the metric keys emitted by the fabric and the
// gateway, and builds the *metrics.Metrics instances handed to them.
package telemetry

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-metrics"
	metricsprom "github.com/hashicorp/go-metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ServiceName prefixes every key, so KeyChannelInsert is exported as
// chat.channel.insert.
const ServiceName = "chat"

var (
	KeyChannelInsert     = []string{"channel", "insert"}
	KeyChannelRemove     = []string{"channel", "remove"}
	KeyChannelDialError  = []string{"channel", "dial_error"}
	KeyChannelEmpty      = []string{"channel", "empty"}
	KeyChannelLost       = []string{"channel", "lost"}
	KeyDiscoveryEvent    = []string{"discovery", "event"}
	KeyDiscoveryWatchErr = []string{"discovery", "watch_error"}
	KeyKeepAliveLost     = []string{"registry", "keepalive_lost"}
	KeyGatewayRequest    = []string{"gateway", "request"}
	KeyGatewayBackendErr = []string{"gateway", "backend_error"}
	KeyNotifySent        = []string{"gateway", "notify", "sent"}
	KeyNotifyOffline     = []string{"gateway", "notify", "offline"}
	KeyNotifyDropped     = []string{"gateway", "notify", "dropped"}
	KeyConnections       = []string{"gateway", "connections"}
)

type Label string

const (
	LabelService Label = "service"
	LabelEvent   Label = "event"
	LabelRoute   Label = "route"
	LabelType    Label = "type"
)

// M builds a metric label.
func (lab Label) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

// L builds the matching log field.
func (lab Label) L(val string) zap.Field {
	return zap.String(string(lab), val)
}

func config() *metrics.Config {
	cfg := metrics.DefaultConfig(ServiceName)
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = false
	cfg.TimerGranularity = time.Millisecond
	return cfg
}

// New returns a Metrics instance writing to sink.
func New(sink metrics.MetricSink) (*metrics.Metrics, error) {
	if sink == nil {
		sink = &metrics.BlackholeSink{}
	}
	return metrics.New(config(), sink)
}

// Nop returns a Metrics instance that discards everything.
func Nop() *metrics.Metrics {
	m, err := New(&metrics.BlackholeSink{})
	if err != nil {
		// metrics.New only fails when runtime metrics cannot start, which config disables.
		panic(err)
	}
	return m
}

// OrNop returns m, or a discarding instance when m is nil.
func OrNop(m *metrics.Metrics) *metrics.Metrics {
	if m == nil {
		return Nop()
	}
	return m
}

// NewPrometheus wires a Prometheus sink and returns the handler serving it.
func NewPrometheus() (*metrics.Metrics, http.Handler, error) {
	sink, err := metricsprom.NewPrometheusSink()
	if err != nil {
		return nil, nil, err
	}
	m, err := New(sink)
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}
