// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package pushgateway pushes charm liveness metrics to the Prometheus
// push gateway the KPI scripts report to.
package pushgateway

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/proxy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"golang.org/x/net/http/httpproxy"
)

var logger = loggo.GetLogger("kpi.pushgateway")

const (
	// DefaultPort is the port the push gateway listens on when the
	// relation only supplies an address.
	DefaultPort = "9091"

	// DefaultTimeout bounds a push when Config.Timeout is not set.
	DefaultTimeout = 10 * time.Second

	// Job is the push gateway job heartbeats are grouped under.
	Job = "kpi_charm"

	metricsNamespace = "kpi_charm"
)

// URL returns the push gateway URL for addr, which may or may not carry
// a scheme or port.
func URL(addr string) (string, error) {
	if addr == "" {
		return "", errors.NotValidf("empty push gateway address")
	}
	scheme := "http://"
	if i := strings.Index(addr, "://"); i >= 0 {
		scheme, addr = addr[:i+3], addr[i+3:]
	}
	addr = strings.TrimSuffix(addr, "/")
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(strings.Trim(addr, "[]"), DefaultPort)
	}
	return scheme + addr, nil
}

// Config holds the dependencies of a Heartbeat.
type Config struct {
	// Charm and Unit identify the pushing unit.
	Charm string
	Unit  string

	Clock clock.Clock

	// Client, if set, is used instead of http.DefaultClient.
	Client push.HTTPDoer

	// Timeout bounds each push. DefaultTimeout is used when it is zero.
	Timeout time.Duration
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if c.Charm == "" {
		return errors.NotValidf("empty Charm")
	}
	if c.Unit == "" {
		return errors.NotValidf("empty Unit")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Heartbeat is a prometheus.Collector holding the time a charm last ran
// a hook successfully.
type Heartbeat struct {
	config    Config
	timestamp prometheus.Gauge
}

// NewHeartbeat returns a Heartbeat for the unit described by config.
func NewHeartbeat(config Config) (*Heartbeat, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Heartbeat{
		config: config,
		timestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "heartbeat_timestamp_seconds",
			Help:      "The time the charm last reported in, in seconds since the epoch.",
		}),
	}, nil
}

// Describe is part of the prometheus.Collector interface.
func (h *Heartbeat) Describe(ch chan<- *prometheus.Desc) {
	h.timestamp.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (h *Heartbeat) Collect(ch chan<- prometheus.Metric) {
	h.timestamp.Collect(ch)
}

// Push records the current time and pushes it to the gateway at addr,
// replacing the unit's previous heartbeat.
func (h *Heartbeat) Push(ctx context.Context, addr string) error {
	url, err := URL(addr)
	if err != nil {
		return errors.Trace(err)
	}
	now := h.config.Clock.Now()
	h.timestamp.Set(float64(now.UnixNano()) / 1e9)

	pusher := push.New(url, Job).
		Collector(h).
		Grouping("charm", h.config.Charm).
		Grouping("unit", h.config.Unit)
	if h.config.Client != nil {
		pusher = pusher.Client(h.config.Client)
	}
	timeout := h.config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Debugf("pushing heartbeat for %s to %s", h.config.Unit, url)
	if err := pusher.PushContext(ctx); err != nil {
		return errors.Annotatef(err, "pushing heartbeat to %s", url)
	}
	return nil
}

// NewClient returns an HTTP client for pushing to the gateway through
// the model's proxy settings.
func NewClient(settings proxy.Settings) *http.Client {
	proxyFunc := (&httpproxy.Config{
		HTTPProxy:  settings.Http,
		HTTPSProxy: settings.Https,
		NoProxy:    settings.NoProxy,
	}).ProxyFunc()
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		return proxyFunc(req.URL)
	}
	return &http.Client{
		Transport: transport,
		Timeout:   DefaultTimeout,
	}
}
