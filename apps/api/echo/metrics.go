package echoapi

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics are registered on a registry of their own so that several servers can live in one process (tests).
type metrics struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	messagesAppended    *prometheus.CounterVec
	roomsCreated        *prometheus.CounterVec
	privateRoomsReused  prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests"},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),
		messagesAppended: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "chat_messages_appended_total", Help: "Total chat messages appended"},
			[]string{"content_type"},
		),
		roomsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "chat_rooms_created_total", Help: "Total chat rooms created"},
			[]string{"type"},
		),
		privateRoomsReused: factory.NewCounter(
			prometheus.CounterOpts{Name: "chat_private_rooms_reused_total", Help: "Private room requests answered with an existing room"},
		),
	}
}

func (m *metrics) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		start := time.Now()
		err := next(ctx)

		path := ctx.Path() // route pattern, not the raw url
		if path == "" {
			path = "unmatched"
		}
		status := ctx.Response().Status
		if herr, ok := err.(*echo.HTTPError); ok && !ctx.Response().Committed {
			status = herr.Code
		}
		m.httpRequests.WithLabelValues(ctx.Request().Method, path, strconv.Itoa(status)).Inc()
		m.httpRequestDuration.WithLabelValues(ctx.Request().Method, path).Observe(time.Since(start).Seconds())
		return err
	}
}

func (m *metrics) handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
