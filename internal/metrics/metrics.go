package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cartridge/delayenv/internal/delayenv"
)

// Collector exports delay wrapper metrics to Prometheus and mirrors the
// coarse-grained ones to the log.
type Collector struct {
	logger   zerolog.Logger
	registry *prometheus.Registry

	ticks          *prometheus.CounterVec
	observationLag *prometheus.HistogramVec
	actionLag      *prometheus.HistogramVec
	droppedActions *prometheus.CounterVec
	heldObs        *prometheus.CounterVec
	episodes       *prometheus.CounterVec
	episodeReward  *prometheus.HistogramVec
	sessions       prometheus.Gauge
	apiRequests    *prometheus.CounterVec
	apiLatency     *prometheus.HistogramVec
}

func NewCollector(logger zerolog.Logger) *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	delayBuckets := prometheus.LinearBuckets(0, 1, 16)

	return &Collector{
		logger:   logger,
		registry: reg,
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "delayenv_ticks_total",
			Help: "Wrapper steps executed.",
		}, []string{"delay_mode"}),
		observationLag: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "delayenv_observation_delay_ticks",
			Help:    "Sampled observation delays.",
			Buckets: delayBuckets,
		}, []string{"delay_mode"}),
		actionLag: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "delayenv_action_delay_ticks",
			Help:    "Sampled action delays.",
			Buckets: delayBuckets,
		}, []string{"delay_mode"}),
		droppedActions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "delayenv_dropped_actions_total",
			Help: "Pending actions superseded by fresher ones and never applied.",
		}, []string{"delay_mode"}),
		heldObs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "delayenv_held_observations_total",
			Help: "Ticks on which the previous observation was repeated.",
		}, []string{"delay_mode"}),
		episodes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "delayenv_episodes_total",
			Help: "Finished episodes.",
		}, []string{"env_id", "delay_mode", "truncated"}),
		episodeReward: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "delayenv_episode_reward",
			Help:    "Undiscounted episode return.",
			Buckets: prometheus.LinearBuckets(-2000, 200, 12),
		}, []string{"env_id"}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "delayenv_sessions_active",
			Help: "Open wrapper sessions.",
		}),
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "delayenv_api_requests_total",
			Help: "HTTP API requests.",
		}, []string{"method", "route", "status"}),
		apiLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "delayenv_api_request_seconds",
			Help:    "HTTP API latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Tick records one wrapper step.
func (c *Collector) Tick(mode string, tr delayenv.Trace) {
	c.ticks.WithLabelValues(mode).Inc()
	c.observationLag.WithLabelValues(mode).Observe(float64(tr.ObservationDelay))
	c.actionLag.WithLabelValues(mode).Observe(float64(tr.ActionDelay))
	if tr.DroppedActions > 0 {
		c.droppedActions.WithLabelValues(mode).Add(float64(tr.DroppedActions))
	}
	if tr.Held {
		c.heldObs.WithLabelValues(mode).Inc()
	}
}

// EpisodeFinished records a finished episode.
func (c *Collector) EpisodeFinished(episodeID, envID, mode string, steps int, reward float64, truncated bool) {
	c.episodes.WithLabelValues(envID, mode, strconv.FormatBool(truncated)).Inc()
	c.episodeReward.WithLabelValues(envID).Observe(reward)
	c.logger.Info().
		Str("metric", "episode_finished").
		Str("episode_id", episodeID).
		Str("env_id", envID).
		Str("delay_mode", mode).
		Int("steps", steps).
		Float64("reward", reward).
		Bool("truncated", truncated).
		Msg("Episode metric")
}

// SessionsActive sets the open session gauge.
func (c *Collector) SessionsActive(n int) {
	c.sessions.Set(float64(n))
}

// SessionClosed logs why a session went away.
func (c *Collector) SessionClosed(sessionID, reason string) {
	c.logger.Info().
		Str("metric", "session_closed").
		Str("session_id", sessionID).
		Str("reason", reason).
		Msg("Session metric")
}

// APIRequest tracks API request metrics.
func (c *Collector) APIRequest(method, route string, statusCode int, duration time.Duration) {
	c.apiRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.apiLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}
