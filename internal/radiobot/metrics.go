package radiobot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the bot's Prometheus collectors.
type Metrics struct {
	commands     *prometheus.CounterVec
	playing      prometheus.Gauge
	voice        prometheus.Gauge
	streamErrors *prometheus.CounterVec
	framesSent   prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "radiobot_commands_total",
			Help: "Chat commands handled, by command and result.",
		}, []string{"command", "result"}),
		playing: f.NewGauge(prometheus.GaugeOpts{
			Name: "radiobot_playing",
			Help: "1 while a station is streaming into voice.",
		}),
		voice: f.NewGauge(prometheus.GaugeOpts{
			Name: "radiobot_voice_connected",
			Help: "1 while the bot holds a voice connection.",
		}),
		streamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "radiobot_stream_errors_total",
			Help: "Playback failures, by stage.",
		}, []string{"stage"}),
		framesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "radiobot_frames_sent_total",
			Help: "Opus frames delivered to the voice connection.",
		}),
	}
}
