// Package metrics exposes the pipeline's prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every instrument. Construct one at startup and pass it
// explicitly; there are no package-level instruments.
type Metrics struct {
	Sentences        prometheus.Counter
	Interims         prometheus.Counter
	Translations     *prometheus.CounterVec // result: ok|passthrough|skipped
	Synthesis        *prometheus.CounterVec // result: ok|error
	SynthesisCache   *prometheus.CounterVec // outcome: hit|miss
	FramesDropped    *prometheus.CounterVec // reason: rate_limit|unbound|unauthorized|oversize
	BroadcastDropped prometheus.Counter
	StreamRotations  prometheus.Counter
	Rooms            prometheus.Gauge
	SpeakerStreams   prometheus.Gauge
}

// New registers all instruments against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Sentences: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxmeet_sentences_total",
			Help: "Finalized sentences emitted by speaker streams.",
		}),
		Interims: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxmeet_interims_total",
			Help: "Interim transcripts broadcast as live feedback.",
		}),
		Translations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxmeet_translations_total",
			Help: "Translation calls by result.",
		}, []string{"result"}),
		Synthesis: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxmeet_synthesis_total",
			Help: "Synthesis calls by result.",
		}, []string{"result"}),
		SynthesisCache: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxmeet_synthesis_cache_total",
			Help: "Synthesis cache lookups by outcome.",
		}, []string{"outcome"}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxmeet_frames_dropped_total",
			Help: "Inbound audio frames dropped by reason.",
		}, []string{"reason"}),
		BroadcastDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxmeet_broadcast_dropped_total",
			Help: "Broadcast messages dropped for saturated listeners.",
		}),
		StreamRotations: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxmeet_stream_rotations_total",
			Help: "Completed STT stream rotations.",
		}),
		Rooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxmeet_rooms",
			Help: "Live session rooms.",
		}),
		SpeakerStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxmeet_speaker_streams",
			Help: "Live speaker streams.",
		}),
	}
}

// NewNop returns metrics bound to a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
