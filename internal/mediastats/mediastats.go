// Package mediastats holds the prometheus metrics of the media subsystem.
//
// A nil *Stats is valid and discards every observation, so components can be
// used without metrics.
package mediastats

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/companyzero/coachmedia/internal/netutils"
	"github.com/decred/slog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Stats tracks media subsystem metrics.
type Stats struct {
	reg *prometheus.Registry

	refreshes        *prometheus.CounterVec
	devices          *prometheus.GaugeVec
	recordings       prometheus.Counter
	recordingSeconds prometheus.Histogram
	inputLevel       prometheus.Gauge
	blobBytes        prometheus.Gauge
	playbackErrors   prometheus.Counter
}

// New creates the metrics in a new registry.
func New() *Stats {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return &Stats{
		reg: reg,

		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coachmedia_device_refreshes",
			Help: "Count of device inventory refreshes by result",
		}, []string{"result"}),
		devices: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coachmedia_devices",
			Help: "Number of input devices found on the last refresh",
		}, []string{"kind"}),
		recordings: f.NewCounter(prometheus.CounterOpts{
			Name: "coachmedia_recordings",
			Help: "Total number of finished recordings",
		}),
		recordingSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "coachmedia_recording_seconds",
			Help:    "Histogram of recording durations",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 300, 600},
		}),
		inputLevel: f.NewGauge(prometheus.GaugeOpts{
			Name: "coachmedia_input_level",
			Help: "Last published input level (0-1)",
		}),
		blobBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "coachmedia_playback_blob_bytes",
			Help: "Size of the audio blob held by the playback synchronizer",
		}),
		playbackErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "coachmedia_playback_errors",
			Help: "Count of audio resources that failed to load or play",
		}),
	}
}

// Refreshed records the result ("ok" or an error kind) of a device refresh.
func (s *Stats) Refreshed(result string) {
	if s == nil {
		return
	}
	s.refreshes.With(prometheus.Labels{"result": result}).Inc()
}

// SetDeviceCount records the number of devices of the given kind.
func (s *Stats) SetDeviceCount(kind string, n int) {
	if s == nil {
		return
	}
	s.devices.With(prometheus.Labels{"kind": kind}).Set(float64(n))
}

// RecordingFinished records a finished recording of the given duration.
func (s *Stats) RecordingFinished(d time.Duration) {
	if s == nil {
		return
	}
	s.recordings.Inc()
	s.recordingSeconds.Observe(d.Seconds())
}

// SetInputLevel records the last published input level.
func (s *Stats) SetInputLevel(level float64) {
	if s == nil {
		return
	}
	s.inputLevel.Set(level)
}

// SetBlobBytes records the size of the currently held playback blob.
func (s *Stats) SetBlobBytes(n int) {
	if s == nil {
		return
	}
	s.blobBytes.Set(float64(n))
}

// PlaybackFailed records a failure to load or play an audio resource.
func (s *Stats) PlaybackFailed() {
	if s == nil {
		return
	}
	s.playbackErrors.Inc()
}

// Handler returns the http handler that serves the metrics.
func (s *Stats) Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		s.reg, promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}),
	)
}

// RunListener serves the metrics endpoint in the given address until ctx is
// done. An address with an empty host is served on both IPv4 and IPv6.
func (s *Stats) RunListener(ctx context.Context, addr string, log slog.Logger) error {
	listeners, err := netutils.Listen(ctx, addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	hs := http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		l := l
		log.Infof("Exposing prometheus metrics on %s", l.Addr())
		g.Go(func() error {
			err := hs.Serve(l)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return hs.Shutdown(ctx)
	})
	err = g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
