// Package metrics holds the pipeline's Prometheus collectors and timing accumulators.
package metrics

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Pipeline stages, in the order a frame passes through them.
const (
	StageCapture = "capture"
	StageDecode  = "decode"
	StagePersist = "persist"
	StagePublish = "publish"
)

// Stages lists every stage name.
var Stages = []string{StageCapture, StageDecode, StagePersist, StagePublish}

// Metrics is owned by the App. Each App gets its own registry.
type Metrics struct {
	Registry *prometheus.Registry

	StageDuration *prometheus.HistogramVec
	Frames        prometheus.Counter
	StaleFrames   prometheus.Counter
	SavedFrames   prometheus.Counter
	Detections    *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aicam",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each stage of the frame loop.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"stage"}),
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aicam",
			Name:      "frames_total",
			Help:      "Frames processed by the loop.",
		}),
		StaleFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aicam",
			Name:      "stale_frames_total",
			Help:      "Frames that carried no network outputs.",
		}),
		SavedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aicam",
			Name:      "saved_frames_total",
			Help:      "Frames written to disk.",
		}),
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aicam",
			Name:      "detections_total",
			Help:      "Detections reported, by label.",
		}, []string{"label"}),
	}
	m.Registry.MustRegister(
		m.StageDuration,
		m.Frames,
		m.StaleFrames,
		m.SavedFrames,
		m.Detections,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// TimeAccumulator sums how long something took.
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return a.Total / time.Duration(a.Samples)
}

// StageTimes accumulates per-stage timings between console reports.
// It is not safe for concurrent use.
type StageTimes struct {
	acc map[string]*TimeAccumulator
}

func NewStageTimes() *StageTimes {
	st := &StageTimes{acc: map[string]*TimeAccumulator{}}
	for _, s := range Stages {
		st.acc[s] = &TimeAccumulator{}
	}
	return st
}

func (st *StageTimes) Add(stage string, d time.Duration) {
	a, ok := st.acc[stage]
	if !ok {
		a = &TimeAccumulator{}
		st.acc[stage] = a
	}
	a.AddSample(d)
}

func (st *StageTimes) Get(stage string) TimeAccumulator {
	if a, ok := st.acc[stage]; ok {
		return *a
	}
	return TimeAccumulator{}
}

// Summary formats the average of each stage and resets the accumulators.
func (st *StageTimes) Summary() string {
	b := &strings.Builder{}
	for i, s := range Stages {
		if i != 0 {
			b.WriteString(", ")
		}
		a := st.acc[s]
		fmt.Fprintf(b, "%v %.1f ms", s, float64(a.Average().Microseconds())/1000)
		a.Reset()
	}
	return b.String()
}
