package silence

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/loqalabs/loqa-asr/internal/config"
)

// Recorder segments a voice command out of a stream of 16-bit PCM chunks.
type Recorder interface {
	// Start resets the recorder for a new command.
	Start()
	// ProcessChunk buffers a chunk and reports whether the command has ended.
	ProcessChunk(chunk []byte) bool
	// Stop returns the recorded command audio, trimmed to the phrase and the
	// configured lead-in.
	Stop() []byte
}

// Params tunes the energy-based detector. Durations are in seconds.
type Params struct {
	SkipSeconds    float64
	MinSeconds     float64
	MaxSeconds     float64
	SpeechSeconds  float64
	SilenceSeconds float64
	BeforeSeconds  float64
	WindowMS       int
	ThresholdDBFS  float64
	SampleRate     int
	Channels       int
}

// ParamsFromConfig binds detector settings to the audio format frames are
// normalized to.
func ParamsFromConfig(cfg config.SilenceConfig, sampleRate, channels int) Params {
	return Params{
		SkipSeconds:    cfg.SkipSeconds,
		MinSeconds:     cfg.MinSeconds,
		MaxSeconds:     cfg.MaxSeconds,
		SpeechSeconds:  cfg.SpeechSeconds,
		SilenceSeconds: cfg.SilenceSeconds,
		BeforeSeconds:  cfg.BeforeSeconds,
		WindowMS:       cfg.WindowMS,
		ThresholdDBFS:  cfg.EnergyThresholdDBFS,
		SampleRate:     sampleRate,
		Channels:       channels,
	}
}

type energyRecorder struct {
	params      Params
	windowBytes int
	windowSecs  float64

	skipBytes      int
	speechWindows  int
	silenceWindows int
	minWindows     int
	maxWindows     int
	beforeWindows  int

	pending       []byte
	before        [][]byte
	phrase        []byte
	inPhrase      bool
	speechRun     int
	silenceRun    int
	phraseWindows int
	ended         bool
}

// New returns an energy-threshold recorder.
func New(p Params) (Recorder, error) {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return nil, errors.New("silence: sample rate and channels must be positive")
	}
	if p.WindowMS <= 0 {
		return nil, errors.New("silence: window must be positive")
	}
	frameBytes := 2 * p.Channels
	windowFrames := p.SampleRate * p.WindowMS / 1000
	if windowFrames <= 0 {
		return nil, errors.New("silence: window shorter than one sample")
	}
	r := &energyRecorder{
		params:      p,
		windowBytes: windowFrames * frameBytes,
		windowSecs:  float64(p.WindowMS) / 1000,
	}
	r.skipBytes = int(p.SkipSeconds*float64(p.SampleRate)) * frameBytes
	r.speechWindows = max(1, r.windows(p.SpeechSeconds))
	r.silenceWindows = max(1, r.windows(p.SilenceSeconds))
	r.minWindows = r.windows(p.MinSeconds)
	r.maxWindows = r.windows(p.MaxSeconds)
	r.beforeWindows = r.windows(p.BeforeSeconds)
	r.Start()
	return r, nil
}

func (r *energyRecorder) windows(seconds float64) int {
	if seconds <= 0 {
		return 0
	}
	return int(math.Ceil(seconds / r.windowSecs))
}

func (r *energyRecorder) Start() {
	r.pending = nil
	r.before = nil
	r.phrase = nil
	r.inPhrase = false
	r.speechRun = 0
	r.silenceRun = 0
	r.phraseWindows = 0
	r.ended = false
	r.skipBytes = int(r.params.SkipSeconds*float64(r.params.SampleRate)) * 2 * r.params.Channels
}

func (r *energyRecorder) ProcessChunk(chunk []byte) bool {
	r.pending = append(r.pending, chunk...)
	for !r.ended && len(r.pending) >= r.windowBytes {
		window := r.pending[:r.windowBytes:r.windowBytes]
		r.pending = r.pending[r.windowBytes:]
		if r.skipBytes > 0 {
			r.skipBytes -= len(window)
			continue
		}
		r.processWindow(window, dbfs(window) > r.params.ThresholdDBFS)
	}
	return r.ended
}

func (r *energyRecorder) processWindow(window []byte, speech bool) {
	if !r.inPhrase {
		r.before = append(r.before, window)
		if keep := r.beforeWindows + r.speechWindows; len(r.before) > keep {
			r.before = r.before[len(r.before)-keep:]
		}
		if speech {
			r.speechRun++
		} else {
			r.speechRun = 0
		}
		if r.speechRun >= r.speechWindows {
			r.inPhrase = true
			for _, w := range r.before {
				r.phrase = append(r.phrase, w...)
			}
			r.before = nil
			r.phraseWindows = r.speechRun
		}
		return
	}

	r.phrase = append(r.phrase, window...)
	r.phraseWindows++
	if speech {
		r.silenceRun = 0
	} else {
		r.silenceRun++
	}
	switch {
	case r.maxWindows > 0 && r.phraseWindows >= r.maxWindows:
		r.ended = true
	case r.phraseWindows >= r.minWindows && r.silenceRun >= r.silenceWindows:
		r.ended = true
	}
}

func (r *energyRecorder) Stop() []byte {
	var out []byte
	if r.inPhrase {
		out = append(out, r.phrase...)
	} else {
		for _, w := range r.before {
			out = append(out, w...)
		}
	}
	if !r.ended {
		out = append(out, r.pending...)
	}
	return out
}

// dbfs returns the RMS level of 16-bit samples relative to full scale.
func dbfs(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(n))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/32768)
}
