package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"pipelined.dev/rtmix"
	"pipelined.dev/rtmix/codec/jpeg"
	"pipelined.dev/rtmix/codec/mp3"
	"pipelined.dev/rtmix/codec/pcm16"
	"pipelined.dev/rtmix/config"
	"pipelined.dev/rtmix/effect/bridge"
	"pipelined.dev/rtmix/ingest/udp"
	"pipelined.dev/rtmix/ingest/ws"
	"pipelined.dev/rtmix/output"
	"pipelined.dev/rtmix/output/portaudio"
	"pipelined.dev/rtmix/output/wav"
	"pipelined.dev/rtmix/shm"
	"pipelined.dev/rtmix/signal"
	"pipelined.dev/rtmix/viz"
)

const (
	// fftSize is the analysis window of the visualizer.
	fftSize = 2048
	// mp3 encoder settings, quality is LAME's 0 (best) to 9 (fastest).
	mp3BitRate = 128_000
	mp3Quality = 2
)

// components returns collaborators selected by configuration. If gain is
// not nil, the effect is rendered in this process instead of the plugin
// host.
func components(l logrus.FieldLogger, gain *bridge.Gain) rtmix.Components {
	return rtmix.Components{
		Effect: func(ctx context.Context, cfg config.Config, seg *shm.Segment, layout shm.Layout) (rtmix.Effect, error) {
			if gain != nil {
				return bridge.NewLocal(gain), nil
			}
			return bridge.Dial(ctx, cfg.Effect.Socket, seg, layout,
				bridge.WithLogger(l.WithField("effect", cfg.EffectName)),
				bridge.WithTimeout(cfg.Effect.Timeout),
				bridge.WithSampleRate(cfg.SampleRate),
			)
		},
		AudioEncoder: func(cfg config.Config) (rtmix.AudioEncoder, error) {
			switch cfg.Codec.Audio {
			case config.CodecPCM16:
				return pcm16.New(), nil
			case config.CodecMP3:
				return mp3.New(cfg.SampleRate, cfg.Channels, mp3BitRate, mp3Quality)
			}
			return nil, fmt.Errorf("unknown audio codec %q", cfg.Codec.Audio)
		},
		VideoEncoder: func(cfg config.Config) (rtmix.VideoEncoder, error) {
			return jpeg.New(cfg.Codec.Quality)
		},
		Visualizer: func(cfg config.Config) (rtmix.Visualizer, error) {
			return viz.New(fftSize)
		},
		Ingest: func(cfg config.Config) (rtmix.Ingest, error) {
			switch cfg.Ingest.Kind {
			case config.IngestWebSocket:
				return ws.New(cfg.Ingest.Endpoint, cfg.Ingest.StreamKey, cfg.Ingest.Timeout, l), nil
			case config.IngestUDP:
				return udp.New(cfg.Ingest.Endpoint, cfg.Ingest.Timeout, l), nil
			}
			return nil, fmt.Errorf("unknown ingest kind %q", cfg.Ingest.Kind)
		},
		Output: func(cfg config.Config) (rtmix.Output, error) {
			switch cfg.Output.Kind {
			case config.OutputPortAudio:
				return portaudio.Open(cfg.SampleRate, cfg.Channels, cfg.BlockSize())
			case config.OutputWav:
				return wav.NewRecorder(cfg.Output.Path, cfg.SampleRate, cfg.Channels, signal.BitDepth16)
			case config.OutputDiscard:
				return output.Discard{}, nil
			}
			return nil, fmt.Errorf("unknown output kind %q", cfg.Output.Kind)
		},
	}
}
