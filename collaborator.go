package rtmix

import (
	"context"

	"pipelined.dev/rtmix/ingest"
	"pipelined.dev/rtmix/midi"
	"pipelined.dev/rtmix/pool"
	"pipelined.dev/rtmix/signal"
)

type (
	// Effect is the plugin effect that renders audio in place.
	Effect interface {
		// ProcessEvent applies pending MIDI events received up to timeUs.
		// It must not block.
		ProcessEvent(timeUs int64, events midi.Source) error
		// ProcessReplacing renders the block in place. It must finish
		// within the audio cadence.
		ProcessReplacing(ctx context.Context, timeUs int64, block *pool.Buffer[signal.Planar]) error
	}

	// Editor is implemented by effects that provide GUI editor.
	Editor interface {
		OpenEditor() error
		CloseEditor() error
	}

	// AudioEncoder encodes PCM blocks. Output packet is pre-sized by the
	// caller with PacketSize bytes.
	AudioEncoder interface {
		Encode(in signal.PCM, out *signal.Packet) error
		PacketSize(blockSize, numChannels int) int
	}

	// VideoEncoder encodes frames. Keyframe is requested by the caller.
	VideoEncoder interface {
		Encode(in signal.Frame, out *signal.Packet, keyframe bool) error
		PacketSize(width, height int) int
	}

	// Visualizer folds audio blocks and MIDI events into its state and
	// renders it into frames. It must be safe for concurrent use.
	Visualizer interface {
		Accumulate(signal.PCM)
		Note(midi.Event)
		Render(signal.Frame)
	}

	// Ingest sends encoded units to remote endpoint.
	Ingest interface {
		Connect(context.Context) error
		Send(context.Context, ingest.Unit) error
		Close() error
	}

	// Output is the local output device.
	Output interface {
		Write(signal.PCM) error
		Close() error
	}
)
