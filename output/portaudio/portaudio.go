// Package portaudio plays audio blocks with the default output device.
package portaudio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	"pipelined.dev/rtmix/signal"
)

// Device is the default output device. It's not safe for concurrent use.
type Device struct {
	buf    []float32
	stream *portaudio.Stream
}

// Open initializes portaudio and starts the default output stream.
func Open(sampleRate, numChannels, blockSize int) (*Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	d := &Device{buf: make([]float32, blockSize*numChannels)}
	stream, err := portaudio.OpenDefaultStream(0, numChannels, float64(sampleRate), blockSize, &d.buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open default stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start stream: %w", err)
	}
	d.stream = stream
	return d, nil
}

// Write plays the block. It blocks until device accepts it.
func (d *Device) Write(pcm signal.PCM) error {
	if len(pcm.Data) != len(d.buf) {
		return fmt.Errorf("%w: block of %d samples, stream of %d", signal.ErrSize, len(pcm.Data), len(d.buf))
	}
	copy(d.buf, pcm.Data)
	return d.stream.Write()
}

// Close stops the stream and terminates portaudio.
func (d *Device) Close() error {
	if err := d.stream.Stop(); err != nil {
		return err
	}
	if err := d.stream.Close(); err != nil {
		return err
	}
	return portaudio.Terminate()
}
