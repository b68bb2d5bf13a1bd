// Package output provides local outputs of the audio path.
package output

import "pipelined.dev/rtmix/signal"

// Discard drops all blocks.
type Discard struct{}

// Write implements output.
func (Discard) Write(signal.PCM) error {
	return nil
}

// Close implements output.
func (Discard) Close() error {
	return nil
}
