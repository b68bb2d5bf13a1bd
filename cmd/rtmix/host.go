package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pipelined.dev/rtmix/effect/bridge"
	"pipelined.dev/rtmix/shm"
)

func newHostCommand(ctx *commandContext) *cobra.Command {
	var gain float64
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Serve the plugin host on the effect socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			l := ctx.log
			if err := removeStaleSocket(cfg.Effect.Socket); err != nil {
				return err
			}
			listener, err := net.Listen("unix", cfg.Effect.Socket)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			defer os.Remove(cfg.Effect.Socket)

			dir := cfg.Effect.SegmentDir
			if dir == "" {
				dir = shm.DefaultDir
			}
			srv := bridge.NewServer(
				func(h bridge.Hello) (bridge.Processor, error) {
					l.WithFields(logrus.Fields{
						"segment":    h.Segment,
						"channels":   h.Layout.Channels,
						"blockSize":  h.Layout.BlockSize,
						"sampleRate": h.SampleRate,
					}).Info("new session")
					return bridge.NewGain(float32(gain)), nil
				},
				bridge.WithServerLogger(l),
				bridge.WithSegmentDir(dir),
			)
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Serve(runCtx, listener)
		},
	}
	cmd.Flags().Float64Var(&gain, "gain", 1, "Initial gain of the effect")
	return cmd
}

// removeStaleSocket removes socket left by previous host. Anything else
// at the path is an error.
func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	return os.Remove(path)
}
