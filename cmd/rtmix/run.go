package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pipelined.dev/rtmix"
	"pipelined.dev/rtmix/clock"
	"pipelined.dev/rtmix/effect/bridge"
	"pipelined.dev/rtmix/log"
	"pipelined.dev/rtmix/metric"
	"pipelined.dev/rtmix/midi"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		inProcess bool
		gain      float64
		duration  time.Duration
		midiStdin bool
		traceRate time.Duration
		metrics   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			l := ctx.log
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metrics
			}

			unlock, err := lockInstance(cfg.LockFile)
			if err != nil {
				return err
			}
			defer func() {
				if err := unlock(); err != nil {
					l.WithError(err).Warn("failed to release lock")
				}
			}()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(runCtx, duration)
				defer cancel()
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			if cfg.MetricsAddr != "" {
				srv := serveMetrics(cfg.MetricsAddr, reg, l)
				defer srv.Close()
			}

			var g *bridge.Gain
			if inProcess {
				g = bridge.NewGain(float32(gain))
			}
			c := clock.New()
			engine, err := rtmix.NewEngine(cfg, components(l, g),
				rtmix.WithLogger(l),
				rtmix.WithClock(c),
				rtmix.WithMetric(metric.New(reg)),
				rtmix.WithTraceReporter(log.NewTraceReporter(l, traceRate)),
			)
			if err != nil {
				return err
			}
			if _, err := engine.Start(); err != nil {
				return err
			}
			if midiStdin {
				go readMIDI(os.Stdin, c, engine, l)
			}

			select {
			case <-runCtx.Done():
				engine.Cancel()
			case <-engine.Done():
			}
			return engine.Err()
		},
	}
	cmd.Flags().BoolVar(&inProcess, "in-process", false, "Render the effect in this process instead of the plugin host")
	cmd.Flags().Float64Var(&gain, "gain", 1, "Gain of the in-process effect")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after duration, zero runs until interrupted")
	cmd.Flags().BoolVar(&midiStdin, "midi-stdin", false, "Read MIDI messages as hex lines from stdin")
	cmd.Flags().DurationVar(&traceRate, "trace-every", time.Second, "Minimum interval between reported buffer traces")
	cmd.Flags().StringVar(&metrics, "metrics-addr", "", "Serve metrics on address, overrides configuration")
	return cmd
}

// lockInstance takes the instance lock at path. Empty path disables
// locking.
func lockInstance(path string) (func() error, error) {
	if path == "" {
		return func() error { return nil }, nil
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errors.New("another rtmix instance is already running")
	}
	return lock.Unlock, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, l logrus.FieldLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.WithError(err).Error("metrics server failed")
		}
	}()
	l.WithField("addr", addr).Info("serving metrics")
	return srv
}

// readMIDI posts messages like "90 3c 64" read from r until it's
// exhausted.
func readMIDI(r io.Reader, c *clock.Clock, e *rtmix.Engine, l logrus.FieldLogger) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		ev, err := parseMIDI(c.Micros(), line)
		if err != nil {
			l.WithError(err).Warn("skip midi message")
			continue
		}
		if !e.PostMIDI(ev) {
			l.WithField("event", ev.String()).Debug("midi event dropped")
		}
	}
}

func parseMIDI(receivedUs int64, line string) (midi.Event, error) {
	raw, err := hex.DecodeString(strings.ReplaceAll(line, " ", ""))
	if err != nil {
		return midi.Event{}, fmt.Errorf("%w: %v", midi.ErrMessage, err)
	}
	return midi.NewEvent(receivedUs, raw)
}
