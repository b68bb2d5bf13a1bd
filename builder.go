package rtmix

import (
	"context"
	"errors"
	"fmt"
	"io"

	"pipelined.dev/rtmix/clock"
	"pipelined.dev/rtmix/config"
	"pipelined.dev/rtmix/ingest"
	"pipelined.dev/rtmix/internal/sched"
	"pipelined.dev/rtmix/midi"
	"pipelined.dev/rtmix/pool"
	"pipelined.dev/rtmix/shm"
	"pipelined.dev/rtmix/signal"
)

const (
	// midiQueueSize is the capacity of audio side input.
	midiQueueSize = 256
	// midiEventBuffers is the number of pooled events delivered to the
	// visualizer.
	midiEventBuffers = 64
)

// Components provides collaborators for a single run. Factories are called
// on every build, collaborators that implement io.Closer are closed on
// teardown.
type Components struct {
	Effect       func(ctx context.Context, cfg config.Config, seg *shm.Segment, l shm.Layout) (Effect, error)
	AudioEncoder func(cfg config.Config) (AudioEncoder, error)
	VideoEncoder func(cfg config.Config) (VideoEncoder, error)
	Visualizer   func(cfg config.Config) (Visualizer, error)
	Ingest       func(cfg config.Config) (Ingest, error)
	Output       func(cfg config.Config) (Output, error)
}

func (c Components) validate(cfg config.Config) error {
	var errs []error
	require := func(ok bool, name string) {
		if !ok {
			errs = append(errs, fmt.Errorf("%s component is required", name))
		}
	}
	require(c.Effect != nil, "effect")
	require(!cfg.Local || c.Output != nil, "output")
	require(!cfg.Connect || c.Ingest != nil, "ingest")
	require(!cfg.Connect || c.AudioEncoder != nil, "audio encoder")
	require(!cfg.Video || c.Visualizer != nil, "visualizer")
	require(!cfg.Video || c.VideoEncoder != nil, "video encoder")
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// Build creates all pools, links and stages of the pipeline selected by
// configuration:
//
//	audio.source -> audio.effect -> [audio.encode -> audio.ingest] -> audio.output -> [visual.accumulate]
//	[video.source -> video.encode -> video.ingest|video.discard]
//
// Construction errors abort the build before any stage runs, resources
// created so far are released.
func Build(ctx context.Context, cfg config.Config, c Components, opts ...Option) (*Pipeline, error) {
	return build(ctx, cfg, c, newOptions(opts))
}

func build(ctx context.Context, cfg config.Config, c Components, o options) (p *Pipeline, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := c.validate(cfg); err != nil {
		return nil, err
	}
	b := builder{
		cfg:     cfg,
		c:       c,
		options: o,
		p:       NewPipeline(o.clock, o.log, o.metric),
		queue:   midi.NewQueue(midiQueueSize),
	}
	defer func() {
		if err != nil {
			_ = b.p.Close(context.Background())
			p = nil
		}
	}()
	if err := b.audio(ctx); err != nil {
		return nil, err
	}
	if cfg.Video {
		if err := b.video(); err != nil {
			return nil, err
		}
	}
	targets := []midi.Target{b.queue}
	if b.notes != nil {
		targets = append(targets, b.notes)
	}
	o.router.Attach(targets...)
	b.p.onStop(o.router.Detach)
	b.p.log.WithField("stages", b.p.Stages()).Info("pipeline built")
	return b.p, nil
}

type builder struct {
	cfg config.Config
	c   Components
	options
	p *Pipeline

	queue  *midi.Queue
	pcm    *pool.Pool[signal.PCM]
	visual *Link[signal.PCM]
	ingest Ingest
	viz    Visualizer
	notes  midi.Target
}

func (b *builder) realtime(name string) []StageOption {
	return []StageOption{
		WithClass(sched.RealTime),
		WithMeter(b.metric.Meter(name, b.cfg.SampleRate), int64(b.cfg.BlockSize())),
	}
}

func (b *builder) background(name string) []StageOption {
	return []StageOption{
		WithClass(sched.Background),
		WithMeter(b.metric.Meter(name, 0), 0),
	}
}

func poolOf[T any](b *builder, name string, factory pool.Factory[T]) (*pool.Pool[T], error) {
	return poolSized(b, name, b.cfg.BufferCount, factory)
}

func poolSized[T any](b *builder, name string, capacity int, factory pool.Factory[T]) (*pool.Pool[T], error) {
	p, err := pool.New(capacity, factory,
		pool.WithName(name),
		pool.WithLogger(b.log),
		pool.WithFreeGauge(b.metric.PoolFree(name)),
	)
	if err != nil {
		return nil, err
	}
	b.p.deferClose(name, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, b.teardown)
		defer cancel()
		return p.Close(ctx)
	})
	return p, nil
}

func packets(size int) pool.Factory[*signal.Packet] {
	return func(int) (*signal.Packet, error) {
		p := signal.NewPacket(size)
		return &p, nil
	}
}

// closeLater registers collaborator to be closed on teardown.
func (b *builder) closeLater(name string, v any) {
	if c, ok := v.(io.Closer); ok {
		b.p.deferClose(name, func(context.Context) error {
			return c.Close()
		})
	}
}

func (b *builder) audio(ctx context.Context) error {
	cfg := b.cfg
	blockSize, channels := cfg.BlockSize(), cfg.Channels
	layout := shm.Layout{
		Channels:  channels,
		BlockSize: blockSize,
		SlotCount: cfg.BufferCount,
	}
	var segOpts []shm.Option
	if cfg.Effect.SegmentDir != "" {
		segOpts = append(segOpts, shm.WithDir(cfg.Effect.SegmentDir))
	}
	seg, err := shm.Create(shm.UniqueName("rtmix-audio"), layout, segOpts...)
	if err != nil {
		return err
	}
	var planar *pool.Pool[signal.Planar]
	b.p.deferClose("segment", func(context.Context) error {
		// views must not outlive the mapping
		if planar != nil && planar.Borrowed() > 0 {
			return fmt.Errorf("segment %s kept mapped: %d buffers outstanding", seg.Name(), planar.Borrowed())
		}
		return seg.Close()
	})
	if planar, err = poolOf(b, "audio.planar", shm.PlanarFactory(seg, layout)); err != nil {
		return err
	}

	effect, err := b.c.Effect(ctx, cfg, seg, layout)
	if err != nil {
		return fmt.Errorf("effect %s: %w", cfg.EffectName, err)
	}
	b.closeLater("effect", effect)
	b.p.effect = effect

	if b.pcm, err = poolOf(b, "audio.pcm", func(int) (signal.PCM, error) {
		return signal.NewPCM(channels, blockSize), nil
	}); err != nil {
		return err
	}

	w, err := clock.NewWaiter(b.clock, cfg.AudioInterval(),
		clock.WithName("audio"),
		clock.WithLogger(b.log),
		clock.WithResync(cfg.ResyncAfter()),
		clock.WithOverrunHook(b.metric.Overrun("audio")),
	)
	if err != nil {
		return fmt.Errorf("%w: audio cadence: %w", ErrConfiguration, err)
	}

	planarLink := NewLink("audio.planar", planar)
	pcmLink := NewLink("audio.pcm", b.pcm)
	b.p.track(planarLink, pcmLink)

	queue := b.queue
	b.p.Add(
		NewSource("audio.source", b.clock, w, planarLink,
			func(_ context.Context, buf *pool.Buffer[signal.Planar]) error {
				buf.Payload().Zero()
				return nil
			},
			append(b.realtime("audio.source"), WithStart(func(context.Context) error {
				queue.Reset()
				return nil
			}))...,
		),
		NewTransform("audio.effect", b.clock, planarLink, pcmLink, nil,
			func(ctx context.Context, in *pool.Buffer[signal.Planar], out *pool.Buffer[signal.PCM]) error {
				if err := effect.ProcessEvent(in.Time, queue); err != nil {
					return err
				}
				if err := effect.ProcessReplacing(ctx, in.Time, in); err != nil {
					return err
				}
				return signal.Interleave(in.Payload(), out.Payload())
			},
			b.realtime("audio.effect")...,
		),
	)

	next := pcmLink
	if cfg.Connect {
		if next, err = b.audioIngest(ctx, pcmLink); err != nil {
			return err
		}
	}

	var out Output
	if cfg.Local {
		if out, err = b.c.Output(cfg); err != nil {
			return fmt.Errorf("output %s: %w", cfg.Output.Kind, err)
		}
		b.closeLater("output", out)
	}
	if cfg.Video {
		b.visual = NewLink("audio.visual", b.pcm)
		b.p.track(b.visual)
	}
	tracer := b.tracer
	report := b.visual == nil
	b.p.Add(NewSink("audio.output", b.clock, next, b.visual,
		func(_ context.Context, buf *pool.Buffer[signal.PCM]) error {
			if out != nil {
				if err := out.Write(buf.Payload()); err != nil {
					return err
				}
			}
			if report {
				tracer.Report("audio", &buf.Trace)
			}
			return nil
		},
		b.realtime("audio.output")...,
	))
	return nil
}

// connect creates ingest session once for both paths.
func (b *builder) connect(ctx context.Context) (Ingest, error) {
	if b.ingest != nil {
		return b.ingest, nil
	}
	i, err := b.c.Ingest(b.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIngestUnavailable, err)
	}
	if err := i.Connect(ctx); err != nil {
		if !errors.Is(err, ErrIngestUnavailable) {
			err = fmt.Errorf("%w: %w", ErrIngestUnavailable, err)
		}
		return nil, err
	}
	b.p.deferClose("ingest", func(context.Context) error {
		return i.Close()
	})
	b.ingest = i
	return i, nil
}

func (b *builder) audioIngest(ctx context.Context, in *Link[signal.PCM]) (*Link[signal.PCM], error) {
	cfg := b.cfg
	i, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}
	enc, err := b.c.AudioEncoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("audio encoder %s: %w", cfg.Codec.Audio, err)
	}
	b.closeLater("audio.encoder", enc)
	packetPool, err := poolOf(b, "audio.packet", packets(enc.PacketSize(cfg.BlockSize(), cfg.Channels)))
	if err != nil {
		return nil, err
	}
	packetLink := NewLink("audio.packet", packetPool)
	pass := NewLink("audio.encoded", b.pcm)
	b.p.track(packetLink, pass)
	b.p.Add(
		NewTransform("audio.encode", b.clock, in, packetLink, pass,
			func(_ context.Context, in *pool.Buffer[signal.PCM], out *pool.Buffer[*signal.Packet]) error {
				pk := out.Payload()
				pk.Reset()
				return enc.Encode(in.Payload(), pk)
			},
			b.realtime("audio.encode")...,
		),
		NewSink("audio.ingest", b.clock, packetLink, nil, send(i, ingest.Audio), b.realtime("audio.ingest")...),
	)
	return pass, nil
}

func send(i Ingest, kind ingest.Kind) func(context.Context, *pool.Buffer[*signal.Packet]) error {
	return func(ctx context.Context, buf *pool.Buffer[*signal.Packet]) error {
		pk := buf.Payload()
		return i.Send(ctx, ingest.Unit{
			Kind:     kind,
			Seq:      buf.Seq,
			TimeUs:   buf.Time,
			Keyframe: pk.Keyframe,
			Payload:  pk.Bytes(),
		})
	}
}

func (b *builder) video() error {
	cfg := b.cfg
	viz, err := b.c.Visualizer(cfg)
	if err != nil {
		return fmt.Errorf("visualizer: %w", err)
	}
	b.closeLater("visualizer", viz)

	// midi events are delivered to the visualizer through pooled link
	eventPool, err := poolSized(b, "visual.midi", midiEventBuffers, func(int) (*midi.Event, error) {
		return &midi.Event{}, nil
	})
	if err != nil {
		return err
	}
	eventLink := NewLink("visual.midi", eventPool)
	b.p.track(eventLink)
	b.notes = linkTarget{eventLink}

	tracer := b.tracer
	b.p.Add(NewMergeSink("visual.accumulate", b.clock, []Inlet{
		NewInlet(b.visual, func(_ context.Context, buf *pool.Buffer[signal.PCM]) error {
			viz.Accumulate(buf.Payload())
			tracer.Report("audio", &buf.Trace)
			return nil
		}),
		NewSideInlet(eventLink, func(_ context.Context, buf *pool.Buffer[*midi.Event]) error {
			viz.Note(*buf.Payload())
			return nil
		}),
	}, b.background("visual.accumulate")...))

	enc, err := b.c.VideoEncoder(cfg)
	if err != nil {
		return fmt.Errorf("video encoder %s: %w", cfg.Codec.Video, err)
	}
	b.closeLater("video.encoder", enc)
	frames, err := poolOf(b, "video.frame", func(int) (signal.Frame, error) {
		return signal.NewFrame(cfg.Width, cfg.Height), nil
	})
	if err != nil {
		return err
	}
	packetPool, err := poolOf(b, "video.packet", packets(enc.PacketSize(cfg.Width, cfg.Height)))
	if err != nil {
		return err
	}
	frameLink := NewLink("video.frame", frames)
	packetLink := NewLink("video.packet", packetPool)
	b.p.track(frameLink, packetLink)

	w, err := clock.NewWaiter(b.clock, cfg.VideoInterval(),
		clock.WithName("video"),
		clock.WithLogger(b.log),
		clock.WithResync(cfg.ResyncAfter()),
		clock.WithOverrunHook(b.metric.Overrun("video")),
	)
	if err != nil {
		return fmt.Errorf("%w: video cadence: %w", ErrConfiguration, err)
	}

	kf := keyframes{
		intervalUs: int64(cfg.IntraFrameIntervalUs),
		stepUs:     cfg.VideoInterval().Microseconds(),
	}
	b.p.Add(
		NewSource("video.source", b.clock, w, frameLink, nil, b.background("video.source")...),
		NewTransform("video.encode", b.clock, frameLink, packetLink, nil,
			func(_ context.Context, in *pool.Buffer[signal.Frame], out *pool.Buffer[*signal.Packet]) error {
				viz.Render(in.Payload())
				keyframe := kf.next()
				pk := out.Payload()
				pk.Reset()
				if err := enc.Encode(in.Payload(), pk, keyframe); err != nil {
					return err
				}
				pk.Keyframe = pk.Keyframe || keyframe
				return nil
			},
			append(b.background("video.encode"), WithStart(func(context.Context) error {
				kf.reset()
				return nil
			}))...,
		),
	)

	if !cfg.Connect {
		b.p.Add(NewSink("video.discard", b.clock, packetLink, nil,
			func(context.Context, *pool.Buffer[*signal.Packet]) error { return nil },
			b.background("video.discard")...,
		))
		return nil
	}
	b.p.Add(NewSink("video.ingest", b.clock, packetLink, nil, send(b.ingest, ingest.Video), b.background("video.ingest")...))
	return nil
}

// linkTarget delivers events into the link without blocking. Events are
// dropped if pool or link is exhausted.
type linkTarget struct {
	link *Link[*midi.Event]
}

func (t linkTarget) Post(e midi.Event) bool {
	buf, ok := t.link.Pool().TryReceive()
	if !ok {
		return false
	}
	*buf.Payload() = e
	buf.Time = e.ReceivedUs
	return t.link.TrySend(buf)
}

// keyframes is the intra-frame countdown. A keyframe is requested when
// countdown reaches zero, then countdown is reloaded with the interval and
// decreased by the frame interval on every frame.
type keyframes struct {
	intervalUs int64
	stepUs     int64
	countUs    int64
}

func (k *keyframes) next() bool {
	keyframe := k.countUs <= 0
	if keyframe {
		k.countUs = k.intervalUs
	}
	k.countUs -= k.stepUs
	return keyframe
}

func (k *keyframes) reset() {
	k.countUs = 0
}
