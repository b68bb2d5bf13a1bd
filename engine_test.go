package rtmix_test

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pipelined.dev/rtmix"
	"pipelined.dev/rtmix/config"
	"pipelined.dev/rtmix/ingest"
	"pipelined.dev/rtmix/internal/state"
	"pipelined.dev/rtmix/log"
	"pipelined.dev/rtmix/metric"
	"pipelined.dev/rtmix/midi"
	"pipelined.dev/rtmix/mock"
)

var errTest = errors.New("test error")

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Kind = config.OutputDiscard
	cfg.Effect.SegmentDir = t.TempDir()
	cfg.Ingest.Endpoint = "mock"
	return cfg
}

func newEngine(t *testing.T, cfg config.Config, set *mock.Set) *rtmix.Engine {
	t.Helper()
	e, err := rtmix.NewEngine(cfg, set.Components(), rtmix.WithLogger(log.Discard()))
	require.NoError(t, err)
	return e
}

// poolsFree returns free buffers gauge of every pool.
func poolsFree(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	free := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "rtmix_pool_free_buffers" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "pool" {
					free[l.GetValue()] = m.GetGauge().GetValue()
				}
			}
		}
	}
	return free
}

func waitDone(t *testing.T, e *rtmix.Engine) {
	t.Helper()
	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline is not done")
	}
}

func TestEngineCadence(t *testing.T) {
	set := mock.NewSet()
	set.Effect.Stamp = true
	cfg := testConfig(t)
	reg := prometheus.NewRegistry()
	e, err := rtmix.NewEngine(cfg, set.Components(),
		rtmix.WithLogger(log.Discard()),
		rtmix.WithMetric(metric.New(reg)),
	)
	require.NoError(t, err)

	ok, err := e.Start()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state.Running, e.State())

	time.Sleep(time.Second)
	start := time.Now()
	assert.True(t, e.Cancel())
	assert.Less(t, time.Since(start), cfg.AudioInterval())
	assert.Equal(t, state.Idle, e.State())
	assert.NoError(t, e.Err())

	free := poolsFree(t, reg)
	assert.Equal(t, map[string]float64{
		"audio.planar": float64(cfg.BufferCount),
		"audio.pcm":    float64(cfg.BufferCount),
	}, free)

	calls, samples := set.Effect.Count()
	assert.GreaterOrEqual(t, calls, 80)
	assert.LessOrEqual(t, calls, 101)
	assert.Equal(t, calls*480, samples)

	values := set.Output.Values()
	require.NotEmpty(t, values)
	for i, v := range values {
		assert.Equal(t, float32(i), v, "block %d out of order", i)
	}
	assert.True(t, set.Effect.Closed())
}

func TestEngineFault(t *testing.T) {
	testFault := func(set *mock.Set, stage string, cfg func(*config.Config)) func(*testing.T) {
		return func(t *testing.T) {
			c := testConfig(t)
			if cfg != nil {
				cfg(&c)
			}
			e := newEngine(t, c, set)
			ok, err := e.Start()
			require.NoError(t, err)
			require.True(t, ok)

			waitDone(t, e)
			assert.Equal(t, state.Idle, e.State())
			assert.False(t, e.Cancel())

			var fault *rtmix.StageFault
			require.ErrorAs(t, e.Err(), &fault)
			assert.Equal(t, stage, fault.Stage)
			assert.ErrorIs(t, e.Err(), errTest)
			assert.True(t, rtmix.IsFault(e.Err()))
		}
	}
	failing := func() mock.Hooks {
		return mock.Hooks{Fail: mock.Fail{ErrorOnCall: errTest, ErrorAfter: 5}}
	}

	set := mock.NewSet()
	set.Effect.Hooks = failing()
	t.Run("effect", testFault(set, "audio.effect", nil))

	set = mock.NewSet()
	set.Output.Hooks = failing()
	t.Run("output", testFault(set, "audio.output", nil))

	set = mock.NewSet()
	set.AudioEncoder.Hooks = failing()
	t.Run("encoder", testFault(set, "audio.encode", func(c *config.Config) {
		c.Connect = true
	}))

	set = mock.NewSet()
	set.VideoEncoder.Hooks = failing()
	t.Run("video encoder", testFault(set, "video.encode", func(c *config.Config) {
		c.Video = true
	}))
}

func TestEngineStartTwice(t *testing.T) {
	e := newEngine(t, testConfig(t), mock.NewSet())
	assert.False(t, e.Cancel())

	ok, err := e.Start()
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.Start()
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, e.Cancel())
	assert.False(t, e.Cancel())

	ok, err = e.Start()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, e.Cancel())
	assert.NoError(t, e.Err())
}

func TestEngineEditor(t *testing.T) {
	set := mock.NewSet()
	e := newEngine(t, testConfig(t), set)
	assert.ErrorIs(t, e.OpenEditor(), rtmix.ErrNotRunning)
	assert.ErrorIs(t, e.CloseEditor(), rtmix.ErrNotRunning)

	_, err := e.Start()
	require.NoError(t, err)
	assert.NoError(t, e.OpenEditor())
	assert.True(t, set.Effect.EditorOpen())
	assert.NoError(t, e.CloseEditor())
	assert.False(t, set.Effect.EditorOpen())
	e.Cancel()

	set.NoEditor = true
	_, err = e.Start()
	require.NoError(t, err)
	assert.ErrorIs(t, e.OpenEditor(), rtmix.ErrNoEditor)
	e.Cancel()
	assert.ErrorIs(t, e.OpenEditor(), rtmix.ErrNotRunning)
}

func TestEngineEditorAfterFault(t *testing.T) {
	release := make(chan struct{})
	set := mock.NewSet()
	set.Effect.Hooks = mock.Hooks{
		Fail:    mock.Fail{ErrorOnCall: errTest, ErrorAfter: 3},
		Release: release,
	}
	e := newEngine(t, testConfig(t), set)
	_, err := e.Start()
	require.NoError(t, err)

	// teardown is blocked on effect close, run is still not over
	require.Eventually(t, func() bool {
		return errors.Is(e.CloseEditor(), rtmix.ErrNotRunning)
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, e.OpenEditor(), rtmix.ErrNotRunning)
	assert.False(t, set.Effect.EditorOpen())
	assert.False(t, set.Effect.Closed())
	select {
	case <-e.Done():
		t.Fatal("run is done before effect is closed")
	default:
	}

	close(release)
	waitDone(t, e)
	assert.True(t, set.Effect.Closed())
	assert.ErrorIs(t, e.Err(), errTest)
	assert.ErrorIs(t, e.CloseEditor(), rtmix.ErrNotRunning)
}

func TestEngineIngestUnavailable(t *testing.T) {
	set := mock.NewSet()
	set.Ingest.ErrorOnConnect = errTest
	cfg := testConfig(t)
	cfg.Connect = true
	e := newEngine(t, cfg, set)

	ok, err := e.Start()
	assert.False(t, ok)
	assert.ErrorIs(t, err, rtmix.ErrIngestUnavailable)
	assert.ErrorIs(t, err, errTest)
	assert.Equal(t, state.Idle, e.State())

	// partial state is released
	assert.True(t, set.Effect.Closed())
	entries, err := os.ReadDir(cfg.Effect.SegmentDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	messages, _ := set.Effect.Count()
	assert.Zero(t, messages)
}

func TestEngineStalledIngest(t *testing.T) {
	set := mock.NewSet()
	set.Ingest.Stall = true
	cfg := testConfig(t)
	cfg.Connect = true
	cfg.Video = true
	e := newEngine(t, cfg, set)

	ok, err := e.Start()
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	assert.True(t, e.Cancel())
	assert.Less(t, time.Since(start), cfg.AudioInterval())
	assert.NoError(t, e.Err())
	assert.Empty(t, set.Ingest.Units(ingest.Audio))
	assert.True(t, set.Ingest.Closed())
}

func TestEngineConfiguration(t *testing.T) {
	cfg := testConfig(t)
	cfg.SampleLength = 0.003
	_, err := rtmix.NewEngine(cfg, mock.NewSet().Components())
	assert.ErrorIs(t, err, rtmix.ErrConfiguration)

	cfg = testConfig(t)
	cfg.Video = true
	c := mock.NewSet().Components()
	c.Visualizer = nil
	_, err = rtmix.NewEngine(cfg, c)
	assert.ErrorIs(t, err, rtmix.ErrConfiguration)
}

func TestEngineVideo(t *testing.T) {
	set := mock.NewSet()
	cfg := testConfig(t)
	cfg.Video = true
	cfg.Connect = true
	cfg.MaxFrameRate = 50
	cfg.IntraFrameIntervalUs = 100_000
	router := &midi.Router{}
	e, err := rtmix.NewEngine(cfg, set.Components(),
		rtmix.WithLogger(log.Discard()),
		rtmix.WithRouter(router),
	)
	require.NoError(t, err)
	assert.False(t, e.PostMIDI(midi.Event{}))

	_, err = e.Start()
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.True(t, e.PostMIDI(midi.Event{ReceivedUs: 1, Data: [4]byte{0x90, 60, 100}}))
	time.Sleep(400 * time.Millisecond)
	assert.True(t, e.Cancel())
	assert.NoError(t, e.Err())
	assert.False(t, router.Post(midi.Event{}))

	audio := set.Ingest.Units(ingest.Audio)
	require.NotEmpty(t, audio)
	for i, u := range audio {
		assert.Equal(t, uint64(i), u.Seq)
	}
	video := set.Ingest.Units(ingest.Video)
	require.NotEmpty(t, video)
	assert.True(t, video[0].Keyframe)
	keyframes := 0
	for _, u := range video {
		if u.Keyframe {
			keyframes++
		}
	}
	assert.Equal(t, set.VideoEncoder.Keyframes(), keyframes)
	// 5 frames between keyframes
	assert.InDelta(t, (len(video)+4)/5, keyframes, 1)

	assert.Len(t, set.Effect.Events(), 1)
	assert.Len(t, set.Visualizer.Notes(), 1)
	assert.GreaterOrEqual(t, set.Visualizer.Rendered(), len(video))
	accumulated, _ := set.Visualizer.Count()
	assert.Greater(t, accumulated, 0)
	assert.True(t, set.Ingest.Closed())
}
