/*
Package rtmix builds and runs real-time audio and video mixing pipelines.

Concept

A pipeline is a set of stages connected with links. Every stage runs in
its own goroutine and exchanges buffers borrowed from bounded pools:

    Source - produces a buffer on every tick of the cadence;
    Transform - consumes a buffer and produces another one;
    Sink - consumes a buffer and returns it to its pool;
    MergeSink - consumes buffers from several inlets.

Buffers are never allocated on the hot path. When a pool is empty, the
producer blocks until a consumer returns a buffer, so a slow stage slows
the whole path instead of growing memory.

Engine

Engine owns the pipeline lifecycle:

    engine, err := rtmix.NewEngine(cfg, components)
    if err != nil {
        // handle error
    }
    if _, err := engine.Start(); err != nil {
        // handle error
    }
    defer engine.Cancel()

Audio path renders effect on blocks placed into the shared segment and
plays them to the configured output. When connected, the audio is also
encoded and sent to the ingest. When video is enabled, the rendered audio
and MIDI drive the visualizer, which frames are encoded and sent along.

The first failing stage stops the pipeline. Its error is available as
StageFault from Engine.Err.

Components

Collaborators are created with factories provided in Components, so the
engine doesn't depend on any particular effect, codec or transport.
Package mock provides in-memory implementations for tests.
*/
package rtmix
