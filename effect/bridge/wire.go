/*
Package bridge connects the pipeline with a plugin host running in another
process.

Audio never crosses the socket: both processes map the same shared
segment and only slot indices, timestamps and MIDI events are exchanged.
Messages are little-endian:

	hello   op=1 | slotSize u32 | slotCount u32 | channels u32 | blockSize u32 | sampleRate u32 | nameLen u16 | name
	process op=2 | slot u32 | timeUs i64 | nEvents u16 | nEvents x (receivedUs i64 | data [4]u8)
	editor  op=3 (open), op=4 (close)
	bye     op=5

Every request but bye is answered with:

	reply   status u8 | msgLen u16 | msg

Slot i of the segment starts at byte i*slotSize and holds channels planes
of blockSize float32 samples.
*/
package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"pipelined.dev/rtmix/midi"
	"pipelined.dev/rtmix/shm"
)

type op uint8

const (
	opHello op = iota + 1
	opProcess
	opOpenEditor
	opCloseEditor
	opBye
)

func (o op) String() string {
	switch o {
	case opHello:
		return "hello"
	case opProcess:
		return "process"
	case opOpenEditor:
		return "open editor"
	case opCloseEditor:
		return "close editor"
	case opBye:
		return "bye"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

const (
	statusOK    = 0
	statusError = 1

	helloSize   = 1 + 5*4 + 2
	processSize = 1 + 4 + 8 + 2
	eventSize   = 8 + 4
	replySize   = 1 + 2

	// MaxEvents is the maximum number of MIDI events sent with a single
	// block. Later events stay queued until the next block.
	MaxEvents = 256
	maxMsg    = 1<<16 - 1
)

var (
	// ErrProtocol is returned when peer violates the protocol.
	ErrProtocol = errors.New("bridge protocol violation")
	// ErrRemote is returned when plugin host failed to serve the request.
	ErrRemote = errors.New("plugin host error")
)

var le = binary.LittleEndian

// Hello opens the session.
type Hello struct {
	Layout     shm.Layout
	SlotSize   int
	SampleRate int
	Segment    string
}

func appendHello(b []byte, h Hello) []byte {
	b = append(b, byte(opHello))
	b = le.AppendUint32(b, uint32(h.SlotSize))
	b = le.AppendUint32(b, uint32(h.Layout.SlotCount))
	b = le.AppendUint32(b, uint32(h.Layout.Channels))
	b = le.AppendUint32(b, uint32(h.Layout.BlockSize))
	b = le.AppendUint32(b, uint32(h.SampleRate))
	b = le.AppendUint16(b, uint16(len(h.Segment)))
	return append(b, h.Segment...)
}

// readHello reads hello body, op is already consumed.
func readHello(r io.Reader) (Hello, error) {
	var b [helloSize - 1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Hello{}, err
	}
	h := Hello{
		SlotSize: int(le.Uint32(b[0:])),
		Layout: shm.Layout{
			SlotCount: int(le.Uint32(b[4:])),
			Channels:  int(le.Uint32(b[8:])),
			BlockSize: int(le.Uint32(b[12:])),
		},
		SampleRate: int(le.Uint32(b[16:])),
	}
	name := make([]byte, le.Uint16(b[20:]))
	if _, err := io.ReadFull(r, name); err != nil {
		return Hello{}, err
	}
	h.Segment = string(name)
	if h.SlotSize != h.Layout.SlotSize() {
		return Hello{}, fmt.Errorf("%w: slot size %d doesn't match layout %+v", ErrProtocol, h.SlotSize, h.Layout)
	}
	return h, nil
}

// process is the request to render a single block.
type process struct {
	slot   int
	timeUs int64
	events []midi.Event
}

func appendProcess(b []byte, p process) []byte {
	b = append(b, byte(opProcess))
	b = le.AppendUint32(b, uint32(p.slot))
	b = le.AppendUint64(b, uint64(p.timeUs))
	b = le.AppendUint16(b, uint16(len(p.events)))
	for _, e := range p.events {
		b = le.AppendUint64(b, uint64(e.ReceivedUs))
		b = append(b, e.Data[:]...)
	}
	return b
}

// readProcess reads process body into p, op is already consumed. Events
// slice of p is reused.
func readProcess(r io.Reader, buf []byte, p *process) error {
	b := buf[:processSize-1]
	if _, err := io.ReadFull(r, b); err != nil {
		return err
	}
	p.slot = int(le.Uint32(b[0:]))
	p.timeUs = int64(le.Uint64(b[4:]))
	n := int(le.Uint16(b[12:]))
	if n > MaxEvents {
		return fmt.Errorf("%w: %d events in block", ErrProtocol, n)
	}
	p.events = p.events[:0]
	b = buf[:n*eventSize]
	if _, err := io.ReadFull(r, b); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		var e midi.Event
		e.ReceivedUs = int64(le.Uint64(b[i*eventSize:]))
		copy(e.Data[:], b[i*eventSize+8:(i+1)*eventSize])
		p.events = append(p.events, e)
	}
	return nil
}

func appendReply(b []byte, err error) []byte {
	if err == nil {
		b = append(b, statusOK)
		return le.AppendUint16(b, 0)
	}
	msg := err.Error()
	if len(msg) > maxMsg {
		msg = msg[:maxMsg]
	}
	b = append(b, statusError)
	b = le.AppendUint16(b, uint16(len(msg)))
	return append(b, msg...)
}

// readReply returns ErrRemote if peer reported an error.
func readReply(r io.Reader, buf []byte) error {
	b := buf[:replySize]
	if _, err := io.ReadFull(r, b); err != nil {
		return err
	}
	status, n := b[0], int(le.Uint16(b[1:]))
	msg := buf[:n]
	if _, err := io.ReadFull(r, msg); err != nil {
		return err
	}
	switch status {
	case statusOK:
		return nil
	case statusError:
		return fmt.Errorf("%w: %s", ErrRemote, msg)
	default:
		return fmt.Errorf("%w: reply status %d", ErrProtocol, status)
	}
}

// bufferSize is enough for any message but hello.
const bufferSize = processSize + MaxEvents*eventSize + replySize + maxMsg
