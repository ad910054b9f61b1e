// Package stream splits the container runtime's multiplexed attach stream
// into separate stdout and stderr buffers.
//
// The wire format is a sequence of frames: an 8-byte header whose first
// byte tags the stream (1 stdout, 2 stderr), bytes 1-3 are reserved and
// bytes 4-7 carry a big-endian uint32 payload length, followed by the
// payload itself.
package stream

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	headerLen = 8

	tagStdout = 1
	tagStderr = 2
)

// CappedBuffer keeps the first Cap bytes written and silently drops the
// rest. Write never fails, so producers are never back-pressured by the cap.
type CappedBuffer struct {
	cap int
	buf []byte
}

func NewCappedBuffer(capacity int) *CappedBuffer {
	return &CappedBuffer{cap: capacity}
}

func (b *CappedBuffer) Write(p []byte) (int, error) {
	if room := b.cap - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *CappedBuffer) Bytes() []byte { return b.buf }
func (b *CappedBuffer) Len() int      { return len(b.buf) }

// Demux reads frames from r until EOF, appending payloads to the matching
// buffer. Frames with an unknown tag are consumed and dropped. A partial
// frame at end-of-stream is discarded without error.
type Demux struct {
	stdout *CappedBuffer
	stderr *CappedBuffer
}

func NewDemux(capBytes int) *Demux {
	return &Demux{
		stdout: NewCappedBuffer(capBytes),
		stderr: NewCappedBuffer(capBytes),
	}
}

// Copy consumes r to completion, appending each complete frame's payload
// as it arrives. A frame cut off by end-of-stream is dropped whole. It is
// safe to call Stdout/Stderr only after Copy has returned.
func (d *Demux) Copy(r io.Reader) error {
	header := make([]byte, headerLen)
	var payload []byte
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}

		tag := header[0]
		size := binary.BigEndian.Uint32(header[4:headerLen])
		if int(size) > cap(payload) {
			payload = make([]byte, size)
		}
		payload = payload[:size]

		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}

		switch tag {
		case tagStdout:
			d.stdout.Write(payload)
		case tagStderr:
			d.stderr.Write(payload)
		}
	}
}

func (d *Demux) Stdout() []byte { return d.stdout.Bytes() }
func (d *Demux) Stderr() []byte { return d.stderr.Bytes() }
