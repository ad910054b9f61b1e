package stream

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func frame(tag byte, payload string) []byte {
	buf := make([]byte, headerLen+len(payload))
	buf[0] = tag
	binary.BigEndian.PutUint32(buf[4:headerLen], uint32(len(payload)))
	copy(buf[headerLen:], payload)
	return buf
}

func TestDemuxRoundTrip(t *testing.T) {
	var input bytes.Buffer
	input.Write(frame(tagStdout, "out-1 "))
	input.Write(frame(tagStderr, "err-1 "))
	input.Write(frame(tagStdout, "out-2"))
	input.Write(frame(tagStderr, "err-2"))

	d := NewDemux(10000)
	if err := d.Copy(&input); err != nil {
		t.Fatalf("Copy returned error: %v", err)
	}
	if got := string(d.Stdout()); got != "out-1 out-2" {
		t.Errorf("stdout = %q, want %q", got, "out-1 out-2")
	}
	if got := string(d.Stderr()); got != "err-1 err-2" {
		t.Errorf("stderr = %q, want %q", got, "err-1 err-2")
	}
}

func TestDemuxTruncation(t *testing.T) {
	const cap = 100
	cases := []struct {
		name    string
		payload string
		want    int
	}{
		{"under cap", strings.Repeat("a", cap-1), cap - 1},
		{"exactly cap", strings.Repeat("a", cap), cap},
		{"one over cap", strings.Repeat("a", cap+1), cap},
		{"far over cap", strings.Repeat("a", cap*10), cap},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := NewDemux(cap)
			if err := d.Copy(bytes.NewReader(frame(tagStdout, c.payload))); err != nil {
				t.Fatalf("Copy returned error: %v", err)
			}
			if got := len(d.Stdout()); got != c.want {
				t.Errorf("len(stdout) = %d, want %d", got, c.want)
			}
			if got := string(d.Stdout()); got != c.payload[:c.want] {
				t.Errorf("stdout content does not match the leading bytes of the payload")
			}
		})
	}
}

func TestDemuxTruncationAcrossFrames(t *testing.T) {
	// The cap applies as frames arrive, not to individual frames.
	d := NewDemux(8)
	var input bytes.Buffer
	input.Write(frame(tagStdout, "abcde"))
	input.Write(frame(tagStdout, "fghij"))
	if err := d.Copy(&input); err != nil {
		t.Fatalf("Copy returned error: %v", err)
	}
	if got := string(d.Stdout()); got != "abcdefgh" {
		t.Errorf("stdout = %q, want %q", got, "abcdefgh")
	}
}

func TestDemuxUnknownTagDiscarded(t *testing.T) {
	var input bytes.Buffer
	input.Write(frame(tagStdout, "keep"))
	input.Write(frame(7, "drop"))
	input.Write(frame(tagStderr, "also-keep"))

	d := NewDemux(10000)
	if err := d.Copy(&input); err != nil {
		t.Fatalf("Copy returned error: %v", err)
	}
	if got := string(d.Stdout()); got != "keep" {
		t.Errorf("stdout = %q, want %q", got, "keep")
	}
	if got := string(d.Stderr()); got != "also-keep" {
		t.Errorf("stderr = %q, want %q", got, "also-keep")
	}
}

func TestDemuxPartialFrameAtEOF(t *testing.T) {
	cases := []struct {
		name  string
		input []byte
	}{
		{"empty stream", nil},
		{"partial header", []byte{tagStdout, 0, 0}},
		{"header only", frame(tagStdout, "missing")[:headerLen]},
		{"partial payload", frame(tagStdout, "truncated")[:headerLen+4]},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			full := append(frame(tagStdout, "complete"), c.input...)
			d := NewDemux(10000)
			if err := d.Copy(bytes.NewReader(full)); err != nil {
				t.Fatalf("Copy returned error: %v", err)
			}
			if got := string(d.Stdout()); got != "complete" {
				t.Errorf("stdout = %q, want %q", got, "complete")
			}
		})
	}
}
