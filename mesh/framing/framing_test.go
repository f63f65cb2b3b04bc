package framing

import (
	"bytes"
	"errors"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"io"
	"testing"
	"testing/iotest"
)

// collect reads all envelopes and errors of a stream until the read error
func collect(t *testing.T, r io.Reader, maxSize int) ([][]byte, []error) {
	t.Helper()
	var payloads [][]byte
	var errs []error
	for env, err := range Envelopes(r, maxSize) {
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			errs = append(errs, err)
			continue
		}
		payloads = append(payloads, env.Payload)
	}
	return payloads, errs
}

func mustFrame(t *testing.T, payload []byte) []byte {
	t.Helper()
	b, err := Frame(payload, common.DefaultMaxEnvelopeSize)
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}
	return b
}

func TestFrameHeader(t *testing.T) {
	b := mustFrame(t, []byte("abc"))
	want := []byte{0x94, 0xC3, 0x00, 0x03, 'a', 'b', 'c'}
	if !bytes.Equal(b, want) {
		t.Errorf("Frame = % x, want % x", b, want)
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("abc"), 512); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("WriteFrame = % x, want % x", buf.Bytes(), want)
	}
}

func TestFrameTooLarge(t *testing.T) {
	_, err := Frame(make([]byte, 513), 512)
	if !errors.Is(err, common.ErrEnvelopeTooLarge) {
		t.Errorf("expected ErrEnvelopeTooLarge, got %v", err)
	}
	if _, err := Frame(make([]byte, 512), 512); err != nil {
		t.Errorf("payload of exactly the maximum must be accepted: %v", err)
	}
}

func TestEnvelopesSplitReads(t *testing.T) {
	var stream []byte
	stream = append(stream, mustFrame(t, []byte("one"))...)
	stream = append(stream, mustFrame(t, []byte("two"))...)
	stream = append(stream, mustFrame(t, []byte{})...)
	stream = append(stream, mustFrame(t, []byte("three"))...)

	tests := map[string]io.Reader{
		"single read": bytes.NewReader(stream),
		"byte by byte": iotest.OneByteReader(bytes.NewReader(stream)),
		"half reads":   iotest.HalfReader(bytes.NewReader(stream)),
	}
	for name, r := range tests {
		t.Run(name, func(t *testing.T) {
			payloads, errs := collect(t, r, 512)
			if len(errs) != 0 {
				t.Errorf("unexpected framing errors: %v", errs)
			}
			want := []string{"one", "two", "", "three"}
			if len(payloads) != len(want) {
				t.Fatalf("got %d envelopes, want %d", len(payloads), len(want))
			}
			for i := range want {
				if string(payloads[i]) != want[i] {
					t.Errorf("envelope %d = %q, want %q", i, payloads[i], want[i])
				}
			}
		})
	}
}

func TestResyncAfterGarbage(t *testing.T) {
	tests := []struct {
		name       string
		garbage    []byte
		wantErrors int
	}{
		{"debug text", []byte("INFO | boot complete\r\n"), 0},
		{"marker without second byte", []byte{0x94, 0x00, 0x01}, 1},
		{"oversized length", []byte{0x94, 0xC3, 0xFF, 0xFF, 0x01, 0x02}, 1},
		{"text and broken marker", []byte("abc\x94x"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := append(append([]byte{}, tt.garbage...), mustFrame(t, []byte("payload"))...)

			payloads, errs := collect(t, iotest.OneByteReader(bytes.NewReader(stream)), 512)
			if len(payloads) != 1 || string(payloads[0]) != "payload" {
				t.Fatalf("expected the well formed envelope after garbage, got %q", payloads)
			}
			if len(errs) != tt.wantErrors {
				t.Errorf("got %d framing errors, want %d: %v", len(errs), tt.wantErrors, errs)
			}
			for _, err := range errs {
				var fe *common.FramingError
				if !errors.As(err, &fe) {
					t.Errorf("expected *common.FramingError, got %T", err)
				}
			}
		})
	}
}

func TestDeframerNoiseCallback(t *testing.T) {
	d := NewDeframer(512)
	var noise bytes.Buffer
	d.OnNoise = func(b []byte) { noise.Write(b) }

	d.Feed([]byte("hello "))
	d.Feed(mustFrame(t, []byte("x")))
	d.Feed([]byte("world"))

	env, ok, err := d.Next()
	if err != nil || !ok || string(env.Payload) != "x" {
		t.Fatalf("Next() = %q, %v, %v", env.Payload, ok, err)
	}
	if _, ok, _ := d.Next(); ok {
		t.Fatalf("expected no further envelope")
	}
	if noise.String() != "hello world" {
		t.Errorf("noise = %q", noise.String())
	}
	if d.NoiseBytes() != uint64(len("hello world")) {
		t.Errorf("NoiseBytes() = %d", d.NoiseBytes())
	}
	if d.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", d.Buffered())
	}
}

func TestDeframerPartialAndReset(t *testing.T) {
	d := NewDeframer(512)
	frame := mustFrame(t, []byte("partial"))

	d.Feed(frame[:5])
	if _, ok, err := d.Next(); ok || err != nil {
		t.Fatalf("incomplete envelope must not be yielded (ok=%v err=%v)", ok, err)
	}
	if d.Buffered() != 5 {
		t.Errorf("Buffered() = %d, want 5", d.Buffered())
	}

	d.Reset()
	if d.Buffered() != 0 {
		t.Errorf("Reset did not drop buffered bytes")
	}

	d.Feed(frame)
	env, ok, err := d.Next()
	if !ok || err != nil || string(env.Payload) != "partial" {
		t.Errorf("Next() after Reset = %q, %v, %v", env.Payload, ok, err)
	}
}

func TestEnvelopesEndsOnReadError(t *testing.T) {
	boom := errors.New("boom")
	r := io.MultiReader(bytes.NewReader(mustFrame(t, []byte("a"))), iotest.ErrReader(boom))

	var got []string
	var last error
	for env, err := range Envelopes(r, 512) {
		if err != nil {
			last = err
			continue
		}
		got = append(got, string(env.Payload))
	}
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("got %q", got)
	}
	if !errors.Is(last, boom) {
		t.Errorf("last error = %v, want boom", last)
	}
}
