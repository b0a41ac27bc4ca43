package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/andresmejia3/veritas/internal/frame"
	"github.com/andresmejia3/veritas/internal/signals"
	"github.com/andresmejia3/veritas/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
	closed bool
}

func (m *MockCloser) Close() error {
	m.closed = true
	return nil
}

// newMockWorker returns a worker whose DataPipe replays the given response bodies.
func newMockWorker(responses ...[]byte) (*PythonWorker, *MockCloser) {
	stdin := &MockCloser{Buffer: new(bytes.Buffer)}
	data := &MockCloser{Buffer: new(bytes.Buffer)}
	for _, r := range responses {
		binary.Write(data, binary.BigEndian, uint32(len(r)))
		data.Write(r)
	}
	// Cmd is nil because we aren't testing process management, just the protocol
	return &PythonWorker{ID: 1, Stdin: stdin, DataPipe: data}, stdin
}

func okBody(parts ...interface{}) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(statusOK)
	for _, p := range parts {
		binary.Write(buf, binary.BigEndian, p)
	}
	return buf.Bytes()
}

func errorBody(msg string) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(statusError)
	binary.Write(buf, binary.BigEndian, uint32(len(msg)))
	buf.WriteString(msg)
	return buf.Bytes()
}

func TestCountFaces(t *testing.T) {
	w, stdin := newMockWorker(okBody(uint32(2)))

	f := frame.New(3, 2, frame.RGB)
	n, err := w.CountFaces(f)
	if err != nil {
		t.Fatalf("CountFaces failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 faces, got %d", n)
	}

	// Verify Go sent the correct request TO Python
	sent := stdin.Bytes()
	if len(sent) != 4+1+4+4+1+len(f.Pix) {
		t.Fatalf("Expected %d bytes sent, got %d", 14+len(f.Pix), len(sent))
	}
	if got := binary.BigEndian.Uint32(sent[0:4]); got != uint32(10+len(f.Pix)) {
		t.Errorf("length prefix = %d", got)
	}
	if sent[4] != OpCountFaces {
		t.Errorf("op = %q", sent[4])
	}
	if binary.BigEndian.Uint32(sent[5:9]) != 3 || binary.BigEndian.Uint32(sent[9:13]) != 2 {
		t.Error("frame dimensions not encoded")
	}
	if sent[13] != 3 {
		t.Errorf("channels = %d", sent[13])
	}
}

func TestLandmarks(t *testing.T) {
	var raw [types.LandmarkDim]float32
	raw[0] = 12.5
	raw[types.LandmarkDim-1] = 99
	w, stdin := newMockWorker(okBody(uint8(1), raw))

	vec, err := w.Landmarks(frame.New(4, 4, frame.Gray))
	if err != nil {
		t.Fatalf("Landmarks failed: %v", err)
	}
	if vec[0] != 12.5 || vec[types.LandmarkDim-1] != 99 {
		t.Errorf("unexpected vector: %v ... %v", vec[0], vec[types.LandmarkDim-1])
	}
	if stdin.Bytes()[4] != OpLandmarks {
		t.Errorf("op = %q", stdin.Bytes()[4])
	}
	if stdin.Bytes()[13] != 1 {
		t.Errorf("gray frame should send 1 channel")
	}
}

func TestLandmarksNoFace(t *testing.T) {
	w, _ := newMockWorker(okBody(uint8(0)))

	_, err := w.Landmarks(frame.New(4, 4, frame.Gray))
	if !errors.Is(err, signals.ErrNoFace) {
		t.Fatalf("expected ErrNoFace, got %v", err)
	}
}

func TestCommunicateError(t *testing.T) {
	errMsg := "Python Exception: Import Error"
	w, _ := newMockWorker(errorBody(errMsg))

	_, err := w.CountFaces(frame.New(2, 2, frame.Gray))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestCommunicateTruncatedResponse(t *testing.T) {
	w, _ := newMockWorker()
	// Length says 9 bytes but only 2 arrive, as when the interpreter dies mid-write.
	binary.Write(w.DataPipe.(*MockCloser), binary.BigEndian, uint32(9))
	w.DataPipe.(*MockCloser).Write([]byte{0, 1})

	if _, err := w.CountFaces(frame.New(2, 2, frame.Gray)); err == nil {
		t.Fatal("expected error for truncated response")
	}
	if _, err := w.CountFaces(frame.New(2, 2, frame.Gray)); !errors.Is(err, ErrWorkerBroken) {
		t.Fatalf("expected ErrWorkerBroken after a truncated response, got %v", err)
	}
	if !w.DataPipe.(*MockCloser).closed {
		t.Error("data pipe should be closed once the stream is out of sync")
	}
}

func TestErrorStatusKeepsWorkerUsable(t *testing.T) {
	w, _ := newMockWorker(errorBody("no cascade"), okBody(uint32(3)))
	f := frame.New(2, 2, frame.Gray)

	if _, err := w.CountFaces(f); err == nil {
		t.Fatal("expected engine error")
	}
	n, err := w.CountFaces(f)
	if err != nil {
		t.Fatalf("a complete error reply must not break the worker: %v", err)
	}
	if n != 3 {
		t.Errorf("got %d faces, want 3", n)
	}
}

// slowEngine answers requests read from in on out. The first reply is held
// back by delay and reports 7 faces; the rest report 1.
func slowEngine(in io.Reader, out io.Writer, delay time.Duration) {
	for i := 0; ; i++ {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(in, lenBuf); err != nil {
			return
		}
		if _, err := io.CopyN(io.Discard, in, int64(binary.BigEndian.Uint32(lenBuf))); err != nil {
			return
		}
		faces := uint32(1)
		if i == 0 {
			time.Sleep(delay)
			faces = 7
		}
		body := okBody(faces)
		if err := binary.Write(out, binary.BigEndian, uint32(len(body))); err != nil {
			return
		}
		if _, err := out.Write(body); err != nil {
			return
		}
	}
}

func TestReadTimeoutDoesNotLeakLateReply(t *testing.T) {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	dataR, dataW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		stdinR.Close()
		dataW.Close()
	})

	go slowEngine(stdinR, dataW, 400*time.Millisecond)

	w := &PythonWorker{ID: 1, Stdin: stdinW, DataPipe: dataR, readTimeout: 100 * time.Millisecond}
	f := frame.New(2, 2, frame.Gray)

	if _, err := w.CountFaces(f); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("frame A: expected deadline error, got %v", err)
	}

	// Give the delayed reply time to land where frame B would read it.
	time.Sleep(500 * time.Millisecond)

	n, err := w.CountFaces(f)
	if n == 7 {
		t.Fatal("frame B received the late reply meant for frame A")
	}
	if !errors.Is(err, ErrWorkerBroken) {
		t.Fatalf("frame B: expected ErrWorkerBroken, got n=%d err=%v", n, err)
	}
}

func TestCommunicateRejectsInvalidFrame(t *testing.T) {
	w, stdin := newMockWorker(okBody(uint32(1)))
	bad := &frame.Frame{Width: 4, Height: 4, Layout: frame.RGB, Pix: make([]byte, 3)}

	if _, err := w.CountFaces(bad); err == nil {
		t.Fatal("expected validation error")
	}
	if stdin.Len() != 0 {
		t.Error("nothing should be written for an invalid frame")
	}
}

func TestSequentialRequests(t *testing.T) {
	w, _ := newMockWorker(okBody(uint32(0)), okBody(uint32(1)))
	f := frame.New(2, 2, frame.Gray)

	for want := 0; want < 2; want++ {
		n, err := w.CountFaces(f)
		if err != nil {
			t.Fatal(err)
		}
		if n != want {
			t.Errorf("request %d: got %d faces", want, n)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	w, stdin := newMockWorker()
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if !stdin.closed {
		t.Error("stdin not closed")
	}
}
