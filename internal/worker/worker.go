package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/veritas/internal/frame"
	"github.com/andresmejia3/veritas/internal/signals"
	"github.com/andresmejia3/veritas/internal/types"
	"github.com/andresmejia3/veritas/internal/utils" // Using the SafeCommand wrapper
)

// Request opcodes understood by python/worker.py.
const (
	OpCountFaces byte = 'C'
	OpLandmarks  byte = 'L'
)

const (
	statusOK    byte = 0
	statusError byte = 1
)

// ErrWorkerBroken is returned once a request has left the pipes out of step
// with the engine. The process is killed and every later call fails fast.
var ErrWorkerBroken = errors.New("python worker is out of sync")

// Config selects the interpreter and script.
type Config struct {
	Python      string
	Script      string
	ReadTimeout time.Duration // 0 waits forever
}

// PythonWorker owns one engine process. Requests are serialized.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	readTimeout time.Duration
	mu          sync.Mutex
	closeOnce   sync.Once
	broken      error
}

func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.Script == "" {
		cfg.Script = "python/worker.py"
	}

	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script)

	// Create a side-channel pipe (FD 3) so library prints on stdout never corrupt the protocol
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		readTimeout: cfg.ReadTimeout,
	}, nil
}

// Communicate sends one frame and returns the response body of a successful call.
//
// Request:  [u32 len][op][u32 width][u32 height][u8 channels][pixels]
// Response: [u32 len][status][body]
func (w *PythonWorker) Communicate(op byte, f *frame.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken != nil {
		return nil, fmt.Errorf("worker %d: %w (%v)", w.ID, ErrWorkerBroken, w.broken)
	}

	header := make([]byte, 4+1+4+4+1)
	binary.BigEndian.PutUint32(header[0:4], uint32(1+4+4+1+len(f.Pix)))
	header[4] = op
	binary.BigEndian.PutUint32(header[5:9], uint32(f.Width))
	binary.BigEndian.PutUint32(header[9:13], uint32(f.Height))
	header[13] = byte(f.Channels())

	if _, err := w.Stdin.Write(header); err != nil {
		return nil, w.abort(err)
	}
	if _, err := w.Stdin.Write(f.Pix); err != nil {
		return nil, w.abort(err)
	}

	if w.readTimeout > 0 {
		if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok {
			d.SetReadDeadline(time.Now().Add(w.readTimeout))
			defer d.SetReadDeadline(time.Time{})
		}
	}

	// Read Result from the clean DataPipe
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, lenBuf); err != nil {
		return nil, w.abort(err) // This is where we catch a crashed or stalled interpreter
	}
	respLen := binary.BigEndian.Uint32(lenBuf)
	if respLen == 0 {
		return nil, w.abort(errors.New("empty response from python worker"))
	}
	resp := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, resp); err != nil {
		return nil, w.abort(err)
	}

	switch resp[0] {
	case statusOK:
		return resp[1:], nil
	case statusError:
		body := resp[1:]
		if len(body) < 4 {
			return nil, errors.New("python worker error: malformed error response")
		}
		n := binary.BigEndian.Uint32(body[:4])
		if int(n) > len(body)-4 {
			n = uint32(len(body) - 4)
		}
		return nil, fmt.Errorf("python worker error: %s", body[4:4+n])
	default:
		return nil, fmt.Errorf("python worker returned unknown status %d", resp[0])
	}
}

// abort records why the stream lost framing, kills the engine and closes the
// pipes. A late reply would otherwise be read as the answer to the next frame.
// Callers hold mu.
func (w *PythonWorker) abort(err error) error {
	w.broken = err
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
	w.Close()
	return err
}

// CountFaces runs the Haar cascade on the frame.
func (w *PythonWorker) CountFaces(f *frame.Frame) (int, error) {
	body, err := w.Communicate(OpCountFaces, f)
	if err != nil {
		return 0, err
	}
	if len(body) < 4 {
		return 0, fmt.Errorf("short face count response: %d bytes", len(body))
	}
	return int(binary.BigEndian.Uint32(body[:4])), nil
}

// Landmarks runs the 68-point predictor on the first detected face.
func (w *PythonWorker) Landmarks(f *frame.Frame) (types.LandmarkVector, error) {
	var vec types.LandmarkVector
	body, err := w.Communicate(OpLandmarks, f)
	if err != nil {
		return vec, err
	}
	if len(body) < 1 {
		return vec, errors.New("short landmark response")
	}
	if body[0] == 0 {
		return vec, signals.ErrNoFace
	}

	var raw [types.LandmarkDim]float32
	if err := binary.Read(bytes.NewReader(body[1:]), binary.BigEndian, &raw); err != nil {
		return vec, fmt.Errorf("decode landmarks: %w", err)
	}
	for i, v := range raw {
		if math.IsNaN(float64(v)) {
			return vec, fmt.Errorf("landmark %d is NaN", i)
		}
		vec[i] = float64(v)
	}
	return vec, nil
}

// Close shuts the engine down and waits for it to exit. Safe to call more than once.
func (w *PythonWorker) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.Stdin.Close()
		w.DataPipe.Close()
		if w.Cmd != nil {
			err = w.Cmd.Wait()
		}
	})
	return err
}
