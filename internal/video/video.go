// Package video decodes video containers into raw RGB frames by streaming
// ffmpeg's rawvideo output.
package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/andresmejia3/veritas/internal/frame"
	"github.com/andresmejia3/veritas/internal/utils"
)

// Info is the stream metadata reported by ffprobe.
type Info struct {
	Path       string
	FPS        float64
	FrameCount int // 0 when the container does not report it
	Width      int
	Height     int
	Rotation   int // display rotation in degrees; frames are decoded as stored
}

// Source yields decoded frames in presentation order.
// The frame returned by Next is only valid until the following call.
type Source interface {
	Info() Info
	Next() (*frame.Frame, error)
	Close() error
}

// Opener opens a Source for a path. Analyzers take one so tests can inject synthetic frames.
type Opener func(ctx context.Context, path string) (Source, error)

// Options configures the external binaries.
type Options struct {
	FFmpegPath  string
	FFprobePath string
}

func (o Options) withDefaults() Options {
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.FFprobePath == "" {
		o.FFprobePath = "ffprobe"
	}
	return o
}

// OpenError means the container could not be opened at all.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("cannot open video %q: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// DecodeError means ffmpeg failed mid-stream.
type DecodeError struct {
	Path  string
	Frame int
	Err   error
	Logs  string
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode %q failed at frame %d: %v", e.Path, e.Frame, e.Err)
	if e.Logs != "" {
		msg += "\n" + strings.TrimSpace(e.Logs)
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Tags         struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []struct {
			Rotation float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
}

// Probe reads the first video stream's geometry, frame rate and frame count.
func Probe(ctx context.Context, path string, opts Options) (Info, error) {
	opts = opts.withDefaults()
	cmd := utils.NewSafeCommand(ctx, opts.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_streams",
		"-of", "json",
		path)
	out, err := cmd.Output()
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(cmd.Logs()))
	}
	info, err := parseProbe(out)
	if err != nil {
		return Info{}, err
	}
	info.Path = path
	return info, nil
}

func parseProbe(data []byte) (Info, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(data, &res); err != nil {
		return Info{}, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	for _, s := range res.Streams {
		if s.CodecType != "" && s.CodecType != "video" {
			continue
		}
		if s.Width <= 0 || s.Height <= 0 {
			continue
		}
		fps := parseRate(s.AvgFrameRate)
		if fps <= 0 {
			fps = parseRate(s.RFrameRate)
		}
		count, _ := strconv.Atoi(s.NbFrames) // "N/A" leaves 0

		// Older muxers use the rotate tag, newer ones the display matrix.
		rot, _ := strconv.ParseFloat(s.Tags.Rotate, 64)
		for _, sd := range s.SideDataList {
			if sd.Rotation != 0 {
				rot = sd.Rotation
			}
		}
		return Info{
			FPS:        fps,
			FrameCount: count,
			Width:      s.Width,
			Height:     s.Height,
			Rotation:   normalizeRotation(rot),
		}, nil
	}
	return Info{}, errors.New("no video stream found")
}

func normalizeRotation(deg float64) int {
	r := int(math.Round(deg)) % 360
	if r < 0 {
		r += 360
	}
	return r
}

// parseRate parses ffprobe rationals such as "30000/1001". Unknown rates yield 0.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		v, err := strconv.ParseFloat(num, 64)
		if err != nil || v < 0 {
			return 0
		}
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 || n < 0 {
		return 0
	}
	return n / d
}

// Decoder streams rgb24 frames from an ffmpeg child process.
type Decoder struct {
	info   Info
	cmd    *utils.SafeCommand
	out    io.ReadCloser
	cancel context.CancelFunc
	buf    *frame.Frame
	index  int

	closeOnce sync.Once
	closeErr  error
}

// Open probes path and starts decoding it. Callers must Close the decoder.
func Open(ctx context.Context, path string, opts Options) (*Decoder, error) {
	opts = opts.withDefaults()

	st, err := os.Stat(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	if st.IsDir() {
		return nil, &OpenError{Path: path, Err: errors.New("path is a directory")}
	}

	info, err := Probe(ctx, path, opts)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := utils.NewSafeCommand(ctx, opts.FFmpegPath,
		"-hide_banner", "-loglevel", "error",
		// Keep frames at the reported geometry even when the container asks for rotation.
		"-noautorotate",
		"-i", path,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-")
	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &OpenError{Path: path, Err: fmt.Errorf("failed to create decoder pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &OpenError{Path: path, Err: fmt.Errorf("failed to start ffmpeg: %w", err)}
	}

	return &Decoder{
		info:   info,
		cmd:    cmd,
		out:    out,
		cancel: cancel,
		buf:    frame.New(info.Width, info.Height, frame.RGB),
	}, nil
}

// OpenSource adapts Open to the Opener signature.
func OpenSource(opts Options) Opener {
	return func(ctx context.Context, path string) (Source, error) {
		return Open(ctx, path, opts)
	}
}

func (d *Decoder) Info() Info { return d.info }

// Next returns the next frame, or io.EOF after the last one.
// The returned frame is reused by the following call.
func (d *Decoder) Next() (*frame.Frame, error) {
	_, err := io.ReadFull(d.out, d.buf.Pix)
	switch {
	case err == nil:
		d.index++
		return d.buf, nil
	case errors.Is(err, io.EOF):
		// Clean frame boundary. ffmpeg's exit status decides whether this was the real end.
		if werr := d.wait(); werr != nil {
			return nil, &DecodeError{Path: d.info.Path, Frame: d.index, Err: werr, Logs: d.cmd.Logs()}
		}
		return nil, io.EOF
	default:
		d.wait()
		return nil, &DecodeError{Path: d.info.Path, Frame: d.index, Err: err, Logs: d.cmd.Logs()}
	}
}

func (d *Decoder) wait() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.cmd.Wait()
		d.cancel()
	})
	return d.closeErr
}

// Close stops ffmpeg and releases the pipe. It is safe to call more than once.
func (d *Decoder) Close() error {
	d.cancel()
	d.out.Close()
	d.wait()
	return nil
}

// MemorySource replays in-memory frames. It is used for stdin-free tests and synthetic clips.
type MemorySource struct {
	info   Info
	frames []*frame.Frame
	pos    int
	Closed bool
}

// NewMemorySource builds a source over frames. Width and Height are taken from the first frame when unset.
func NewMemorySource(info Info, frames []*frame.Frame) *MemorySource {
	if len(frames) > 0 && info.Width == 0 {
		info.Width, info.Height = frames[0].Width, frames[0].Height
	}
	return &MemorySource{info: info, frames: frames}
}

func (m *MemorySource) Info() Info { return m.info }

func (m *MemorySource) Next() (*frame.Frame, error) {
	if m.pos >= len(m.frames) {
		return nil, io.EOF
	}
	f := m.frames[m.pos]
	m.pos++
	return f, nil
}

func (m *MemorySource) Close() error {
	m.Closed = true
	return nil
}
