package video

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/andresmejia3/veritas/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH")
	}
}

// makeClip renders a synthetic test pattern with ffmpeg's lavfi source.
func makeClip(t *testing.T, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	cmd := exec.Command("ffmpeg", "-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=size=64x48:rate=10",
		"-frames:v", strconv.Itoa(frames),
		"-c:v", "mpeg4",
		"-pix_fmt", "yuv420p",
		path)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return path
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997},
		{"25", 25},
		{"0/0", 0},
		{"N/A", 0},
		{"", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, parseRate(tt.in), 1e-6, tt.in)
	}
}

func TestParseProbe(t *testing.T) {
	data := []byte(`{"streams":[{"codec_type":"video","width":640,"height":360,
		"avg_frame_rate":"0/0","r_frame_rate":"24/1","nb_frames":"N/A"}]}`)

	info, err := parseProbe(data)
	require.NoError(t, err)
	assert.Equal(t, 640, info.Width)
	assert.Equal(t, 360, info.Height)
	assert.InDelta(t, 24, info.FPS, 1e-9)
	assert.Equal(t, 0, info.FrameCount)

	_, err = parseProbe([]byte(`{"streams":[{"codec_type":"audio"}]}`))
	assert.Error(t, err)

	_, err = parseProbe([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseStreamRotation(t *testing.T) {
	// A portrait phone clip stored landscape with a display matrix.
	data := []byte(`{"streams":[{"codec_type":"video","width":1920,"height":1080,
		"avg_frame_rate":"30/1","nb_frames":"90",
		"side_data_list":[{"side_data_type":"Display Matrix","rotation":-90}]}]}`)

	info, err := parseProbe(data)
	require.NoError(t, err)
	assert.Equal(t, 1920, info.Width, "frames are decoded unrotated")
	assert.Equal(t, 1080, info.Height)
	assert.Equal(t, 270, info.Rotation)

	info, err = parseProbe([]byte(`{"streams":[{"codec_type":"video","width":640,"height":480,
		"avg_frame_rate":"25/1","tags":{"rotate":"90"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, 90, info.Rotation)
}

// writeStub installs an executable shell script standing in for a tool.
func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs need a POSIX shell")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestOpenDecodesAtStoredGeometry(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	opts := Options{
		FFprobePath: writeStub(t, dir, "ffprobe", `echo '{"streams":[{"codec_type":"video","width":4,"height":2,"avg_frame_rate":"10/1","side_data_list":[{"rotation":90}]}]}'`+"\n"),
		FFmpegPath:  writeStub(t, dir, "ffmpeg", `echo "$@" > `+argsFile+"\nhead -c 24 /dev/zero\n"),
	}
	clip := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(clip, []byte("x"), 0o644))

	dec, err := Open(context.Background(), clip, opts)
	require.NoError(t, err)
	defer dec.Close()

	assert.Equal(t, 4, dec.Info().Width)
	assert.Equal(t, 2, dec.Info().Height)
	assert.Equal(t, 90, dec.Info().Rotation)

	f, err := dec.Next()
	require.NoError(t, err)
	assert.Len(t, f.Pix, 4*2*3)
	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	noRot := strings.Index(string(args), "-noautorotate")
	input := strings.Index(string(args), "-i ")
	require.GreaterOrEqual(t, noRot, 0, "ffmpeg must not rotate frames: %s", args)
	assert.Less(t, noRot, input, "-noautorotate is an input option")
}

func TestOpenMissingPath(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"), Options{})
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Contains(t, openErr.Error(), "nope.mp4")
}

func TestOpenDirectory(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir(), Options{})
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
}

func TestDecodeAllFrames(t *testing.T) {
	skipIfNoFFmpeg(t)
	path := makeClip(t, 10)

	dec, err := Open(context.Background(), path, Options{})
	require.NoError(t, err)
	defer dec.Close()

	info := dec.Info()
	assert.Equal(t, 64, info.Width)
	assert.Equal(t, 48, info.Height)
	assert.InDelta(t, 10, info.FPS, 1e-6)

	n := 0
	for {
		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		require.NoError(t, f.Validate())
		assert.Equal(t, frame.RGB, f.Layout)
		n++
	}
	assert.Equal(t, 10, n)

	// Close after EOF is a no-op.
	assert.NoError(t, dec.Close())
	assert.NoError(t, dec.Close())
}

func TestMemorySource(t *testing.T) {
	src := NewMemorySource(Info{FPS: 5}, []*frame.Frame{frame.New(4, 2, frame.Gray)})
	assert.Equal(t, 4, src.Info().Width)

	_, err := src.Next()
	require.NoError(t, err)
	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)

	src.Close()
	assert.True(t, src.Closed)
}
