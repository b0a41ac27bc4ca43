package visualize

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"math"
	"testing"

	"github.com/andresmejia3/veritas/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trace(n int) []types.FrameRecord {
	recs := make([]types.FrameRecord, n)
	for i := range recs {
		recs[i] = types.FrameRecord{
			FrameIndex:       i * 5,
			Timestamp:        float64(i) * 0.5,
			FaceCount:        i % 3,
			LightingScore:    0.8,
			MotionScore:      1 - float64(i)/float64(2*n),
			ConsistencyScore: 0.7,
		}
	}
	return recs
}

func TestRenderProducesPNG(t *testing.T) {
	data, err := Render(trace(12))
	require.NoError(t, err)

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, Width, cfg.Width)
	assert.Equal(t, Height, cfg.Height)
}

func TestRenderSingleRecord(t *testing.T) {
	data, err := Render(trace(1))
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestRenderEmpty(t *testing.T) {
	_, err := Render(nil)
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestRenderRejectsNaN(t *testing.T) {
	recs := trace(3)
	recs[1].LightingScore = math.NaN()

	_, err := Render(recs)
	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, "Lighting Consistency", renderErr.Panel)
}

func TestEncode(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G'}
	decoded, err := base64.StdEncoding.DecodeString(Encode(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}
