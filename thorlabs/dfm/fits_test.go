package dfm_test

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/golab-dmp40/thorlabs/dfm"
)

func TestWriteFitsSegmentsAndTilts(t *testing.T) {
	segs := []float64{1, 2, 3, 4}
	tilts := []float64{5, 6, 7}
	info := dfm.NewMockDMP40().Devices[0]

	buf := &bytes.Buffer{}
	require.NoError(t, dfm.WriteFits(buf, dfm.FitsCards(info), segs, tilts))

	f, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	require.Len(t, f.HDUs(), 2)

	prim := f.HDU(0).(fitsio.Image)
	assert.Equal(t, "DMP40", strings.TrimSpace(fmt.Sprint(prim.Header().Get("INSTRUME").Value)))
	got := make([]float64, len(segs))
	require.NoError(t, prim.Read(&got))
	assert.Equal(t, segs, got)

	ext := f.HDU(1).(fitsio.Image)
	gotT := make([]float64, len(tilts))
	require.NoError(t, ext.Read(&gotT))
	assert.Equal(t, tilts, gotT)
}

func TestWriteFitsNoTilts(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, dfm.WriteFits(buf, nil, []float64{1, 2}, nil))
	f, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.Len(t, f.HDUs(), 1)
}

func TestWriteFitsNeedsSegments(t *testing.T) {
	assert.Error(t, dfm.WriteFits(&bytes.Buffer{}, nil, nil, nil))
}
