package visual

import (
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/segeval/internal/dataset"
	"github.com/samcharles93/segeval/internal/tensor"
)

func TestPath(t *testing.T) {
	t.Parallel()
	got := Path("/runs", "exp1", 7)
	assert.Equal(t, filepath.Join("/runs", "checkpoints", "exp1", "val", "7.png"), got)
}

func TestVOCPalette(t *testing.T) {
	t.Parallel()
	p := PaletteFor(dataset.VOC)
	require.Len(t, p.Colors, 21)
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, p.Color(0))
	assert.Equal(t, color.RGBA{128, 0, 0, 255}, p.Color(1))
	assert.Equal(t, color.RGBA{0, 128, 0, 255}, p.Color(2))
	assert.Equal(t, color.RGBA{0, 64, 128, 255}, p.Color(20))
	assert.Equal(t, p.Void, p.Color(255))
	assert.Equal(t, p.Void, p.Color(-1))
}

func TestCamVidPaletteVoid(t *testing.T) {
	t.Parallel()
	p := PaletteFor(dataset.CamVid)
	assert.Equal(t, color.RGBA{128, 64, 128, 255}, p.Color(3))
	assert.Equal(t, p.Void, p.Color(11))
}

func TestGrayscaleMinMax(t *testing.T) {
	t.Parallel()
	conf, err := tensor.FromData(1, 1, 1, 3, []float32{-0.9, -0.5, -0.1})
	require.NoError(t, err)
	img := grayscale(conf)
	r0, _, _, _ := img.At(0, 0).RGBA()
	r2, _, _, _ := img.At(2, 0).RGBA()
	assert.Equal(t, uint32(0), r0)
	assert.Equal(t, uint32(0xffff), r2)
}

func TestSaveWritesGrid(t *testing.T) {
	t.Parallel()
	x := tensor.New(1, 3, 4, 6)
	target := tensor.NewLabels(1, 4, 6)
	pred := tensor.NewLabels(1, 4, 6)
	pred.Set(0, 1, 1, 3)
	conf := tensor.New(1, 1, 4, 6)

	r := &Renderer{
		Palette:    PaletteFor(dataset.CamVid),
		Mean:       dataset.Mean,
		Std:        dataset.Std,
		PanelWidth: 60,
	}
	path := Path(t.TempDir(), "exp", 3)
	require.NoError(t, r.Save(path, x, target, pred, conf))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 120, img.Bounds().Dx())
	assert.Equal(t, 2*(40+captionHeight), img.Bounds().Dy())
}

func TestRenderRejectsEmpty(t *testing.T) {
	t.Parallel()
	r := &Renderer{Palette: PaletteFor(dataset.VOC)}
	_, err := r.Render(tensor.New(0, 3, 1, 1), tensor.NewLabels(0, 1, 1), tensor.NewLabels(0, 1, 1), tensor.New(0, 1, 1, 1))
	assert.ErrorIs(t, err, errEmptyPanel)
}
