// Package visual renders validation samples as a captioned 2x2 PNG grid.
package visual

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/samcharles93/segeval/internal/tensor"
)

var errEmptyPanel = errors.New("visual: empty panel")

const captionHeight = 16

// Renderer draws input, target, prediction and confidence panels.
type Renderer struct {
	Palette Palette
	// Mean and Std undo the input normalisation.
	Mean, Std [3]float32
	// PanelWidth scales every panel to this width; zero keeps the input
	// size.
	PanelWidth int
}

// Path is where the visualization for epoch lands under a checkpoint root.
func Path(checkpointRoot, experiment string, epoch int) string {
	return filepath.Join(checkpointRoot, "checkpoints", experiment, "val", strconv.Itoa(epoch)+".png")
}

// Render builds the grid for the first sample of each argument.  conf is
// drawn as given; callers pass the negated confidence so uncertain pixels
// come out bright.
func (r *Renderer) Render(x *tensor.Tensor, target, pred *tensor.Labels, conf *tensor.Tensor) (*image.RGBA, error) {
	if x.N == 0 || target.N == 0 || pred.N == 0 || conf.N == 0 {
		return nil, errEmptyPanel
	}
	panels := []struct {
		caption string
		img     image.Image
	}{
		{"input", r.input(x)},
		{"target", r.labels(target)},
		{"prediction", r.labels(pred)},
		{"confidence", grayscale(conf)},
	}

	pw, ph := x.W, x.H
	if r.PanelWidth > 0 && pw > 0 {
		ph = max(1, ph*r.PanelWidth/pw)
		pw = r.PanelWidth
	}
	cellH := ph + captionHeight
	out := image.NewRGBA(image.Rect(0, 0, 2*pw, 2*cellH))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	for i, p := range panels {
		ox, oy := (i%2)*pw, (i/2)*cellH
		dst := image.Rect(ox, oy+captionHeight, ox+pw, oy+cellH)
		draw.NearestNeighbor.Scale(out, dst, p.img, p.img.Bounds(), draw.Src, nil)
		d := font.Drawer{
			Dst:  out,
			Src:  image.Black,
			Face: face,
			Dot:  fixed.P(ox+2, oy+face.Ascent+1),
		}
		d.DrawString(p.caption)
	}
	return out, nil
}

// Save renders and writes the grid to path, creating parent directories.
func (r *Renderer) Save(path string, x *tensor.Tensor, target, pred *tensor.Labels, conf *tensor.Tensor) error {
	img, err := r.Render(x, target, pred, conf)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

func (r *Renderer) input(x *tensor.Tensor) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, x.W, x.H))
	for y := 0; y < x.H; y++ {
		for xx := 0; xx < x.W; xx++ {
			var px [3]uint8
			for c := 0; c < 3; c++ {
				ch := min(c, x.C-1)
				std, mean := r.Std[min(c, 2)], r.Mean[min(c, 2)]
				if std == 0 {
					std = 1
				}
				v := x.At(0, ch, y, xx)*std + mean
				px[c] = uint8(math.Round(float64(clamp01(v)) * 255))
			}
			img.SetRGBA(xx, y, color.RGBA{px[0], px[1], px[2], 255})
		}
	}
	return img
}

func (r *Renderer) labels(l *tensor.Labels) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, l.W, l.H))
	for y := 0; y < l.H; y++ {
		for x := 0; x < l.W; x++ {
			img.SetRGBA(x, y, r.Palette.Color(l.At(0, y, x)))
		}
	}
	return img
}

// grayscale min-max scales the first channel of the first sample.
func grayscale(t *tensor.Tensor) image.Image {
	plane := t.Plane(0, 0)
	lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range plane {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	img := image.NewGray(image.Rect(0, 0, t.W, t.H))
	span := hi - lo
	for i, v := range plane {
		var g float32
		if span > 0 {
			g = (v - lo) / span
		}
		img.Pix[i] = uint8(math.Round(float64(g) * 255))
	}
	return img
}

func clamp01(v float32) float32 {
	return min(max(v, 0), 1)
}
