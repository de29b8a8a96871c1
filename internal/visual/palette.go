package visual

import (
	"image/color"

	"github.com/samcharles93/segeval/internal/dataset"
)

// Palette maps class indices to colours.  Indices without an entry render
// as Void.
type Palette struct {
	Colors []color.RGBA
	Void   color.RGBA
	// VoidIndex is the label drawn with Void even when Colors is long
	// enough to cover it.
	VoidIndex int64
}

func (p Palette) Color(label int64) color.RGBA {
	if label == p.VoidIndex || label < 0 || label >= int64(len(p.Colors)) {
		return p.Void
	}
	return p.Colors[label]
}

var camvidColors = []color.RGBA{
	{128, 128, 128, 255}, // sky
	{128, 0, 0, 255},     // building
	{192, 192, 128, 255}, // pole
	{128, 64, 128, 255},  // road
	{0, 0, 192, 255},     // pavement
	{128, 128, 0, 255},   // tree
	{192, 128, 128, 255}, // sign symbol
	{64, 64, 128, 255},   // fence
	{64, 0, 128, 255},    // car
	{64, 64, 0, 255},     // pedestrian
	{0, 128, 192, 255},   // bicyclist
}

// vocColors builds the PASCAL VOC colormap by spreading the bits of the
// class index over the three channels.
func vocColors(n int) []color.RGBA {
	out := make([]color.RGBA, n)
	for i := 0; i < n; i++ {
		var r, g, b uint8
		c := i
		for j := 0; j < 8; j++ {
			r |= uint8((c>>0)&1) << (7 - j)
			g |= uint8((c>>1)&1) << (7 - j)
			b |= uint8((c>>2)&1) << (7 - j)
			c >>= 3
		}
		out[i] = color.RGBA{r, g, b, 255}
	}
	return out
}

// PaletteFor returns the label palette for a dataset kind.
func PaletteFor(kind dataset.Kind) Palette {
	info := kind.Describe()
	if kind == dataset.VOC {
		return Palette{Colors: vocColors(info.NClasses), Void: color.RGBA{255, 255, 255, 255}, VoidIndex: info.IgnoreIndex}
	}
	return Palette{Colors: camvidColors, Void: color.RGBA{0, 0, 0, 255}, VoidIndex: info.IgnoreIndex}
}
