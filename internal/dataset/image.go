package dataset

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nfnt/resize"

	"github.com/samcharles93/segeval/internal/tensor"
)

// ImageNet channel statistics used to normalise RGB inputs.
var (
	Mean = [3]float32{0.485, 0.456, 0.406}
	Std  = [3]float32{0.229, 0.224, 0.225}
)

type pair struct {
	name, image, label string
}

// ImageSource decodes image/label pairs from a dataset's on-disk layout:
//
//	cv:  <root>/val/*.png with labels in <root>/valannot/
//	voc: <root>/JPEGImages/<id>.jpg, <root>/SegmentationClass/<id>.png,
//	     ids from <root>/ImageSets/Segmentation/val.txt
//
// Label images carry class indices either as palette indices or gray levels.
type ImageSource struct {
	pairs []pair
	// Size, when positive, resizes so the shorter side equals Size.
	Size int
}

func NewImageSource(kind Kind, root string, size int) (*ImageSource, error) {
	var (
		pairs []pair
		err   error
	)
	switch kind {
	case CamVid:
		pairs, err = camvidPairs(root)
	case VOC:
		pairs, err = vocPairs(root)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedDataset, kind)
	}
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no validation samples found under %s", root)
	}
	return &ImageSource{pairs: pairs, Size: size}, nil
}

func camvidPairs(root string) ([]pair, error) {
	images, err := filepath.Glob(filepath.Join(root, "val", "*.png"))
	if err != nil {
		return nil, err
	}
	sort.Strings(images)
	out := make([]pair, 0, len(images))
	for _, img := range images {
		base := filepath.Base(img)
		out = append(out, pair{
			name:  strings.TrimSuffix(base, filepath.Ext(base)),
			image: img,
			label: filepath.Join(root, "valannot", base),
		})
	}
	return out, nil
}

func vocPairs(root string) ([]pair, error) {
	f, err := os.Open(filepath.Join(root, "ImageSets", "Segmentation", "val.txt"))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []pair
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		id := strings.TrimSpace(sc.Text())
		if id == "" {
			continue
		}
		out = append(out, pair{
			name:  id,
			image: filepath.Join(root, "JPEGImages", id+".jpg"),
			label: filepath.Join(root, "SegmentationClass", id+".png"),
		})
	}
	return out, sc.Err()
}

func (s *ImageSource) Len() int { return len(s.pairs) }

func (s *ImageSource) Sample(i int) (Item, error) {
	p := s.pairs[i]
	img, err := decodeFile(p.image)
	if err != nil {
		return Item{}, err
	}
	lbl, err := decodeFile(p.label)
	if err != nil {
		return Item{}, err
	}
	if img.Bounds().Size() != lbl.Bounds().Size() {
		return Item{}, fmt.Errorf("%s: image %v and label %v differ in size", p.name, img.Bounds().Size(), lbl.Bounds().Size())
	}
	labels := labelIndices(lbl)

	if s.Size > 0 {
		w, h := scaledSize(img.Bounds().Dx(), img.Bounds().Dy(), s.Size)
		img = resize.Resize(uint(w), uint(h), img, resize.Bilinear)
		labels = resizeNearest(labels, w, h)
	}
	return Item{Name: p.name, X: normalize(img), Y: labels}, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func scaledSize(w, h, short int) (int, int) {
	if w <= h {
		return short, max(1, h*short/w)
	}
	return max(1, w*short/h), short
}

// normalize converts an image to a (1, 3, H, W) tensor normalised with the
// ImageNet statistics.
func normalize(img image.Image) *tensor.Tensor {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	out := tensor.New(1, 3, h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			rgb := [3]float32{float32(r>>8) / 255, float32(g>>8) / 255, float32(bl>>8) / 255}
			for c := 0; c < 3; c++ {
				out.Set(0, c, y, x, (rgb[c]-Mean[c])/Std[c])
			}
		}
	}
	return out
}

// labelIndices reads class indices from a paletted or grayscale label image.
func labelIndices(img image.Image) *tensor.Labels {
	b := img.Bounds()
	out := tensor.NewLabels(1, b.Dy(), b.Dx())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			var v int64
			switch m := img.(type) {
			case *image.Paletted:
				v = int64(m.ColorIndexAt(b.Min.X+x, b.Min.Y+y))
			case *image.Gray:
				v = int64(m.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			default:
				v = int64(color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y)
			}
			out.Set(0, y, x, v)
		}
	}
	return out
}

// resizeNearest scales a label map without blending class indices.
func resizeNearest(l *tensor.Labels, w, h int) *tensor.Labels {
	out := tensor.NewLabels(1, h, w)
	for y := 0; y < h; y++ {
		sy := y * l.H / h
		for x := 0; x < w; x++ {
			out.Set(0, y, x, l.At(0, sy, x*l.W/w))
		}
	}
	return out
}
