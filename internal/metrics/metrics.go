// Package metrics accumulates confusion statistics for semantic
// segmentation: pixel accuracy and per-class intersection over union.
package metrics

import (
	"fmt"
	"math"

	"github.com/samcharles93/segeval/internal/tensor"
)

// Eps is the spacing of 1.0 in float64.  It guards every division so classes
// that have not appeared yet score 0 instead of NaN.
var Eps = math.Nextafter(1, 2) - 1

// Batch holds the confusion contributions of one batch.
type Batch struct {
	Correct int64
	Labeled int64
	Inter   []int64
	Union   []int64
}

// Evaluate compares pred against target over nClasses classes.  Pixels whose
// target equals ignoreIndex, or falls outside [0, nClasses), contribute to
// none of the counts.
func Evaluate(pred, target *tensor.Labels, nClasses int, ignoreIndex int64) (Batch, error) {
	if pred.N != target.N || pred.H != target.H || pred.W != target.W {
		return Batch{}, fmt.Errorf("%w: pred [%d %d %d] vs target [%d %d %d]",
			tensor.ErrShapeMismatch, pred.N, pred.H, pred.W, target.N, target.H, target.W)
	}
	if nClasses <= 0 {
		return Batch{}, fmt.Errorf("metrics: invalid class count %d", nClasses)
	}
	b := Batch{
		Inter: make([]int64, nClasses),
		Union: make([]int64, nClasses),
	}
	areaPred := make([]int64, nClasses)
	areaLab := make([]int64, nClasses)
	n := int64(nClasses)
	for i, y := range target.Data {
		if y == ignoreIndex || y < 0 || y >= n {
			continue
		}
		b.Labeled++
		areaLab[y]++
		p := pred.Data[i]
		if p >= 0 && p < n {
			areaPred[p]++
		}
		if p == y {
			b.Correct++
			b.Inter[y]++
		}
	}
	for c := range b.Union {
		b.Union[c] = areaPred[c] + areaLab[c] - b.Inter[c]
	}
	return b, nil
}

// Totals are running confusion counts for one evaluation pass.
type Totals struct {
	Correct int64
	Labeled int64
	Inter   []int64
	Union   []int64
}

// NewTotals returns zeroed totals over nClasses.
func NewTotals(nClasses int) *Totals {
	return &Totals{
		Inter: make([]int64, nClasses),
		Union: make([]int64, nClasses),
	}
}

// Add accumulates a batch.  Counts only grow.
func (t *Totals) Add(b Batch) error {
	if len(b.Inter) != len(t.Inter) || len(b.Union) != len(t.Union) {
		return fmt.Errorf("metrics: batch has %d classes, totals have %d", len(b.Inter), len(t.Inter))
	}
	t.Correct += b.Correct
	t.Labeled += b.Labeled
	for c := range t.Inter {
		t.Inter[c] += b.Inter[c]
		t.Union[c] += b.Union[c]
	}
	return nil
}

// PixelAccuracy is correct / labeled.
func (t *Totals) PixelAccuracy() float64 {
	return float64(t.Correct) / (Eps + float64(t.Labeled))
}

// IoU returns intersection / union per class.
func (t *Totals) IoU() []float64 {
	out := make([]float64, len(t.Inter))
	for c := range t.Inter {
		out[c] = float64(t.Inter[c]) / (Eps + float64(t.Union[c]))
	}
	return out
}

// MeanIoU averages IoU over all classes, including ones not seen yet.
func (t *Totals) MeanIoU() float64 {
	iou := t.IoU()
	if len(iou) == 0 {
		return 0
	}
	var sum float64
	for _, v := range iou {
		sum += v
	}
	return sum / float64(len(iou))
}
