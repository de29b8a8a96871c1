// Package dataset provides validation samples and the per-dataset hooks the
// validator applies around inference.
package dataset

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedDataset is returned for a dataset kind outside the closed
// set.  It is a configuration error.
var ErrUnsupportedDataset = errors.New("unsupported dataset")

// Kind names a supported dataset.
type Kind string

const (
	CamVid Kind = "cv"
	VOC    Kind = "voc"
)

// Kinds lists every supported kind.
func Kinds() []Kind { return []Kind{CamVid, VOC} }

// ParseKind validates a dataset name.
func ParseKind(name string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(name))); k {
	case CamVid, VOC:
		return k, nil
	default:
		return "", fmt.Errorf("%w %q (expected cv or voc)", ErrUnsupportedDataset, name)
	}
}

// Info carries label-space defaults for a kind.
type Info struct {
	Name        string
	NClasses    int
	IgnoreIndex int64
}

// Describe returns the defaults for k.  VOC counts the background/unlabeled
// class at index 0.
func (k Kind) Describe() Info {
	switch k {
	case VOC:
		return Info{Name: "PASCAL VOC 2012", NClasses: 21, IgnoreIndex: 255}
	default:
		return Info{Name: "CamVid", NClasses: 11, IgnoreIndex: 11}
	}
}
