package tensor

import "errors"

var (
	ErrShapeMismatch = errors.New("tensor shape mismatch")
	ErrPadTooLarge   = errors.New("reflect padding must be smaller than the padded dimension")

	errNegativeDim = errors.New("negative dimension for tensor")
)
