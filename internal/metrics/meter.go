package metrics

// AverageMeter tracks the latest value and running mean of a scalar.
type AverageMeter struct {
	Val   float64
	Sum   float64
	Count int64
	Avg   float64
}

// Update records val observed n times.
func (m *AverageMeter) Update(val float64, n int64) {
	m.Val = val
	m.Sum += val * float64(n)
	m.Count += n
	if m.Count > 0 {
		m.Avg = m.Sum / float64(m.Count)
	}
}

// Reset clears the meter.
func (m *AverageMeter) Reset() { *m = AverageMeter{} }
