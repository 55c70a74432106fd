package market

// PriceSeries is an ordered, append-only run of closing prices, oldest first.
// When Cap is positive the series keeps only the most recent Cap values.
type PriceSeries struct {
	Cap    int
	values []float64
}

// NewPriceSeries copies closes into a series bounded to capacity values.
func NewPriceSeries(capacity int, closes ...float64) *PriceSeries {
	s := &PriceSeries{Cap: capacity}
	s.Append(closes...)
	return s
}

// Append adds closes to the end of the series, dropping the oldest values
// once the capacity is exceeded.
func (s *PriceSeries) Append(closes ...float64) {
	s.values = append(s.values, closes...)
	if s.Cap > 0 && len(s.values) > s.Cap {
		s.values = append([]float64(nil), s.values[len(s.values)-s.Cap:]...)
	}
}

func (s *PriceSeries) Len() int { return len(s.values) }

// Values returns a copy of the series.
func (s *PriceSeries) Values() []float64 {
	return append([]float64(nil), s.values...)
}

// Last returns the most recent close.
func (s *PriceSeries) Last() (float64, bool) {
	if len(s.values) == 0 {
		return 0, false
	}
	return s.values[len(s.values)-1], true
}

// Tail returns a copy of the last n values, or the whole series when it is shorter.
func (s *PriceSeries) Tail(n int) []float64 {
	if n <= 0 || n >= len(s.values) {
		return s.Values()
	}
	return append([]float64(nil), s.values[len(s.values)-n:]...)
}

// DropLast returns a new series without the most recent close.
// It is the "as of the previous bar" view of the series.
func (s *PriceSeries) DropLast() *PriceSeries {
	if len(s.values) == 0 {
		return &PriceSeries{Cap: s.Cap}
	}
	return &PriceSeries{
		Cap:    s.Cap,
		values: append([]float64(nil), s.values[:len(s.values)-1]...),
	}
}
