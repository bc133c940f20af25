package dataset

import "fmt"

// SplitParams controls the time-ordered partition. ValidationFraction is the
// share of what remains after the training prefix; 0 leaves validation empty.
type SplitParams struct {
	BatchSize          int
	TrainFraction      float64
	ValidationFraction float64
}

func (p SplitParams) Validate() error {
	if p.BatchSize < 1 {
		return fmt.Errorf("batch size must be >= 1, got %d", p.BatchSize)
	}
	if p.TrainFraction <= 0 || p.TrainFraction >= 1 {
		return fmt.Errorf("train fraction must be in (0,1), got %v", p.TrainFraction)
	}
	if p.ValidationFraction < 0 || p.ValidationFraction >= 1 {
		return fmt.Errorf("validation fraction must be in [0,1), got %v", p.ValidationFraction)
	}
	return nil
}

// Split holds contiguous train / validation / test segments. The offsets are
// sample indices into the windowed dataset the split was cut from.
type Split struct {
	Train      *Windowed
	Validation *Windowed
	Test       *Windowed

	ValidationOffset int
	TestOffset       int
	// Dropped counts trailing samples lost to batch alignment.
	Dropped int
}

// Total is the number of samples kept across all segments.
func (s *Split) Total() int {
	return s.Train.Len() + s.Validation.Len() + s.Test.Len()
}

// Partition cuts w into train, validation and test prefixes in time order.
// Every segment length is a multiple of BatchSize; fewer than BatchSize
// samples past the last full batch are dropped.
func Partition(w *Windowed, p SplitParams) (*Split, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	b := p.BatchSize
	total := floorTo(w.Len(), b)
	if total == 0 {
		return nil, fmt.Errorf("%w: %d samples cannot fill one batch of %d", ErrInsufficientRows, w.Len(), b)
	}

	train := floorTo(int(float64(total)*p.TrainFraction), b)
	validation := floorTo(int(float64(total-train)*p.ValidationFraction), b)

	return &Split{
		Train:            w.Slice(0, train),
		Validation:       w.Slice(train, train+validation),
		Test:             w.Slice(train+validation, total),
		ValidationOffset: train,
		TestOffset:       train + validation,
		Dropped:          w.Len() - total,
	}, nil
}

func floorTo(n, b int) int {
	return (n / b) * b
}
