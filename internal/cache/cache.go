package cache

import (
	"context"
	"errors"
	"fmt"

	"stock-lstm-research/internal/dataset"
)

var (
	ErrCacheMiss     = errors.New("cache miss")
	ErrShapeMismatch = errors.New("cached shape does not match window parameters")
)

// Key identifies a cached windowing pass. Timesteps and features are not
// part of the key; a load whose width disagrees reports ErrShapeMismatch.
type Key struct {
	Column  string
	Code    string
	Horizon int
}

func (k Key) String() string {
	return fmt.Sprintf("%s-%s-s%d", k.Column, k.Code, k.Horizon)
}

// Store persists windowed datasets between runs.
type Store interface {
	Load(ctx context.Context, key Key, params dataset.WindowParams) (*dataset.Windowed, error)
	Save(ctx context.Context, key Key, w *dataset.Windowed) error
}

// Stale reports whether err means "recompute and overwrite".
func Stale(err error) bool {
	return errors.Is(err, ErrCacheMiss) || errors.Is(err, ErrShapeMismatch)
}
