package geo

import (
	"context"
	"errors"
	"time"

	"asset-intake/internal/domain/asset"
)

// DefaultTimeout bounds a location fix when none is configured.
const DefaultTimeout = 5 * time.Second

var ErrNoFix = errors.New("no location fix")

// Coordinates is the raw fix reported by the capturing device.
type Coordinates struct {
	Lat      float64 `json:"lat" binding:"min=-90,max=90"`
	Lng      float64 `json:"lng" binding:"min=-180,max=180"`
	Accuracy float64 `json:"accuracy,omitempty"`
}

type Locator interface {
	Locate(ctx context.Context, hint *Coordinates) (asset.Location, error)
}

// Result is the outcome of a bounded location fix. Location is nil whenever
// the fix timed out or failed.
type Result struct {
	Location *asset.Location
	TimedOut bool
	Err      error
}

// Acquire asks the locator for a fix and gives up after timeout. It never
// blocks past the budget: a slow locator is abandoned, not awaited.
func Acquire(ctx context.Context, locator Locator, hint *Coordinates, timeout time.Duration) Result {
	if locator == nil {
		return Result{Err: ErrNoFix}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		loc asset.Location
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		loc, err := locator.Locate(ctx, hint)
		done <- outcome{loc: loc, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return Result{Err: o.err, TimedOut: errors.Is(o.err, context.DeadlineExceeded)}
		}
		return Result{Location: &o.loc}
	case <-ctx.Done():
		return Result{Err: ctx.Err(), TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded)}
	}
}

// CoordinateLocator turns the device fix into a location without a label.
type CoordinateLocator struct{}

func (CoordinateLocator) Locate(_ context.Context, hint *Coordinates) (asset.Location, error) {
	if hint == nil {
		return asset.Location{}, ErrNoFix
	}
	return asset.Location{Lat: hint.Lat, Lng: hint.Lng}, nil
}
