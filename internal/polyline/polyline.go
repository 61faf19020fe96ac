// Package polyline decodes Google encoded polylines used by strava activity maps
package polyline

import (
	"errors"
	"fmt"
	"math"
)

const (
	DefaultPrecision = 5
	DefaultDimension = 2
)

var ErrMalformed = errors.New("malformed polyline")

type Options struct {
	Precision int // decimal digits kept, DefaultPrecision when zero
	Dimension int // values per point, DefaultDimension when zero
}

// Decode returns lat/lng points of encoded polyline
func Decode(encoded string) ([][]float64, error) {
	return DecodeWithOptions(encoded, Options{})
}

// DecodeWithOptions decodes polyline with custom precision and dimension
// Trailing values that do not form a whole point are dropped
func DecodeWithOptions(encoded string, opts Options) ([][]float64, error) {
	if opts.Precision == 0 {
		opts.Precision = DefaultPrecision
	}
	if opts.Dimension == 0 {
		opts.Dimension = DefaultDimension
	}
	if opts.Precision < 0 || opts.Dimension < 0 {
		return nil, fmt.Errorf("%w: negative precision or dimension", ErrMalformed)
	}

	values, err := decodeSigned(encoded)
	if err != nil {
		return nil, err
	}

	factor := math.Pow10(opts.Precision)
	last := make([]int64, opts.Dimension)
	points := make([][]float64, 0, len(values)/opts.Dimension)

	for i := 0; i+opts.Dimension <= len(values); i += opts.Dimension {
		point := make([]float64, opts.Dimension)
		for d := range opts.Dimension {
			last[d] += values[i+d]
			point[d] = round(float64(last[d])/factor, factor)
		}
		points = append(points, point)
	}

	return points, nil
}

// Every value is 5-bit chunks, lowest first, offset by 63; bit 0x20 marks continuation
func decodeSigned(encoded string) ([]int64, error) {
	values := make([]int64, 0, len(encoded)/2)

	var current int64
	var shift uint

	for i := 0; i < len(encoded); i++ {
		b := int64(encoded[i]) - 63
		if b < 0 || b > 63 {
			return nil, fmt.Errorf("%w: invalid character %q at %d", ErrMalformed, encoded[i], i)
		}
		if shift > 60 {
			return nil, fmt.Errorf("%w: value overflow at %d", ErrMalformed, i)
		}

		current |= (b & 0x1f) << shift
		if b >= 0x20 {
			shift += 5
			continue
		}

		if current&1 != 0 {
			values = append(values, ^(current >> 1))
		} else {
			values = append(values, current>>1)
		}
		current, shift = 0, 0
	}

	return values, nil
}

func round(v float64, factor float64) float64 {
	return math.Floor(v*factor+0.5) / factor
}
