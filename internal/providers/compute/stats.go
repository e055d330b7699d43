package compute

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/capability"
)

// MaxSeriesLength caps the numbers a widget may submit in one call
const MaxSeriesLength = 100000

// ErrInvalidNumbers is returned for missing, empty or non-numeric series
var ErrInvalidNumbers = errors.New("invalid numbers")

// Summary describes one numeric series
type Summary struct {
	Count     int                `json:"count"`
	Sum       float64            `json:"sum"`
	Mean      float64            `json:"mean"`
	Median    float64            `json:"median"`
	Min       float64            `json:"min"`
	Max       float64            `json:"max"`
	Variance  float64            `json:"variance"`
	StdDev    float64            `json:"stddev"`
	Quantiles map[string]float64 `json:"quantiles,omitempty"`
}

// Operations returns the compute capability operations
func Operations() []capability.Operation {
	return []capability.Operation{
		{
			Name:        "compute.stats",
			Description: "Summary statistics over a numeric series",
			Invoke: func(ctx context.Context, call capability.Call) (interface{}, error) {
				nums, err := series(call.Args, "numbers")
				if err != nil {
					return nil, err
				}
				var qs []float64
				if _, ok := call.Args["quantiles"]; ok {
					if qs, err = series(call.Args, "quantiles"); err != nil {
						return nil, err
					}
				}
				return Summarize(nums, qs...)
			},
		},
		{
			Name:        "compute.correlation",
			Description: "Pearson correlation of two series",
			Invoke: func(ctx context.Context, call capability.Call) (interface{}, error) {
				x, err := series(call.Args, "x")
				if err != nil {
					return nil, err
				}
				y, err := series(call.Args, "y")
				if err != nil {
					return nil, err
				}
				return Correlation(x, y)
			},
		},
	}
}

// Summarize computes a Summary; quantiles must lie in [0, 1]
func Summarize(numbers []float64, quantiles ...float64) (*Summary, error) {
	if len(numbers) == 0 {
		return nil, fmt.Errorf("%w: empty series", ErrInvalidNumbers)
	}

	sorted := make([]float64, len(numbers))
	copy(sorted, numbers)
	sort.Float64s(sorted)

	mean, variance := stat.MeanVariance(sorted, nil)
	if len(sorted) < 2 {
		variance = 0
	}
	s := &Summary{
		Count:    len(sorted),
		Sum:      floats.Sum(sorted),
		Mean:     mean,
		Median:   stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Min:      sorted[0],
		Max:      sorted[len(sorted)-1],
		Variance: variance,
		StdDev:   math.Sqrt(variance),
	}

	if len(quantiles) > 0 {
		s.Quantiles = make(map[string]float64, len(quantiles))
		for _, q := range quantiles {
			if q < 0 || q > 1 {
				return nil, fmt.Errorf("%w: quantile %v out of range", ErrInvalidNumbers, q)
			}
			s.Quantiles[fmt.Sprintf("%g", q)] = stat.Quantile(q, stat.Empirical, sorted, nil)
		}
	}
	return s, nil
}

// Correlation returns the Pearson correlation coefficient of x and y
func Correlation(x, y []float64) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("%w: series lengths differ (%d vs %d)", ErrInvalidNumbers, len(x), len(y))
	}
	if len(x) < 2 {
		return 0, fmt.Errorf("%w: at least 2 points required", ErrInvalidNumbers)
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0, fmt.Errorf("%w: constant series", ErrInvalidNumbers)
	}
	return r, nil
}

func series(args map[string]interface{}, key string) ([]float64, error) {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an array", ErrInvalidNumbers, key)
	}
	if len(raw) > MaxSeriesLength {
		return nil, fmt.Errorf("%w: %s exceeds %d values", ErrInvalidNumbers, key, MaxSeriesLength)
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		f, ok := v.(float64)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %s[%d] is not a finite number", ErrInvalidNumbers, key, i)
		}
		out[i] = f
	}
	return out, nil
}
