package anomaly

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/montanaflynn/stats"
)

// DefaultFactor is the classic Tukey fence multiplier.
const DefaultFactor = 1.5

var ErrInvalidFactor = errors.New("anomaly factor must be a finite number greater than zero")

// Class is the classification of a single sample.
type Class string

const (
	ClassNormal Class = "Normal"
	ClassLow    Class = "Low"
	ClassHigh   Class = "High"
)

// Summary holds the quartile statistics of a population.
type Summary struct {
	Count        int
	Median       float64
	LowerHinge   float64
	UpperHinge   float64
	IQD          float64
	LowerWhisker float64
	UpperWhisker float64
}

type sample[K cmp.Ordered] struct {
	key   K
	value float64
}

type outlierViews[K cmp.Ordered] struct {
	low  []K
	high []K
	all  []K
}

// Detector classifies the samples of a population into low and high outliers using the
// quartiles of the population and a whisker factor. The population is copied on creation.
// Derived views are computed on first access and cached until the factor changes.
type Detector[K cmp.Ordered] struct {
	// sorted ascending by value, then key
	samples []sample[K]
	byKey   map[K]float64

	median     float64
	lowerHinge float64
	upperHinge float64

	lock     sync.Mutex
	factor   float64
	keys     []K
	outliers *outlierViews[K]
}

type Option func(*options) error

type options struct {
	factor float64
}

func WithFactor(factor float64) Option {
	return func(o *options) error {
		if err := validateFactor(factor); err != nil {
			return err
		}
		o.factor = factor
		return nil
	}
}

func validateFactor(factor float64) error {
	if math.IsNaN(factor) || math.IsInf(factor, 0) || factor <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidFactor, factor)
	}
	return nil
}

func NewDetector[K cmp.Ordered](population map[K]float64, opts ...Option) (*Detector[K], error) {
	o := &options{factor: DefaultFactor}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	d := &Detector[K]{
		samples: make([]sample[K], 0, len(population)),
		byKey:   make(map[K]float64, len(population)),
		factor:  o.factor,
	}
	for key, value := range population {
		d.samples = append(d.samples, sample[K]{key: key, value: value})
		d.byKey[key] = value
	}
	slices.SortFunc(d.samples, func(a, b sample[K]) int {
		if c := cmp.Compare(a.value, b.value); c != 0 {
			return c
		}
		return cmp.Compare(a.key, b.key)
	})

	if err := d.computeQuartiles(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Detector[K]) computeQuartiles() error {
	n := len(d.samples)
	if n == 0 {
		return nil
	}
	values := make(stats.Float64Data, n)
	for i, s := range d.samples {
		values[i] = s.value
	}

	centerIndex := float64(n-1) / 2
	low, high := int(math.Floor(centerIndex)), int(math.Ceil(centerIndex))

	var err error
	if d.median, err = stats.Median(values); err != nil {
		return fmt.Errorf("failed to compute median: %w", err)
	}
	if d.lowerHinge, err = stats.Median(values[:low+1]); err != nil {
		return fmt.Errorf("failed to compute lower hinge: %w", err)
	}
	if d.upperHinge, err = stats.Median(values[high:]); err != nil {
		return fmt.Errorf("failed to compute upper hinge: %w", err)
	}
	return nil
}

func (d *Detector[K]) Factor() float64 {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.factor
}

// SetFactor changes the whisker factor. The medians are kept, the outlier views are derived
// again on next access. An invalid factor leaves the detector unchanged.
func (d *Detector[K]) SetFactor(factor float64) error {
	if err := validateFactor(factor); err != nil {
		return err
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.factor != factor {
		d.factor = factor
		d.outliers = nil
	}
	return nil
}

func (d *Detector[K]) Summary() Summary {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.summaryLocked()
}

func (d *Detector[K]) summaryLocked() Summary {
	if len(d.samples) == 0 {
		return Summary{}
	}
	iqd := d.upperHinge - d.lowerHinge
	return Summary{
		Count:        len(d.samples),
		Median:       d.median,
		LowerHinge:   d.lowerHinge,
		UpperHinge:   d.upperHinge,
		IQD:          iqd,
		LowerWhisker: d.lowerHinge - d.factor*iqd,
		UpperWhisker: d.upperHinge + d.factor*iqd,
	}
}

// Keys returns every key of the population ordered by value.
func (d *Detector[K]) Keys() []K {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.keys == nil {
		d.keys = make([]K, 0, len(d.samples))
		for _, s := range d.samples {
			d.keys = append(d.keys, s.key)
		}
	}
	return slices.Clone(d.keys)
}

func (d *Detector[K]) Low() []K {
	return slices.Clone(d.views().low)
}

func (d *Detector[K]) High() []K {
	return slices.Clone(d.views().high)
}

// Anomalies returns the low and the high outliers ordered by value.
func (d *Detector[K]) Anomalies() []K {
	return slices.Clone(d.views().all)
}

func (d *Detector[K]) Value(key K) (float64, bool) {
	value, ok := d.byKey[key]
	return value, ok
}

// Classify returns the class of a key, false if the key is not part of the population.
func (d *Detector[K]) Classify(key K) (Class, bool) {
	value, ok := d.byKey[key]
	if !ok {
		return "", false
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	return classify(value, d.summaryLocked()), true
}

func classify(value float64, summary Summary) Class {
	switch {
	case value < summary.LowerWhisker:
		return ClassLow
	case value > summary.UpperWhisker:
		return ClassHigh
	default:
		return ClassNormal
	}
}

func (d *Detector[K]) views() *outlierViews[K] {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.outliers != nil {
		return d.outliers
	}

	summary := d.summaryLocked()
	views := &outlierViews[K]{}
	for _, s := range d.samples {
		switch classify(s.value, summary) {
		case ClassLow:
			views.low = append(views.low, s.key)
			views.all = append(views.all, s.key)
		case ClassHigh:
			views.high = append(views.high, s.key)
			views.all = append(views.all, s.key)
		}
	}
	d.outliers = views
	return views
}
