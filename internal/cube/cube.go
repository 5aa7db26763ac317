// Package cube implements labeled N-dimensional arrays of float64.
//
// Every axis has a name and an ordered set of unique string labels. Numeric
// axes (the year axis in particular) store integer or decimal labels and can be
// interpolated. Cubes are treated as values: every transforming operation
// returns a new cube and leaves its receiver untouched.
package cube

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Conventional axis names.
const (
	YearAxis      = "year"
	RegionAxis    = "region"
	VariableAxis  = "variable"
	PollutantAxis = "pollutant"
	SectorAxis    = "sector"
)

var (
	// ErrMissingLabel is returned when a selection names a label the axis does not hold.
	ErrMissingLabel = errors.New("label not found")
	// ErrOutOfRange is returned when interpolation is asked to extrapolate.
	ErrOutOfRange = errors.New("coordinate out of range")
	// ErrShape is returned when two cubes do not line up.
	ErrShape = errors.New("shape mismatch")
	// ErrNoAxis is returned when an axis name is unknown.
	ErrNoAxis = errors.New("axis not found")
)

// Axis is a named, ordered set of unique labels.
type Axis struct {
	Name   string
	Labels []string
	pos    map[string]int
}

// NewAxis builds an axis. Labels must be unique; a duplicate is a programming
// error and panics.
func NewAxis(name string, labels ...string) Axis {
	pos := make(map[string]int, len(labels))
	own := make([]string, len(labels))
	for i, l := range labels {
		if _, dup := pos[l]; dup {
			panic(fmt.Sprintf("cube: duplicate label %q on axis %q", l, name))
		}
		pos[l] = i
		own[i] = l
	}
	return Axis{Name: name, Labels: own, pos: pos}
}

// NewYearAxis builds a strictly increasing year axis from years in any order.
// Repeated years collapse to one label.
func NewYearAxis(years ...int) Axis {
	sorted := append([]int(nil), years...)
	sort.Ints(sorted)
	labels := make([]string, 0, len(sorted))
	for i, y := range sorted {
		if i > 0 && y == sorted[i-1] {
			continue
		}
		labels = append(labels, strconv.Itoa(y))
	}
	return NewAxis(YearAxis, labels...)
}

// Len returns the number of labels.
func (a Axis) Len() int { return len(a.Labels) }

// Has reports whether label is on the axis.
func (a Axis) Has(label string) bool {
	_, ok := a.pos[label]
	return ok
}

// Pos returns the position of label.
func (a Axis) Pos(label string) (int, bool) {
	i, ok := a.pos[label]
	return i, ok
}

// Floats parses every label as a number.
func (a Axis) Floats() ([]float64, error) {
	out := make([]float64, len(a.Labels))
	for i, l := range a.Labels {
		v, err := strconv.ParseFloat(l, 64)
		if err != nil {
			return nil, fmt.Errorf("axis %s: label %q is not numeric", a.Name, l)
		}
		out[i] = v
	}
	return out, nil
}

// Bounds returns the smallest and largest coordinate of a numeric axis.
func (a Axis) Bounds() (lo, hi float64, err error) {
	xs, err := a.Floats()
	if err != nil {
		return 0, 0, err
	}
	if len(xs) == 0 {
		return 0, 0, fmt.Errorf("axis %s is empty", a.Name)
	}
	return floats.Min(xs), floats.Max(xs), nil
}

// Cube is a dense labeled array stored in row-major order.
type Cube struct {
	axes    []Axis
	strides []int
	data    []float64
}

// New returns a zero-filled cube over the given axes.
func New(axes ...Axis) *Cube {
	return Full(0, axes...)
}

// NaNs returns a cube over the given axes where every cell is NaN.
func NaNs(axes ...Axis) *Cube {
	return Full(math.NaN(), axes...)
}

// Full returns a cube over the given axes where every cell is v.
func Full(v float64, axes ...Axis) *Cube {
	names := make(map[string]struct{}, len(axes))
	for _, a := range axes {
		if _, dup := names[a.Name]; dup {
			panic(fmt.Sprintf("cube: duplicate axis %q", a.Name))
		}
		names[a.Name] = struct{}{}
	}
	c := &Cube{axes: append([]Axis(nil), axes...)}
	c.strides = make([]int, len(axes))
	size := 1
	for i := len(axes) - 1; i >= 0; i-- {
		c.strides[i] = size
		size *= axes[i].Len()
	}
	c.data = make([]float64, size)
	if v != 0 {
		for i := range c.data {
			c.data[i] = v
		}
	}
	return c
}

// Clone returns a deep copy.
func (c *Cube) Clone() *Cube {
	out := &Cube{
		axes:    append([]Axis(nil), c.axes...),
		strides: append([]int(nil), c.strides...),
		data:    append([]float64(nil), c.data...),
	}
	return out
}

// Axes returns the axes in storage order.
func (c *Cube) Axes() []Axis { return append([]Axis(nil), c.axes...) }

// Dims returns the axis names in storage order.
func (c *Cube) Dims() []string {
	out := make([]string, len(c.axes))
	for i, a := range c.axes {
		out[i] = a.Name
	}
	return out
}

// Axis returns the named axis.
func (c *Cube) Axis(name string) (Axis, bool) {
	i := c.axisIndex(name)
	if i < 0 {
		return Axis{}, false
	}
	return c.axes[i], true
}

// Labels returns a copy of the labels of the named axis, or nil.
func (c *Cube) Labels(name string) []string {
	a, ok := c.Axis(name)
	if !ok {
		return nil
	}
	return append([]string(nil), a.Labels...)
}

// Len returns the number of cells.
func (c *Cube) Len() int { return len(c.data) }

// Values returns a copy of the cells in row-major order.
func (c *Cube) Values() []float64 { return append([]float64(nil), c.data...) }

func (c *Cube) axisIndex(name string) int {
	for i, a := range c.axes {
		if a.Name == name {
			return i
		}
	}
	return -1
}

func (c *Cube) mustAxis(name string) (int, error) {
	i := c.axisIndex(name)
	if i < 0 {
		return -1, fmt.Errorf("%w: %s (have %s)", ErrNoAxis, name, strings.Join(c.Dims(), ", "))
	}
	return i, nil
}

func (c *Cube) offset(labels []string) (int, error) {
	if len(labels) != len(c.axes) {
		return 0, fmt.Errorf("%w: got %d labels for %d axes", ErrShape, len(labels), len(c.axes))
	}
	off := 0
	for i, l := range labels {
		p, ok := c.axes[i].pos[l]
		if !ok {
			return 0, fmt.Errorf("%w: %q on axis %s", ErrMissingLabel, l, c.axes[i].Name)
		}
		off += p * c.strides[i]
	}
	return off, nil
}

// At returns the cell addressed by one label per axis, in axis order.
func (c *Cube) At(labels ...string) (float64, error) {
	off, err := c.offset(labels)
	if err != nil {
		return math.NaN(), err
	}
	return c.data[off], nil
}

// Set stores v in the cell addressed by one label per axis, in axis order.
func (c *Cube) Set(v float64, labels ...string) error {
	off, err := c.offset(labels)
	if err != nil {
		return err
	}
	c.data[off] = v
	return nil
}

// Loc returns the cell addressed by axis name, regardless of storage order.
func (c *Cube) Loc(coords map[string]string) (float64, error) {
	labels := make([]string, len(c.axes))
	for i, a := range c.axes {
		l, ok := coords[a.Name]
		if !ok {
			return math.NaN(), fmt.Errorf("%w: no coordinate for axis %s", ErrShape, a.Name)
		}
		labels[i] = l
	}
	return c.At(labels...)
}

// Each calls fn for every cell with its labels in axis order. The labels
// slice is reused between calls.
func (c *Cube) Each(fn func(labels []string, v float64)) {
	labels := make([]string, len(c.axes))
	each(c.shape(), func(idx []int) {
		off := 0
		for i, p := range idx {
			labels[i] = c.axes[i].Labels[p]
			off += p * c.strides[i]
		}
		fn(labels, c.data[off])
	})
}

func (c *Cube) shape() []int {
	s := make([]int, len(c.axes))
	for i, a := range c.axes {
		s[i] = a.Len()
	}
	return s
}

// each walks every multi-index of shape in row-major order.
func each(shape []int, fn func(idx []int)) {
	for _, n := range shape {
		if n == 0 {
			return
		}
	}
	idx := make([]int, len(shape))
	for {
		fn(idx)
		k := len(shape) - 1
		for k >= 0 {
			idx[k]++
			if idx[k] < shape[k] {
				break
			}
			idx[k] = 0
			k--
		}
		if k < 0 {
			return
		}
	}
}
