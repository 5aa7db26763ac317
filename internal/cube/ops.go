package cube

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Sel keeps only the given labels of axis, in the given order. Every label
// must exist; the error lists all that do not.
func (c *Cube) Sel(axis string, labels ...string) (*Cube, error) {
	ai, err := c.mustAxis(axis)
	if err != nil {
		return nil, err
	}
	src := make([]int, len(labels))
	var missing []string
	for i, l := range labels {
		p, ok := c.axes[ai].pos[l]
		if !ok {
			missing = append(missing, l)
			continue
		}
		src[i] = p
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s on axis %s", ErrMissingLabel, strings.Join(missing, ", "), axis)
	}

	axes := c.Axes()
	axes[ai] = NewAxis(axis, labels...)
	out := New(axes...)
	n := 0
	each(out.shape(), func(idx []int) {
		off := 0
		for i, p := range idx {
			if i == ai {
				p = src[p]
			}
			off += p * c.strides[i]
		}
		out.data[n] = c.data[off]
		n++
	})
	return out, nil
}

// Index selects a single label of axis and drops the axis.
func (c *Cube) Index(axis, label string) (*Cube, error) {
	ai, err := c.mustAxis(axis)
	if err != nil {
		return nil, err
	}
	p, ok := c.axes[ai].pos[label]
	if !ok {
		return nil, fmt.Errorf("%w: %q on axis %s", ErrMissingLabel, label, axis)
	}
	out := New(c.without(ai)...)
	n := 0
	each(out.shape(), func(idx []int) {
		out.data[n] = c.data[c.baseOffset(ai, idx)+p*c.strides[ai]]
		n++
	})
	return out, nil
}

// Interp linearly interpolates along a numeric axis at x and drops the axis.
// A coordinate that hits a label exactly returns that cell unchanged. x must
// lie within the axis bounds; no extrapolation is done.
func (c *Cube) Interp(axis string, x float64) (*Cube, error) {
	ai, err := c.mustAxis(axis)
	if err != nil {
		return nil, err
	}
	xs, err := c.axes[ai].Floats()
	if err != nil {
		return nil, err
	}
	if len(xs) == 0 {
		return nil, fmt.Errorf("%w: axis %s is empty", ErrOutOfRange, axis)
	}
	if !sortedStrict(xs) {
		return nil, fmt.Errorf("axis %s is not strictly increasing", axis)
	}
	if x < xs[0] || x > xs[len(xs)-1] {
		return nil, fmt.Errorf("%w: %v outside [%v, %v] on axis %s", ErrOutOfRange, x, xs[0], xs[len(xs)-1], axis)
	}
	return c.reduce(ai, func(ys []float64) float64 { return interp1(xs, ys, x) }), nil
}

// Sum adds cells along axis, skipping NaN. An all-NaN lane sums to 0.
func (c *Cube) Sum(axis string) (*Cube, error) {
	ai, err := c.mustAxis(axis)
	if err != nil {
		return nil, err
	}
	return c.reduce(ai, nanSum), nil
}

// Mean averages cells along axis, skipping NaN. An all-NaN lane stays NaN.
func (c *Cube) Mean(axis string) (*Cube, error) {
	ai, err := c.mustAxis(axis)
	if err != nil {
		return nil, err
	}
	return c.reduce(ai, nanMean), nil
}

// Map applies fn to every cell.
func (c *Cube) Map(fn func(float64) float64) *Cube {
	out := c.Clone()
	for i, v := range out.data {
		out.data[i] = fn(v)
	}
	return out
}

// Clip bounds every cell to [lo, hi]. NaN stays NaN.
func (c *Cube) Clip(lo, hi float64) *Cube {
	return c.Map(func(v float64) float64 {
		switch {
		case math.IsNaN(v):
			return v
		case v < lo:
			return lo
		case v > hi:
			return hi
		}
		return v
	})
}

// FillNaN replaces NaN cells with v.
func (c *Cube) FillNaN(v float64) *Cube {
	return c.Map(func(x float64) float64 {
		if math.IsNaN(x) {
			return v
		}
		return x
	})
}

// Zip combines two cubes with identical axes cell by cell.
func (c *Cube) Zip(other *Cube, fn func(a, b float64) float64) (*Cube, error) {
	if !sameAxes(c.axes, other.axes) {
		return nil, fmt.Errorf("%w: [%s] vs [%s]", ErrShape, strings.Join(c.Dims(), ","), strings.Join(other.Dims(), ","))
	}
	out := c.Clone()
	for i := range out.data {
		out.data[i] = fn(c.data[i], other.data[i])
	}
	return out, nil
}

// Relabel renames the labels of axis position by position.
func (c *Cube) Relabel(axis string, labels []string) (*Cube, error) {
	ai, err := c.mustAxis(axis)
	if err != nil {
		return nil, err
	}
	if len(labels) != c.axes[ai].Len() {
		return nil, fmt.Errorf("%w: %d labels for axis %s of length %d", ErrShape, len(labels), axis, c.axes[ai].Len())
	}
	out := c.Clone()
	out.axes[ai] = NewAxis(axis, labels...)
	return out, nil
}

// WithLabel extends axis with label, filling the new cells with NaN. If the
// label already exists the cube is returned as a copy.
func (c *Cube) WithLabel(axis, label string) (*Cube, error) {
	ai, err := c.mustAxis(axis)
	if err != nil {
		return nil, err
	}
	if c.axes[ai].Has(label) {
		return c.Clone(), nil
	}
	axes := c.Axes()
	labels := append(append([]string(nil), c.axes[ai].Labels...), label)
	axes[ai] = NewAxis(axis, labels...)
	out := NaNs(axes...)
	old := c.axes[ai].Len()
	n := 0
	each(out.shape(), func(idx []int) {
		if idx[ai] < old {
			off := 0
			for i, p := range idx {
				off += p * c.strides[i]
			}
			out.data[n] = c.data[off]
		}
		n++
	})
	return out, nil
}

// Concat joins cubes along axis. All other axes must match exactly and the
// joined labels must stay unique.
func Concat(axis string, cubes ...*Cube) (*Cube, error) {
	if len(cubes) == 0 {
		return nil, fmt.Errorf("concat along %s: no cubes", axis)
	}
	first := cubes[0]
	ai, err := first.mustAxis(axis)
	if err != nil {
		return nil, err
	}
	var labels []string
	for _, c := range cubes {
		if len(c.axes) != len(first.axes) {
			return nil, fmt.Errorf("%w: concat along %s", ErrShape, axis)
		}
		for i := range c.axes {
			if i == ai {
				if c.axes[i].Name != axis {
					return nil, fmt.Errorf("%w: concat along %s", ErrShape, axis)
				}
				continue
			}
			if !sameAxis(c.axes[i], first.axes[i]) {
				return nil, fmt.Errorf("%w: axis %s differs in concat along %s", ErrShape, c.axes[i].Name, axis)
			}
		}
		for _, l := range c.axes[ai].Labels {
			if slices.Contains(labels, l) {
				return nil, fmt.Errorf("concat along %s: duplicate label %q", axis, l)
			}
			labels = append(labels, l)
		}
	}
	axes := first.Axes()
	axes[ai] = NewAxis(axis, labels...)
	out := New(axes...)
	for _, c := range cubes {
		var setErr error
		c.Each(func(ls []string, v float64) {
			if setErr == nil {
				setErr = out.Set(v, ls...)
			}
		})
		if setErr != nil {
			return nil, setErr
		}
	}
	return out, nil
}

func (c *Cube) without(ai int) []Axis {
	axes := make([]Axis, 0, len(c.axes)-1)
	for i, a := range c.axes {
		if i != ai {
			axes = append(axes, a)
		}
	}
	return axes
}

// baseOffset maps an index over the remaining axes back to a source offset
// with the dropped axis at position 0.
func (c *Cube) baseOffset(ai int, idx []int) int {
	off, j := 0, 0
	for i := range c.axes {
		if i == ai {
			continue
		}
		off += idx[j] * c.strides[i]
		j++
	}
	return off
}

func (c *Cube) reduce(ai int, fn func([]float64) float64) *Cube {
	out := New(c.without(ai)...)
	lane := make([]float64, c.axes[ai].Len())
	n := 0
	each(out.shape(), func(idx []int) {
		base := c.baseOffset(ai, idx)
		for k := range lane {
			lane[k] = c.data[base+k*c.strides[ai]]
		}
		out.data[n] = fn(lane)
		n++
	})
	return out
}

func interp1(xs, ys []float64, x float64) float64 {
	for k := range xs {
		if xs[k] == x {
			return ys[k]
		}
		if k+1 < len(xs) && xs[k] < x && x < xs[k+1] {
			w := (x - xs[k]) / (xs[k+1] - xs[k])
			return ys[k] + w*(ys[k+1]-ys[k])
		}
	}
	return math.NaN()
}

func nanSum(vs []float64) float64 {
	kept := make([]float64, 0, len(vs))
	for _, v := range vs {
		if !math.IsNaN(v) {
			kept = append(kept, v)
		}
	}
	return floats.Sum(kept)
}

func nanMean(vs []float64) float64 {
	kept := make([]float64, 0, len(vs))
	for _, v := range vs {
		if !math.IsNaN(v) {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return math.NaN()
	}
	return floats.Sum(kept) / float64(len(kept))
}

func sortedStrict(xs []float64) bool {
	for i := 1; i < len(xs); i++ {
		if xs[i] <= xs[i-1] {
			return false
		}
	}
	return true
}

func sameAxis(a, b Axis) bool {
	return a.Name == b.Name && slices.Equal(a.Labels, b.Labels)
}

func sameAxes(a, b []Axis) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameAxis(a[i], b[i]) {
			return false
		}
	}
	return true
}
