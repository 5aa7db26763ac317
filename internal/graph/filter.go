package graph

import "strings"

// Field names an identity attribute filters can test.
type Field int

const (
	FieldName Field = iota
	FieldProduct
	FieldLocation
	FieldUnit
)

func (f Field) of(a *Activity) string {
	switch f {
	case FieldName:
		return a.Name
	case FieldProduct:
		return a.Product
	case FieldLocation:
		return a.Location
	case FieldUnit:
		return a.Unit
	}
	return ""
}

// Filter is a predicate over activities. Filters built by Equals on the name
// field also carry an index hint used by Graph.Find.
type Filter struct {
	match func(*Activity) bool
	field Field
	exact string
}

// Match reports whether a passes the filter.
func (f Filter) Match(a *Activity) bool { return f.match(a) }

func Equals(field Field, v string) Filter {
	return Filter{
		match: func(a *Activity) bool { return field.of(a) == v },
		field: field,
		exact: v,
	}
}

func Contains(field Field, v string) Filter {
	return Filter{
		match: func(a *Activity) bool { return strings.Contains(field.of(a), v) },
		field: field,
	}
}

// Either passes when any of fs passes.
func Either(fs ...Filter) Filter {
	return Filter{
		match: func(a *Activity) bool {
			for _, f := range fs {
				if f.match(a) {
					return true
				}
			}
			return false
		},
		field: -1,
	}
}

// DoesntContainAny passes when field contains none of vs.
func DoesntContainAny(field Field, vs ...string) Filter {
	return Filter{
		match: func(a *Activity) bool {
			s := field.of(a)
			for _, v := range vs {
				if strings.Contains(s, v) {
					return false
				}
			}
			return true
		},
		field: field,
	}
}

func matchAll(a *Activity, fs []Filter) bool {
	for _, f := range fs {
		if !f.match(a) {
			return false
		}
	}
	return true
}
