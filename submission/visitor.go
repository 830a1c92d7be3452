package submission

// Visitor is called for each element of a traversal. Returning false stops
// the traversal.
type Visitor interface {
	Visit(e Element) bool
}

type VisitorFunc func(e Element) bool

func (f VisitorFunc) Visit(e Element) bool {
	return f(e)
}

// DepthFirst visits e and everything below it in pre-order: a set, then its
// elements in form order; a repeat, then its sets in ordinal order. It
// returns false if the visitor stopped the traversal.
func DepthFirst(e Element, v Visitor) bool {
	if !v.Visit(e) {
		return false
	}
	switch e := e.(type) {
	case *SubmissionSet:
		for _, child := range e.elements {
			if !DepthFirst(child, v) {
				return false
			}
		}
	case *Repeat:
		for _, set := range e.sets {
			if !DepthFirst(set, v) {
				return false
			}
		}
	}
	return true
}

// FindValues returns every value of elem found under set, in traversal
// order. A value inside a repeat group yields one entry per set.
func FindValues(set *SubmissionSet, elem *FormElement) []Value {
	var result []Value
	DepthFirst(set, VisitorFunc(func(e Element) bool {
		if v, ok := e.(Value); ok && v.FormElement() == elem {
			result = append(result, v)
		}
		return true
	}))
	return result
}
