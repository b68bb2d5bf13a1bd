package pool

// traceCapacity is the number of marks preallocated per trace.
const traceCapacity = 16

// Mark is a single labeled timestamp of a trace.
type Mark struct {
	Label string
	At    int64 // µs on the pipeline clock
}

// Trace is an ordered, clearable list of marks recorded as buffer transits
// the stages. Marks are preallocated, adding up to 16 of them does not
// allocate.
type Trace struct {
	marks []Mark
}

func newTrace() Trace {
	return Trace{marks: make([]Mark, 0, traceCapacity)}
}

// Add appends a mark.
func (t *Trace) Add(label string, at int64) {
	t.marks = append(t.marks, Mark{Label: label, At: at})
}

// Clear removes all marks, keeping the storage.
func (t *Trace) Clear() {
	t.marks = t.marks[:0]
}

// Merge replaces marks of the trace with marks of src. It is used when a
// transform hands the trace of its input over to its output.
func (t *Trace) Merge(src *Trace) {
	t.marks = append(t.marks[:0], src.marks...)
}

// Len returns number of marks.
func (t *Trace) Len() int {
	return len(t.marks)
}

// First returns the first mark.
func (t *Trace) First() (Mark, bool) {
	if len(t.marks) == 0 {
		return Mark{}, false
	}
	return t.marks[0], true
}

// Spent returns µs elapsed between the first and the last marks.
func (t *Trace) Spent() int64 {
	if len(t.marks) < 2 {
		return 0
	}
	return t.marks[len(t.marks)-1].At - t.marks[0].At
}

// Each calls fn for every mark in order.
func (t *Trace) Each(fn func(label string, at int64)) {
	for _, m := range t.marks {
		fn(m.Label, m.At)
	}
}
