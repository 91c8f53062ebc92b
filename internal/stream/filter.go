package stream

// Filter decides which event types are delivered downstream. An empty
// include set means all types; the exclude set always wins on conflict.
type Filter struct {
	include map[string]struct{}
	exclude map[string]struct{}
}

// NewFilter builds a Filter from include and exclude type lists.
func NewFilter(include, exclude []string) *Filter {
	f := &Filter{
		include: make(map[string]struct{}, len(include)),
		exclude: make(map[string]struct{}, len(exclude)),
	}
	for _, t := range include {
		f.include[t] = struct{}{}
	}
	for _, t := range exclude {
		f.exclude[t] = struct{}{}
	}
	return f
}

// Allows reports whether an event of the given type passes the filter.
func (f *Filter) Allows(eventType string) bool {
	if _, excluded := f.exclude[eventType]; excluded {
		return false
	}
	if len(f.include) == 0 {
		return true
	}
	_, included := f.include[eventType]
	return included
}
