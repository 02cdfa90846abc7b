package presence

import "sort"

// socketSet is the per-user connection registry. It is a set rather than a counter so a
// retried auth on the same socket cannot inflate the count.
type socketSet map[string]struct{}

func (s socketSet) add(id string) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

func (s socketSet) remove(id string) bool {
	if _, ok := s[id]; !ok {
		return false
	}
	delete(s, id)
	return true
}

func (s socketSet) ids() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
