package orm

import (
	"sort"
	"strings"
)

// Activation is a tree of relation names to populate on a read.
// A nil or empty subtree marks a leaf.
//
//	Activation{"comments": {"author": nil}, "friends": nil}
type Activation map[string]Activation

// PathSeparator separates nesting levels in relation paths ("comments:author").
const PathSeparator = ":"

// Keys returns the top-level relation names in sorted order.
func (a Activation) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether path is activated.
func (a Activation) Has(path string) bool {
	node := a
	for _, seg := range strings.Split(path, PathSeparator) {
		sub, ok := node[seg]
		if !ok {
			return false
		}
		node = sub
	}
	return true
}

func (a Activation) clone() Activation {
	if a == nil {
		return nil
	}
	out := make(Activation, len(a))
	for k, v := range a {
		out[k] = v.clone()
	}
	return out
}

// activate adds path to a in place. Already activated subtrees are kept.
func (a Activation) activate(path string) {
	node := a
	segs := strings.Split(path, PathSeparator)
	for i, seg := range segs {
		sub := node[seg]
		if sub == nil && i < len(segs)-1 {
			sub = Activation{}
			node[seg] = sub
		} else if _, ok := node[seg]; !ok {
			node[seg] = nil
		}
		node = sub
	}
}

// merge adds every path of other to a in place.
func (a Activation) merge(other Activation) {
	for k, sub := range other {
		if len(sub) == 0 {
			if _, ok := a[k]; !ok {
				a[k] = nil
			}
			continue
		}
		if a[k] == nil {
			a[k] = Activation{}
		}
		a[k].merge(sub)
	}
}

// deactivate removes the last segment of path from its parent in place.
func (a Activation) deactivate(path string) {
	segs := strings.Split(path, PathSeparator)
	node := a
	for _, seg := range segs[:len(segs)-1] {
		node = node[seg]
		if node == nil {
			return
		}
	}
	delete(node, segs[len(segs)-1])
}
