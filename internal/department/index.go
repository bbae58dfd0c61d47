package department

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Index is an immutable in-memory view of the department tree, built from
// parent pointers. Build a fresh Index after any tree mutation.
type Index struct {
	byID     map[string]Department
	children map[string][]string
}

var nameCollator = collate.New(language.English)

// NewIndex builds an Index from a department snapshot.
func NewIndex(departments []Department) *Index {
	idx := &Index{
		byID:     make(map[string]Department, len(departments)),
		children: make(map[string][]string),
	}
	for _, d := range departments {
		idx.byID[d.ID] = d
		if d.ParentID != nil {
			idx.children[*d.ParentID] = append(idx.children[*d.ParentID], d.ID)
		}
	}
	for parent, ids := range idx.children {
		sort.SliceStable(ids, func(i, j int) bool {
			return nameCollator.CompareString(idx.byID[ids[i]].Name, idx.byID[ids[j]].Name) < 0
		})
		idx.children[parent] = ids
	}
	return idx
}

// Get returns a department by ID.
func (idx *Index) Get(id string) (Department, bool) {
	d, ok := idx.byID[id]
	return d, ok
}

// All returns every department in the index.
func (idx *Index) All() []Department {
	out := make([]Department, 0, len(idx.byID))
	for _, d := range idx.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AncestorsOf returns the ancestor IDs of a department in root-to-parent
// order, excluding the department itself.
func (idx *Index) AncestorsOf(id string) []string {
	d, ok := idx.byID[id]
	if !ok || len(d.Path) <= 1 {
		return nil
	}
	ancestors := make([]string, len(d.Path)-1)
	copy(ancestors, d.Path[:len(d.Path)-1])
	return ancestors
}

// DescendantsOf returns every department whose path contains id, excluding
// the department itself.
func (idx *Index) DescendantsOf(id string) []string {
	var out []string
	for _, d := range idx.byID {
		if d.ID == id {
			continue
		}
		for _, p := range d.Path {
			if p == id {
				out = append(out, d.ID)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// ChildrenOf returns the direct children of a department, name ordered.
func (idx *Index) ChildrenOf(id string) []Department {
	ids := idx.children[id]
	out := make([]Department, 0, len(ids))
	for _, cid := range ids {
		out = append(out, idx.byID[cid])
	}
	return out
}

// CascadeTargets returns the departments that inherit roles held directly in
// the given department. Traversal stops at the first child that requires
// explicit membership: nothing behind that gate is reachable through this
// department, even if deeper nodes would themselves be eligible.
func (idx *Index) CascadeTargets(id string) []Department {
	var out []Department
	queue := append([]string(nil), idx.children[id]...)
	for len(queue) > 0 {
		cid := queue[0]
		queue = queue[1:]
		child, ok := idx.byID[cid]
		if !ok || !child.CascadeEligible() {
			continue
		}
		out = append(out, child)
		queue = append(queue, idx.children[cid]...)
	}
	return out
}

// CascadeSourceFor finds which of the user's direct departments grants access
// to the target through the cascade. Every hop between the granting ancestor
// and the target (target included) must be cascade eligible.
func (idx *Index) CascadeSourceFor(directDeptIDs map[string]struct{}, targetID string) (string, bool) {
	target, ok := idx.byID[targetID]
	if !ok {
		return "", false
	}
	// Walk the path from the nearest ancestor outward. The chain from the
	// candidate down to the target must be unbroken.
	for i := len(target.Path) - 2; i >= 0; i-- {
		candidate := target.Path[i]
		if !idx.chainEligible(target.Path[i+1:]) {
			// A gate sits between this candidate and the target; any
			// ancestor further up is blocked by the same gate.
			return "", false
		}
		if _, direct := directDeptIDs[candidate]; direct {
			return candidate, true
		}
	}
	return "", false
}

func (idx *Index) chainEligible(ids []string) bool {
	for _, id := range ids {
		d, ok := idx.byID[id]
		if !ok || !d.CascadeEligible() {
			return false
		}
	}
	return true
}
