package tracker

import "sort"

// ChangeSet partitions paths by how they differ from the prior index.
// It is computed per build, never stored.
type ChangeSet struct {
	Added     []string `json:"added"`
	Modified  []string `json:"modified"`
	Removed   []string `json:"removed"`
	Unchanged []string `json:"unchanged"`
}

// Empty reports whether nothing was added, modified, or removed.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Added) == 0 && len(cs.Modified) == 0 && len(cs.Removed) == 0
}

// Touched returns added ∪ modified, the paths that force reprocessing of
// their owning components.
func (cs *ChangeSet) Touched() []string {
	touched := make([]string, 0, len(cs.Added)+len(cs.Modified))
	touched = append(touched, cs.Added...)
	touched = append(touched, cs.Modified...)
	return touched
}

// Compute diffs a current snapshot against a prior index. A path is
// "modified" iff its fingerprint differs from the stored one. Slices are
// sorted for deterministic output.
func Compute(snapshot map[string]string, prior *Index) *ChangeSet {
	cs := &ChangeSet{}

	for path, hash := range snapshot {
		stored, ok := prior.Files[path]
		switch {
		case !ok:
			cs.Added = append(cs.Added, path)
		case stored != hash:
			cs.Modified = append(cs.Modified, path)
		default:
			cs.Unchanged = append(cs.Unchanged, path)
		}
	}

	for path := range prior.Files {
		if _, ok := snapshot[path]; !ok {
			cs.Removed = append(cs.Removed, path)
		}
	}

	sort.Strings(cs.Added)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Removed)
	sort.Strings(cs.Unchanged)
	return cs
}
