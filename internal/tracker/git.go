package tracker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// RangeChanges resolves an explicit change range from version-control
// history instead of fingerprint comparison. The range is either a single
// revision ("since revision X", diffed against HEAD) or "from..to".
//
// The returned set has no Unchanged entries; the source-control collaborator
// only reports what moved, which is all the orchestrators need.
func RangeChanges(repoPath, changeRange string) (*ChangeSet, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	fromRev, toRev := splitRange(changeRange)

	fromTree, err := treeAt(repo, fromRev)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", fromRev, err)
	}
	toTree, err := treeAt(repo, toRev)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", toRev, err)
	}

	changes, err := object.DiffTree(fromTree, toTree)
	if err != nil {
		return nil, fmt.Errorf("diffing trees: %w", err)
	}

	cs := &ChangeSet{}
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return nil, fmt.Errorf("classifying change: %w", err)
		}
		switch action {
		case merkletrie.Insert:
			cs.Added = append(cs.Added, ch.To.Name)
		case merkletrie.Delete:
			cs.Removed = append(cs.Removed, ch.From.Name)
		case merkletrie.Modify:
			cs.Modified = append(cs.Modified, ch.To.Name)
		}
	}

	sort.Strings(cs.Added)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Removed)
	return cs, nil
}

// splitRange parses "from..to", defaulting the right side to HEAD.
func splitRange(changeRange string) (string, string) {
	if from, to, ok := strings.Cut(changeRange, ".."); ok {
		to = strings.TrimPrefix(to, ".") // tolerate "from...to"
		if to == "" {
			to = "HEAD"
		}
		return from, to
	}
	return changeRange, "HEAD"
}

func treeAt(repo *git.Repository, rev string) (*object.Tree, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, err
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, err
	}
	return commit.Tree()
}
