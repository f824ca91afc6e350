package deployment

import (
	"fmt"

	"github.com/artpar/apppublish/internal/core/domain"
)

// =============================================================================
// Package Ordering Functions
// =============================================================================

// SortPackages orders a batch so every package comes after the packages it
// depends on, using Kahn's algorithm.
//
// Only dependencies present in the batch create edges; dependencies outside
// the batch are assumed to be satisfied already. Among packages that are ready
// at the same time, the one that appeared first in the input goes first, so
// unrelated packages keep their relative order.
//
// Returns a *domain.CycleError naming the packages that could not be ordered
// when the batch contains a cycle, and domain.ErrInvalidPackage when two
// packages in the batch share an identity. No partial result is returned.
//
// Example:
//
//	// base ← app ← test
//	sorted, err := SortPackages([]domain.Package{test, app, base})
//	// Result: [base, app, test]
func SortPackages(packages []domain.Package) ([]domain.Package, error) {
	if len(packages) == 0 {
		return packages, nil
	}

	index, err := newBatchIndex(packages)
	if err != nil {
		return nil, err
	}

	// Build in-batch edges: dependency -> dependent
	inDegree := make([]int, len(packages))
	dependents := make([][]int, len(packages))
	for i, pkg := range packages {
		seen := make(map[int]bool)
		for _, dep := range pkg.Dependencies {
			j, ok := index.lookup(dep)
			if !ok || j == i || seen[j] {
				continue
			}
			seen[j] = true
			inDegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	// Ready set kept sorted by input position
	var ready []int
	for i := range packages {
		if inDegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	result := make([]domain.Package, 0, len(packages))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		result = append(result, packages[i])

		for _, d := range dependents[i] {
			inDegree[d]--
			if inDegree[d] == 0 {
				ready = insertSorted(ready, d)
			}
		}
	}

	if len(result) < len(packages) {
		var stuck []string
		for i, pkg := range packages {
			if inDegree[i] > 0 {
				stuck = append(stuck, pkg.Name())
			}
		}
		return nil, &domain.CycleError{Packages: stuck}
	}

	return result, nil
}

// batchIndex resolves declared dependencies to packages in the batch.
type batchIndex struct {
	packages []domain.Package
	byID     map[string]int
	byName   map[string]int
}

func newBatchIndex(packages []domain.Package) (*batchIndex, error) {
	idx := &batchIndex{
		packages: packages,
		byID:     make(map[string]int, len(packages)),
		byName:   make(map[string]int, len(packages)),
	}
	seen := make(map[string]int, len(packages))
	for i, pkg := range packages {
		key := pkg.Identity.Key()
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %s and %s have the same app identity",
				domain.ErrInvalidPackage, packages[prev].Name(), pkg.Name())
		}
		seen[key] = i

		if id := pkg.Identity.IDKey(); id != "" {
			idx.byID[id] = i
		}
		if _, taken := idx.byName[pkg.Identity.NameKey()]; !taken {
			idx.byName[pkg.Identity.NameKey()] = i
		}
	}
	return idx, nil
}

// lookup matches by app id when the dependency declares one, otherwise by
// publisher and name. A name match is rejected when both sides carry
// different ids.
func (idx *batchIndex) lookup(dep domain.Dependency) (int, bool) {
	if id := dep.IDKey(); id != "" {
		if i, ok := idx.byID[id]; ok {
			return i, true
		}
	}
	i, ok := idx.byName[dep.NameKey()]
	if !ok {
		return 0, false
	}
	if dep.IDKey() != "" && idx.packages[i].Identity.IDKey() != "" {
		return 0, false
	}
	return i, true
}

// insertSorted inserts v into the ascending slice s.
func insertSorted(s []int, v int) []int {
	pos := len(s)
	for k, x := range s {
		if v < x {
			pos = k
			break
		}
	}
	s = append(s, 0)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}

// UnmetMinimums lists in-batch dependencies whose declared minimum version is
// higher than the version of the package supplied in the same batch.
func UnmetMinimums(packages []domain.Package) []string {
	index, err := newBatchIndex(packages)
	if err != nil {
		return nil
	}

	var unmet []string
	for _, pkg := range packages {
		for _, dep := range pkg.Dependencies {
			j, ok := index.lookup(dep)
			if !ok {
				continue
			}
			target := packages[j]
			if target.Identity.Version.Compare(dep.MinVersion) < 0 {
				unmet = append(unmet, fmt.Sprintf("%s requires %s %s, batch has %s",
					pkg.Name(), dep.Name, dep.MinVersion, target.Identity.Version))
			}
		}
	}
	return unmet
}
