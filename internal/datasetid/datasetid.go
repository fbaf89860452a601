// Package datasetid identifies a dataset by its (release, species, assembly)
// triple and derives the canonical string and content hash used throughout
// the cache and catalog.
package datasetid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ID is a content-addressed dataset identifier: three non-empty tokens.
type ID struct {
	Release  string
	Species  string
	Assembly string
}

// New validates the three tokens and returns an ID. All three must be
// non-empty; callers that received these from untrusted query parameters
// should use New rather than constructing ID directly.
func New(release, species, assembly string) (ID, error) {
	if release == "" {
		return ID{}, fmt.Errorf("datasetid: release is empty")
	}
	if species == "" {
		return ID{}, fmt.Errorf("datasetid: species is empty")
	}
	if assembly == "" {
		return ID{}, fmt.Errorf("datasetid: assembly is empty")
	}
	return ID{Release: release, Species: species, Assembly: assembly}, nil
}

// Canonical returns "release/species/assembly".
func (id ID) Canonical() string {
	return id.Release + "/" + id.Species + "/" + id.Assembly
}

// String implements fmt.Stringer as Canonical, for use in logs.
func (id ID) String() string {
	return id.Canonical()
}

// Hash returns the hex-encoded SHA-256 of the canonical string: the dataset
// hash used for stable file naming and cross-process identity.
func (id ID) Hash() string {
	sum := sha256.Sum256([]byte(id.Canonical()))
	return hex.EncodeToString(sum[:])
}

// Zero reports whether id is the zero value (no dataset selected).
func (id ID) Zero() bool {
	return id.Release == "" && id.Species == "" && id.Assembly == ""
}
