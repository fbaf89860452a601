// Package layout derives the deterministic on-disk paths for a cached
// dataset. It performs no I/O: Paths is a pure function of (disk root,
// dataset id), stable across process restarts.
package layout

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bijux/atlas-cache/internal/datasetid"
)

// TmpDownloadDirName is the scratch subdirectory under the disk root where
// artifacts are written before being atomically renamed into place. Its
// contents are not part of the public on-disk contract.
const TmpDownloadDirName = ".tmp-atlas-download"

// VerifiedMarkerName is the filename of the fast-path verification marker
// colocated with a cached dataset artifact.
const VerifiedMarkerName = ".verified"

// Paths holds the deterministic locations for one dataset's on-disk state.
type Paths struct {
	DerivedDir         string
	ArtifactPath       string
	ManifestPath       string
	VerifiedMarkerPath string
}

// For computes the Paths for dataset id rooted at diskRoot. The derived
// directory name is the dataset hash so paths are stable and filesystem-safe
// regardless of what characters the release/species/assembly tokens contain.
func For(diskRoot string, id datasetid.ID) Paths {
	dir := filepath.Join(diskRoot, "datasets", sanitizeComponent(id.Hash()))
	return Paths{
		DerivedDir:         dir,
		ArtifactPath:       filepath.Join(dir, "dataset.sqlite"),
		ManifestPath:       filepath.Join(dir, "manifest.json"),
		VerifiedMarkerPath: filepath.Join(dir, VerifiedMarkerName),
	}
}

// TmpDownloadDir returns the scratch directory artifacts are written to
// before being renamed into place.
func TmpDownloadDir(diskRoot string) string {
	return filepath.Join(diskRoot, TmpDownloadDirName)
}

// ShardsDir returns the directory holding dataset id's sharded
// sub-artifacts, if any.
func ShardsDir(diskRoot string, id datasetid.ID) string {
	return filepath.Join(For(diskRoot, id).DerivedDir, "shards")
}

// ShardPath returns the deterministic path for a sharded sub-artifact of
// dataset id identified by seqid and shard index.
func ShardPath(diskRoot string, id datasetid.ID, seqid string, index int) string {
	p := For(diskRoot, id)
	name := sanitizeComponent(seqid) + ".shard"
	if index > 0 {
		name = sanitizeComponent(seqid) + "." + strconv.Itoa(index) + ".shard"
	}
	return filepath.Join(p.DerivedDir, "shards", name)
}

func sanitizeComponent(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "\x00", "_")
	if s == "" {
		s = "unknown"
	}
	return s
}
