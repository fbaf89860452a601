package datasetcache

import (
	"database/sql"
	"sync"
	"time"
)

// entry is the in-memory record for one currently cached dataset.
// shardPaths lists the dataset's sharded sub-artifacts, loaded once at
// registration; no query path consumes them yet, but eviction removes them
// alongside the artifact.
type entry struct {
	artifactPath string
	shardPaths   []string

	lastAccess            time.Time
	sizeBytes             uint64
	lastDownloadLatencyNs uint64

	datasetSem semaphore
	querySem   semaphore

	dbOnce sync.Once
	db     *sql.DB
	dbErr  error
}

func (e *entry) touch() {
	e.lastAccess = time.Now()
}
