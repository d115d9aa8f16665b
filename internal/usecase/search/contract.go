package search

import (
	"github.com/corpex-io/corpex/internal/results"
	"github.com/corpex-io/corpex/internal/task"
)

// TaskRegistry is the job manager surface the service drives.
type TaskRegistry interface {
	Start(j task.Job) int64
	Find(id int64) (task.Job, error)
	Tasks() []task.Job
	Cancel(id int64) error
}

// resultsProvider is implemented by jobs that collect search results. The
// callback runs under the job's paging lock, serializing concurrent fetches.
type resultsProvider interface {
	WithResults(fn func(results.SearchResults) error) error
}
