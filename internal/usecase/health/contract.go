package health

import "context"

// DBPinger checks graph database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// TaskLister enumerates registered background jobs.
type TaskLister interface {
	Len() int
}
