package corpex

import (
	"time"

	"go.uber.org/zap"
)

// Option configures the Client.
type Option func(*clientConfig)

type clientConfig struct {
	databasePath      string
	poolSize          int
	idleTimeout       time.Duration
	maxLogSize        int
	baseURL           string
	targetColumn      string
	defaultPageLength int
	uploadDir         string
	logger            *zap.Logger
}

// WithDatabase sets the path of the annotation graph database. Required.
func WithDatabase(path string) Option {
	return func(c *clientConfig) { c.databasePath = path }
}

// WithPoolSize bounds how many tasks can search concurrently (default 4).
func WithPoolSize(n int) Option {
	return func(c *clientConfig) {
		if n > 0 {
			c.poolSize = n
		}
	}
}

// WithIdleTimeout sets how long a finished task survives without keep-alives
// (default 2 minutes).
func WithIdleTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// WithMaxLogSize caps each task's status log in bytes.
func WithMaxLogSize(n int) Option {
	return func(c *clientConfig) {
		if n > 0 {
			c.maxLogSize = n
		}
	}
}

// WithBaseURL sets the base used when tasks publish result links.
func WithBaseURL(u string) Option {
	return func(c *clientConfig) { c.baseURL = u }
}

// WithTargetColumn sets the identifier column name expected in uploaded
// results files (default "MatchId").
func WithTargetColumn(name string) Option {
	return func(c *clientConfig) {
		if name != "" {
			c.targetColumn = name
		}
	}
}

// WithDefaultPageLength sets the page size used when a Matches call passes 0.
func WithDefaultPageLength(n int) Option {
	return func(c *clientConfig) {
		if n > 0 {
			c.defaultPageLength = n
		}
	}
}

// WithUploadDir sets where uploaded results files are spooled (default: the
// system temp directory).
func WithUploadDir(dir string) Option {
	return func(c *clientConfig) { c.uploadDir = dir }
}

// WithLogger attaches a zap logger; the default discards logs.
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}
