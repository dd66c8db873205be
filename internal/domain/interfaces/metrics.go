package interfaces

import "time"

// Metrics records pipeline counters and timings
type Metrics interface {
	// QueueAdmitted records an item starting on a named queue
	QueueAdmitted(queue string, inFlight int)

	// QueueCompleted records an item finishing on a named queue
	QueueCompleted(queue string, took time.Duration, err error)

	// StageFailure counts a per-item failure in a pipeline stage
	StageFailure(stage string)

	// RepositoriesDiscovered sets the number of repositories in this run
	RepositoriesDiscovered(n int)

	// BytesDownloaded adds to the downloaded byte counter
	BytesDownloaded(n int64)

	// FindingsMerged adds merged and dropped findings
	FindingsMerged(merged, dropped int)

	// RunFinished records the run duration
	RunFinished(took time.Duration)
}

// NoOpMetrics discards everything
type NoOpMetrics struct{}

// QueueAdmitted does nothing
func (NoOpMetrics) QueueAdmitted(string, int) {}

// QueueCompleted does nothing
func (NoOpMetrics) QueueCompleted(string, time.Duration, error) {}

// StageFailure does nothing
func (NoOpMetrics) StageFailure(string) {}

// RepositoriesDiscovered does nothing
func (NoOpMetrics) RepositoriesDiscovered(int) {}

// BytesDownloaded does nothing
func (NoOpMetrics) BytesDownloaded(int64) {}

// FindingsMerged does nothing
func (NoOpMetrics) FindingsMerged(int, int) {}

// RunFinished does nothing
func (NoOpMetrics) RunFinished(time.Duration) {}
