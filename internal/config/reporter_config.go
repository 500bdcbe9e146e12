package config

import "time"

type ReporterConfig interface {
	GetReportEndpoint() string
	GetReportFlushInterval() time.Duration
	GetReportQueueSize() int
	GetReportDedupWindow() time.Duration
}

type Reporter struct{}

var _ ReporterConfig = Reporter{}

// GetReportEndpoint returns the error sink URL. Empty leaves the reporter unconfigured.
func (Reporter) GetReportEndpoint() string {
	return GetEnv("ERROR_REPORT_URL", "")
}

func (Reporter) GetReportFlushInterval() time.Duration {
	return GetDuration("ERROR_FLUSH_INTERVAL", 10*time.Second)
}

func (Reporter) GetReportQueueSize() int {
	return GetInt("ERROR_QUEUE_SIZE", 50)
}

func (Reporter) GetReportDedupWindow() time.Duration {
	return GetDuration("ERROR_DEDUP_WINDOW", 60*time.Second)
}
