package models

import "strings"

// Fixed broadcast topics. Slice-scoped metric topics ("metrics:<slice_id>")
// are independent entries, not implied by the unscoped metrics topic.
const (
	TopicDashboard = "dashboard"
	TopicSlices    = "slices"
	TopicMetrics   = "metrics"
	TopicAlerts    = "alerts"
)

const sliceMetricsPrefix = TopicMetrics + ":"

// SliceMetricsTopic returns the slice-scoped metrics topic name.
func SliceMetricsTopic(sliceID string) string {
	return sliceMetricsPrefix + sliceID
}

// SliceIDFromTopic extracts the slice id from a slice-scoped metrics topic.
func SliceIDFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, sliceMetricsPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(topic, sliceMetricsPrefix)
	if id == "" {
		return "", false
	}
	return id, true
}

// ValidTopic reports whether name is one of the fixed topics or a
// well-formed slice-scoped metrics topic.
func ValidTopic(name string) bool {
	switch name {
	case TopicDashboard, TopicSlices, TopicMetrics, TopicAlerts:
		return true
	}
	_, ok := SliceIDFromTopic(name)
	return ok
}
