package kafka

// Topic definitions for Kafka event streaming
const (
	// Rows created or updated in the remote trade-log table
	TopicRowSynced = "tradelog.rows.synced"

	// End-of-cycle summaries
	TopicCycleCompleted = "tradelog.cycles.completed"
)
