package broker

// Canonical stream names. Field names on messages published to these
// streams are bit-exact with SPEC_FULL.md §6.
const (
	StreamJobControl    = "emails:job"
	StreamIntentRequest = "emails:intent"
	StreamIntentDone    = "emails:intent:done"
	StreamAnalysisRequest = "emails:analysis"
	StreamAnalysisDone  = "emails:analysis:done"
	StreamJobCompleted  = "job:completed"
)

// Canonical consumer group names, one per component.
const (
	GroupIntentWorkers    = "intent_workers"
	GroupAnalysisWorkers  = "analysis_workers"
	GroupAggregatorWorkers = "aggregator_workers"
	GroupActionWorkers    = "action_workers"
)
