package logger

// JobLogger scopes every log line to a single pipeline job, since nearly
// every log statement in this module is job-scoped.
type JobLogger struct {
	jobID string
}

// ForJob returns a logger that prepends job_id to every field list.
func ForJob(jobID string) *JobLogger { return &JobLogger{jobID: jobID} }

func (j *JobLogger) withJobID(fields []interface{}) []interface{} {
	return append([]interface{}{"job_id", j.jobID}, fields...)
}

func (j *JobLogger) Debug(msg string, fields ...interface{}) { Debug(msg, j.withJobID(fields)...) }
func (j *JobLogger) Info(msg string, fields ...interface{})  { Info(msg, j.withJobID(fields)...) }
func (j *JobLogger) Warn(msg string, fields ...interface{})  { Warn(msg, j.withJobID(fields)...) }
func (j *JobLogger) Error(msg string, fields ...interface{}) { Error(msg, j.withJobID(fields)...) }
