package domain

import "time"

// MediaRef is an opaque handle to the media a job works on: inline bytes,
// a local path, or a provider-side file reference once uploaded.
type MediaRef struct {
	Data     []byte `json:"data,omitempty" validate:"required_without_all=Path FileURI"`
	Path     string `json:"path,omitempty"`
	MIMEType string `json:"mime_type" validate:"required"`
	FileName string `json:"file_name,omitempty"` // provider file id, e.g. "files/abc123"
	FileURI  string `json:"file_uri,omitempty"`
}

// Uploaded reports whether the media already lives on the provider side
func (m MediaRef) Uploaded() bool {
	return m.FileURI != ""
}

// WithoutPayload returns a copy safe to log or dead-letter
func (m MediaRef) WithoutPayload() MediaRef {
	m.Data = nil
	return m
}

// JobContext carries what is needed to answer the requester
type JobContext struct {
	ChatID      string `json:"chat_id" validate:"required"`
	MessageID   string `json:"message_id,omitempty"` // quoting key for native replies
	SenderID    string `json:"sender_id" validate:"required"`
	SenderName  string `json:"sender_name,omitempty"`
	Instruction string `json:"instruction,omitempty"`
	Excerpt     string `json:"excerpt,omitempty"`
	ChatType    string `json:"chat_type,omitempty"`
}

// JobResult is the outcome handed to the delivery stage
type JobResult struct {
	Response string `json:"response"`
	Failed   bool   `json:"failed"`
	Reason   string `json:"reason,omitempty"`
}

// Job is one unit of pipeline work. It belongs to exactly one stage at a time.
type Job struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transaction_id,omitempty"`
	MediaType     MediaType  `json:"media_type"`
	Stage         Stage      `json:"stage"`
	Media         MediaRef   `json:"media"`
	ContentHash   string     `json:"content_hash,omitempty"` // media fingerprint taken before upload
	Context       JobContext `json:"context"`
	Attempt       int        `json:"attempt"`
	PollAttempt   int        `json:"poll_attempt,omitempty"`
	PollStartedAt time.Time  `json:"poll_started_at,omitempty"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
	NotBefore     time.Time  `json:"not_before,omitempty"`
	Result        *JobResult `json:"result,omitempty"`
}

// Advance moves the job to the given stage, resetting per-stage counters
func (j Job) Advance(stage Stage, now time.Time) Job {
	j.Stage = stage
	j.Attempt = 0
	j.EnqueuedAt = now
	j.NotBefore = time.Time{}
	return j
}

// DeadLetter is the record written for every exhausted failure
type DeadLetter struct {
	ID        string    `json:"id" db:"id"`
	Queue     string    `json:"queue" db:"queue"`
	Stage     Stage     `json:"stage" db:"stage"`
	JobID     string    `json:"job_id" db:"job_id"`
	Error     string    `json:"error" db:"error"`
	Context   string    `json:"context" db:"context"` // truncated JSON, never the raw media
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
