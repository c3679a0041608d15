package domain

// FileState is the provider-side processing state of an uploaded file
type FileState string

const (
	FileProcessing FileState = "processing"
	FileActive     FileState = "active"
	FileFailed     FileState = "failed"
)
