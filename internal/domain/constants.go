package domain

import "fmt"

// MediaType identifies which pipeline a job runs through
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Stage is one named queue of a media pipeline
type Stage string

const (
	StageUpload   Stage = "upload"
	StagePoll     Stage = "poll"
	StageAnalysis Stage = "analysis"
	StageHandoff  Stage = "handoff"
)

// DeadLetterQueue is the terminal sink shared by every stage
const DeadLetterQueue = "media.dead-letter"

// Stages returns the fixed stage sequence for a media type
func Stages(media MediaType) []Stage {
	switch media {
	case MediaVideo:
		return []Stage{StageUpload, StagePoll, StageAnalysis, StageHandoff}
	default:
		return []Stage{StageUpload, StageAnalysis, StageHandoff}
	}
}

// NextStage returns the stage that follows current, or "" if current is last
func NextStage(media MediaType, current Stage) Stage {
	stages := Stages(media)
	for i, s := range stages {
		if s == current && i+1 < len(stages) {
			return stages[i+1]
		}
	}
	return ""
}

// QueueName maps a media type and stage to its queue. The handoff stage keeps
// the legacy single-queue name so older producers and consumers still work.
func QueueName(media MediaType, stage Stage) string {
	if stage == StageHandoff {
		return fmt.Sprintf("%s-processing", media)
	}
	return fmt.Sprintf("%s.%s", media, stage)
}

// Valid reports whether m is a supported media type
func (m MediaType) Valid() bool {
	return m == MediaImage || m == MediaVideo
}
