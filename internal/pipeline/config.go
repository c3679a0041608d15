package pipeline

import (
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/gateway"
)

const (
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = 30 * time.Second
	DefaultJobPause         = 100 * time.Millisecond
	DefaultInlineLimitBytes = 4 << 20
	DefaultContextLimit     = 1000
	DefaultStaleAfter       = 6 * time.Hour
)

// A stage timeout bounds the whole handler, including every gateway retry
// inside it, so stages that call the provider are sized from the gateway's
// worst case. Shorter timeouts cut the gateway off mid-retry.
var (
	// generate or poll-status with the default per-call timeout
	defaultCallBudget = gateway.Budget(gateway.DefaultMaxAttempts, gateway.DefaultBaseDelay, gateway.DefaultTimeout)
	// upload or long analysis with the long per-call timeout
	longCallBudget = gateway.Budget(gateway.DefaultMaxAttempts, gateway.DefaultBaseDelay, gateway.DefaultLongTimeout)
	// headroom for ledger writes and publishing the next stage
	stageSlack = time.Minute
)

// StageConfig holds the settings of one stage queue
type StageConfig struct {
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	JobPause    time.Duration
}

// PollConfig bounds the wait for provider-side video processing
type PollConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	MaxElapsed  time.Duration
	MinAttempts int
}

// Delay returns the wait before the next status check after attempt
// (0-based): min(MaxDelay, BaseDelay*2^attempt).
func (p PollConfig) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Config holds pipeline configuration
type Config struct {
	ImageUpload   StageConfig
	ImageAnalysis StageConfig
	ImageHandoff  StageConfig
	VideoUpload   StageConfig
	VideoPoll     StageConfig
	VideoAnalysis StageConfig
	VideoHandoff  StageConfig

	Poll PollConfig

	// InlineLimitBytes is the largest image sent inline instead of uploaded
	InlineLimitBytes int
	// ContextLimit caps the job context stored with a dead letter
	ContextLimit int
	// StaleAfter is how long a job may wait before the startup sweep clears
	// it. Zero keeps every well-formed job.
	StaleAfter time.Duration
	// Prompts override the default per-media prompt templates
	Prompts map[domain.MediaType]string
}

func stage(concurrency int, timeout time.Duration) StageConfig {
	return StageConfig{
		Concurrency: concurrency,
		MaxRetries:  DefaultMaxRetries,
		RetryDelay:  DefaultRetryDelay,
		Timeout:     timeout,
		JobPause:    DefaultJobPause,
	}
}

// DefaultConfig returns the production stage settings
func DefaultConfig() Config {
	return Config{
		ImageUpload:   stage(20, longCallBudget+stageSlack),
		ImageAnalysis: stage(20, defaultCallBudget+stageSlack),
		ImageHandoff:  stage(20, 60*time.Second),
		VideoUpload:   stage(10, longCallBudget+stageSlack),
		VideoPoll:     stage(10, defaultCallBudget+stageSlack),
		// generate plus the best-effort provider file delete
		VideoAnalysis: stage(10, longCallBudget+defaultCallBudget+stageSlack),
		VideoHandoff:  stage(10, 300*time.Second),
		Poll: PollConfig{
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    15 * time.Second,
			MaxAttempts: 10,
			MaxElapsed:  2 * time.Minute,
			MinAttempts: 5,
		},
		InlineLimitBytes: DefaultInlineLimitBytes,
		ContextLimit:     DefaultContextLimit,
		StaleAfter:       DefaultStaleAfter,
	}
}

// Stage returns the settings for a media type's stage
func (c Config) Stage(media domain.MediaType, s domain.Stage) StageConfig {
	var sc StageConfig
	switch {
	case media == domain.MediaVideo && s == domain.StageUpload:
		sc = c.VideoUpload
	case media == domain.MediaVideo && s == domain.StagePoll:
		sc = c.VideoPoll
	case media == domain.MediaVideo && s == domain.StageAnalysis:
		sc = c.VideoAnalysis
	case media == domain.MediaVideo && s == domain.StageHandoff:
		sc = c.VideoHandoff
	case s == domain.StageUpload:
		sc = c.ImageUpload
	case s == domain.StageAnalysis:
		sc = c.ImageAnalysis
	default:
		sc = c.ImageHandoff
	}
	return withStageDefaults(sc)
}

func withStageDefaults(sc StageConfig) StageConfig {
	if sc.Concurrency <= 0 {
		sc.Concurrency = 1
	}
	if sc.MaxRetries < 0 {
		sc.MaxRetries = 0
	}
	if sc.RetryDelay < 0 {
		sc.RetryDelay = 0
	}
	if sc.Timeout <= 0 {
		sc.Timeout = time.Minute
	}
	return sc
}

type route struct {
	media domain.MediaType
	stage domain.Stage
	queue string
}

// routes lists every stage queue
func routes() []route {
	var out []route
	for _, media := range []domain.MediaType{domain.MediaImage, domain.MediaVideo} {
		for _, s := range domain.Stages(media) {
			out = append(out, route{media: media, stage: s, queue: domain.QueueName(media, s)})
		}
	}
	return out
}
