package pipeline

import (
	"errors"

	"github.com/cuongbtq/media-pipeline/internal/domain"
)

// friendlyMessage is what the requester sees when their job fails
func friendlyMessage(media domain.MediaType, err error) string {
	noun := "image"
	if media == domain.MediaVideo {
		noun = "video"
	}

	switch {
	case errors.Is(err, domain.ErrContentBlocked):
		return "I can't describe that " + noun + " because it was flagged by the content safety filters."
	case errors.Is(err, domain.ErrValidation):
		return "I couldn't read that " + noun + ". Could you try sending it again?"
	case errors.Is(err, domain.ErrMaxProcessingTime), errors.Is(err, domain.ErrProviderFileFailed):
		return "That " + noun + " took too long to process. Shorter clips usually work better."
	default:
		return "Sorry, I couldn't analyze that " + noun + " right now. Please try again in a few minutes."
	}
}
