package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// ModelConfig is everything about the assistant's configuration that can
// change a response for identical media and prompt.
type ModelConfig struct {
	Model             string  `json:"model"`
	Temperature       float32 `json:"temperature"`
	TopP              float32 `json:"top_p"`
	TopK              float32 `json:"top_k"`
	MaxOutputTokens   int32   `json:"max_output_tokens"`
	SystemInstruction string  `json:"system_instruction"`
}

// Fingerprint hashes the model configuration
func (m ModelConfig) Fingerprint() string {
	// json.Marshal of a struct is field-ordered, so this is deterministic
	data, _ := json.Marshal(m)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MediaFingerprint identifies media by its bytes. Large files are
// identified by their path instead.
func MediaFingerprint(media []byte, path string) string {
	h := sha256.New()
	if path != "" {
		h.Write([]byte("path:"))
		h.Write([]byte(path))
	} else {
		h.Write([]byte("data:"))
		h.Write(media)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// PromptFingerprint combines a media fingerprint with the prompt text
func PromptFingerprint(mediaHash, prompt string) string {
	h := sha256.New()
	h.Write([]byte(mediaHash))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}

// ContentFingerprint hashes media plus prompt
func ContentFingerprint(media []byte, path, prompt string) string {
	return PromptFingerprint(MediaFingerprint(media, path), prompt)
}

// Key builds the cache key for a request
func Key(media []byte, path, prompt string, cfg ModelConfig) string {
	return KeyFor(MediaFingerprint(media, path), prompt, cfg)
}

// KeyFor builds the cache key from a media fingerprint taken before the
// payload was uploaded and dropped
func KeyFor(mediaHash, prompt string, cfg ModelConfig) string {
	return PromptFingerprint(mediaHash, prompt) + ":" + cfg.Fingerprint()
}
