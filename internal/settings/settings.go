// Package settings holds the user-editable generation settings and their
// persistence.
package settings

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"imagebatch/internal/batch"
	"imagebatch/internal/infra"
	"imagebatch/internal/providers/image"
)

// ErrInvalid wraps validation failures of a settings document.
var ErrInvalid = errors.New("invalid settings")

// LLM configures prompt expansion.
type LLM struct {
	Provider string `json:"provider" validate:"omitempty,oneof=openai gemini static"`
	APIKey   string `json:"apiKey"`
	BaseURL  string `json:"baseUrl" validate:"omitempty,url"`
	Model    string `json:"model"`
}

// Image selects the generation backend.
type Image struct {
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey"`
	BaseURL  string `json:"baseUrl" validate:"omitempty,url"`
	Model    string `json:"model"`
}

// Common holds batch parameters shared by every provider.
type Common struct {
	BatchSize int `json:"batchSize" validate:"gt=0,lte=32"`
	Count     int `json:"count" validate:"gt=0,lte=10"`
	Width     int `json:"width" validate:"gt=0,lte=4096"`
	Height    int `json:"height" validate:"gt=0,lte=4096"`
}

// Settings is the persisted settings document.
type Settings struct {
	LLM    LLM    `json:"llm"`
	Image  Image  `json:"image"`
	Common Common `json:"common"`
}

var validate = validator.New()

// Defaults derives the initial document from process configuration.
func Defaults(cfg *infra.Config) Settings {
	s := Settings{Common: Common{BatchSize: batch.DefaultBatchSize, Count: 4, Width: 1024, Height: 1024}}
	if cfg == nil {
		return s
	}
	s.LLM = LLM{Provider: cfg.LLM.Provider, APIKey: cfg.LLM.APIKey, BaseURL: cfg.LLM.BaseURL, Model: cfg.LLM.Model}
	s.Image = Image{Provider: cfg.Image.Provider, APIKey: cfg.Image.APIKey, BaseURL: cfg.Image.BaseURL, Model: cfg.Image.Model}
	s.Common = Common{BatchSize: cfg.Batch.Size, Count: cfg.Batch.Count, Width: cfg.Batch.Width, Height: cfg.Batch.Height}
	return s
}

// Validate checks field constraints and that a selected provider name is
// known. Missing credentials are not an error here; they are reported when a
// batch starts.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %s", ErrInvalid, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if p := strings.TrimSpace(s.Image.Provider); p != "" {
		if _, err := image.ParseProvider(p); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return nil
}

// Merge applies a patch. Empty strings and zero numbers keep the current
// value; a masked API key (as returned by Masked) also keeps it.
func (s Settings) Merge(patch Settings) Settings {
	out := s
	out.LLM.Provider = pick(patch.LLM.Provider, s.LLM.Provider)
	out.LLM.APIKey = pickKey(patch.LLM.APIKey, s.LLM.APIKey)
	out.LLM.BaseURL = pick(patch.LLM.BaseURL, s.LLM.BaseURL)
	out.LLM.Model = pick(patch.LLM.Model, s.LLM.Model)
	out.Image.Provider = pick(patch.Image.Provider, s.Image.Provider)
	out.Image.APIKey = pickKey(patch.Image.APIKey, s.Image.APIKey)
	out.Image.BaseURL = pick(patch.Image.BaseURL, s.Image.BaseURL)
	out.Image.Model = pick(patch.Image.Model, s.Image.Model)
	out.Common.BatchSize = pickInt(patch.Common.BatchSize, s.Common.BatchSize)
	out.Common.Count = pickInt(patch.Common.Count, s.Common.Count)
	out.Common.Width = pickInt(patch.Common.Width, s.Common.Width)
	out.Common.Height = pickInt(patch.Common.Height, s.Common.Height)
	return out
}

// Masked hides API keys for display.
func (s Settings) Masked() Settings {
	out := s
	out.LLM.APIKey = MaskKey(s.LLM.APIKey)
	out.Image.APIKey = MaskKey(s.Image.APIKey)
	return out
}

// BatchConfig converts the document into the coordinator's snapshot.
func (s Settings) BatchConfig() batch.Config {
	cfg := batch.Config{
		Image: image.Config{
			Provider: strings.TrimSpace(s.Image.Provider),
			APIKey:   strings.TrimSpace(s.Image.APIKey),
			BaseURL:  strings.TrimSpace(s.Image.BaseURL),
			Model:    strings.TrimSpace(s.Image.Model),
		},
		BatchSize: s.Common.BatchSize,
		Count:     s.Common.Count,
		Width:     s.Common.Width,
		Height:    s.Common.Height,
	}
	return cfg
}

const maskPrefix = "****"

// MaskKey keeps only the last four characters of a key.
func MaskKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return maskPrefix
	}
	return maskPrefix + key[len(key)-4:]
}

func isMasked(key string) bool {
	return strings.HasPrefix(key, maskPrefix)
}

func pick(next, current string) string {
	if next = strings.TrimSpace(next); next != "" {
		return next
	}
	return current
}

func pickKey(next, current string) string {
	if isMasked(strings.TrimSpace(next)) {
		return current
	}
	return pick(next, current)
}

func pickInt(next, current int) int {
	if next != 0 {
		return next
	}
	return current
}
