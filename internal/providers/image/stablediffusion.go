package image

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"imagebatch/internal/infra"
)

const (
	defaultSDSteps             = 20
	defaultSDSampler           = "DPM++ 2M"
	defaultSDCFGScale          = 7
	defaultSDSize              = 512
	defaultSDCount             = 4
	defaultSDSeed        int64 = -1
	defaultSDDenoising         = 0.7
	defaultSDSwitchDelay       = 2 * time.Second
	defaultSDPollInterval      = time.Second
)

// StableDiffusionOptions configures the WebUI adapter.
type StableDiffusionOptions struct {
	BaseURL          string
	Model            string
	HTTPClient       *http.Client
	RequestTimeout   time.Duration
	Blobs            BlobSink
	Logger           *infra.Logger
	ModelSwitchDelay time.Duration
	// ProgressInterval controls polling of /sdapi/v1/progress. Negative disables it.
	ProgressInterval time.Duration
}

// StableDiffusionGenerator drives a local AUTOMATIC1111-compatible WebUI.
type StableDiffusionGenerator struct {
	emitter
	baseURL      string
	model        string
	client       *http.Client
	blobs        BlobSink
	logger       *infra.Logger
	switchDelay  time.Duration
	pollInterval time.Duration
}

type sdPayload struct {
	Prompt            string   `json:"prompt"`
	Steps             int      `json:"steps"`
	SamplerName       string   `json:"sampler_name"`
	CFGScale          float64  `json:"cfg_scale"`
	Width             int      `json:"width"`
	Height            int      `json:"height"`
	BatchSize         int      `json:"batch_size"`
	NIter             int      `json:"n_iter"`
	Seed              int64    `json:"seed"`
	InitImages        []string `json:"init_images,omitempty"`
	DenoisingStrength float64  `json:"denoising_strength,omitempty"`
}

type sdResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

type sdOptions struct {
	SDModelCheckpoint string `json:"sd_model_checkpoint"`
}

type sdProgress struct {
	Progress    float64 `json:"progress"`
	ETARelative float64 `json:"eta_relative"`
}

// NewStableDiffusionGenerator requires the WebUI base URL.
func NewStableDiffusionGenerator(opts StableDiffusionOptions) (*StableDiffusionGenerator, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: stablediffusion: %w", ErrInvalidConfig, ErrMissingBaseURL)
	}
	delay := opts.ModelSwitchDelay
	if delay == 0 {
		delay = defaultSDSwitchDelay
	}
	interval := opts.ProgressInterval
	if interval == 0 {
		interval = defaultSDPollInterval
	}
	return &StableDiffusionGenerator{
		baseURL:      baseURL,
		model:        strings.TrimSpace(opts.Model),
		client:       defaultHTTPClient(opts.HTTPClient, opts.RequestTimeout),
		blobs:        opts.Blobs,
		logger:       loggerOrDiscard(opts.Logger),
		switchDelay:  delay,
		pollInterval: interval,
	}, nil
}

// Provider implements Generator.
func (g *StableDiffusionGenerator) Provider() Provider { return ProviderStableDiffusion }

// Generate implements Generator.
func (g *StableDiffusionGenerator) Generate(ctx context.Context, taskID string, req Request) ([]string, error) {
	return g.run(taskID, func() ([]string, error) {
		return g.generate(ctx, taskID, req)
	})
}

func (g *StableDiffusionGenerator) generate(ctx context.Context, taskID string, req Request) ([]string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	g.progress(taskID, 0, StagePreparing, "")

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = g.model
	}
	if model != "" {
		if err := g.ensureModel(ctx, model); err != nil {
			g.logger.Warn().Err(err).Str("task_id", taskID).Str("model", model).Msg("stablediffusion: model switch failed, using current model")
		}
	}

	payload := buildSDPayload(prompt, req)
	g.progress(taskID, 10, StagePreparing, "")

	endpoint := g.baseURL + "/sdapi/v1/txt2img"
	if len(req.Attachments) > 0 {
		endpoint = g.baseURL + "/sdapi/v1/img2img"
		g.progress(taskID, 20, StagePreparing, "")
	}

	g.progress(taskID, 30, StageGenerating, "")
	stop := g.watchProgress(ctx, taskID)
	var out sdResponse
	err := doJSON(ctx, g.client, ProviderStableDiffusion, http.MethodPost, endpoint, nil, payload, &out)
	stop()
	if err != nil {
		return nil, err
	}

	g.progress(taskID, 90, StageProcessing, "")
	refs, err := saveImages(ctx, g.blobs, taskID, out.Images)
	if err != nil {
		return nil, fmt.Errorf("stablediffusion: %w", err)
	}
	return refs, nil
}

// buildSDPayload fills the WebUI payload, switching to img2img when the
// request carries attachments.
func buildSDPayload(prompt string, req Request) sdPayload {
	payload := sdPayload{
		Prompt:      prompt,
		Steps:       defaultSDSteps,
		SamplerName: defaultSDSampler,
		CFGScale:    defaultSDCFGScale,
		Width:       defaultSDSize,
		Height:      defaultSDSize,
		BatchSize:   1,
		NIter:       defaultSDCount,
		Seed:        defaultSDSeed,
	}
	if req.Steps > 0 {
		payload.Steps = req.Steps
	}
	if s := strings.TrimSpace(req.Sampler); s != "" {
		payload.SamplerName = s
	}
	if req.CFGScale > 0 {
		payload.CFGScale = req.CFGScale
	}
	if req.Width > 0 {
		payload.Width = req.Width
	}
	if req.Height > 0 {
		payload.Height = req.Height
	}
	if req.Count > 0 {
		payload.NIter = req.Count
	}
	if req.Seed != nil {
		payload.Seed = *req.Seed
	}
	if len(req.Attachments) > 0 {
		payload.InitImages = []string{encodeBase64(req.Attachments[0].Data)}
		payload.DenoisingStrength = defaultSDDenoising
		if req.DenoisingStrength > 0 {
			payload.DenoisingStrength = req.DenoisingStrength
		}
	}
	return payload
}

func (g *StableDiffusionGenerator) ensureModel(ctx context.Context, model string) error {
	var current sdOptions
	if err := doJSON(ctx, g.client, ProviderStableDiffusion, http.MethodGet, g.baseURL+"/sdapi/v1/options", nil, nil, &current); err != nil {
		return err
	}
	if sameCheckpoint(current.SDModelCheckpoint, model) {
		return nil
	}
	if err := doJSON(ctx, g.client, ProviderStableDiffusion, http.MethodPost, g.baseURL+"/sdapi/v1/options", nil, sdOptions{SDModelCheckpoint: model}, nil); err != nil {
		return err
	}
	g.logger.Info().Str("from", current.SDModelCheckpoint).Str("to", model).Msg("stablediffusion: switched model")
	if g.switchDelay > 0 {
		timer := time.NewTimer(g.switchDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// sameCheckpoint compares titles such as "model.safetensors [hash]" loosely.
func sameCheckpoint(current, want string) bool {
	current = strings.TrimSpace(current)
	want = strings.TrimSpace(want)
	if current == want {
		return true
	}
	return want != "" && strings.HasPrefix(current, want)
}

// watchProgress polls the WebUI progress endpoint and maps the fraction into
// the generating band until the returned stop func is called.
func (g *StableDiffusionGenerator) watchProgress(ctx context.Context, taskID string) func() {
	if g.pollInterval < 0 {
		return func() {}
	}
	pollCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(g.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
			}
			var p sdProgress
			if err := doJSON(pollCtx, g.client, ProviderStableDiffusion, http.MethodGet, g.baseURL+"/sdapi/v1/progress?skip_current_image=true", nil, nil, &p); err != nil {
				continue
			}
			if pollCtx.Err() != nil {
				return
			}
			g.progress(taskID, 30+int(p.Progress*60), StageGenerating, "")
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

var _ Generator = (*StableDiffusionGenerator)(nil)
