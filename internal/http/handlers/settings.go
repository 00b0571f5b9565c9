package handlers

import (
	"net/http"

	"imagebatch/internal/providers/image"
	"imagebatch/internal/settings"
)

type settingsResponse struct {
	Settings  settings.Settings `json:"settings"`
	Providers []string          `json:"providers"`
}

func providerNames() []string {
	names := make([]string, 0, 4)
	for _, p := range image.Providers {
		names = append(names, string(p))
	}
	return names
}

// GetSettings returns the settings with API keys masked.
func (a *App) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := a.Settings.Load(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, settingsResponse{Settings: s.Masked(), Providers: providerNames()})
}

// UpdateSettings merges the payload into the stored settings. During a run
// the new snapshot applies to tasks dispatched afterwards.
func (a *App) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch settings.Settings
	if !a.decodeJSON(w, r, &patch) {
		return
	}
	next, err := settings.Update(r.Context(), a.Settings, patch)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if a.Batch.State().Active {
		cfg := next.BatchConfig()
		cfg.Timeout = a.BatchTimeout
		if err := a.Batch.Reconfigure(cfg); err != nil {
			a.log(r.Context()).Warn().Err(err).Msg("settings saved but not applied to the running batch")
		}
	}
	a.json(w, http.StatusOK, settingsResponse{Settings: next.Masked(), Providers: providerNames()})
}
