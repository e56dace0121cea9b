package service

import (
	"errors"
	"fmt"

	"github.com/noah-isme/gradeflow-api/internal/config"
)

// ErrInvalidModel rejects a model a provider does not advertise.
var ErrInvalidModel = errors.New("model is not available on the selected provider")

// resolveProvider validates a provider key and model against the configured
// endpoints. Empty values fall back to the configured defaults; unknown
// providers and unlisted models are rejected synchronously so callers never
// enqueue work that cannot run.
func resolveProvider(cfg config.Config, providerKey, model string) (string, string, error) {
	if providerKey == "" {
		providerKey = cfg.DefaultProvider
	}

	provider, err := cfg.Provider(providerKey)
	if err != nil {
		return "", "", err
	}

	if model == "" {
		model = provider.DefaultModel
	}
	if len(provider.Models) > 0 {
		allowed := false
		for _, candidate := range provider.Models {
			if candidate == model {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", "", fmt.Errorf("%w: %q on provider %q", ErrInvalidModel, model, providerKey)
		}
	}

	return providerKey, model, nil
}
