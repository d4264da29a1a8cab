package providers

import (
	"fmt"

	"github.com/raushankrgupta/tryon-orchestrator/config"
	"github.com/raushankrgupta/tryon-orchestrator/providers/gemini"
	"github.com/raushankrgupta/tryon-orchestrator/providers/remote"
	"github.com/sirupsen/logrus"
)

// GetProvider returns the provider selected by name
func GetProvider(name string, logger logrus.FieldLogger) (Provider, error) {
	switch name {
	case "gemini":
		if config.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is not set")
		}
		generator := gemini.NewGenerator(config.GeminiAPIKey, config.GeminiModel)
		return gemini.NewProvider(generator, gemini.S3MediaStore{}, logger.WithField("provider", "gemini")), nil
	case "remote":
		if config.ProviderBaseURL == "" {
			return nil, fmt.Errorf("TRYON_PROVIDER_URL is not set")
		}
		return remote.NewClient(config.ProviderBaseURL, config.ProviderAPIKey, remote.DefaultRetryConfig()), nil
	}

	return nil, fmt.Errorf("no provider found for name: %s", name)
}
