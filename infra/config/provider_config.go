package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// ProviderConfig manages payment provider configurations loaded from the
// environment. Keys are stored in the camelCase form providers declare in
// their required-config lists.
type ProviderConfig struct {
	configs map[string]map[string]string
	mu      sync.RWMutex
}

// NewProviderConfig creates a new provider configuration
func NewProviderConfig() *ProviderConfig {
	return &ProviderConfig{
		configs: make(map[string]map[string]string),
	}
}

// LoadFromEnv collects every environment variable with the provider's
// prefix, e.g. TRUMO_API_URL becomes apiUrl for provider "trumo". Returns
// an error when the prefix matches nothing, which almost always means the
// deployment forgot the provider's settings entirely.
func (c *ProviderConfig) LoadFromEnv(providerName string) (map[string]string, error) {
	prefix := strings.ToUpper(providerName) + "_"

	config := make(map[string]string)
	for _, entry := range os.Environ() {
		key, value, found := strings.Cut(entry, "=")
		if !found || !strings.HasPrefix(key, prefix) {
			continue
		}
		if value == "" {
			continue
		}
		config[envKeyToConfigKey(strings.TrimPrefix(key, prefix))] = value
	}

	if len(config) == 0 {
		return nil, fmt.Errorf("no environment configuration found for provider: %s", providerName)
	}

	c.mu.Lock()
	c.configs[strings.ToLower(providerName)] = config
	c.mu.Unlock()

	return config, nil
}

// SetConfig sets configuration for a specific provider
func (c *ProviderConfig) SetConfig(providerName string, config map[string]string) error {
	if providerName == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	if len(config) == 0 {
		return fmt.Errorf("config cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs[strings.ToLower(providerName)] = config
	return nil
}

// GetConfig returns configuration for a specific provider
func (c *ProviderConfig) GetConfig(providerName string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	config, exists := c.configs[strings.ToLower(providerName)]
	if !exists {
		return nil, fmt.Errorf("no configuration found for provider: %s", providerName)
	}

	// Return a copy to prevent external modification
	configCopy := make(map[string]string)
	for k, v := range config {
		configCopy[k] = v
	}
	return configCopy, nil
}

// GetAvailableProviders returns all providers that have configurations
func (c *ProviderConfig) GetAvailableProviders() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	providers := make([]string, 0, len(c.configs))
	for provider := range c.configs {
		providers = append(providers, provider)
	}
	return providers
}

// envKeyToConfigKey converts an UPPER_SNAKE env suffix to the camelCase
// config key form, e.g. API_URL -> apiUrl, PRIVATE_KEY_FILE -> privateKeyFile.
func envKeyToConfigKey(envKey string) string {
	parts := strings.Split(strings.ToLower(envKey), "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}
	return strings.Join(parts, "")
}
