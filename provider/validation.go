package provider

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidateConfigFields validates configuration against provided field definitions
func ValidateConfigFields(providerName string, config map[string]string, requiredFields []ConfigField) error {
	for _, field := range requiredFields {
		value, exists := config[field.Key]
		if !exists || strings.TrimSpace(value) == "" {
			if field.Required {
				return fmt.Errorf("%s: required field '%s' is missing", providerName, field.Key)
			}
			continue
		}

		if field.Type == "url" && !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
			return fmt.Errorf("%s: field '%s' must be an http(s) URL", providerName, field.Key)
		}

		if field.Pattern != "" {
			matched, err := regexp.MatchString(field.Pattern, value)
			if err != nil {
				return fmt.Errorf("%s: invalid pattern for field '%s': %w", providerName, field.Key, err)
			}
			if !matched {
				return fmt.Errorf("%s: field '%s' does not match the expected format", providerName, field.Key)
			}
		}
	}

	return nil
}
