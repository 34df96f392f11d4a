package provider

import "testing"

func TestValidateConfigFields(t *testing.T) {
	fields := []ConfigField{
		{Key: "apiUrl", Required: true, Type: "url"},
		{Key: "merchantId", Required: true, Type: "string"},
		{Key: "gatewayUrl", Required: false, Type: "url"},
		{Key: "encryptionKey", Required: true, Type: "key", Pattern: "^.{16}$"},
	}

	tests := []struct {
		name    string
		config  map[string]string
		wantErr bool
	}{
		{
			name: "valid config",
			config: map[string]string{
				"apiUrl":        "https://api.example.com",
				"merchantId":    "merchant-1",
				"encryptionKey": "0123456789abcdef",
			},
			wantErr: false,
		},
		{
			name: "missing required field",
			config: map[string]string{
				"apiUrl":        "https://api.example.com",
				"encryptionKey": "0123456789abcdef",
			},
			wantErr: true,
		},
		{
			name: "blank required field",
			config: map[string]string{
				"apiUrl":        "https://api.example.com",
				"merchantId":    "   ",
				"encryptionKey": "0123456789abcdef",
			},
			wantErr: true,
		},
		{
			name: "url field without scheme",
			config: map[string]string{
				"apiUrl":        "api.example.com",
				"merchantId":    "merchant-1",
				"encryptionKey": "0123456789abcdef",
			},
			wantErr: true,
		},
		{
			name: "optional field may be absent",
			config: map[string]string{
				"apiUrl":        "https://api.example.com",
				"merchantId":    "merchant-1",
				"encryptionKey": "0123456789abcdef",
			},
			wantErr: false,
		},
		{
			name: "optional url field is still validated when present",
			config: map[string]string{
				"apiUrl":        "https://api.example.com",
				"merchantId":    "merchant-1",
				"gatewayUrl":    "not-a-url",
				"encryptionKey": "0123456789abcdef",
			},
			wantErr: true,
		},
		{
			name: "pattern mismatch",
			config: map[string]string{
				"apiUrl":        "https://api.example.com",
				"merchantId":    "merchant-1",
				"encryptionKey": "tooshort",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfigFields("test", tt.config, fields)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfigFields() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
