package provider

import "testing"

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name   string
		prefix []string
		doc    map[string]any
		want   string
	}{
		{
			name:   "prefix fields come first",
			prefix: []string{"Deposit", "uuid-1"},
			doc:    map[string]any{"a": "1"},
			want:   "Deposituuid-1a1",
		},
		{
			name:   "keys in ascending order",
			prefix: nil,
			doc:    map[string]any{"b": "2", "a": "1", "c": "3"},
			want:   "a1b2c3",
		},
		{
			name:   "nested documents recurse depth-first",
			prefix: nil,
			doc: map[string]any{
				"Username": "merchant",
				"Attributes": map[string]any{
					"Currency": "EUR",
					"Amount":   "25",
				},
			},
			want: "AttributesAmount25CurrencyEURUsernamemerchant",
		},
		{
			name:   "arrays flatten in element order",
			prefix: nil,
			doc: map[string]any{
				"items": []any{
					map[string]any{"k": "v"},
					"plain",
				},
			},
			want: "itemskvplain",
		},
		{
			name:   "absent values contribute only their key",
			prefix: nil,
			doc:    map[string]any{"present": "yes", "absent": nil},
			want:   "absentpresentyes",
		},
		{
			name:   "integral float64 renders without fraction",
			prefix: nil,
			doc:    map[string]any{"amount": float64(100), "rate": 2.5},
			want:   "amount100rate2.5",
		},
		{
			name:   "booleans",
			prefix: nil,
			doc:    map[string]any{"flag": true, "other": false},
			want:   "flagtrueotherfalse",
		},
		{
			name:   "empty document is just the prefix",
			prefix: []string{"kyc", "uuid-2"},
			doc:    map[string]any{},
			want:   "kycuuid-2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Canonicalize(tt.prefix, tt.doc)
			if got != tt.want {
				t.Errorf("Canonicalize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCanonicalize_KeyOrderIndependent(t *testing.T) {
	// Two documents with the same content assembled in different insertion
	// orders must canonicalize identically.
	first := map[string]any{}
	first["zeta"] = "1"
	first["alpha"] = "2"
	first["mid"] = map[string]any{"y": "3", "x": "4"}

	second := map[string]any{}
	second["mid"] = map[string]any{"x": "4", "y": "3"}
	second["alpha"] = "2"
	second["zeta"] = "1"

	if a, b := Canonicalize(nil, first), Canonicalize(nil, second); a != b {
		t.Errorf("canonical forms differ: %q vs %q", a, b)
	}
}
