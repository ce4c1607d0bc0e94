package cmd

import "testing"

func TestValidateAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"default", "127.0.0.1:3500", false},
		{"port only", ":8080", false},
		{"localhost", "localhost:9000", false},
		{"auto-assign port", "127.0.0.1:0", false},
		{"missing port", "127.0.0.1", true},
		{"non-numeric port", "127.0.0.1:abc", true},
		{"port out of range", "127.0.0.1:70000", true},
		{"host with whitespace", "bad host:8080", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validateAddr(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateAddr(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
		})
	}
}
