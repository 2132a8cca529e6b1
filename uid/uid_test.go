package uid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDGenerator(t *testing.T) {
	tests := []struct {
		name    string
		options *UUIDOptions
		length  int
		hyphens int
		version byte
	}{
		{name: "default", options: nil, length: 36, hyphens: 4, version: '7'},
		{name: "v4", options: &UUIDOptions{Version: "v4", WithHyphens: true}, length: 36, hyphens: 4, version: '4'},
		{name: "v7 without hyphens", options: &UUIDOptions{Version: "v7"}, length: 32, hyphens: 0, version: '7'},
		{name: "v1", options: &UUIDOptions{Version: "v1", WithHyphens: true}, length: 36, hyphens: 4, version: '1'},
		{name: "v6", options: &UUIDOptions{Version: "v6", WithHyphens: true}, length: 36, hyphens: 4, version: '6'},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewUUIDGeneratorWithOptions(tt.options)
			require.NoError(t, err)

			seen := map[string]bool{}
			for i := 0; i < 100; i++ {
				id := g.Generate()
				assert.Len(t, id, tt.length)
				assert.Equal(t, tt.hyphens, strings.Count(id, "-"))
				assert.False(t, seen[id], "duplicate id %s", id)
				seen[id] = true

				versionAt := 14
				if tt.hyphens == 0 {
					versionAt = 12
				}
				assert.Equal(t, tt.version, id[versionAt])
			}
		})
	}

	_, err := NewUUIDGeneratorWithOptions(&UUIDOptions{Version: "v3"})
	assert.Error(t, err)
}

func BenchmarkUUIDGenerator(b *testing.B) {
	g := NewUUIDGenerator()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		g.Generate()
	}
}
