package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalLocation(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"n 27th st & w capitol dr", "N 27TH ST & W CAPITOL DR"},
		{"  W  Howell   Ave ", "W HOWELL AVE"},
		{"already CANONICAL", "ALREADY CANONICAL"},
		{"\tN\tTeutonia\nAve", "N TEUTONIA AVE"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanonicalLocation(tt.in), "input %q", tt.in)
	}
}

func TestGeocodable(t *testing.T) {
	assert.True(t, Geocodable("N 27TH ST"))
	assert.False(t, Geocodable(""))
	assert.False(t, Geocodable("N/A"))
	assert.False(t, Geocodable("UNKNOWN"))
	assert.False(t, Geocodable("NONE"))
	assert.False(t, Geocodable("NULL"))
}
