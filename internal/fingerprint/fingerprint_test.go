package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromRequestIsStable(t *testing.T) {
	a := FromRequest("Mozilla/5.0", "10.0.0.1")
	b := FromRequest(" Mozilla/5.0 ", "10.0.0.1")
	c := FromRequest("Mozilla/5.0", "10.0.0.2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
	assert.Equal(t, a, Sanitize(a))
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"  AbC-123 ": "abc123",
		"ÄÖü":        "",
		"dev_ice.42": "device42",
		"":           "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), in)
	}
}
