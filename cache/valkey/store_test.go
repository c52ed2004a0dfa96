package valkey

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meigma/offline/cache"
)

func TestFieldRoundTrip(t *testing.T) {
	t.Parallel()

	key := cache.Key{Method: "GET", URL: "https://enigma.example/a b.png"}
	got, ok := parseField(field(key))
	assert.True(t, ok)
	assert.Equal(t, key, got)
}

func TestParseFieldRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, f := range []string{"", "GET", " https://x", "GET "} {
		_, ok := parseField(f)
		assert.False(t, ok, "field %q", f)
	}
}

func TestKeyNamespace(t *testing.T) {
	t.Parallel()

	s := &Store{prefix: DefaultPrefix}
	WithPrefix("enigma")(s)
	assert.Equal(t, "enigma:caches", s.namesKey())
	assert.Equal(t, "enigma:cache:enigma-cache-v1", s.cacheKey("enigma-cache-v1"))

	WithPrefix("")(s)
	assert.Equal(t, "enigma:caches", s.namesKey())
}
