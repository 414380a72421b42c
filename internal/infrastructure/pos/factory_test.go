package pos

import (
	"testing"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/erp/posconnector/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAdapterFactory(t *testing.T) {
	factory := NewAdapterFactory(config.POSConfig{RateLimit: 5, UserAgent: "ua"}, zap.NewNop())
	backend, err := connector.NewBackend("shop", "shop.example.com", "KEY")
	require.NoError(t, err)

	first, err := factory.AdapterFor(backend, "customers")
	require.NoError(t, err)
	assert.Equal(t, "customers", first.Resource())

	second, err := factory.AdapterFor(backend, "orders")
	require.NoError(t, err)
	assert.Same(t, first.(*ResourceAdapter).client, second.(*ResourceAdapter).client)
	assert.Equal(t, "http://shop.example.com/api", first.(*ResourceAdapter).client.config.BaseURL)

	t.Run("a new key gets a new client", func(t *testing.T) {
		backend.WebserviceKey = "OTHER"
		third, err := factory.AdapterFor(backend, "customers")
		require.NoError(t, err)
		assert.NotSame(t, first.(*ResourceAdapter).client, third.(*ResourceAdapter).client)
		assert.Equal(t, "OTHER", third.(*ResourceAdapter).client.config.Key)
	})

	t.Run("a backend without location is rejected", func(t *testing.T) {
		backend.Location = ""
		_, err := factory.AdapterFor(backend, "customers")
		assert.ErrorIs(t, err, ErrMissingLocation)
	})
}
