package pos

import (
	"net/http"
	"sync"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/erp/posconnector/internal/infrastructure/config"
	"github.com/google/uuid"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// clientEntry is the cached client of a backend, valid while the
// backend's location and key are unchanged.
type clientEntry struct {
	baseURL string
	key     string
	debug   bool
	client  *Client
}

// AdapterFactory implements connector.AdapterFactory. It keeps one client
// and one rate limiter per backend.
type AdapterFactory struct {
	config     config.POSConfig
	httpClient *http.Client
	logger     *zap.Logger

	mu      sync.Mutex
	clients map[uuid.UUID]clientEntry
}

// NewAdapterFactory creates the factory of webservice adapters
func NewAdapterFactory(cfg config.POSConfig, logger *zap.Logger) *AdapterFactory {
	return NewAdapterFactoryWithClient(cfg, &http.Client{Timeout: cfg.RequestTimeout}, logger)
}

// NewAdapterFactoryWithClient creates a factory sharing httpClient
func NewAdapterFactoryWithClient(cfg config.POSConfig, httpClient *http.Client, logger *zap.Logger) *AdapterFactory {
	return &AdapterFactory{
		config:     cfg,
		httpClient: httpClient,
		logger:     logger.Named("pos"),
		clients:    make(map[uuid.UUID]clientEntry),
	}
}

// AdapterFor returns the adapter of resource for backend
func (f *AdapterFactory) AdapterFor(backend *connector.Backend, resource string) (connector.Adapter, error) {
	client, err := f.clientFor(backend)
	if err != nil {
		return nil, err
	}
	return NewResourceAdapter(client, resource), nil
}

func (f *AdapterFactory) clientFor(backend *connector.Backend) (*Client, error) {
	baseURL := NormalizeLocation(backend.Location)

	f.mu.Lock()
	defer f.mu.Unlock()

	if entry, ok := f.clients[backend.ID]; ok &&
		entry.baseURL == baseURL && entry.key == backend.WebserviceKey && entry.debug == backend.Debug {
		return entry.client, nil
	}

	var limiter ratelimit.Limiter = ratelimit.NewUnlimited()
	if f.config.RateLimit > 0 {
		limiter = ratelimit.New(f.config.RateLimit)
	}
	client, err := NewClient(ClientConfig{
		BaseURL:          baseURL,
		Key:              backend.WebserviceKey,
		UserAgent:        f.config.UserAgent,
		MaxResponseBytes: f.config.MaxResponseBytes,
		Debug:            backend.Debug,
	}, f.httpClient, limiter, f.logger.With(zap.String("backend_id", backend.ID.String())))
	if err != nil {
		return nil, err
	}
	f.clients[backend.ID] = clientEntry{
		baseURL: baseURL,
		key:     backend.WebserviceKey,
		debug:   backend.Debug,
		client:  client,
	}
	return client, nil
}

var _ connector.AdapterFactory = (*AdapterFactory)(nil)
