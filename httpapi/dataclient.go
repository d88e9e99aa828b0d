package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/insightflow/insightflow/cache"
	"github.com/insightflow/insightflow/source"
)

// schemaTTL bounds how long a fetched schema is reused before the data
// service is asked again.
const schemaTTL = 24 * time.Hour

// DataClient is the HTTP implementation of source.Service, backed by the
// data service that owns source bindings and credential decryption.
// Schemas are cached; descriptors are not, they carry credentials.
type DataClient struct {
	baseURL string
	token   string
	client  *http.Client
	schemas *cache.LRU
}

// NewDataClient builds a client against the data service at baseURL. The
// token, when set, is sent as a bearer credential on every request.
func NewDataClient(baseURL, token string) *DataClient {
	return &DataClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
		schemas: cache.NewLRU(256, schemaTTL),
	}
}

// GetDataSource resolves a descriptor by id. Credentials arrive decrypted
// and must not outlive the request that fetched them.
func (c *DataClient) GetDataSource(ctx context.Context, id string) (*source.Descriptor, error) {
	body, err := c.get(ctx, "/api/data-sources/"+id)
	if err != nil {
		return nil, err
	}
	var desc source.Descriptor
	if err := json.Unmarshal(body, &desc); err != nil {
		return nil, fmt.Errorf("decode data source %s: %w", id, err)
	}
	if desc.ID == "" {
		desc.ID = id
	}
	return &desc, nil
}

// GetSchema fetches and normalizes the schema for a source. The data
// service answers in either the map-keyed or the table-list wire shape;
// both normalize to the same Schema.
func (c *DataClient) GetSchema(ctx context.Context, id string) (source.Schema, error) {
	key := cache.SchemaKey(cache.Scope{}, id)
	if cached, ok := c.schemas.Get(key); ok {
		var schema source.Schema
		if json.Unmarshal(cached, &schema) == nil {
			return schema, nil
		}
	}

	body, err := c.get(ctx, "/api/data-sources/"+id+"/schema")
	if err != nil {
		return source.Schema{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return source.Schema{}, fmt.Errorf("decode schema for %s: %w", id, err)
	}
	schema := source.NormalizeSchema(raw)
	if encoded, err := json.Marshal(schema); err == nil {
		c.schemas.Set(key, encoded)
	}
	return schema, nil
}

func (c *DataClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("data service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("data service: read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("data service: %s not found", path)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("data service: %s returned status %d", path, resp.StatusCode)
	}
	return body, nil
}

// StaticSources is an in-memory source.Service for tests and single-binary
// deployments where sources are registered at startup.
type StaticSources struct {
	mu      sync.RWMutex
	sources map[string]*source.Descriptor
}

func NewStaticSources() *StaticSources {
	return &StaticSources{sources: make(map[string]*source.Descriptor)}
}

// Register adds or replaces a descriptor.
func (s *StaticSources) Register(desc *source.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[desc.ID] = desc
}

func (s *StaticSources) GetDataSource(_ context.Context, id string) (*source.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	desc, ok := s.sources[id]
	if !ok {
		return nil, fmt.Errorf("data source %s not found", id)
	}
	copied := *desc
	return &copied, nil
}

func (s *StaticSources) GetSchema(ctx context.Context, id string) (source.Schema, error) {
	desc, err := s.GetDataSource(ctx, id)
	if err != nil {
		return source.Schema{}, err
	}
	return desc.Schema, nil
}
