package pos

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/erp/posconnector/internal/domain/connector"
)

// sinceLayout is the date format of the search filters
const sinceLayout = "2006-01-02 15:04:05"

// ResourceAdapter implements connector.Adapter for one webservice resource
type ResourceAdapter struct {
	client   *Client
	resource string
	node     string
}

// NewResourceAdapter creates the adapter of resource
func NewResourceAdapter(client *Client, resource string) *ResourceAdapter {
	return &ResourceAdapter{client: client, resource: resource, node: nodeName(resource)}
}

// nodeName returns the payload node of a resource: "categories" is sent
// as {"pos": {"category": ...}}.
func nodeName(resource string) string {
	switch {
	case strings.HasSuffix(resource, "ies"):
		return strings.TrimSuffix(resource, "ies") + "y"
	case strings.HasSuffix(resource, "s"):
		return strings.TrimSuffix(resource, "s")
	}
	return resource
}

// Resource returns the webservice resource name
func (a *ResourceAdapter) Resource() string {
	return a.resource
}

// Search returns the IDs matching filters
func (a *ResourceAdapter) Search(ctx context.Context, filters connector.Filters) ([]string, error) {
	query := url.Values{}
	query.Set("display", "id")
	if filters.Since != nil {
		query.Set("updated_since", filters.Since.UTC().Format(sinceLayout))
	}
	if filters.Before != nil {
		query.Set("updated_before", filters.Before.UTC().Format(sinceLayout))
	}
	if filters.IsBounded() {
		offset, limit := filters.PageBounds(0)
		query.Set("offset", strconv.Itoa(offset))
		query.Set("limit", strconv.Itoa(limit))
	}
	for k, v := range filters.Extra {
		query.Set(k, v)
	}

	resp, err := a.client.do(ctx, request{
		method:     http.MethodGet,
		path:       []string{a.resource},
		query:      query,
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}

	rows, ok := unwrap(resp.body)[a.resource].([]any)
	if !ok {
		return []string{}, nil
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		var id string
		if node, ok := row.(map[string]any); ok {
			id = connector.Record(node).String("id")
		} else {
			id = connector.Record{"id": row}.String("id")
		}
		if id == "" {
			return nil, fmt.Errorf("%w: %s search row without id", connector.ErrAdapterInvalidResponse, a.resource)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Read returns one record. options are sent as query parameters.
func (a *ResourceAdapter) Read(ctx context.Context, id string, options map[string]string) (connector.Record, error) {
	query := url.Values{}
	for k, v := range options {
		query.Set(k, v)
	}
	resp, err := a.client.do(ctx, request{
		method:     http.MethodGet,
		path:       []string{a.resource, id},
		query:      query,
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	return single(resp.body)
}

// Create creates a record and returns its ID, "" when the webservice did not send one
func (a *ResourceAdapter) Create(ctx context.Context, values connector.Values) (string, error) {
	resp, err := a.client.do(ctx, request{
		method: http.MethodPost,
		path:   []string{a.resource},
		body:   map[string]any{envelope: map[string]any{a.node: values}},
	})
	if err != nil {
		return "", err
	}
	if resp.body == nil {
		return "", nil
	}
	record, err := single(resp.body)
	if err != nil {
		return "", err
	}
	return record.String("id"), nil
}

// Update writes values on the record id and returns the updated record
func (a *ResourceAdapter) Update(ctx context.Context, id string, values connector.Values) (connector.Record, error) {
	node := make(map[string]any, len(values)+1)
	for k, v := range values {
		node[k] = v
	}
	node["id"] = id
	resp, err := a.client.do(ctx, request{
		method:     http.MethodPut,
		path:       []string{a.resource, id},
		body:       map[string]any{envelope: map[string]any{a.node: node}},
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	if resp.body == nil {
		return connector.Record{"id": id}, nil
	}
	return single(resp.body)
}

// Delete deletes the record id of resource. A record already gone is not
// an error and reports false.
func (a *ResourceAdapter) Delete(ctx context.Context, resource, id string, attributes map[string]any) (bool, error) {
	if resource == "" {
		resource = a.resource
	}
	query := url.Values{}
	for k, v := range attributes {
		query.Set(k, connector.Record{k: v}.String(k))
	}
	_, err := a.client.do(ctx, request{
		method:     http.MethodDelete,
		path:       []string{resource, id},
		query:      query,
		idempotent: true,
	})
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Head checks that the record id, or the resource when id is empty, is reachable
func (a *ResourceAdapter) Head(ctx context.Context, id string) (connector.Record, error) {
	path := []string{a.resource}
	if id != "" {
		path = append(path, id)
	}
	resp, err := a.client.do(ctx, request{method: http.MethodHead, path: path, idempotent: true})
	if err != nil {
		return nil, err
	}
	record := connector.Record{"status": resp.status}
	for _, h := range []string{"Content-Type", "Last-Modified", "X-Pos-Version"} {
		if v := resp.header.Get(h); v != "" {
			record[strings.ToLower(h)] = v
		}
	}
	return record, nil
}

// Connect posts the webservice key to the resource and returns the reply
func (a *ResourceAdapter) Connect(ctx context.Context) (connector.Record, error) {
	resp, err := a.client.do(ctx, request{
		method:     http.MethodPost,
		path:       []string{a.resource},
		body:       map[string]any{"api_key": a.client.config.Key},
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	if resp.body == nil {
		return connector.Record{}, nil
	}
	return single(resp.body)
}

var _ connector.Adapter = (*ResourceAdapter)(nil)
