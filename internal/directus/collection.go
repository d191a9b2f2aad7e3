package directus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Query holds the optional list parameters understood by /items.
type Query struct {
	Fields []string
	// Filter is encoded as the Directus JSON filter object.
	Filter map[string]any
	Sort   []string
	// Limit is omitted when zero. Use -1 for "all rows".
	Limit  int
	Search string
}

func (q Query) values() (url.Values, error) {
	v := url.Values{}
	if len(q.Fields) > 0 {
		v.Set("fields", strings.Join(q.Fields, ","))
	}
	if len(q.Filter) > 0 {
		f, err := json.Marshal(q.Filter)
		if err != nil {
			return nil, fmt.Errorf("encode filter: %w", err)
		}
		v.Set("filter", string(f))
	}
	if len(q.Sort) > 0 {
		v.Set("sort", strings.Join(q.Sort, ","))
	}
	if q.Limit != 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	return v, nil
}

// Collection is a typed handle on one Directus collection.
type Collection[T any] struct {
	client *Client
	name   string
}

// NewCollection returns a handle for the named collection.
func NewCollection[T any](c *Client, name string) *Collection[T] {
	return &Collection[T]{client: c, name: name}
}

// Name returns the collection name.
func (col *Collection[T]) Name() string {
	return col.name
}

func (col *Collection[T]) itemsPath() string {
	return "/items/" + url.PathEscape(col.name)
}

func (col *Collection[T]) itemPath(id string) string {
	return col.itemsPath() + "/" + url.PathEscape(id)
}

// List fetches the rows matching q.
func (col *Collection[T]) List(ctx context.Context, q Query) ([]T, error) {
	values, err := q.values()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", col.name, err)
	}
	var items []T
	err = col.client.do(ctx, call{
		op:         "list",
		collection: col.name,
		method:     http.MethodGet,
		path:       col.itemsPath(),
		query:      values,
	}, &items)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// Create inserts item and returns the stored record.
func (col *Collection[T]) Create(ctx context.Context, item T) (T, error) {
	var created T
	body, err := payload(item)
	if err != nil {
		return created, fmt.Errorf("create %s: %w", col.name, err)
	}
	err = col.client.do(ctx, call{
		op:         "create",
		collection: col.name,
		method:     http.MethodPost,
		path:       col.itemsPath(),
		body:       body,
	}, &created)
	return created, err
}

// Update sends item as a partial PATCH for id and returns the stored record.
func (col *Collection[T]) Update(ctx context.Context, id string, item T) (T, error) {
	var updated T
	if strings.TrimSpace(id) == "" {
		return updated, fmt.Errorf("update %s: empty id", col.name)
	}
	body, err := payload(item)
	if err != nil {
		return updated, fmt.Errorf("update %s: %w", col.name, err)
	}
	err = col.client.do(ctx, call{
		op:         "update",
		collection: col.name,
		method:     http.MethodPatch,
		path:       col.itemPath(id),
		body:       body,
	}, &updated)
	return updated, err
}

// Delete removes the record with id.
func (col *Collection[T]) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("delete %s: empty id", col.name)
	}
	return col.client.do(ctx, call{
		op:         "delete",
		collection: col.name,
		method:     http.MethodDelete,
		path:       col.itemPath(id),
	}, nil)
}

// payload marshals item to a JSON object without its primary key, which
// Directus assigns on create and takes from the URL on update.
func payload(item any) (map[string]any, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("item must encode to an object: %w", err)
	}
	delete(m, "id")
	return m, nil
}
