// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy access to the REST api through the gateway

Every request of the client goes through a gateway.Gateway, so it is annotated, queued
while offline, served from cache on network failures and retried after a credential
refresh. Failures are returned as *gateway.Error together with the HTTP status, or
0 if no response was received.
*/
package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/gateway/core/gateway"
)

// Doer sends requests. *gateway.Gateway is a Doer.
type Doer interface {
	Do(ctx context.Context, req *gateway.Request) (*gateway.Response, error)
}

// Client provides easy access to the REST API.
type Client struct {
	doer      Doer
	ctx       context.Context
	noQueue   bool
	noCache   bool
	noRefresh bool

	defaultHeaders map[string]string
}

// New creates a client sending all requests through doer
func New(doer Doer) Client {
	return Client{
		doer:           doer,
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := map[string]string{key: value}
	for k, v := range c.defaultHeaders {
		if k != key {
			headers[k] = v
		}
	}
	c.defaultHeaders = headers
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// WithoutQueue returns a new client whose requests fail right away while offline
// instead of waiting in the offline queue
func (c Client) WithoutQueue() Client {
	c.noQueue = true
	return c
}

// WithoutCache returns a new client whose reads bypass the response cache
func (c Client) WithoutCache() Client {
	c.noCache = true
	return c
}

// WithoutRefresh returns a new client whose requests fail on 401 without a credential
// refresh, like the login itself
func (c Client) WithoutRefresh() Client {
	c.noRefresh = true
	return c
}

// Context returns the request context
func (c Client) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Plural returns the plural of a resource name
func Plural(singular string) string {
	if strings.HasSuffix(singular, "y") && !strings.HasSuffix(singular, "ay") {
		return strings.TrimSuffix(singular, "y") + "ies"
	}
	if strings.HasSuffix(singular, "child") {
		return strings.TrimSuffix(singular, "child") + "children"
	}
	if strings.HasSuffix(singular, "s") {
		return singular
	}
	return singular + "s"
}

// Collection represents a collection of particular resource
type Collection struct {
	client     *Client
	resources  []string
	selectors  map[string]string
	parameters []string
}

// Collection returns a new collection client. Nested resources are separated by slashes,
// like "creator/post".
func (c Client) Collection(resource string) Collection {
	return Collection{
		client:    &c,
		resources: strings.Split(resource, "/"),
	}
}

// WithSelector returns a new collection client with a selector added
func (r Collection) WithSelector(key string, value string) Collection {
	// we want a true copy to avoid side effects
	selectors := map[string]string{strings.TrimSuffix(key, "_id"): value}
	for k, v := range r.selectors {
		selectors[k] = v
	}
	r.selectors = selectors
	return r
}

// WithParent returns a new collection client with a parent selector added
func (r Collection) WithParent(parentID string) Collection {
	if len(r.resources) < 2 {
		panic("no parent resource to select")
	}
	return r.WithSelector(r.resources[len(r.resources)-2], parentID)
}

// WithParameter returns a new collection client with a URL parameter added.
func (r Collection) WithParameter(key string, value string) Collection {
	parameter := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	// we want a true copy to avoid side effects
	r.parameters = append(append([]string{}, r.parameters...), parameter)
	return r
}

// WithFilter returns a new collection client with a URL filter parameter added.
// This is a shortcut for WithParameter("filter", key+"="+value)
func (r Collection) WithFilter(key string, value string) Collection {
	return r.WithParameter("filter", key+"="+value)
}

// paths builds the paths of the collection. Parent resources without a selector are left
// out, so "creator/post" is "/posts" or, with a parent, "/creators/{id}/posts".
func (r Collection) paths() (collectionPath, singletonPath string) {
	var itemPath string
	last := len(r.resources) - 1
	for i, resource := range r.resources {
		if i == last {
			singletonPath = itemPath + "/" + resource
			collectionPath = itemPath + "/" + Plural(resource)
			break
		}
		if selector, ok := r.selectors[resource]; ok {
			itemPath += "/" + Plural(resource) + "/" + url.PathEscape(selector)
		}
	}
	if len(r.parameters) > 0 {
		collectionPath += "?" + strings.Join(r.parameters, "&")
	}
	return
}

// CollectionPath returns the created path for the collection plus optional query strings
func (r Collection) CollectionPath() string {
	path, _ := r.paths()
	return path
}

// SingletonPath returns the created path for a singleton
func (r Collection) SingletonPath() string {
	_, path := r.paths()
	return path
}

// Create creates a new item.
//
// The operation corresponds to a POST request. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (r Collection) Create(body interface{}, result interface{}) (int, error) {
	return r.client.RawPost(r.CollectionPath(), body, result)
}

// List gets the collection.
//
// The operation corresponds to a GET request. Returns the actual http status code.
//
// result can be a slice, map[string]interface{} or a raw *[]byte.
func (r Collection) List(result interface{}) (int, error) {
	return r.client.RawGet(r.CollectionPath(), result)
}

// Clear deletes the entire collection
func (r Collection) Clear() (int, error) {
	return r.client.RawDelete(r.CollectionPath())
}

// Item represents a single item in a collection
type Item struct {
	col        Collection
	id         string
	singleton  bool
	parameters []string
}

// Item gets an item from a collection
func (r Collection) Item(id string) Item {
	return Item{col: r, id: id}
}

// ItemWithID gets an item with a uuid from a collection
func (r Collection) ItemWithID(id uuid.UUID) Item {
	return r.Item(id.String())
}

// Singleton gets a singleton from this collection
func (r Collection) Singleton() Item {
	return Item{col: r, singleton: true}
}

// WithParameter returns a new item client with a URL parameter added.
func (r Item) WithParameter(key string, value string) Item {
	parameter := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	r.parameters = append(append([]string{}, r.parameters...), parameter)
	return r
}

// Path returns the created path for this item
func (r Item) Path() string {
	var path string
	if r.singleton {
		path = r.col.SingletonPath()
	} else {
		collectionPath, _ := r.col.paths()
		if i := strings.IndexByte(collectionPath, '?'); i >= 0 {
			collectionPath = collectionPath[:i]
		}
		path = collectionPath + "/" + url.PathEscape(r.id)
	}
	if len(r.parameters) > 0 {
		path += "?" + strings.Join(r.parameters, "&")
	}
	return path
}

// Subcollection returns a subcollection for this item
func (r Item) Subcollection(resource string) Collection {
	col := r.col
	parent := col.resources[len(col.resources)-1]
	col.resources = append(append([]string{}, col.resources...), strings.Split(resource, "/")...)
	col.parameters = nil
	if !r.singleton {
		col = col.WithSelector(parent, r.id)
	}
	return col
}

// Read reads an item from a collection
//
// The operation corresponds to a GET request. Returns the actual http status code.
//
// result can also be map[string]interface{} or a raw *[]byte.
func (r Item) Read(result interface{}) (int, error) {
	return r.col.client.RawGet(r.Path(), result)
}

// Upsert updates an item, or creates it if it doesn't exist yet.
//
// The operation corresponds to a PUT request. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (r Item) Upsert(body interface{}, result interface{}) (int, error) {
	return r.col.client.RawPut(r.Path(), body, result)
}

// Patch updates selected fields of an item
func (r Item) Patch(body interface{}, result interface{}) (int, error) {
	return r.col.client.RawPatch(r.Path(), body, result)
}

// Delete deletes an item from a collection
//
// The operation corresponds to a DELETE request. Returns the actual http status code.
func (r Item) Delete() (int, error) {
	return r.col.client.RawDelete(r.Path())
}

// Page is a requester for one page in a collection
type Page struct {
	r          Collection
	page       int
	pageCount  int
	totalCount int
}

// FirstPage returns a requester for the first page of a collection
//
// Do not specify the page parameter when using the page requester, as
// it manages page itself. You can set all others parameters, including
// limit.
func (r Collection) FirstPage() Page {
	return Page{page: 1, r: r}
}

// HasData returns true if the page has data (by definition true for the first page)
func (p Page) HasData() bool {
	return p.page == 1 || p.page <= p.pageCount
}

// TotalCount returns the total number of elements (only available after you have called Get on the page)
func (p Page) TotalCount() int {
	return p.totalCount
}

// Get gets one page of the collection
func (p *Page) Get(result interface{}) (int, error) {
	path := p.r.WithParameter("page", strconv.Itoa(p.page)).CollectionPath()
	status, header, err := p.r.client.RawGetWithHeader(path, nil, result)
	if err != nil {
		return status, err
	}
	pageCount, err := strconv.Atoi(header.Get("Pagination-Page-Count"))
	if err == nil {
		p.pageCount = pageCount
	}
	totalCount, err := strconv.Atoi(header.Get("Pagination-Total-Count"))
	if err == nil {
		p.totalCount = totalCount
	}
	return status, nil
}

// Next returns the next page
func (p Page) Next() Page {
	return Page{
		r:         p.r,
		page:      p.page + 1,
		pageCount: p.pageCount,
	}
}

// RawGet gets the resource from path. Returns the actual http status code.
//
// The path can be extend with query strings.
//
// result can be map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	status, _, err := c.RawGetWithHeader(path, nil, result)
	return status, err
}

// RawGetWithHeader gets the resource from path with additional headers. Returns the actual
// http status code and the response header.
func (c Client) RawGetWithHeader(path string, header map[string]string, result interface{}) (int, http.Header, error) {
	res, err := c.do(http.MethodGet, path, header, nil)
	if err != nil {
		return status(err), nil, err
	}
	return res.Status, res.Header, decode(res, result)
}

// RawPost posts body to path. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.rawWithBody(http.MethodPost, path, body, result)
}

// RawPut puts body to path. Returns the actual http status code.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	return c.rawWithBody(http.MethodPut, path, body, result)
}

// RawPatch patches path with body. Returns the actual http status code.
func (c Client) RawPatch(path string, body interface{}, result interface{}) (int, error) {
	return c.rawWithBody(http.MethodPatch, path, body, result)
}

// RawDelete deletes the resource at path. Returns the actual http status code.
func (c Client) RawDelete(path string) (int, error) {
	res, err := c.do(http.MethodDelete, path, nil, nil)
	if err != nil {
		return status(err), err
	}
	return res.Status, nil
}

func (c Client) rawWithBody(method, path string, body interface{}, result interface{}) (int, error) {
	res, err := c.do(method, path, nil, body)
	if err != nil {
		return status(err), err
	}
	return res.Status, decode(res, result)
}

func (c Client) do(method, path string, header map[string]string, body interface{}) (*gateway.Response, error) {
	h := http.Header{}
	for key, value := range c.defaultHeaders {
		h.Set(key, value)
	}
	for key, value := range header {
		h.Set(key, value)
	}
	return c.doer.Do(c.Context(), &gateway.Request{
		Method:    method,
		URL:       path,
		Header:    h,
		Body:      body,
		NoQueue:   c.noQueue,
		NoCache:   c.noCache,
		NoRefresh: c.noRefresh,
	})
}

func decode(res *gateway.Response, result interface{}) error {
	if result == nil || len(res.Body) == 0 || res.Status == http.StatusNoContent {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = res.Body
		return nil
	}
	if err := json.Unmarshal(res.Body, result); err != nil {
		return gateway.InvalidResponse(res.Status, err)
	}
	return nil
}

// status returns the HTTP status of a failed request, 0 if no response was received
func status(err error) int {
	var e *gateway.Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
