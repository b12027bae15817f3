package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gateway/core/gateway"
	"github.com/relabs-tech/gateway/core/kvstore"
)

func TestPaths(t *testing.T) {
	client := New(nil)

	collection := client.Collection("creator/post")
	assert.Equal(t, "/posts", collection.CollectionPath())
	assert.Equal(t, "/posts/p1", collection.Item("p1").Path())

	collection = client.Collection("creator/post").WithParent("c1")
	assert.Equal(t, "/creators/c1/posts", collection.CollectionPath())
	assert.Equal(t, "/creators/c1/post", collection.Singleton().Path())

	collection = client.Collection("notification").WithFilter("read", "false").WithParameter("limit", "10")
	assert.Equal(t, "/notifications?filter=read%3Dfalse&limit=10", collection.CollectionPath())
	assert.Equal(t, "/notifications/n1", collection.Item("n1").Path())
	assert.Equal(t, "/notifications/n1?mark=read", collection.Item("n1").WithParameter("mark", "read").Path())

	sub := client.Collection("creator").Item("c1").Subcollection("connection")
	assert.Equal(t, "/creators/c1/connections", sub.CollectionPath())

	assert.Equal(t, "categories", Plural("category"))
	assert.Equal(t, "children", Plural("child"))
	assert.Equal(t, "stats", Plural("stats"))
	assert.Equal(t, "connections", Plural("connection"))
}

func TestClientThroughGateway(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/connections", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Pagination-Page-Count", "2")
		w.Header().Set("Pagination-Total-Count", "3")
		w.Write([]byte(`[{"id":"c1"},{"id":"c2"}]`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/connections", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"creatorId":"cr1"}`, string(body))
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"c3"}`))
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/connections/{id}", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["id"] == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)
	server := httptest.NewServer(router)
	defer server.Close()

	gw, err := gateway.New(context.Background(), &gateway.Builder{
		BaseURL: server.URL + "/api",
		Store:   kvstore.NewMemory(0),
	})
	require.NoError(t, err)
	client := New(gw).WithHeader("X-Test", "yes")

	var list []struct{ ID string }
	status, err := client.Collection("connection").List(&list)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, list, 2)

	page := client.Collection("connection").FirstPage()
	require.True(t, page.HasData())
	_, err = page.Get(&list)
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount())
	assert.True(t, page.Next().HasData())
	assert.False(t, page.Next().Next().HasData())

	var created map[string]string
	status, err = client.Collection("connection").Create(map[string]string{"creatorId": "cr1"}, &created)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "c3", created["id"])

	status, err = client.Collection("connection").Item("c3").Delete()
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	status, err = client.Collection("connection").Item("missing").Delete()
	assert.Equal(t, http.StatusNotFound, status)
	assert.True(t, gateway.IsKind(err, gateway.KindNotFound))

	var raw []byte
	_, err = client.WithoutCache().RawGet("/connections", &raw)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "c1")

	server.Close()
	status, err = client.WithoutCache().RawGet("/connections", &raw)
	assert.Equal(t, 0, status)
	assert.True(t, gateway.IsKind(err, gateway.KindNetwork))
}
