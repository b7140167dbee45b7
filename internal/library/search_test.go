package library

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchPage = `<!DOCTYPE html>
<html><body>
<ul role="list">
  <li x-test-model class="flex">
    <a href="/library/llama3.1" class="group w-full">
      <h2><span x-test-search-response-title>llama3.1</span></h2>
      <p class="max-w-lg">Llama 3.1 is a new state-of-the-art model from Meta.</p>
      <div>
        <span x-test-capability>tools</span>
        <span x-test-size>8b</span>
        <span x-test-size>70b</span>
        <span x-test-size>405b</span>
      </div>
      <p><span x-test-pull-count>98.4M</span> Pulls</p>
    </a>
  </li>
  <li x-test-model class="flex">
    <a href="/library/llama2">
      <p class="max-w-lg">Llama 2 is a collection of foundation language models.</p>
    </a>
  </li>
  <li class="flex"><a href="/blog">not a model</a></li>
  <li x-test-model class="flex">
    <a href="/library/codellama">
      <span x-test-search-response-title>codellama</span>
      <span x-test-size>7b</span>
    </a>
  </li>
</ul>
</body></html>`

func newCatalog(t *testing.T, status int, body string) (*httptest.Server, *[]string) {
	t.Helper()
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		queries = append(queries, r.URL.Query().Get("q"))
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &queries
}

func TestSearch(t *testing.T) {
	srv, queries := newCatalog(t, http.StatusOK, searchPage)

	models, err := NewClient(srv.URL).Search(context.Background(), "llama 3", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"llama 3"}, *queries)

	require.Len(t, models, 3)
	assert.Equal(t, Model{
		Name:        "llama3.1",
		Description: "Llama 3.1 is a new state-of-the-art model from Meta.",
		URL:         srv.URL + "/library/llama3.1",
		Sizes:       []string{"8b", "70b", "405b"},
		Pulls:       "98.4M",
	}, models[0])

	assert.Equal(t, "llama2", models[1].Name, "name falls back to the link")
	assert.Empty(t, models[1].Sizes)
	assert.Equal(t, "codellama", models[2].Name)
}

func TestSearchLimit(t *testing.T) {
	srv, _ := newCatalog(t, http.StatusOK, searchPage)

	models, err := NewClient(srv.URL).Search(context.Background(), "llama", 1)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "llama3.1", models[0].Name)
}

func TestSearchHTTPError(t *testing.T) {
	srv, _ := newCatalog(t, http.StatusServiceUnavailable, "down")

	_, err := NewClient(srv.URL).Search(context.Background(), "llama", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestModelTags(t *testing.T) {
	assert.Equal(t, []string{"llama3.1:8b", "llama3.1:70b"}, Model{Name: "llama3.1", Sizes: []string{"8b", "70b"}}.Tags())
	assert.Equal(t, []string{"llama2"}, Model{Name: "llama2"}.Tags())
}
