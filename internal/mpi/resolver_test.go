package mpi

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpi-mediator/internal/fhir"
)

// graphFetcher serves a link graph from memory and counts fetches per ref.
type graphFetcher struct {
	mu      sync.Mutex
	links   map[string][]string
	fetches map[string]int
	failOn  string
}

func newGraphFetcher(links map[string][]string) *graphFetcher {
	return &graphFetcher{links: links, fetches: make(map[string]int)}
}

func (f *graphFetcher) FetchPatient(_ context.Context, ref string) (fhir.Resource, bool, error) {
	f.mu.Lock()
	f.fetches[ref]++
	f.mu.Unlock()

	if ref == f.failOn {
		return nil, false, errors.New("mpi unreachable")
	}
	links, ok := f.links[ref]
	if !ok {
		return nil, false, nil // 404
	}

	linkEntries := make([]any, 0, len(links))
	for _, l := range links {
		linkEntries = append(linkEntries, map[string]any{
			"other": map[string]any{"reference": l},
			"type":  "refer",
		})
	}
	patient := fhir.Resource{
		"resourceType": "Patient",
		"id":           fhir.PatientIDFromRef(ref),
	}
	if len(linkEntries) > 0 {
		patient["link"] = linkEntries
	}
	return patient, true, nil
}

func TestResolveLinksSameSetFromAnyNode(t *testing.T) {
	// 1 and 2 both link to golden 3; 3 links back to both.
	graph := map[string][]string{
		"Patient/1": {"Patient/3"},
		"Patient/2": {"Patient/3"},
		"Patient/3": {"Patient/1", "Patient/2"},
	}

	for _, root := range []string{"Patient/1", "Patient/2", "Patient/3"} {
		resolver := NewLinkResolver(newGraphFetcher(graph))
		links, err := resolver.ResolveLinks(context.Background(), root)
		require.NoError(t, err)

		assert.Equal(t, root, links[0], "root is always first")
		assert.ElementsMatch(t, []string{"Patient/1", "Patient/2", "Patient/3"}, links)
	}
}

func TestResolveLinksNoDuplicatesWithBackEdges(t *testing.T) {
	graph := map[string][]string{
		"Patient/a": {"Patient/b", "Patient/c"},
		"Patient/b": {"Patient/a", "Patient/c"},
		"Patient/c": {"Patient/a"},
	}
	fetcher := newGraphFetcher(graph)
	resolver := NewLinkResolver(fetcher)

	links, err := resolver.ResolveLinks(context.Background(), "Patient/a")
	require.NoError(t, err)

	assert.Len(t, links, 3)
	seen := make(map[string]int)
	for _, l := range links {
		seen[l]++
	}
	for ref, n := range seen {
		assert.Equal(t, 1, n, "reference %s appears once", ref)
	}
	for ref, n := range fetcher.fetches {
		assert.Equal(t, 1, n, "reference %s fetched once", ref)
	}
}

func TestResolveLinksMissingResourceIsLeaf(t *testing.T) {
	graph := map[string][]string{
		"Patient/1": {"Patient/gone"},
	}
	resolver := NewLinkResolver(newGraphFetcher(graph))

	links, err := resolver.ResolveLinks(context.Background(), "Patient/1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Patient/1", "Patient/gone"}, links)
}

func TestResolveLinksTransportErrorFails(t *testing.T) {
	fetcher := newGraphFetcher(map[string][]string{
		"Patient/1": {"Patient/2"},
	})
	fetcher.failOn = "Patient/2"
	resolver := NewLinkResolver(fetcher)

	_, err := resolver.ResolveLinks(context.Background(), "Patient/1")
	assert.Error(t, err)
}

func TestResolveLinksSingleNode(t *testing.T) {
	resolver := NewLinkResolver(newGraphFetcher(map[string][]string{
		"Patient/solo": nil,
	}))

	links, err := resolver.ResolveLinks(context.Background(), "Patient/solo")
	require.NoError(t, err)
	assert.Equal(t, []string{"Patient/solo"}, links)
}

// memLinkCache is an in-memory LinkCache for resolver tests.
type memLinkCache struct {
	mu      sync.Mutex
	entries map[string][]string
	lookups int
	stores  int
}

func (c *memLinkCache) Lookup(_ context.Context, root string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
	return c.entries[root], nil
}

func (c *memLinkCache) Store(_ context.Context, root string, links []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores++
	if c.entries == nil {
		c.entries = make(map[string][]string)
	}
	c.entries[root] = links
	return nil
}

func TestResolveLinksUsesCache(t *testing.T) {
	cache := &memLinkCache{entries: map[string][]string{
		"Patient/1": {"Patient/1", "Patient/3"},
	}}
	fetcher := newGraphFetcher(nil)
	resolver := NewLinkResolver(fetcher, WithLinkCache(cache))

	links, err := resolver.ResolveLinks(context.Background(), "Patient/1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Patient/1", "Patient/3"}, links)
	assert.Empty(t, fetcher.fetches, "cache hit skips live expansion")
}

func TestResolveLinksStoresAfterLiveExpansion(t *testing.T) {
	cache := &memLinkCache{}
	resolver := NewLinkResolver(newGraphFetcher(map[string][]string{
		"Patient/1": {"Patient/3"},
		"Patient/3": nil,
	}), WithLinkCache(cache))

	links, err := resolver.ResolveLinks(context.Background(), "Patient/1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Patient/1", "Patient/3"}, links)
	assert.Equal(t, 1, cache.stores)
}
