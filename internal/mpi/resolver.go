package mpi

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"mpi-mediator/internal/fhir"
)

// PatientFetcher fetches a patient by reference, reporting found=false for
// missing resources instead of failing.
type PatientFetcher interface {
	FetchPatient(ctx context.Context, ref string) (fhir.Resource, bool, error)
}

// LinkCache is an optional read-through cache of resolved link sets. Lookup
// returns nil on a miss; Store is best-effort.
type LinkCache interface {
	Lookup(ctx context.Context, rootRef string) ([]string, error)
	Store(ctx context.Context, rootRef string, links []string) error
}

// LinkResolver expands a patient reference into its full golden-id
// equivalence set by following link entries breadth-first.
type LinkResolver struct {
	fetcher PatientFetcher
	cache   LinkCache
	logger  *slog.Logger
	// fanout bounds concurrent fetches within one expansion.
	fanout int
}

// ResolverOption configures a LinkResolver.
type ResolverOption func(*LinkResolver)

// WithLinkCache attaches a read-through link cache.
func WithLinkCache(cache LinkCache) ResolverOption {
	return func(r *LinkResolver) { r.cache = cache }
}

// WithResolverLogger attaches a structured logger.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *LinkResolver) { r.logger = logger }
}

// WithFanout bounds concurrent fetches per expansion round.
func WithFanout(n int) ResolverOption {
	return func(r *LinkResolver) { r.fanout = n }
}

// NewLinkResolver builds a resolver over the given fetcher.
func NewLinkResolver(fetcher PatientFetcher, opts ...ResolverOption) *LinkResolver {
	r := &LinkResolver{fetcher: fetcher, fanout: 8}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveLinks returns the equivalence set reachable from rootRef. The root
// is always first; the rest follow breadth-first discovery order. Missing
// resources terminate their branch. Duplicate references are suppressed by a
// visited set that is updated before children are scheduled, so no reference
// is fetched twice even under concurrent fan-out.
func (r *LinkResolver) ResolveLinks(ctx context.Context, rootRef string) ([]string, error) {
	if r.cache != nil {
		if links, err := r.cache.Lookup(ctx, rootRef); err == nil && len(links) > 0 {
			return links, nil
		} else if err != nil && r.logger != nil {
			r.logger.WarnContext(ctx, "link cache lookup failed, resolving live",
				"root", rootRef,
				"error", err,
			)
		}
	}

	visited := map[string]struct{}{rootRef: {}}
	order := []string{rootRef}
	frontier := []string{rootRef}

	for len(frontier) > 0 {
		discovered := make([][]string, len(frontier))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.fanout)
		for i, ref := range frontier {
			g.Go(func() error {
				patient, found, err := r.fetcher.FetchPatient(gctx, ref)
				if err != nil {
					return err
				}
				if !found {
					return nil
				}
				discovered[i] = fhir.PatientLinks(patient)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		// The visited set is only touched here, after g.Wait, so discovery
		// stays single-writer; goroutines report through their own index of
		// the discovered slice.
		var next []string
		for _, links := range discovered {
			for _, ref := range links {
				if _, seen := visited[ref]; seen {
					continue
				}
				visited[ref] = struct{}{}
				order = append(order, ref)
				next = append(next, ref)
			}
		}
		frontier = next
	}

	if r.cache != nil && len(order) > 1 {
		if err := r.cache.Store(ctx, rootRef, order); err != nil && r.logger != nil {
			r.logger.WarnContext(ctx, "link cache store failed",
				"root", rootRef,
				"error", err,
			)
		}
	}
	return order, nil
}
