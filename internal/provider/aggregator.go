package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/telegrab/telegrab/internal/logger"
)

// Aggregator exposes an ordered list of provider adapters as one source.
// Download commands route to the adapter that claims the identifier; search
// and transfer queries fan out to every adapter and merge.
type Aggregator struct {
	providers []Provider
	log       *logger.Logger

	mu       sync.Mutex
	searches map[string]map[string]string // aggregate id -> provider name -> provider search id
}

// NewAggregator builds an aggregator over the given adapters, in routing
// order. The last adapter is the fallback owner for unclaimed identifiers.
func NewAggregator(providers ...Provider) *Aggregator {
	return &Aggregator{
		providers: providers,
		log:       logger.Get(),
		searches:  make(map[string]map[string]string),
	}
}

// owner returns the first adapter claiming the link. Unclaimed identifiers
// fall back to the last adapter; callers must treat commands routed by the
// fallback as best-effort.
func (a *Aggregator) owner(link string) (Provider, error) {
	if len(a.providers) == 0 {
		return nil, errors.New("no providers configured")
	}
	for _, p := range a.providers {
		if p.CanHandleDownload(link) {
			return p, nil
		}
	}
	return a.providers[len(a.providers)-1], nil
}

// AddDownload hands the link to the first adapter that claims it.
func (a *Aggregator) AddDownload(ctx context.Context, link, category string) (string, error) {
	p, err := a.owner(link)
	if err != nil {
		return "", err
	}
	hash, err := p.AddDownload(ctx, link, category)
	if err != nil {
		return "", fmt.Errorf("provider %s: %w", p.Name(), err)
	}
	a.log.Info().Str("provider", p.Name()).Str("hash", hash).Msg("aggregator: download added")
	return hash, nil
}

func (a *Aggregator) PauseDownload(ctx context.Context, hash string) error {
	p, err := a.owner(hash)
	if err != nil {
		return err
	}
	return p.PauseDownload(ctx, hash)
}

func (a *Aggregator) ResumeDownload(ctx context.Context, hash string) error {
	p, err := a.owner(hash)
	if err != nil {
		return err
	}
	return p.ResumeDownload(ctx, hash)
}

func (a *Aggregator) StopDownload(ctx context.Context, hash string) error {
	p, err := a.owner(hash)
	if err != nil {
		return err
	}
	return p.StopDownload(ctx, hash)
}

func (a *Aggregator) RemoveDownload(ctx context.Context, hash string, deleteFiles bool) error {
	p, err := a.owner(hash)
	if err != nil {
		return err
	}
	return p.RemoveDownload(ctx, hash, deleteFiles)
}

// StartSearch fans the query out to every adapter. Adapters that fail to
// start do not block the others; the aggregate handle maps to whichever
// per-adapter handles were obtained.
func (a *Aggregator) StartSearch(ctx context.Context, query string) (string, error) {
	if len(a.providers) == 0 {
		return "", errors.New("no providers configured")
	}

	ids := make([]string, len(a.providers))
	errs := make([]error, len(a.providers))

	var g errgroup.Group
	for i, p := range a.providers {
		i, p := i, p
		g.Go(func() error {
			id, err := p.StartSearch(ctx, query)
			ids[i], errs[i] = id, err
			return nil
		})
	}
	_ = g.Wait()

	handles := make(map[string]string, len(a.providers))
	for i, p := range a.providers {
		if errs[i] != nil {
			a.log.Warn().Err(errs[i]).Str("provider", p.Name()).Msg("aggregator: search start failed")
			continue
		}
		handles[p.Name()] = ids[i]
	}
	if len(handles) == 0 {
		return "", fmt.Errorf("search failed on every provider: %w", errors.Join(errs...))
	}

	aggID := uuid.NewString()
	a.mu.Lock()
	a.searches[aggID] = handles
	a.mu.Unlock()
	return aggID, nil
}

// GetSearchResults merges results from every adapter participating in the
// aggregate search. One adapter's failure never suppresses another's rows.
func (a *Aggregator) GetSearchResults(ctx context.Context, id string, limit, offset int) ([]SearchResult, error) {
	handles, err := a.handles(id)
	if err != nil {
		return nil, err
	}

	results := make([][]SearchResult, len(a.providers))
	errs := make([]error, len(a.providers))

	var g errgroup.Group
	for i, p := range a.providers {
		i, p := i, p
		sid, ok := handles[p.Name()]
		if !ok {
			continue
		}
		g.Go(func() error {
			results[i], errs[i] = p.GetSearchResults(ctx, sid, limit, offset)
			return nil
		})
	}
	_ = g.Wait()

	var merged []SearchResult
	for i, p := range a.providers {
		if errs[i] != nil {
			a.log.Warn().Err(errs[i]).Str("provider", p.Name()).Msg("aggregator: search results failed")
			continue
		}
		merged = append(merged, results[i]...)
	}
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// GetSearchStatus reports aggregate progress as the minimum across adapters:
// the search is complete only once every adapter has finished.
func (a *Aggregator) GetSearchStatus(ctx context.Context, id string) (*SearchStatus, error) {
	handles, err := a.handles(id)
	if err != nil {
		return nil, err
	}

	statuses := make([]*SearchStatus, len(a.providers))
	errs := make([]error, len(a.providers))

	var g errgroup.Group
	for i, p := range a.providers {
		i, p := i, p
		sid, ok := handles[p.Name()]
		if !ok {
			continue
		}
		g.Go(func() error {
			statuses[i], errs[i] = p.GetSearchStatus(ctx, sid)
			return nil
		})
	}
	_ = g.Wait()

	agg := &SearchStatus{ID: id, Progress: 100}
	seen := false
	for i, p := range a.providers {
		if errs[i] != nil || statuses[i] == nil {
			if errs[i] != nil {
				a.log.Warn().Err(errs[i]).Str("provider", p.Name()).Msg("aggregator: search status failed")
			}
			continue
		}
		seen = true
		agg.Total += statuses[i].Total
		if statuses[i].Progress < agg.Progress {
			agg.Progress = statuses[i].Progress
		}
	}
	if !seen {
		return nil, fmt.Errorf("search %s: no provider status available", id)
	}
	return agg, nil
}

// GetTransfers merges the transfer lists of every adapter.
func (a *Aggregator) GetTransfers(ctx context.Context) ([]Transfer, error) {
	transfers := make([][]Transfer, len(a.providers))
	errs := make([]error, len(a.providers))

	var g errgroup.Group
	for i, p := range a.providers {
		i, p := i, p
		g.Go(func() error {
			transfers[i], errs[i] = p.GetTransfers(ctx)
			return nil
		})
	}
	_ = g.Wait()

	var merged []Transfer
	for i, p := range a.providers {
		if errs[i] != nil {
			a.log.Warn().Err(errs[i]).Str("provider", p.Name()).Msg("aggregator: transfers failed")
			continue
		}
		merged = append(merged, transfers[i]...)
	}
	return merged, nil
}

// ClearCompletedTransfers fans out to every adapter; failures are joined
// rather than short-circuiting.
func (a *Aggregator) ClearCompletedTransfers(ctx context.Context) error {
	errs := make([]error, len(a.providers))

	var g errgroup.Group
	for i, p := range a.providers {
		i, p := i, p
		g.Go(func() error {
			errs[i] = p.ClearCompletedTransfers(ctx)
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (a *Aggregator) handles(id string) (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	handles, ok := a.searches[id]
	if !ok {
		return nil, fmt.Errorf("unknown search %s", id)
	}
	return handles, nil
}
