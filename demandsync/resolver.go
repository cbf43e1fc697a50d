package demandsync

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/shipments_backend/config"
	"bitbucket.org/mmdatafocus/shipments_backend/moysklad"
)

const (
	labelUnknown   = "Unknown"
	labelNoProject = "No project"
	labelNoChannel = "No channel"

	refNameCacheKey = "RefName:"
	refNameCacheTTL = 24 * time.Hour
)

// EnrichedDemand is a demand with every entity reference resolved to a
// display name and the attribute bag flattened.
type EnrichedDemand struct {
	moysklad.Demand
	AgentName        string
	StoreName        string
	ProjectName      string
	SalesChannelName string
	StateName        string
	Attributes       map[string]interface{}
}

type entityFetcher interface {
	Get(ctx context.Context, pathOrHref string, params url.Values) ([]byte, error)
}

// Resolver turns entity hrefs into display names. Lookups are deduplicated
// per entity type through a batching loader, cached in-process for the
// resolver's lifetime, and cached in Redis across runs. A run-scoped
// resolver means one upstream fetch per distinct href per run, at most.
type Resolver struct {
	fetcher entityFetcher
	logger  *logrus.Logger

	mu      sync.Mutex
	loaders map[string]*dataloader.Loader[string, string]
}

func NewResolver(client *moysklad.Client, logger *logrus.Logger) *Resolver {
	return &Resolver{
		fetcher: client,
		logger:  logger,
		loaders: make(map[string]*dataloader.Loader[string, string]),
	}
}

func (r *Resolver) loaderFor(entityType string) *dataloader.Loader[string, string] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.loaders[entityType]; ok {
		return l
	}
	l := dataloader.NewBatchedLoader(
		r.fetchNames,
		dataloader.WithBatchCapacity[string, string](50),
		dataloader.WithWait[string, string](5*time.Millisecond),
	)
	r.loaders[entityType] = l
	return l
}

// fetchNames resolves a batch of hrefs. The upstream has no bulk entity
// endpoint, so each miss costs one rate-limited call; the loader guarantees
// each distinct href is fetched once.
func (r *Resolver) fetchNames(ctx context.Context, hrefs []string) []*dataloader.Result[string] {
	results := make([]*dataloader.Result[string], 0, len(hrefs))
	for _, href := range hrefs {
		results = append(results, &dataloader.Result[string]{Data: r.fetchName(ctx, href)})
	}
	return results
}

func (r *Resolver) fetchName(ctx context.Context, href string) string {
	var cached string
	if found, err := config.GetRedisObject(refNameCacheKey+href, &cached); err == nil && found && cached != "" {
		return cached
	}

	body, err := r.fetcher.Get(ctx, href, nil)
	if err != nil {
		config.LogError(r.logger, "demandsync", "fetchName", "fetch entity", map[string]interface{}{"href": href}, err)
		return ""
	}
	var entity struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &entity); err != nil {
		config.LogError(r.logger, "demandsync", "fetchName", "decode entity", map[string]interface{}{"href": href}, err)
		return ""
	}
	if entity.Name != "" {
		if err := config.SetRedisObject(refNameCacheKey+href, entity.Name, refNameCacheTTL); err != nil {
			config.LogError(r.logger, "demandsync", "fetchName", "cache entity name", map[string]interface{}{"href": href}, err)
		}
	}
	return entity.Name
}

// ResolveBatch enriches a page of demands. Thunks are collected first so the
// loader can coalesce lookups across the whole page before any of them is
// forced.
func (r *Resolver) ResolveBatch(ctx context.Context, demands []moysklad.Demand) []EnrichedDemand {
	type pending struct {
		ref      *moysklad.EntityRef
		fallback string
		dest     *string
		thunk    dataloader.Thunk[string]
	}

	enriched := make([]EnrichedDemand, len(demands))
	var lookups []pending

	queue := func(ref *moysklad.EntityRef, fallback string, dest *string) {
		if ref == nil || ref.Meta.Href == "" {
			*dest = fallback
			return
		}
		if ref.Name != "" {
			*dest = ref.Name
			return
		}
		lookups = append(lookups, pending{ref: ref, fallback: fallback, dest: dest})
	}

	for i := range demands {
		enriched[i] = EnrichedDemand{
			Demand:     demands[i],
			Attributes: flattenAttributes(demands[i].Attributes),
		}
		e := &enriched[i]
		queue(demands[i].Agent, labelUnknown, &e.AgentName)
		queue(demands[i].Store, labelUnknown, &e.StoreName)
		queue(demands[i].Project, labelNoProject, &e.ProjectName)
		queue(demands[i].SalesChannel, labelNoChannel, &e.SalesChannelName)
		queue(demands[i].State, labelUnknown, &e.StateName)
	}

	for i := range lookups {
		loader := r.loaderFor(lookups[i].ref.Meta.Type)
		lookups[i].thunk = loader.Load(ctx, lookups[i].ref.Meta.Href)
	}
	for i := range lookups {
		name, err := lookups[i].thunk()
		if err != nil || name == "" {
			name = lookups[i].fallback
		}
		*lookups[i].dest = name
	}

	return enriched
}

// flattenAttributes turns the wire attribute list into a name-keyed map.
// Entity-valued attributes collapse to their display name when present.
func flattenAttributes(attrs []moysklad.Attribute) map[string]interface{} {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(attrs))
	for _, a := range attrs {
		if a.Name == "" || len(a.Value) == 0 {
			continue
		}
		var named struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(a.Value, &named); err == nil && named.Name != "" {
			out[a.Name] = named.Name
			continue
		}
		var v interface{}
		if err := json.Unmarshal(a.Value, &v); err == nil {
			out[a.Name] = v
		}
	}
	return out
}
