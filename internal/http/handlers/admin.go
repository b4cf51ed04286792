package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"

	"github.com/kism/acerestreamer/internal/config"
	"github.com/kism/acerestreamer/internal/nameutil"
	"github.com/kism/acerestreamer/internal/pool"
	"github.com/kism/acerestreamer/internal/quality"
	"github.com/kism/acerestreamer/internal/repository"
	"github.com/kism/acerestreamer/internal/ume"
)

// adminPathPrefix guards the management surface; everything else on the
// huma API (health, docs) stays public.
const adminPathPrefix = "/api/v1/"

// AdminAuth installs bearer-token auth for the management routes.
func AdminAuth(api huma.API, password string) {
	api.UseMiddleware(func(ctx huma.Context, next func(huma.Context)) {
		if !strings.HasPrefix(ctx.URL().Path, adminPathPrefix) {
			next(ctx)
			return
		}
		supplied := strings.TrimPrefix(ctx.Header("Authorization"), "Bearer ")
		if password == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(password)) != 1 {
			huma.WriteErr(api, ctx, 401, "invalid admin credentials")
			return
		}
		next(ctx)
	})
}

// ScrapeRunner triggers a catalog scrape pass.
type ScrapeRunner interface {
	Run(ctx context.Context) error
}

// AdminHandler serves the management API: config mutation, scrape source
// and name override CRUD, pool and quality introspection.
type AdminHandler struct {
	mu       sync.Mutex
	cfg      *config.AppConfig
	pool     *pool.Pool
	quality  *quality.Tracker
	catalog  repository.CatalogRepository
	scraper  ScrapeRunner
	probe    quality.Probe
	onChange func(*config.AppConfig)
	logger   *slog.Logger
}

// NewAdminHandler builds the management handler. onChange is invoked after
// every persisted config mutation so running services can re-read it.
func NewAdminHandler(
	cfg *config.AppConfig,
	p *pool.Pool,
	tracker *quality.Tracker,
	catalog repository.CatalogRepository,
	scraper ScrapeRunner,
	probe quality.Probe,
	onChange func(*config.AppConfig),
	logger *slog.Logger,
) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		cfg:      cfg,
		pool:     p,
		quality:  tracker,
		catalog:  catalog,
		scraper:  scraper,
		probe:    probe,
		onChange: onChange,
		logger:   logger.With(slog.String("component", "admin")),
	}
}

// Register registers the management routes with the API.
func (h *AdminHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getConfig",
		Method:      "GET",
		Path:        "/api/v1/config",
		Summary:     "Get configuration",
		Tags:        []string{"Config"},
	}, h.GetConfig)

	huma.Register(api, huma.Operation{
		OperationID: "putConfig",
		Method:      "PUT",
		Path:        "/api/v1/config",
		Summary:     "Replace configuration",
		Description: "Validates, backs up the current file and persists the new configuration",
		Tags:        []string{"Config"},
	}, h.PutConfig)

	huma.Register(api, huma.Operation{
		OperationID: "listScrapeSources",
		Method:      "GET",
		Path:        "/api/v1/scraper/sources",
		Summary:     "List scrape sources",
		Tags:        []string{"Scraper"},
	}, h.ListSources)

	huma.Register(api, huma.Operation{
		OperationID: "putScrapeSource",
		Method:      "PUT",
		Path:        "/api/v1/scraper/sources/{kind}/{name}",
		Summary:     "Create or update a scrape source",
		Tags:        []string{"Scraper"},
	}, h.PutSource)

	huma.Register(api, huma.Operation{
		OperationID: "deleteScrapeSource",
		Method:      "DELETE",
		Path:        "/api/v1/scraper/sources/{kind}/{name}",
		Summary:     "Delete a scrape source",
		Tags:        []string{"Scraper"},
	}, h.DeleteSource)

	huma.Register(api, huma.Operation{
		OperationID: "listNameOverrides",
		Method:      "GET",
		Path:        "/api/v1/scraper/overrides",
		Summary:     "List name overrides",
		Tags:        []string{"Scraper"},
	}, h.ListOverrides)

	huma.Register(api, huma.Operation{
		OperationID: "putNameOverride",
		Method:      "PUT",
		Path:        "/api/v1/scraper/overrides/{contentID}",
		Summary:     "Set a name override",
		Tags:        []string{"Scraper"},
	}, h.PutOverride)

	huma.Register(api, huma.Operation{
		OperationID: "deleteNameOverride",
		Method:      "DELETE",
		Path:        "/api/v1/scraper/overrides/{contentID}",
		Summary:     "Delete a name override",
		Tags:        []string{"Scraper"},
	}, h.DeleteOverride)

	huma.Register(api, huma.Operation{
		OperationID: "triggerScrape",
		Method:      "POST",
		Path:        "/api/v1/scraper/run",
		Summary:     "Trigger a scrape pass",
		Tags:        []string{"Scraper"},
	}, h.TriggerScrape)

	huma.Register(api, huma.Operation{
		OperationID: "getPool",
		Method:      "GET",
		Path:        "/api/v1/pool",
		Summary:     "Session pool snapshot",
		Tags:        []string{"Pool"},
	}, h.GetPool)

	huma.Register(api, huma.Operation{
		OperationID: "getPoolStats",
		Method:      "GET",
		Path:        "/api/v1/pool/{contentID}/stats",
		Summary:     "Engine stats for one session",
		Tags:        []string{"Pool"},
	}, h.GetPoolStats)

	huma.Register(api, huma.Operation{
		OperationID: "deletePoolEntry",
		Method:      "DELETE",
		Path:        "/api/v1/pool/{contentID}",
		Summary:     "Tear down a session",
		Tags:        []string{"Pool"},
	}, h.DeletePoolEntry)

	huma.Register(api, huma.Operation{
		OperationID: "getQuality",
		Method:      "GET",
		Path:        "/api/v1/quality",
		Summary:     "Quality tracker snapshot",
		Tags:        []string{"Quality"},
	}, h.GetQuality)

	huma.Register(api, huma.Operation{
		OperationID: "triggerRecheck",
		Method:      "POST",
		Path:        "/api/v1/quality/recheck",
		Summary:     "Start a quality recheck sweep",
		Tags:        []string{"Quality"},
	}, h.TriggerRecheck)
}

// ConfigOutput wraps the configuration document.
type ConfigOutput struct {
	Body config.AppConfig
}

// GetConfig returns the live configuration.
func (h *AdminHandler) GetConfig(_ context.Context, _ *struct{}) (*ConfigOutput, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return &ConfigOutput{Body: *h.cfg}, nil
}

// PutConfigInput carries a full replacement configuration.
type PutConfigInput struct {
	Body config.AppConfig
}

// PutConfig validates and persists a replacement configuration. The old
// configuration stays in force when validation fails.
func (h *AdminHandler) PutConfig(_ context.Context, input *PutConfigInput) (*ConfigOutput, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	candidate := input.Body
	candidate.Instance = h.cfg.Instance
	candidate.Normalise()
	if err := h.validate(&candidate); err != nil {
		return nil, err
	}

	*h.cfg = candidate
	if err := h.persist(); err != nil {
		return nil, err
	}
	return &ConfigOutput{Body: *h.cfg}, nil
}

// validate maps a config validation failure to a 400 carrying every item.
func (h *AdminHandler) validate(cfg *config.AppConfig) error {
	err := cfg.Validate()
	if err == nil {
		return nil
	}
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		details := make([]error, 0, len(verr.Items))
		for _, item := range verr.Items {
			details = append(details, errors.New(item))
		}
		return huma.Error400BadRequest("invalid configuration", details...)
	}
	return huma.Error400BadRequest(err.Error())
}

// persist writes the mutated config and notifies the service layer. Called
// with the mutex held.
func (h *AdminHandler) persist() error {
	if err := h.cfg.SaveWithBackup(); err != nil {
		h.logger.Error("persisting config failed", slog.Any("error", err))
		return huma.Error500InternalServerError("persisting configuration failed")
	}
	if h.onChange != nil {
		h.onChange(h.cfg)
	}
	return nil
}

// ScrapeSource is the kind-tagged union the source CRUD operates on.
type ScrapeSource struct {
	Kind         string                   `json:"kind" enum:"html,iptv,api" doc:"Source kind"`
	Name         string                   `json:"name"`
	URL          string                   `json:"url"`
	TargetClass  string                   `json:"target_class,omitempty" doc:"HTML sources only"`
	CheckSibling bool                     `json:"check_sibling,omitempty" doc:"HTML sources only"`
	TitleFilter  config.TitleFilterConfig `json:"title_filter"`
}

// SourcesOutput lists every configured scrape source.
type SourcesOutput struct {
	Body []ScrapeSource
}

// ListSources returns all scrape sources across the three kinds.
func (h *AdminHandler) ListSources(_ context.Context, _ *struct{}) (*SourcesOutput, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ScrapeSource, 0,
		len(h.cfg.Scraper.HTMLSources)+len(h.cfg.Scraper.IPTVSources)+len(h.cfg.Scraper.APISources))
	for _, s := range h.cfg.Scraper.HTMLSources {
		out = append(out, ScrapeSource{
			Kind: "html", Name: s.Name, URL: s.URL,
			TargetClass: s.TargetClass, CheckSibling: s.CheckSibling, TitleFilter: s.TitleFilter,
		})
	}
	for _, s := range h.cfg.Scraper.IPTVSources {
		out = append(out, ScrapeSource{Kind: "iptv", Name: s.Name, URL: s.URL, TitleFilter: s.TitleFilter})
	}
	for _, s := range h.cfg.Scraper.APISources {
		out = append(out, ScrapeSource{Kind: "api", Name: s.Name, URL: s.URL, TitleFilter: s.TitleFilter})
	}
	return &SourcesOutput{Body: out}, nil
}

// PutSourceInput upserts one scrape source, addressed by kind and name.
type PutSourceInput struct {
	Kind string `path:"kind" enum:"html,iptv,api"`
	Name string `path:"name"`
	Body ScrapeSource
}

// SourceOutput wraps one scrape source.
type SourceOutput struct {
	Body ScrapeSource
}

// PutSource creates or replaces a scrape source.
func (h *AdminHandler) PutSource(_ context.Context, input *PutSourceInput) (*SourceOutput, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	src := input.Body
	src.Kind = input.Kind
	src.Name = input.Name
	if src.URL == "" {
		return nil, huma.Error400BadRequest("source url is required")
	}

	switch input.Kind {
	case "html":
		upsertSource(&h.cfg.Scraper.HTMLSources, input.Name, config.HTMLSourceConfig{
			Name: src.Name, URL: src.URL,
			TargetClass: src.TargetClass, CheckSibling: src.CheckSibling, TitleFilter: src.TitleFilter,
		}, func(s config.HTMLSourceConfig) string { return s.Name })
	case "iptv":
		upsertSource(&h.cfg.Scraper.IPTVSources, input.Name, config.IPTVSourceConfig{
			Name: src.Name, URL: src.URL, TitleFilter: src.TitleFilter,
		}, func(s config.IPTVSourceConfig) string { return s.Name })
	case "api":
		upsertSource(&h.cfg.Scraper.APISources, input.Name, config.APISourceConfig{
			Name: src.Name, URL: src.URL, TitleFilter: src.TitleFilter,
		}, func(s config.APISourceConfig) string { return s.Name })
	default:
		return nil, huma.Error400BadRequest("unknown source kind: " + input.Kind)
	}

	if err := h.persist(); err != nil {
		return nil, err
	}
	return &SourceOutput{Body: src}, nil
}

func upsertSource[T any](sources *[]T, name string, replacement T, nameOf func(T) string) {
	for i, existing := range *sources {
		if nameOf(existing) == name {
			(*sources)[i] = replacement
			return
		}
	}
	*sources = append(*sources, replacement)
}

// DeleteSourceInput addresses one scrape source.
type DeleteSourceInput struct {
	Kind string `path:"kind" enum:"html,iptv,api"`
	Name string `path:"name"`
}

// DeleteSource removes a scrape source.
func (h *AdminHandler) DeleteSource(_ context.Context, input *DeleteSourceInput) (*struct{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var removed bool
	switch input.Kind {
	case "html":
		removed = deleteSource(&h.cfg.Scraper.HTMLSources, input.Name,
			func(s config.HTMLSourceConfig) string { return s.Name })
	case "iptv":
		removed = deleteSource(&h.cfg.Scraper.IPTVSources, input.Name,
			func(s config.IPTVSourceConfig) string { return s.Name })
	case "api":
		removed = deleteSource(&h.cfg.Scraper.APISources, input.Name,
			func(s config.APISourceConfig) string { return s.Name })
	default:
		return nil, huma.Error400BadRequest("unknown source kind: " + input.Kind)
	}
	if !removed {
		return nil, huma.Error404NotFound(fmt.Sprintf("no %s source named %q", input.Kind, input.Name))
	}

	if err := h.persist(); err != nil {
		return nil, err
	}
	return &struct{}{}, nil
}

func deleteSource[T any](sources *[]T, name string, nameOf func(T) string) bool {
	for i, existing := range *sources {
		if nameOf(existing) == name {
			*sources = append((*sources)[:i], (*sources)[i+1:]...)
			return true
		}
	}
	return false
}

// OverridesOutput maps content-ids to override titles.
type OverridesOutput struct {
	Body map[string]string
}

// ListOverrides returns the content-id to name override map.
func (h *AdminHandler) ListOverrides(_ context.Context, _ *struct{}) (*OverridesOutput, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]string, len(h.cfg.Scraper.NameOverrides))
	for id, title := range h.cfg.Scraper.NameOverrides {
		out[id] = title
	}
	return &OverridesOutput{Body: out}, nil
}

// PutOverrideInput sets the display title for one content-id.
type PutOverrideInput struct {
	ContentID string `path:"contentID"`
	Body      struct {
		Title string `json:"title" minLength:"1"`
	}
}

// PutOverride creates or replaces a name override.
func (h *AdminHandler) PutOverride(_ context.Context, input *PutOverrideInput) (*struct{}, error) {
	id := strings.ToLower(input.ContentID)
	if !nameutil.IsValidContentID(id) {
		return nil, huma.Error400BadRequest("malformed content-id")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cfg.Scraper.NameOverrides == nil {
		h.cfg.Scraper.NameOverrides = make(map[string]string)
	}
	h.cfg.Scraper.NameOverrides[id] = input.Body.Title

	if err := h.persist(); err != nil {
		return nil, err
	}
	return &struct{}{}, nil
}

// DeleteOverrideInput addresses one name override.
type DeleteOverrideInput struct {
	ContentID string `path:"contentID"`
}

// DeleteOverride removes a name override.
func (h *AdminHandler) DeleteOverride(_ context.Context, input *DeleteOverrideInput) (*struct{}, error) {
	id := strings.ToLower(input.ContentID)

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.cfg.Scraper.NameOverrides[id]; !ok {
		return nil, huma.Error404NotFound("no override for " + id)
	}
	delete(h.cfg.Scraper.NameOverrides, id)

	if err := h.persist(); err != nil {
		return nil, err
	}
	return &struct{}{}, nil
}

// TriggerScrapeOutput acknowledges a started scrape pass.
type TriggerScrapeOutput struct {
	Status int
	Body   struct {
		Started bool `json:"started"`
	}
}

// TriggerScrape starts a scrape pass in the background.
func (h *AdminHandler) TriggerScrape(_ context.Context, _ *struct{}) (*TriggerScrapeOutput, error) {
	if h.scraper == nil {
		return nil, huma.Error500InternalServerError("scraper not configured")
	}

	go func() {
		if err := h.scraper.Run(context.Background()); err != nil {
			h.logger.Error("manual scrape pass failed", slog.Any("error", err))
		}
	}()

	out := &TriggerScrapeOutput{Status: 202}
	out.Body.Started = true
	return out, nil
}

// PoolOutput is the session pool snapshot.
type PoolOutput struct {
	Body struct {
		Healthy bool             `json:"healthy"`
		Entries []pool.EntryInfo `json:"entries"`
	}
}

// GetPool returns the pool health flag and every live entry.
func (h *AdminHandler) GetPool(_ context.Context, _ *struct{}) (*PoolOutput, error) {
	out := &PoolOutput{}
	out.Body.Healthy = h.pool.Healthy()
	out.Body.Entries = h.pool.Snapshot()
	return out, nil
}

// PoolStatsInput addresses one pool entry by content-id.
type PoolStatsInput struct {
	ContentID string `path:"contentID"`
}

// PoolStatsOutput carries the engine's stat object for a session.
type PoolStatsOutput struct {
	Body ume.Stat
}

// GetPoolStats fetches the engine stats for one live session.
func (h *AdminHandler) GetPoolStats(ctx context.Context, input *PoolStatsInput) (*PoolStatsOutput, error) {
	id := strings.ToLower(input.ContentID)
	if !nameutil.IsValidContentID(id) {
		return nil, huma.Error400BadRequest("malformed content-id")
	}
	stat := h.pool.StatsByContentID(ctx, id)
	if stat == nil {
		return nil, huma.Error404NotFound("no session for " + id)
	}
	return &PoolStatsOutput{Body: *stat}, nil
}

// DeletePoolEntryInput addresses one pool entry by content-id.
type DeletePoolEntryInput struct {
	ContentID string `path:"contentID"`
}

// DeletePoolEntry tears down the session for a content-id.
func (h *AdminHandler) DeletePoolEntry(ctx context.Context, input *DeletePoolEntryInput) (*struct{}, error) {
	id := strings.ToLower(input.ContentID)
	if !nameutil.IsValidContentID(id) {
		return nil, huma.Error400BadRequest("malformed content-id")
	}
	h.pool.Remove(ctx, id, "admin")
	return &struct{}{}, nil
}

// QualityOutput is the quality tracker snapshot.
type QualityOutput struct {
	Body []quality.Info
}

// GetQuality returns the state of every tracked stream.
func (h *AdminHandler) GetQuality(_ context.Context, _ *struct{}) (*QualityOutput, error) {
	return &QualityOutput{Body: h.quality.Snapshot()}, nil
}

// TriggerRecheckOutput reports how many streams the sweep will probe.
type TriggerRecheckOutput struct {
	Status int
	Body   struct {
		Targets int `json:"targets"`
	}
}

// TriggerRecheck starts a background recheck sweep over every catalog
// stream that needs one.
func (h *AdminHandler) TriggerRecheck(ctx context.Context, _ *struct{}) (*TriggerRecheckOutput, error) {
	if h.quality.RecheckRunning() {
		return nil, huma.Error409Conflict("a recheck sweep is already running")
	}

	streams, err := h.catalog.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading catalog failed")
	}
	ids := make([]string, 0, len(streams))
	for _, s := range streams {
		if s.ContentID != "" {
			ids = append(ids, s.ContentID)
		}
	}
	targets := h.quality.NeedsRecheck(ids)

	if err := h.quality.StartRecheck(context.Background(), targets, h.probe); err != nil {
		return nil, huma.Error409Conflict(err.Error())
	}

	out := &TriggerRecheckOutput{Status: 202}
	out.Body.Targets = len(targets)
	return out, nil
}
