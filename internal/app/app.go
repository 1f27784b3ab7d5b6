package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fieldscope/internal/authz"
	"fieldscope/internal/util"
	"fieldscope/pkg/auth"
	"fieldscope/pkg/domain"
	"fieldscope/pkg/queue"
	"fieldscope/pkg/storage"
	"fieldscope/pkg/store"
)

const defaultMaxUploadBytes = 1 << 20

var defaultAllowedExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// Config carries the collaborators an App needs. Tests inject the memory
// store, a temp-dir file store, and the noop publisher.
type Config struct {
	Store    store.Store
	Blobs    storage.BlobStore
	Sessions *auth.SessionManager
	Events   queue.Publisher

	MaxUploadBytes    int64
	AllowedExtensions []string
}

// App implements the domain operations behind the HTTP handlers.
type App struct {
	store    store.Store
	blobs    storage.BlobStore
	sessions *auth.SessionManager
	events   queue.Publisher

	maxUploadBytes int64
	allowedExts    map[string]struct{}
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("app: store is required")
	}
	if cfg.Blobs == nil {
		return nil, errors.New("app: blob store is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("app: session manager is required")
	}
	events := cfg.Events
	if events == nil {
		events = queue.NoopPublisher{}
	}
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	exts := cfg.AllowedExtensions
	if len(exts) == 0 {
		exts = defaultAllowedExtensions
	}
	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	return &App{
		store:          cfg.Store,
		blobs:          cfg.Blobs,
		sessions:       cfg.Sessions,
		events:         events,
		maxUploadBytes: maxBytes,
		allowedExts:    allowed,
	}, nil
}

// MaxUploadBytes is the per-file limit enforced on picture uploads.
func (a *App) MaxUploadBytes() int64 { return a.maxUploadBytes }

// ObservationInput is the write payload for creating or replacing an
// observation. When Boundary is set the stored location is its centroid;
// otherwise Location is required.
type ObservationInput struct {
	Title    string
	OwnerID  string
	Location *domain.Point
	Boundary domain.Ring
	TagNames []string
}

func (a *App) CreateObservation(ctx context.Context, caller domain.User, in ObservationInput) (domain.Observation, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Observation{}, ErrTitleRequired
	}
	if in.OwnerID != "" && in.OwnerID != caller.ID {
		return domain.Observation{}, ErrOwnerMismatch
	}
	location, boundary, err := resolveLocation(in)
	if err != nil {
		return domain.Observation{}, err
	}
	tags, err := a.ensureTags(ctx, in.TagNames)
	if err != nil {
		return domain.Observation{}, err
	}

	now := time.Now().UTC()
	obs := domain.Observation{
		ID:        util.NewID(),
		Title:     title,
		OwnerID:   caller.ID,
		Location:  location,
		Boundary:  boundary,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.SaveObservation(obs); err != nil {
		return domain.Observation{}, fmt.Errorf("save observation: %w", err)
	}
	a.publish(ctx, queue.RouteObservationCreated, queue.ObservationEvent{
		ObservationID: obs.ID,
		Title:         obs.Title,
		OwnerID:       obs.OwnerID,
		Lat:           obs.Location.Lat,
		Lng:           obs.Location.Lng,
		Tags:          tagNames(obs.Tags),
		OccurredAt:    now,
	})
	return obs, nil
}

func tagNames(tags []domain.Tag) []string {
	if len(tags) == 0 {
		return nil
	}
	names := make([]string, len(tags))
	for i, tag := range tags {
		names[i] = tag.Name
	}
	return names
}

func (a *App) GetObservation(ctx context.Context, id string) (domain.Observation, error) {
	obs, ok, err := a.store.GetObservation(id)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("get observation: %w", err)
	}
	if !ok {
		return domain.Observation{}, ErrNotFound
	}
	return obs, nil
}

func (a *App) ListObservations(ctx context.Context, filter store.ObservationFilter) (domain.Page[domain.Observation], error) {
	items, total, err := a.store.ListObservations(filter)
	if err != nil {
		return domain.Page[domain.Observation]{}, fmt.Errorf("list observations: %w", err)
	}
	return domain.NewPage(items, filter.PageIndex, filter.PageSize, total), nil
}

func (a *App) UpdateObservation(ctx context.Context, caller authz.Caller, id string, in ObservationInput) (domain.Observation, error) {
	obs, err := a.GetObservation(ctx, id)
	if err != nil {
		return domain.Observation{}, err
	}
	if err := a.authorize(caller, obs.OwnerID); err != nil {
		return domain.Observation{}, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Observation{}, ErrTitleRequired
	}
	location, boundary, err := resolveLocation(in)
	if err != nil {
		return domain.Observation{}, err
	}
	tags, err := a.ensureTags(ctx, in.TagNames)
	if err != nil {
		return domain.Observation{}, err
	}

	obs.Title = title
	obs.Location = location
	obs.Boundary = boundary
	obs.Tags = tags
	obs.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveObservation(obs); err != nil {
		return domain.Observation{}, fmt.Errorf("save observation: %w", err)
	}
	return obs, nil
}

func (a *App) DeleteObservation(ctx context.Context, caller authz.Caller, id string) error {
	obs, err := a.GetObservation(ctx, id)
	if err != nil {
		return err
	}
	if err := a.authorize(caller, obs.OwnerID); err != nil {
		return err
	}
	pictures, err := a.store.ListPicturesByObservation(id)
	if err != nil {
		return fmt.Errorf("list observation pictures: %w", err)
	}
	if err := a.store.DeleteObservation(id); err != nil {
		return fmt.Errorf("delete observation: %w", err)
	}
	a.removeBlobs(ctx, pictures)
	a.publish(ctx, queue.RouteObservationDeleted, queue.ObservationEvent{
		ObservationID: obs.ID,
		Title:         obs.Title,
		OwnerID:       obs.OwnerID,
		Lat:           obs.Location.Lat,
		Lng:           obs.Location.Lng,
		OccurredAt:    time.Now().UTC(),
	})
	return nil
}

// authorize maps an ownership decision onto the error sentinels the
// handlers translate to HTTP statuses.
func (a *App) authorize(caller authz.Caller, ownerID string) error {
	switch authz.Decide(caller, ownerID, authz.OverrideRoles) {
	case authz.Allow:
		return nil
	case authz.DenyUnauthenticated:
		return ErrUnauthenticated
	default:
		return ErrForbidden
	}
}

func resolveLocation(in ObservationInput) (domain.Point, domain.Ring, error) {
	if len(in.Boundary) > 0 {
		if !in.Boundary.Valid() {
			return domain.Point{}, nil, ErrInvalidBoundary
		}
		return in.Boundary.Centroid(), in.Boundary, nil
	}
	if in.Location == nil {
		return domain.Point{}, nil, ErrLocationRequired
	}
	return *in.Location, nil, nil
}

// ensureTags deduplicates the requested names preserving first-seen order
// and resolves them to persisted tags, creating missing ones.
func (a *App) ensureTags(ctx context.Context, names []string) ([]domain.Tag, error) {
	cleaned := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		cleaned = append(cleaned, name)
	}
	if len(cleaned) == 0 {
		return nil, nil
	}
	tags, err := a.store.EnsureTags(cleaned)
	if err != nil {
		return nil, fmt.Errorf("ensure tags: %w", err)
	}
	return tags, nil
}

func (a *App) removeBlobs(ctx context.Context, pictures []domain.Picture) {
	for _, pic := range pictures {
		if err := a.blobs.Delete(ctx, pic.StorageKey); err != nil {
			util.LoggerFromContext(ctx).Warn("picture blob removal failed",
				slog.String("picture_id", pic.ID),
				slog.String("error", err.Error()))
		}
	}
}

func (a *App) publish(ctx context.Context, routingKey string, payload any) {
	if err := a.events.Publish(ctx, routingKey, payload); err != nil {
		util.LoggerFromContext(ctx).Warn("event publish failed",
			slog.String("routing_key", routingKey),
			slog.String("error", err.Error()))
	}
}
