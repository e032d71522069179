// Package staticroutes implements the Static Route Store (C4): CRUD over
// the on-disk static-route document with single-writer serialization,
// domain-uniqueness enforcement, and change notification to the Registry.
package staticroutes

import (
	"context"
	"fmt"
	"sync"

	"github.com/bnema/zerowrap"
	"github.com/google/uuid"

	"github.com/snadboy/revpd/internal/boundaries/in"
	"github.com/snadboy/revpd/internal/boundaries/out"
	"github.com/snadboy/revpd/internal/domain"
)

// Service implements in.StaticRouteService.
type Service struct {
	file     out.StaticFile
	eventBus out.EventPublisher

	mu        sync.Mutex
	records   map[string]domain.StaticRecord // keyed by Domain
	lastError string
	stop      func() error
}

// NewService loads the initial document and begins watching it for
// external changes. The returned Service is ready to serve List/Get
// immediately; Load errors are recorded in Info rather than returned, so a
// corrupt file at startup degrades rather than blocking the rest of the
// supervisor.
func NewService(file out.StaticFile, eventBus out.EventPublisher) (*Service, error) {
	s := &Service{
		file:     file,
		eventBus: eventBus,
		records:  make(map[string]domain.StaticRecord),
	}

	if err := s.reload(); err != nil {
		s.lastError = err.Error()
	}

	stop, err := file.Watch(s.onExternalChange)
	if err != nil {
		return nil, fmt.Errorf("watch static route file: %w", err)
	}
	s.stop = stop

	return s, nil
}

// stop releases the file watch; set by NewService, exposed via Close.
func (s *Service) Close() error {
	if s.stop == nil {
		return nil
	}
	return s.stop()
}

func (s *Service) List(ctx context.Context) ([]domain.StaticRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return toSlice(s.records), nil
}

func (s *Service) Get(ctx context.Context, domainKey string) (domain.StaticRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[domainKey]
	if !ok {
		return domain.StaticRecord{}, domain.ErrRecordNotFound
	}
	return r, nil
}

func (s *Service) Create(ctx context.Context, record domain.StaticRecord) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "Create",
	})
	log := zerowrap.FromCtx(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.Domain]; exists {
		return fmt.Errorf("%w: %s", domain.ErrRecordExists, record.Domain)
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	return s.mutate(ctx, log, func() {
		s.records[record.Domain] = record
	})
}

func (s *Service) Update(ctx context.Context, domainKey string, record domain.StaticRecord) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "Update",
	})
	log := zerowrap.FromCtx(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[domainKey]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRecordNotFound, domainKey)
	}
	if record.ID == "" {
		record.ID = existing.ID
	}
	if record.Domain != domainKey {
		if _, conflict := s.records[record.Domain]; conflict {
			return fmt.Errorf("%w: %s", domain.ErrRecordExists, record.Domain)
		}
	}

	return s.mutate(ctx, log, func() {
		if record.Domain != domainKey {
			delete(s.records, domainKey)
		}
		s.records[record.Domain] = record
	})
}

func (s *Service) Delete(ctx context.Context, domainKey string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "Delete",
	})
	log := zerowrap.FromCtx(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[domainKey]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrRecordNotFound, domainKey)
	}

	return s.mutate(ctx, log, func() {
		delete(s.records, domainKey)
	})
}

func (s *Service) Info(ctx context.Context) in.StaticStoreInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return in.StaticStoreInfo{
		RecordCount: len(s.records),
		LastError:   s.lastError,
	}
}

// mutate applies change to the in-memory map (already locked), persists
// the full document, and publishes EventStaticChanged on success. On a
// Save failure the in-memory change is rolled back so List/Get never
// diverge from what's durably on disk.
func (s *Service) mutate(ctx context.Context, log zerowrap.Logger, change func()) error {
	snapshot := cloneRecords(s.records)
	change()

	if err := s.file.Save(toSlice(s.records)); err != nil {
		s.records = snapshot
		log.Error().Err(err).Msg("persisting static route document failed")
		return fmt.Errorf("save static route document: %w", err)
	}
	s.lastError = ""

	s.publish(log)
	return nil
}

// onExternalChange fires on the file watch whenever the document is written
// or replaced: by an external edit (manual edit, volume sync) or by this
// Service's own Save, in which case the reload reads back what was just
// saved and publishes it again.
func (s *Service) onExternalChange() {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := zerowrap.FromCtx(zerowrap.WithCtx(context.Background(), zerowrap.Default()))
	if err := s.reload(); err != nil {
		s.lastError = err.Error()
		log.Error().Err(err).Msg("reloading externally-changed static route document failed")
		return
	}
	s.lastError = ""
	s.publish(log)
}

// reload must be called with s.mu held.
func (s *Service) reload() error {
	records, err := s.file.Load()
	if err != nil {
		return err
	}
	byDomain := make(map[string]domain.StaticRecord, len(records))
	for _, r := range records {
		if _, dup := byDomain[r.Domain]; dup {
			return fmt.Errorf("%w: duplicate static record for %s", domain.ErrDomainConflict, r.Domain)
		}
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		byDomain[r.Domain] = r
	}
	s.records = byDomain
	return nil
}

// publish must be called with s.mu held; EventPublisher implementations
// in this codebase don't block on downstream handlers.
func (s *Service) publish(log zerowrap.Logger) {
	if s.eventBus == nil {
		return
	}
	err := s.eventBus.Publish(domain.EventStaticChanged, domain.StaticChangedPayload{
		Records: toSlice(s.records),
	})
	if err != nil {
		log.Error().Err(err).Msg("publishing static.changed event failed")
	}
}

func cloneRecords(records map[string]domain.StaticRecord) map[string]domain.StaticRecord {
	out := make(map[string]domain.StaticRecord, len(records))
	for k, v := range records {
		out[k] = v
	}
	return out
}

func toSlice(records map[string]domain.StaticRecord) []domain.StaticRecord {
	out := make([]domain.StaticRecord, 0, len(records))
	for _, r := range records {
		out = append(out, r)
	}
	return out
}
