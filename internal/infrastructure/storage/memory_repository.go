package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"NewsHub/internal/domain"
	"NewsHub/internal/ports"
)

// MemoryStore keeps everything in process. Each scope records an undo log
// so that a failed run leaves no partial writes behind.
type MemoryStore struct {
	mu         sync.Mutex
	items      map[string]domain.NewsItem
	byHash     map[string]string
	byURL      map[string]string
	sources    map[int64]domain.NewsSource
	byName     map[string]int64
	nextSource int64
	tasks      map[string]domain.AnalysisTask
}

var _ ports.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:   make(map[string]domain.NewsItem),
		byHash:  make(map[string]string),
		byURL:   make(map[string]string),
		sources: make(map[int64]domain.NewsSource),
		byName:  make(map[string]int64),
		tasks:   make(map[string]domain.AnalysisTask),
	}
}

// Scope runs fn and undoes its writes if it fails or panics.
func (s *MemoryStore) Scope(ctx context.Context, fn func(ctx context.Context, repo ports.Repository) error) error {
	repo := &memoryRepository{store: s}

	defer func() {
		if p := recover(); p != nil {
			repo.rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, repo); err != nil {
		repo.rollback()
		return err
	}
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Tasks returns the audit records of item id, oldest first.
func (s *MemoryStore) Tasks(itemID string) []domain.AnalysisTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.AnalysisTask
	for _, task := range s.tasks {
		if task.ItemID == itemID {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type memoryRepository struct {
	store *MemoryStore
	undo  []func()
}

func (r *memoryRepository) rollback() {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for i := len(r.undo) - 1; i >= 0; i-- {
		r.undo[i]()
	}
	r.undo = nil
}

func (r *memoryRepository) ExistsByHash(_ context.Context, hash string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, ok := r.store.byHash[hash]
	return ok, nil
}

func (r *memoryRepository) InsertItem(_ context.Context, item *domain.NewsItem) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[item.ContentHash]; ok {
		return fmt.Errorf("%w: item %s", domain.ErrDuplicate, item.ContentHash)
	}
	if _, ok := s.byURL[item.URL]; ok {
		return fmt.Errorf("%w: url %s", domain.ErrDuplicate, item.URL)
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}

	stored := cloneItem(*item)
	s.items[stored.ID] = stored
	s.byHash[stored.ContentHash] = stored.ID
	s.byURL[stored.URL] = stored.ID

	r.undo = append(r.undo, func() {
		delete(s.items, stored.ID)
		delete(s.byHash, stored.ContentHash)
		delete(s.byURL, stored.URL)
	})
	return nil
}

func (r *memoryRepository) GetItem(_ context.Context, id string) (domain.NewsItem, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	item, ok := r.store.items[id]
	if !ok {
		return domain.NewsItem{}, fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
	}
	return cloneItem(item), nil
}

func (r *memoryRepository) UpdateItem(_ context.Context, item domain.NewsItem) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.items[item.ID]
	if !ok {
		return fmt.Errorf("update item %s: %w", item.ID, domain.ErrNotFound)
	}

	next := cloneItem(item)
	// identity and dedup columns are immutable
	next.SourceID = prev.SourceID
	next.Title = prev.Title
	next.Content = prev.Content
	next.URL = prev.URL
	next.Author = prev.Author
	next.Category = prev.Category
	next.ContentHash = prev.ContentHash
	next.SourcePublishedAt = prev.SourcePublishedAt
	next.CreatedAt = prev.CreatedAt
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now().UTC()
	}

	s.items[item.ID] = next
	r.undo = append(r.undo, func() { s.items[prev.ID] = prev })
	return nil
}

func (r *memoryRepository) ListItems(_ context.Context, filter ports.ItemFilter) ([]domain.NewsItem, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var items []domain.NewsItem
	for _, item := range r.store.items {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.RequiresModeration != nil && item.RequiresModeration != *filter.RequiresModeration {
			continue
		}
		items = append(items, cloneItem(item))
	}

	newer := func(a, b domain.NewsItem) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	}
	switch filter.Order {
	case ports.OrderScoreDesc:
		sort.Slice(items, func(i, j int) bool {
			a, b := items[i], items[j]
			switch {
			case a.RelevanceScore == nil && b.RelevanceScore != nil:
				return false
			case a.RelevanceScore != nil && b.RelevanceScore == nil:
				return true
			case a.Score() != b.Score():
				return a.Score() > b.Score()
			}
			return newer(a, b)
		})
	default:
		sort.Slice(items, func(i, j int) bool { return newer(items[i], items[j]) })
	}

	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, nil
}

func (r *memoryRepository) ListSources(_ context.Context, filter ports.SourceFilter) ([]domain.NewsSource, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var sources []domain.NewsSource
	for _, src := range r.store.sources {
		if filter.ActiveOnly && !src.Active {
			continue
		}
		if filter.Category != "" && src.Category != filter.Category {
			continue
		}
		sources = append(sources, cloneSource(src))
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
	return sources, nil
}

func (r *memoryRepository) CreateSourceIfAbsent(_ context.Context, source *domain.NewsSource) (bool, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[source.Name]; ok {
		return false, nil
	}

	s.nextSource++
	now := time.Now().UTC()
	source.ID = s.nextSource
	source.CreatedAt = now
	source.UpdatedAt = now

	stored := cloneSource(*source)
	s.sources[stored.ID] = stored
	s.byName[stored.Name] = stored.ID

	r.undo = append(r.undo, func() {
		delete(s.sources, stored.ID)
		delete(s.byName, stored.Name)
	})
	return true, nil
}

func (r *memoryRepository) UpdateSource(_ context.Context, source domain.NewsSource) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.sources[source.ID]
	if !ok {
		return fmt.Errorf("update source %d: %w", source.ID, domain.ErrNotFound)
	}

	next := cloneSource(source)
	next.Name = prev.Name
	next.CreatedAt = prev.CreatedAt
	s.sources[source.ID] = next
	r.undo = append(r.undo, func() { s.sources[prev.ID] = prev })
	return nil
}

func (r *memoryRepository) CreateTask(_ context.Context, task *domain.AnalysisTask) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	id := task.ID
	s.tasks[id] = *task
	r.undo = append(r.undo, func() { delete(s.tasks, id) })
	return nil
}

func (r *memoryRepository) UpdateTask(_ context.Context, task domain.AnalysisTask) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.tasks[task.ID]
	if !ok {
		return fmt.Errorf("update task %s: %w", task.ID, domain.ErrNotFound)
	}
	s.tasks[task.ID] = task
	r.undo = append(r.undo, func() { s.tasks[prev.ID] = prev })
	return nil
}

func cloneItem(item domain.NewsItem) domain.NewsItem {
	item.Insights = append([]string(nil), item.Insights...)
	item.Hashtags = append([]string(nil), item.Hashtags...)
	if item.RelevanceScore != nil {
		score := *item.RelevanceScore
		item.RelevanceScore = &score
	}
	return item
}

func cloneSource(src domain.NewsSource) domain.NewsSource {
	src.Keywords = append([]string(nil), src.Keywords...)
	return src
}
