package services

import (
	"context"
	"fmt"
	"math"
	"maps"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-fusion/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fusion/pkg/eventstream"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
	"github.com/ekaya-inc/ekaya-fusion/pkg/repositories"
)

// ============================================================================
// Transactions and scopes
// ============================================================================

type fakeTx struct {
	calls atomic.Int32
}

func (t *fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls.Add(1)
	return fn(ctx)
}

type fakeScopeProvider struct {
	systemCalls atomic.Int32
	cleanups    atomic.Int32
	err         error
}

func (p *fakeScopeProvider) WithOwnerScope(ctx context.Context, ownerID uuid.UUID) (context.Context, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return ctx, func() { p.cleanups.Add(1) }, nil
}

func (p *fakeScopeProvider) WithSystemScope(ctx context.Context) (context.Context, func(), error) {
	p.systemCalls.Add(1)
	if p.err != nil {
		return nil, nil, p.err
	}
	return ctx, func() { p.cleanups.Add(1) }, nil
}

// ============================================================================
// Fact repository
// ============================================================================

type mockFactRepo struct {
	mu      sync.Mutex
	facts   map[uuid.UUID]*models.Fact
	created []*models.Fact
	similar []repositories.ScoredFact

	createErr      error
	supersedeErr   error
	findSimilarErr error
	purged         int64
}

func newMockFactRepo() *mockFactRepo {
	return &mockFactRepo{facts: make(map[uuid.UUID]*models.Fact)}
}

// add stores a current fact and returns it.
func (m *mockFactRepo) add(f *models.Fact) *models.Fact {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.Status == "" {
		f.Status = models.RecordStatusActive
	}
	if f.Source == "" {
		f.Source = models.FactSourceExtracted
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().Add(-time.Hour)
	}
	m.facts[f.ID] = f
	return f
}

func (m *mockFactRepo) get(id uuid.UUID) *models.Fact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.facts[id]
}

func (m *mockFactRepo) currentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.facts {
		if f.IsCurrent() {
			n++
		}
	}
	return n
}

func (m *mockFactRepo) lookup(id uuid.UUID) (*models.Fact, error) {
	f, ok := m.facts[id]
	if !ok {
		return nil, fmt.Errorf("fact %s: %w", id, apperrors.ErrNotFound)
	}
	return f, nil
}

func (m *mockFactRepo) Activate(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.facts[id]
	if !ok || f.Status != models.RecordStatusDraft || f.DeletedAt != nil {
		return false, nil
	}
	f.Status = models.RecordStatusActive
	return true, nil
}

func (m *mockFactRepo) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.facts[id]
	if !ok || f.DeletedAt != nil {
		return false, nil
	}
	now := time.Now()
	f.DeletedAt = &now
	return true, nil
}

func (m *mockFactRepo) HardDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.facts[id]; !ok {
		return false, nil
	}
	delete(m.facts, id)
	return true, nil
}

func (m *mockFactRepo) PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.purged
	for id, f := range m.facts {
		if f.DeletedAt != nil && f.DeletedAt.Before(cutoff) {
			delete(m.facts, id)
			n++
		}
	}
	return n, nil
}

func (m *mockFactRepo) Create(ctx context.Context, fact *models.Fact) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fact.ID = uuid.New()
	fact.CreatedAt = time.Now()
	fact.UpdatedAt = fact.CreatedAt
	if fact.Status == "" {
		fact.Status = models.RecordStatusActive
	}
	m.facts[fact.ID] = fact
	m.created = append(m.created, fact)
	return nil
}

func (m *mockFactRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookup(id)
}

func (m *mockFactRepo) FindExactCurrent(ctx context.Context, ownerID uuid.UUID, entityID *uuid.UUID, factType, value string) (*models.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.facts {
		if f.OwnerID == ownerID && f.IsCurrent() && sameEntity(f.EntityID, entityID) &&
			f.FactType == factType && repositories.NormalizeText(f.Value) == repositories.NormalizeText(value) {
			return f, nil
		}
	}
	return nil, nil
}

func (m *mockFactRepo) ListCurrent(ctx context.Context, ownerID uuid.UUID, entityID *uuid.UUID, factType string) ([]*models.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Fact
	for _, f := range m.facts {
		if f.OwnerID == ownerID && f.IsCurrent() && sameEntity(f.EntityID, entityID) && f.FactType == factType {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockFactRepo) FindSimilar(ctx context.Context, ownerID uuid.UUID, factType string, embedding []float32, minSimilarity float64, limit int) ([]repositories.ScoredFact, error) {
	return m.similar, m.findSimilarErr
}

func (m *mockFactRepo) Confirm(ctx context.Context, id uuid.UUID, bump repositories.ConfidenceBump) (*models.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	f.ConfirmationCount++
	applyBump(f, bump)
	return f, nil
}

func (m *mockFactRepo) Enrich(ctx context.Context, id uuid.UUID, mergedValue string, bump repositories.ConfidenceBump) (*models.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	f.Value = mergedValue
	f.ConfirmationCount++
	applyBump(f, bump)
	return f, nil
}

// applyBump mirrors the repository's LEAST(1, COALESCE(confidence, default) + boost).
func applyBump(f *models.Fact, bump repositories.ConfidenceBump) {
	c := math.Min(1, f.ConfidenceOr(bump.Default)+bump.Boost)
	f.Confidence = &c
}

func (m *mockFactRepo) Supersede(ctx context.Context, oldID, newID uuid.UUID, at time.Time) error {
	if m.supersedeErr != nil {
		return m.supersedeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.lookup(oldID)
	if err != nil {
		return err
	}
	if !f.IsCurrent() {
		return fmt.Errorf("fact %s is not current: %w", oldID, apperrors.ErrConflict)
	}
	f.ValidUntil = &at
	f.SupersededByID = &newID
	f.Rank = models.FactRankDeprecated
	f.NeedsReview = false
	return nil
}

func (m *mockFactRepo) MarkNeedsReview(ctx context.Context, id uuid.UUID, reason string) (*models.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	f.NeedsReview = true
	f.ReviewReason = &reason
	return f, nil
}

func (m *mockFactRepo) ClearReview(ctx context.Context, id uuid.UUID, countConfirmation bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.lookup(id)
	if err != nil {
		return err
	}
	f.NeedsReview = false
	f.ReviewReason = nil
	if countConfirmation {
		f.ConfirmationCount++
	}
	return nil
}

func (m *mockFactRepo) SetValue(ctx context.Context, id uuid.UUID, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.lookup(id)
	if err != nil {
		return err
	}
	f.Value = value
	f.NeedsReview = false
	return nil
}

func (m *mockFactRepo) SetEntity(ctx context.Context, id, entityID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.lookup(id)
	if err != nil {
		return err
	}
	f.EntityID = &entityID
	return nil
}

func (m *mockFactRepo) ReassignEntity(ctx context.Context, fromEntityID, toEntityID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, f := range m.facts {
		if f.EntityID != nil && *f.EntityID == fromEntityID {
			to := toEntityID
			f.EntityID = &to
			n++
		}
	}
	return n, nil
}

// ============================================================================
// Activity and commitment repositories
// ============================================================================

type mockActivityRepo struct {
	mu         sync.Mutex
	activities map[uuid.UUID]*models.Activity
	similar    []repositories.ScoredActivity
	purged     int64
}

func newMockActivityRepo() *mockActivityRepo {
	return &mockActivityRepo{activities: make(map[uuid.UUID]*models.Activity)}
}

func (m *mockActivityRepo) Activate(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activities[id]
	if !ok || a.Status != models.RecordStatusDraft {
		return false, nil
	}
	a.Status = models.RecordStatusActive
	return true, nil
}

func (m *mockActivityRepo) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activities[id]
	if !ok || a.DeletedAt != nil {
		return false, nil
	}
	now := time.Now()
	a.DeletedAt = &now
	return true, nil
}

func (m *mockActivityRepo) HardDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.activities[id]; !ok {
		return false, nil
	}
	delete(m.activities, id)
	return true, nil
}

func (m *mockActivityRepo) PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error) {
	return m.purged, nil
}

func (m *mockActivityRepo) Create(ctx context.Context, activity *models.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	activity.ID = uuid.New()
	if activity.Status == "" {
		activity.Status = models.RecordStatusActive
	}
	m.activities[activity.ID] = activity
	return nil
}

func (m *mockActivityRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activities[id]
	if !ok {
		return nil, fmt.Errorf("activity %s: %w", id, apperrors.ErrNotFound)
	}
	return a, nil
}

func (m *mockActivityRepo) FindExact(ctx context.Context, ownerID uuid.UUID, activityType, name string) (*models.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.activities {
		if a.OwnerID == ownerID && a.ActivityType == activityType && a.DeletedAt == nil &&
			repositories.NormalizeText(a.Name) == repositories.NormalizeText(name) {
			return a, nil
		}
	}
	return nil, nil
}

func (m *mockActivityRepo) FindSimilar(ctx context.Context, ownerID uuid.UUID, embedding []float32, minSimilarity float64, limit int) ([]repositories.ScoredActivity, error) {
	return m.similar, nil
}

func (m *mockActivityRepo) ReassignEntity(ctx context.Context, fromEntityID, toEntityID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.activities {
		if a.EntityID != nil && *a.EntityID == fromEntityID {
			to := toEntityID
			a.EntityID = &to
			n++
		}
	}
	return n, nil
}

type mockCommitmentRepo struct {
	mu          sync.Mutex
	commitments map[uuid.UUID]*models.Commitment
	similar     []repositories.ScoredCommitment
	purged      int64
}

func newMockCommitmentRepo() *mockCommitmentRepo {
	return &mockCommitmentRepo{commitments: make(map[uuid.UUID]*models.Commitment)}
}

func (m *mockCommitmentRepo) Activate(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commitments[id]
	if !ok || c.Status != models.RecordStatusDraft {
		return false, nil
	}
	c.Status = models.RecordStatusActive
	return true, nil
}

func (m *mockCommitmentRepo) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commitments[id]
	if !ok || c.DeletedAt != nil {
		return false, nil
	}
	now := time.Now()
	c.DeletedAt = &now
	return true, nil
}

func (m *mockCommitmentRepo) HardDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.commitments[id]; !ok {
		return false, nil
	}
	delete(m.commitments, id)
	return true, nil
}

func (m *mockCommitmentRepo) PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error) {
	return m.purged, nil
}

func (m *mockCommitmentRepo) Create(ctx context.Context, c *models.Commitment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	if c.Status == "" {
		c.Status = models.RecordStatusActive
	}
	m.commitments[c.ID] = c
	return nil
}

func (m *mockCommitmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Commitment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commitments[id]
	if !ok {
		return nil, fmt.Errorf("commitment %s: %w", id, apperrors.ErrNotFound)
	}
	return c, nil
}

func (m *mockCommitmentRepo) FindExactTitle(ctx context.Context, ownerID uuid.UUID, title string) (*models.Commitment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.commitments {
		if c.OwnerID == ownerID && c.DeletedAt == nil &&
			repositories.NormalizeText(c.Title) == repositories.NormalizeText(title) {
			return c, nil
		}
	}
	return nil, nil
}

func (m *mockCommitmentRepo) FindSimilar(ctx context.Context, ownerID uuid.UUID, embedding []float32, minSimilarity float64, limit int) ([]repositories.ScoredCommitment, error) {
	return m.similar, nil
}

func (m *mockCommitmentRepo) ReassignEntity(ctx context.Context, fromEntityID, toEntityID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.commitments {
		if c.EntityID != nil && *c.EntityID == fromEntityID {
			to := toEntityID
			c.EntityID = &to
			n++
		}
	}
	return n, nil
}

// ============================================================================
// Entity repository
// ============================================================================

type mockEntityRepo struct {
	mu          sync.Mutex
	entities    map[uuid.UUID]*models.Entity
	identifiers []*models.EntityIdentifier
	similar     []repositories.ScoredEntity

	findSimilarErr error
	markMergedErr  error
}

func newMockEntityRepo() *mockEntityRepo {
	return &mockEntityRepo{entities: make(map[uuid.UUID]*models.Entity)}
}

func (m *mockEntityRepo) add(e *models.Entity) *models.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.entities[e.ID] = e
	return e
}

func (m *mockEntityRepo) live() []*models.Entity {
	var out []*models.Entity
	for _, e := range m.entities {
		if e.DeletedAt == nil {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *mockEntityRepo) Create(ctx context.Context, entity *models.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entity.ID = uuid.New()
	entity.CreatedAt = time.Now()
	m.entities[entity.ID] = entity
	return nil
}

func (m *mockEntityRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok || e.DeletedAt != nil {
		return nil, fmt.Errorf("entity %s: %w", id, apperrors.ErrNotFound)
	}
	return e, nil
}

func (m *mockEntityRepo) FindExact(ctx context.Context, ownerID uuid.UUID, entityType, name string) (*models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.live() {
		if e.OwnerID == ownerID && (entityType == "" || e.EntityType == entityType) &&
			repositories.NormalizeText(e.Name) == repositories.NormalizeText(name) {
			return e, nil
		}
	}
	return nil, nil
}

func (m *mockEntityRepo) FindSimilar(ctx context.Context, ownerID uuid.UUID, entityType string, embedding []float32, minSimilarity float64, limit int) ([]repositories.ScoredEntity, error) {
	return m.similar, m.findSimilarErr
}

func (m *mockEntityRepo) FindByPartialName(ctx context.Context, ownerID uuid.UUID, entityType, name string, limit int) ([]*models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(name)
	var out []*models.Entity
	for _, e := range m.live() {
		n := strings.ToLower(e.Name)
		if e.OwnerID == ownerID && (entityType == "" || e.EntityType == entityType) &&
			(strings.Contains(n, q) || strings.Contains(q, n)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockEntityRepo) FindByIdentifier(ctx context.Context, ownerID uuid.UUID, identifierType, value string) ([]*models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var out []*models.Entity
	for _, i := range m.identifiers {
		if i.OwnerID != ownerID || i.IdentifierType != identifierType || !strings.EqualFold(i.Value, value) || seen[i.EntityID] {
			continue
		}
		if e, ok := m.entities[i.EntityID]; ok && e.DeletedAt == nil {
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockEntityRepo) AddIdentifier(ctx context.Context, identifier *models.EntityIdentifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.identifiers {
		if i.EntityID == identifier.EntityID && i.IdentifierType == identifier.IdentifierType && i.Value == identifier.Value {
			identifier.ID = i.ID
			return nil
		}
	}
	identifier.ID = uuid.New()
	m.identifiers = append(m.identifiers, identifier)
	return nil
}

func (m *mockEntityRepo) ListIdentifiers(ctx context.Context, entityID uuid.UUID) ([]*models.EntityIdentifier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.EntityIdentifier
	for _, i := range m.identifiers {
		if i.EntityID == entityID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (m *mockEntityRepo) MoveIdentifiers(ctx context.Context, fromEntityID, toEntityID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.identifiers {
		if i.EntityID == fromEntityID {
			i.EntityID = toEntityID
		}
	}
	return nil
}

func (m *mockEntityRepo) MarkMerged(ctx context.Context, sourceID, targetID uuid.UUID) error {
	if m.markMergedErr != nil {
		return m.markMergedErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[sourceID]
	if !ok || e.DeletedAt != nil {
		return fmt.Errorf("entity %s: %w", sourceID, apperrors.ErrNotFound)
	}
	now := time.Now()
	e.MergedIntoID = &targetID
	e.DeletedAt = &now
	return nil
}

// ============================================================================
// Pending confirmation repository
// ============================================================================

type mockConfirmationRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*models.PendingConfirmation

	resolveCalls int
	mergeErr     error
}

func newMockConfirmationRepo() *mockConfirmationRepo {
	return &mockConfirmationRepo{items: make(map[uuid.UUID]*models.PendingConfirmation)}
}

func (m *mockConfirmationRepo) snapshot(c *models.PendingConfirmation) *models.PendingConfirmation {
	cp := *c
	cp.Resolution = maps.Clone(c.Resolution)
	return &cp
}

func (m *mockConfirmationRepo) stored(id uuid.UUID) *models.PendingConfirmation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(m.items[id])
}

func (m *mockConfirmationRepo) Create(ctx context.Context, c *models.PendingConfirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = models.ConfirmationStatusPending
	}
	m.items[c.ID] = m.snapshot(c)
	return nil
}

func (m *mockConfirmationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PendingConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("pending confirmation %s: %w", id, apperrors.ErrNotFound)
	}
	return m.snapshot(c), nil
}

func (m *mockConfirmationRepo) FindPending(ctx context.Context, match repositories.ConfirmationMatch) (*models.PendingConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.items {
		if c.OwnerID != match.OwnerID || c.Type != match.Type || c.Status != models.ConfirmationStatusPending {
			continue
		}
		if match.PendingFactID != nil && (c.PendingFactID == nil || *c.PendingFactID != *match.PendingFactID) {
			continue
		}
		if match.ExtractedEventID != nil && (c.ExtractedEventID == nil || *c.ExtractedEventID != *match.ExtractedEventID) {
			continue
		}
		if match.SourceEntityID != nil && (c.SourceEntityID == nil || *c.SourceEntityID != *match.SourceEntityID) {
			continue
		}
		if match.SourceMessageID != nil && (c.SourceMessageID == nil || *c.SourceMessageID != *match.SourceMessageID) {
			continue
		}
		if match.ContextKey != "" && c.ContextString(match.ContextKey) != match.ContextValue {
			continue
		}
		return m.snapshot(c), nil
	}
	return nil, nil
}

func (m *mockConfirmationRepo) Resolve(ctx context.Context, id uuid.UUID, res repositories.ConfirmationResolution) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolveCalls++
	c, ok := m.items[id]
	if !ok || c.Status != models.ConfirmationStatusPending {
		return false, nil
	}
	c.Status = res.Status
	c.SelectedOptionID = res.SelectedOptionID
	c.Resolution = maps.Clone(res.Resolution)
	c.ResolvedBy = &res.ResolvedBy
	at := res.ResolvedAt
	c.ResolvedAt = &at
	return true, nil
}

func (m *mockConfirmationRepo) MergeResolution(ctx context.Context, id uuid.UUID, extra map[string]any) error {
	if m.mergeErr != nil {
		return m.mergeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return fmt.Errorf("pending confirmation %s: %w", id, apperrors.ErrNotFound)
	}
	if c.Resolution == nil {
		c.Resolution = map[string]any{}
	}
	maps.Copy(c.Resolution, extra)
	return nil
}

func (m *mockConfirmationRepo) ListPending(ctx context.Context, ownerID uuid.UUID, filter models.PendingConfirmationFilter) ([]*models.PendingConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PendingConfirmation
	for _, c := range m.items {
		if c.OwnerID != ownerID || c.Status != models.ConfirmationStatusPending {
			continue
		}
		if filter.Type != nil && c.Type != *filter.Type {
			continue
		}
		out = append(out, m.snapshot(c))
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := out[i].Confidence, out[j].Confidence
		switch {
		case ci == nil && cj != nil:
			return true
		case ci != nil && cj == nil:
			return false
		case ci != nil && cj != nil && *ci != *cj:
			return *ci < *cj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *mockConfirmationRepo) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.items {
		if c.Status == models.ConfirmationStatusPending && c.ExpiresAt != nil && c.ExpiresAt.Before(now) {
			c.Status = models.ConfirmationStatusExpired
			n++
		}
	}
	return n, nil
}

// ============================================================================
// Conflict repository
// ============================================================================

type mockConflictRepo struct {
	mu     sync.Mutex
	items  map[string]*models.FactConflict
	create error
}

func newMockConflictRepo() *mockConflictRepo {
	return &mockConflictRepo{items: make(map[string]*models.FactConflict)}
}

func (m *mockConflictRepo) Create(ctx context.Context, c *models.FactConflict) error {
	if m.create != nil {
		return m.create
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.items[c.Token]; dup {
		return fmt.Errorf("token %s: %w", c.Token, apperrors.ErrConflict)
	}
	c.ID = uuid.New()
	c.Status = models.ConflictStatusPending
	c.CreatedAt = time.Now()
	cp := *c
	m.items[c.Token] = &cp
	return nil
}

func (m *mockConflictRepo) GetByToken(ctx context.Context, token string) (*models.FactConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[token]
	if !ok {
		return nil, fmt.Errorf("conflict %q: %w", token, apperrors.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *mockConflictRepo) MarkResolved(ctx context.Context, id uuid.UUID, choice models.ConflictChoice, resultFactID *uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.items {
		if c.ID != id {
			continue
		}
		if c.Status != models.ConflictStatusPending {
			return false, nil
		}
		c.Status = models.ConflictStatusResolved
		c.Choice = &choice
		c.ResultFactID = resultFactID
		c.ResolvedAt = &at
		return true, nil
	}
	return false, nil
}

func (m *mockConflictRepo) ListPending(ctx context.Context, ownerID uuid.UUID, limit int) ([]*models.FactConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.FactConflict
	for _, c := range m.items {
		if c.OwnerID == ownerID && c.Status == models.ConflictStatusPending {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ============================================================================
// Pending approval repository
// ============================================================================

type mockApprovalRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*models.PendingApproval
	order []uuid.UUID

	createBatchErr error
}

func newMockApprovalRepo() *mockApprovalRepo {
	return &mockApprovalRepo{items: make(map[uuid.UUID]*models.PendingApproval)}
}

func (m *mockApprovalRepo) insert(a *models.PendingApproval) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = models.ApprovalStatusPending
	}
	a.CreatedAt = time.Now()
	m.items[a.ID] = a
	m.order = append(m.order, a.ID)
}

func (m *mockApprovalRepo) Create(ctx context.Context, a *models.PendingApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insert(a)
	return nil
}

func (m *mockApprovalRepo) CreateBatch(ctx context.Context, approvals []*models.PendingApproval) error {
	if m.createBatchErr != nil {
		return m.createBatchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range approvals {
		m.insert(a)
	}
	return nil
}

func (m *mockApprovalRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PendingApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("pending approval %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *mockApprovalRepo) MarkReviewed(ctx context.Context, id uuid.UUID, status models.ApprovalStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.Status != models.ApprovalStatusPending {
		return false, nil
	}
	a.Status = status
	a.ReviewedAt = &at
	return true, nil
}

func (m *mockApprovalRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *mockApprovalRepo) ListPending(ctx context.Context, ownerID uuid.UUID, batchID *uuid.UUID, limit, offset int) ([]*models.PendingApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*models.PendingApproval
	for _, id := range m.order {
		a, ok := m.items[id]
		if !ok || a.OwnerID != ownerID || a.Status != models.ApprovalStatusPending {
			continue
		}
		if batchID != nil && a.BatchID != *batchID {
			continue
		}
		cp := *a
		all = append(all, &cp)
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *mockApprovalRepo) CountByStatus(ctx context.Context, batchID uuid.UUID) (map[models.ApprovalStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.ApprovalStatus]int)
	for _, a := range m.items {
		if a.BatchID == batchID {
			out[a.Status]++
		}
	}
	return out, nil
}

// ============================================================================
// Event publisher
// ============================================================================

type mockPublisher struct {
	mu       sync.Mutex
	raised   []*eventstream.ConflictRaisedEvent
	resolved []*eventstream.ConflictResolvedEvent
	err      error
}

func (p *mockPublisher) PublishConflictRaised(ctx context.Context, e *eventstream.ConflictRaisedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.raised = append(p.raised, e)
	return p.err
}

func (p *mockPublisher) PublishConflictResolved(ctx context.Context, e *eventstream.ConflictResolvedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolved = append(p.resolved, e)
	return p.err
}

func (p *mockPublisher) Close() error { return nil }

// ============================================================================
// Compile-time interface checks
// ============================================================================

var (
	_ repositories.FactRepository                = (*mockFactRepo)(nil)
	_ repositories.ActivityRepository            = (*mockActivityRepo)(nil)
	_ repositories.CommitmentRepository          = (*mockCommitmentRepo)(nil)
	_ repositories.EntityRepository              = (*mockEntityRepo)(nil)
	_ repositories.PendingConfirmationRepository = (*mockConfirmationRepo)(nil)
	_ repositories.FactConflictRepository        = (*mockConflictRepo)(nil)
	_ repositories.PendingApprovalRepository     = (*mockApprovalRepo)(nil)
	_ eventstream.Publisher                      = (*mockPublisher)(nil)
)

func ptr[T any](v T) *T { return &v }
