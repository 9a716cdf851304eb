package storage

import (
	"context"
	"sync"

	"traffic-insights/internal/models"
)

// MemoryStore is a mutex-guarded Store used when no DSN is configured and
// by tests. Mapping insertion order is preserved so tie-breaking matches
// the database-backed store.
type MemoryStore struct {
	mu            sync.RWMutex
	snapshots     map[string]models.MetricsSnapshot
	teams         []models.Team
	mappings      []models.TeamUtmMapping
	nextMappingID uint
	adSpend       map[string]models.AdSpendRecord
	sales         map[string]models.SaleEvent
	leads         []models.LeadEvent
	history       []models.SyncHistoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots:     make(map[string]models.MetricsSnapshot),
		adSpend:       make(map[string]models.AdSpendRecord),
		sales:         make(map[string]models.SaleEvent),
		nextMappingID: 1,
	}
}

func snapshotKey(userID string, period models.Period) string {
	return userID + "|" + string(period)
}

func (s *MemoryStore) UpsertSnapshot(_ context.Context, snapshot *models.MetricsSnapshot) error {
	if err := snapshot.EncodeCampaigns(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshotKey(snapshot.UserID, snapshot.Period)] = *snapshot
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, userID string, period models.Period) (*models.MetricsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[snapshotKey(userID, period)]
	if !ok {
		return nil, nil
	}
	if err := snap.DecodeCampaigns(); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *MemoryStore) HasSnapshots(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots) > 0, nil
}

// AddTeam registers a team (admin/setup path in production).
func (s *MemoryStore) AddTeam(team models.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams = append(s.teams, team)
}

func (s *MemoryStore) ListTeams(_ context.Context) ([]models.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	teams := make([]models.Team, 0, len(s.teams))
	for _, t := range s.teams {
		if t.IsActive {
			teams = append(teams, t)
		}
	}
	return teams, nil
}

// AddMapping appends a mapping, assigning the next insertion id.
func (s *MemoryStore) AddMapping(mapping models.TeamUtmMapping) models.TeamUtmMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapping.ID = s.nextMappingID
	s.nextMappingID++
	s.mappings = append(s.mappings, mapping)
	return mapping
}

func (s *MemoryStore) ListActiveMappings(_ context.Context) ([]models.TeamUtmMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := make([]models.TeamUtmMapping, 0, len(s.mappings))
	for _, m := range s.mappings {
		if m.IsActive {
			active = append(active, m)
		}
	}
	return active, nil
}

func (s *MemoryStore) UpsertAdSpend(_ context.Context, records []models.AdSpendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		key := r.Team + "|" + r.Date.Format("2006-01-02") + "|" + r.CampaignID
		s.adSpend[key] = r
	}
	return nil
}

func (s *MemoryStore) ListSaleEvents(_ context.Context, team string, rng models.DateRange) ([]models.SaleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []models.SaleEvent
	for _, ev := range s.sales {
		if team != "" && ev.Team != team {
			continue
		}
		if rng.Contains(ev.OccurredAt) {
			events = append(events, ev)
		}
	}
	return events, nil
}

func (s *MemoryStore) InsertSaleEvents(_ context.Context, events []models.SaleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		if _, exists := s.sales[ev.ID]; exists {
			continue
		}
		s.sales[ev.ID] = ev
	}
	return nil
}

// AddLeadEvent appends a funnel touchpoint (webhook path in production).
func (s *MemoryStore) AddLeadEvent(event models.LeadEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads = append(s.leads, event)
}

func (s *MemoryStore) ListLeadEvents(_ context.Context, rng models.DateRange) ([]models.LeadEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []models.LeadEvent
	for _, ev := range s.leads {
		if rng.Contains(ev.CreatedAt) {
			events = append(events, ev)
		}
	}
	return events, nil
}

func (s *MemoryStore) AppendSyncHistory(_ context.Context, entry *models.SyncHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = uint(len(s.history) + 1)
	s.history = append(s.history, *entry)
	return nil
}

// SyncHistory returns a copy of the recorded history (tests).
func (s *MemoryStore) SyncHistory() []models.SyncHistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SyncHistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}
