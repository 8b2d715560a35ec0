package repository

import (
	"context"
	"testing"
	"time"

	"github.com/groboclown/GroboRSS/internal/model"
)

// mockFeedRepo はテスト用のFeedRepository。
type mockFeedRepo struct {
	updates map[string][]model.FeedUpdate
}

func (m *mockFeedRepo) FindByID(ctx context.Context, id string) (*model.Feed, error) { return nil, nil }
func (m *mockFeedRepo) FindByURL(ctx context.Context, feedURL string) (*model.Feed, error) {
	return nil, nil
}
func (m *mockFeedRepo) List(ctx context.Context) ([]*model.Feed, error) { return nil, nil }
func (m *mockFeedRepo) Create(ctx context.Context, feed *model.Feed) error { return nil }
func (m *mockFeedRepo) Delete(ctx context.Context, id string) error { return nil }
func (m *mockFeedRepo) UpdateMetadata(ctx context.Context, id string, u model.FeedUpdate) error {
	if m.updates == nil {
		m.updates = make(map[string][]model.FeedUpdate)
	}
	m.updates[id] = append(m.updates[id], u)
	return nil
}

// mockEntryRepo はテスト用のEntryRepository。
type mockEntryRepo struct {
	calls       []string
	lastCutoff  time.Time
	lastExclude bool
}

func (m *mockEntryRepo) FindByID(ctx context.Context, id string) (*model.Entry, error) {
	return nil, nil
}
func (m *mockEntryRepo) ListByFeed(ctx context.Context, feedID string, limit int) ([]*model.Entry, error) {
	return nil, nil
}
func (m *mockEntryRepo) DeleteOlderThan(ctx context.Context, feedID string, cutoff time.Time, excludeFavorites bool) ([]string, error) {
	m.calls = append(m.calls, "delete:"+feedID)
	m.lastCutoff, m.lastExclude = cutoff, excludeFavorites
	return []string{"e1"}, nil
}
func (m *mockEntryRepo) DeleteAllOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	return nil, nil
}
func (m *mockEntryRepo) RefreshStale(ctx context.Context, feedID string, key model.DedupKey, entry *model.EntryCandidate) (int64, error) {
	m.calls = append(m.calls, "stale:"+key.Link)
	return 1, nil
}
func (m *mockEntryRepo) UpdateByKey(ctx context.Context, feedID string, key model.DedupKey, entry *model.EntryCandidate) (int64, error) {
	m.calls = append(m.calls, "update:"+key.Link)
	return 2, nil
}
func (m *mockEntryRepo) Insert(ctx context.Context, feedID string, entry *model.EntryCandidate, date time.Time) (string, error) {
	m.calls = append(m.calls, "insert:"+entry.Title)
	return "new-id", nil
}

// --- EntryStore のテスト ---

func TestEntryStore_Delegates(t *testing.T) {
	ctx := context.Background()
	feeds := &mockFeedRepo{}
	entries := &mockEntryRepo{}
	store := NewEntryStore(feeds, entries)

	name := "Example"
	if err := store.UpdateFeedMetadata(ctx, "f1", model.FeedUpdate{Name: &name}); err != nil {
		t.Fatalf("UpdateFeedMetadata でエラーが発生: %v", err)
	}
	if len(feeds.updates["f1"]) != 1 || *feeds.updates["f1"][0].Name != "Example" {
		t.Errorf("フィードの更新が委譲されていない: %+v", feeds.updates)
	}

	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ids, err := store.DeleteEntriesOlderThan(ctx, "f1", cutoff, true)
	if err != nil || len(ids) != 1 || ids[0] != "e1" {
		t.Errorf("DeleteEntriesOlderThan = %v, %v", ids, err)
	}
	if !entries.lastCutoff.Equal(cutoff) || !entries.lastExclude {
		t.Errorf("削除条件が委譲されていない: cutoff=%v exclude=%v", entries.lastCutoff, entries.lastExclude)
	}

	key := model.DedupKey{Link: "https://x/1"}
	candidate := &model.EntryCandidate{Title: "T", Link: "https://x/1"}
	if n, _ := store.RefreshStaleEntry(ctx, "f1", key, candidate); n != 1 {
		t.Errorf("RefreshStaleEntry = %d, want 1", n)
	}
	if n, _ := store.UpdateEntry(ctx, "f1", key, candidate); n != 2 {
		t.Errorf("UpdateEntry = %d, want 2", n)
	}
	if id, _ := store.InsertEntry(ctx, "f1", candidate, time.Now()); id != "new-id" {
		t.Errorf("InsertEntry = %q, want new-id", id)
	}

	want := []string{"delete:f1", "stale:https://x/1", "update:https://x/1", "insert:T"}
	if len(entries.calls) != len(want) {
		t.Fatalf("呼び出し = %v, want %v", entries.calls, want)
	}
	for i := range want {
		if entries.calls[i] != want[i] {
			t.Errorf("呼び出し[%d] = %q, want %q", i, entries.calls[i], want[i])
		}
	}
}
