package livestatus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"tg-subwatch-bot/internal/domain"
)

type stubFetcher struct {
	mu       sync.Mutex
	calls    int
	statuses map[string]domain.LiveRoomStatus
	err      error
}

func (f *stubFetcher) QueryRoomStatuses(ctx context.Context, roomIDs []string) (map[string]domain.LiveRoomStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	result := make(map[string]domain.LiveRoomStatus, len(roomIDs))
	for _, id := range roomIDs {
		if status, ok := f.statuses[id]; ok {
			result[id] = status
		}
	}
	return result, nil
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func roomLister(ids ...string) RoomLister {
	return func(ctx context.Context) ([]string, error) {
		return ids, nil
	}
}

func TestLatestSingleFetchForConcurrentReaders(t *testing.T) {
	want := domain.LiveRoomStatus{RoomID: "101", State: domain.LiveStateLive, Title: "эфир"}
	fetcher := &stubFetcher{statuses: map[string]domain.LiveRoomStatus{"101": want}}
	cache := NewCache(fetcher, roomLister("101"), time.Minute, zerolog.Nop())

	const readers = 50
	var wg sync.WaitGroup
	var failures atomic.Int32
	results := make([]domain.LiveRoomStatus, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, err := cache.Latest(context.Background(), "101")
			if err != nil {
				failures.Add(1)
				return
			}
			results[i] = status
		}(i)
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Fatalf("не ожидали ошибок чтения")
	}
	if got := fetcher.callCount(); got != 1 {
		t.Fatalf("ожидали ровно один запрос к API, получили %d", got)
	}
	for i, status := range results {
		if diff := cmp.Diff(want, status); diff != "" {
			t.Fatalf("читатель %d увидел другой снимок (-want +got):\n%s", i, diff)
		}
	}
}

func TestLatestRefreshesAfterExpiry(t *testing.T) {
	fetcher := &stubFetcher{statuses: map[string]domain.LiveRoomStatus{
		"101": {RoomID: "101", State: domain.LiveStateOffline},
	}}
	cache := NewCache(fetcher, roomLister("101"), 15*time.Second, zerolog.Nop())

	current := time.Now()
	cache.now = func() time.Time { return current }

	if _, err := cache.Latest(context.Background(), "101"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := cache.Latest(context.Background(), "101"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got := fetcher.callCount(); got != 1 {
		t.Fatalf("внутри окна ожидали один запрос, получили %d", got)
	}

	current = current.Add(16 * time.Second)
	if _, err := cache.Latest(context.Background(), "101"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got := fetcher.callCount(); got != 2 {
		t.Fatalf("после истечения окна ожидали второй запрос, получили %d", got)
	}
}

func TestLatestFindsRoomByShortID(t *testing.T) {
	fetcher := &stubFetcher{statuses: map[string]domain.LiveRoomStatus{
		"101": {RoomID: "101", ShortID: "7", State: domain.LiveStateLive},
	}}
	cache := NewCache(fetcher, roomLister("101"), time.Minute, zerolog.Nop())

	status, err := cache.Latest(context.Background(), "7")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if status.RoomID != "101" {
		t.Fatalf("ожидали каноническую комнату 101, получили %s", status.RoomID)
	}
}

func TestLatestUnknownRoom(t *testing.T) {
	fetcher := &stubFetcher{statuses: map[string]domain.LiveRoomStatus{}}
	cache := NewCache(fetcher, roomLister("101"), time.Minute, zerolog.Nop())

	_, err := cache.Latest(context.Background(), "999")
	if !errors.Is(err, ErrRoomUnknown) {
		t.Fatalf("ожидали ErrRoomUnknown, получили %v", err)
	}
}

func TestLatestPropagatesFetchError(t *testing.T) {
	fetchErr := errors.New("api недоступен")
	fetcher := &stubFetcher{err: fetchErr}
	cache := NewCache(fetcher, roomLister("101"), time.Minute, zerolog.Nop())

	if _, err := cache.Latest(context.Background(), "101"); !errors.Is(err, fetchErr) {
		t.Fatalf("ожидали ошибку запроса, получили %v", err)
	}
}

func TestAdvanceFirstSightIsBaseline(t *testing.T) {
	cache := NewCache(&stubFetcher{}, roomLister(), time.Minute, zerolog.Nop())

	live := domain.LiveRoomStatus{RoomID: "101", State: domain.LiveStateLive, Title: "эфир"}
	update := cache.Advance(live)
	if update.Change != domain.StatusNoChange {
		t.Fatalf("первое наблюдение не должно давать уведомления, получили %v", update.Change)
	}

	offline := domain.LiveRoomStatus{RoomID: "101", State: domain.LiveStateOffline, Title: "эфир"}
	update = cache.Advance(offline)
	if update.Change != domain.StatusStopLiving {
		t.Fatalf("ожидали конец трансляции, получили %v", update.Change)
	}

	// состояние замещается целиком: повторный снимок не даёт изменений
	update = cache.Advance(offline)
	if update.Change != domain.StatusNoChange {
		t.Fatalf("повторный снимок не должен давать изменений, получили %v", update.Change)
	}
}

func TestPrimeWarmsBaselineWithoutNotifications(t *testing.T) {
	fetcher := &stubFetcher{statuses: map[string]domain.LiveRoomStatus{
		"101": {RoomID: "101", State: domain.LiveStateLive, Title: "эфир"},
		"202": {RoomID: "202", State: domain.LiveStateOffline},
	}}
	cache := NewCache(fetcher, roomLister("101", "202"), time.Minute, zerolog.Nop())

	if err := cache.Prime(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	// после прогрева текущее состояние уже является базовым
	status, err := cache.Latest(context.Background(), "101")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if update := cache.Advance(status); update.Change != domain.StatusNoChange {
		t.Fatalf("прогретая комната не должна давать уведомления, получили %v", update.Change)
	}
}
