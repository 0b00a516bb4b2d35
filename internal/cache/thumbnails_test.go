package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRemote struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: make(map[string][]byte)}
}

func (f *fakeRemote) GetBytes(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (f *fakeRemote) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeRemote) FlushByPattern(_ context.Context, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.data))
	f.data = make(map[string][]byte)
	return n, nil
}

func TestThumbnailStoreMemoryOnly(t *testing.T) {
	ctx := context.Background()
	s := NewThumbnailStore(2, nil, 0, nil)
	if _, ok := s.Get(ctx, "a.pdf"); ok {
		t.Fatal("unexpected hit")
	}
	s.Set(ctx, "a.pdf", []byte("A"))
	s.Set(ctx, "b.pdf", []byte("B"))
	s.Set(ctx, "c.pdf", []byte("C"))
	if _, ok := s.Get(ctx, "a.pdf"); ok {
		t.Error("a.pdf should have been evicted")
	}
	if got, ok := s.Get(ctx, "c.pdf"); !ok || string(got) != "C" {
		t.Errorf("c.pdf = %q, %v", got, ok)
	}
	hits, misses := s.Stats()
	if hits != 1 || misses != 2 {
		t.Errorf("hits=%d misses=%d", hits, misses)
	}
}

func TestThumbnailStoreRemoteTierSurvivesMemoryClear(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	s := NewThumbnailStore(4, remote, time.Hour, nil)
	s.Set(ctx, "a.pdf", []byte("A"))
	s.ClearMemory()
	if s.Len() != 0 {
		t.Fatalf("len = %d after ClearMemory", s.Len())
	}
	got, ok := s.Get(ctx, "a.pdf")
	if !ok || string(got) != "A" {
		t.Fatalf("remote tier miss: %q %v", got, ok)
	}
	if s.Len() != 1 {
		t.Error("remote hit should be promoted into memory")
	}
	if err := s.Invalidate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get(ctx, "a.pdf"); ok {
		t.Error("Invalidate should clear both tiers")
	}
}

func TestThumbnailStoreGetOrComputeCoalesces(t *testing.T) {
	ctx := context.Background()
	s := NewThumbnailStore(4, nil, 0, nil)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([][]byte, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, _, err := s.GetOrCompute(ctx, "a.pdf", func(context.Context) ([]byte, error) {
				calls.Add(1)
				<-release
				return []byte("thumb"), nil
			})
			if err != nil {
				t.Errorf("GetOrCompute: %v", err)
			}
			results[i] = data
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("compute ran %d times, want 1", calls.Load())
	}
	for i, r := range results {
		if string(r) != "thumb" {
			t.Errorf("result %d = %q", i, r)
		}
	}
}

func TestThumbnailStoreComputeErrorNotCached(t *testing.T) {
	ctx := context.Background()
	s := NewThumbnailStore(4, nil, 0, nil)
	boom := errors.New("boom")
	if _, _, err := s.GetOrCompute(ctx, "a.pdf", func(context.Context) ([]byte, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if s.Len() != 0 {
		t.Error("failed compute must not populate the cache")
	}
}

func TestThumbnailStoreComputeSurvivesFirstCallerCancel(t *testing.T) {
	s := NewThumbnailStore(4, nil, 0, nil)
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) ([]byte, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return []byte("thumb"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := s.GetOrCompute(firstCtx, "a.pdf", compute)
		firstErr <- err
	}()
	<-started
	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller err = %v, want canceled", err)
	}

	secondDone := make(chan struct{})
	var (
		data []byte
		err  error
	)
	go func() {
		defer close(secondDone)
		data, _, err = s.GetOrCompute(context.Background(), "a.pdf", compute)
	}()
	close(release)
	<-secondDone

	if err != nil || string(data) != "thumb" {
		t.Fatalf("second caller: data=%q err=%v", data, err)
	}
	if calls.Load() != 1 {
		t.Errorf("compute ran %d times, want 1", calls.Load())
	}
	if _, ok := s.Get(context.Background(), "a.pdf"); !ok {
		t.Error("shared result was not stored")
	}
}
