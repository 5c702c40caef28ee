package tile_proxy

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *memStore) GetTile(url string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[url]
	return d, ok, nil
}

func (s *memStore) PutTile(url string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[url] = data
	return nil
}

func TestHTTPFetcherSuccessAndCache(t *testing.T) {
	body := pngBytes(t)
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write(body)
	}))
	defer srv.Close()

	cache := NewTileCache(10, time.Minute)
	defer cache.Close()
	store := &memStore{data: map[string][]byte{}}
	f := NewHTTPFetcher(FetchOptions{Cache: cache, Store: store, RetryDelay: time.Millisecond})

	for i := 0; i < 3; i++ {
		res := f.Fetch(context.Background(), srv.URL+"/1/0/0.png")
		if res.Outcome != Success || !bytes.Equal(res.Data, body) {
			t.Fatalf("fetch %d: %v %v", i, res.Outcome, res.Err)
		}
	}
	if calls != 1 {
		t.Errorf("upstream called %d times, want 1", calls)
	}
	if _, ok, _ := store.GetTile(srv.URL + "/1/0/0.png"); !ok {
		t.Errorf("tile should be persisted")
	}

	// 内存缓存清空后由持久缓存命中
	cache.Clear()
	if res := f.Fetch(context.Background(), srv.URL+"/1/0/0.png"); res.Outcome != Success {
		t.Fatal(res.Err)
	}
	if calls != 1 {
		t.Errorf("store should serve the tile, upstream calls = %d", calls)
	}
}

func TestHTTPFetcherFailureStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(FetchOptions{Retries: 1, RetryDelay: time.Millisecond})
	res := f.Fetch(context.Background(), srv.URL+"/broken")
	if res.Outcome != Failure || res.Status != 500 {
		t.Errorf("outcome %v status %d", res.Outcome, res.Status)
	}
	if calls != 2 {
		t.Errorf("5xx should be retried: %d calls", calls)
	}

	atomic.StoreInt32(&calls, 0)
	res = f.Fetch(context.Background(), srv.URL+"/missing")
	if res.Outcome != Failure || res.Status != 404 || calls != 1 {
		t.Errorf("404: outcome %v status %d calls %d", res.Outcome, res.Status, calls)
	}
}

func TestHTTPFetcherAbort(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte("late"))
	}))
	defer srv.Close()
	defer close(release)

	f := NewHTTPFetcher(FetchOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- f.Fetch(ctx, srv.URL) }()
	cancel()

	select {
	case res := <-done:
		if res.Outcome != Aborted {
			t.Errorf("outcome = %v, want aborted", res.Outcome)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not return after cancel")
	}
}

func TestIsValidTileData(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want bool
	}{
		{"empty", nil, false},
		{"png", pngBytes(t), true},
		{"truncated png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0}, false},
		{"jpeg without end", []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2}, false},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2, 0xFF, 0xD9}, true},
		{"text", []byte("ncols 33\nnrows 33\n"), true},
	}
	for _, c := range cases {
		if got := isValidTileData(c.data); got != c.want {
			t.Errorf("%s: got %v", c.name, got)
		}
	}
}

func TestTileCacheEviction(t *testing.T) {
	c := NewTileCache(2, time.Minute)
	defer c.Close()
	c.Set("a", []byte("1"))
	time.Sleep(time.Millisecond)
	c.Set("b", []byte("2"))
	c.Set("c", []byte("3"))
	if _, ok := c.Get("a"); ok {
		t.Errorf("oldest item should be evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Errorf("newest item missing")
	}
	s := c.Stats()
	if s.Size != 2 || s.Hits != 1 || s.Misses != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestBuildTileURL(t *testing.T) {
	cases := []struct {
		tpl  string
		want string
	}{
		{"http://h/{z}/{x}/{y}.png", "http://h/3/2/1.png"},
		{"http://h/{z}/{x}/{-y}.png", "http://h/3/2/6.png"},
		{"http://{s}.h/{z}/{x}/{y}", "http://a.h/3/2/1"},
	}
	for _, c := range cases {
		if got := BuildTileURL(c.tpl, 3, 2, 1, []string{"a", "b", "c"}); got != c.want {
			t.Errorf("%s: %s", c.tpl, got)
		}
	}
}
