package tile_proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type fakeResolver struct{}

func (fakeResolver) ResolveTile(sourceID string, z, x, y int) (string, string, error) {
	switch sourceID {
	case "osm":
		return fmt.Sprintf("mem://%d/%d/%d", z, x, y), "png", nil
	case "off":
		return "", "", ErrSourceDisabled
	}
	return "", "", ErrSourceNotFound
}

func TestSeederRun(t *testing.T) {
	var calls int64
	fetcher := FetcherFunc(func(ctx context.Context, url string) Result {
		atomic.AddInt64(&calls, 1)
		if strings.HasSuffix(url, "/1/1/1") {
			return Result{Outcome: Failure, Status: 500}
		}
		return Result{Outcome: Success, Data: []byte("tile")}
	})
	s := NewSeeder(fakeResolver{}, fetcher, 2, 100)
	region := json.RawMessage(`{"type":"Polygon","coordinates":[[[-170,-80],[170,-80],[170,80],[-170,80],[-170,-80]]]}`)

	task, err := s.Start(SeedRequest{SourceID: "osm", MinZoom: 0, MaxZoom: 1, GeoJSON: region})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("seed did not finish")
	}
	st := task.Status()
	if st.Status != "completed" || st.TotalTiles != 5 || st.DoneTiles != 5 || st.FailedTiles != 1 {
		t.Errorf("status = %+v", st)
	}
	if calls != 5 {
		t.Errorf("fetch calls = %d", calls)
	}
	if got, ok := s.GetTask(st.ID); !ok || got != task {
		t.Errorf("task lookup failed")
	}
}

func TestSeederRejects(t *testing.T) {
	s := NewSeeder(fakeResolver{}, FetcherFunc(func(context.Context, string) Result { return Result{} }), 2, 3)
	region := json.RawMessage(`{"type":"Feature","geometry":{"type":"Point","coordinates":[10,10]},"properties":{}}`)

	if _, err := s.Start(SeedRequest{SourceID: "nope", MaxZoom: 1, GeoJSON: region}); err == nil {
		t.Errorf("unknown source should be rejected")
	}
	if _, err := s.Start(SeedRequest{SourceID: "osm", MinZoom: 3, MaxZoom: 1, GeoJSON: region}); err == nil {
		t.Errorf("inverted zoom range should be rejected")
	}
	world := json.RawMessage(`{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"LineString","coordinates":[[-100,-50],[100,50]]},"properties":{}}]}`)
	if _, err := s.Start(SeedRequest{SourceID: "osm", MaxZoom: 4, GeoJSON: world}); err == nil {
		t.Errorf("too many tiles should be rejected")
	}
}

func TestProxyHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fetcher := FetcherFunc(func(ctx context.Context, url string) Result {
		if url == "mem://2/1/1" {
			return Result{Outcome: Success, Data: []byte("png-bytes")}
		}
		return Result{Outcome: Failure, Status: 404}
	})
	r := gin.New()
	NewTileProxyService(fakeResolver{}, fetcher).RegisterRoutes(r)

	cases := []struct {
		path   string
		status int
	}{
		{"/tile/osm/2/1/1.png", http.StatusOK},
		{"/tile/osm/2/1/2.png", http.StatusNotFound},
		{"/tile/off/2/1/1", http.StatusForbidden},
		{"/tile/none/2/1/1", http.StatusNotFound},
		{"/tile/osm/z/1/1", http.StatusBadRequest},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, c.path, nil))
		if w.Code != c.status {
			t.Errorf("%s: status %d, want %d", c.path, w.Code, c.status)
		}
		if c.status == http.StatusOK {
			if ct := w.Header().Get("Content-Type"); ct != "image/png" || w.Body.String() != "png-bytes" {
				t.Errorf("%s: %s %q", c.path, ct, w.Body.String())
			}
		}
	}
}
