package douyin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"
)

const liveEnterBody = `{
  "data": {
    "data": [
      {
        "id_str": "7318296342189919011",
        "status": 2,
        "title": "night show",
        "owner": {"nickname": "anchor-01"},
        "stream_url": {
          "flv_pull_url": {
            "SD2": "http://pull.example/sd2.flv",
            "FULL_HD1": "http://pull.example/full_hd1.flv",
            "HD1": "http://pull.example/hd1.flv",
            "SD1": "http://pull.example/sd1.flv"
          },
          "hls_pull_url_map": {
            "FULL_HD1": "http://pull.example/full_hd1.m3u8"
          }
        }
      }
    ]
  },
  "status_code": 0
}`

const offlineEnterBody = `{
  "data": {
    "data": [
      {
        "id_str": "7318296342189919011",
        "status": 4,
        "title": "gone home",
        "owner": {"nickname": "anchor-01"}
      }
    ]
  },
  "status_code": 0
}`

const reflowBody = `{
  "data": {
    "room": {
      "id_str": "7318296342189919011",
      "status": 2,
      "title": "reflow show",
      "owner": {"nickname": "anchor-app"},
      "stream_url": {
        "flv_pull_url": {"FULL_HD1": "http://pull.example/app.flv"},
        "hls_pull_url_map": {}
      }
    }
  }
}`

const roomPageBody = `<html><script>window.__INIT__={"roomId":"7318296342189919011","kind":"live"}</script></html>`

func newTestResolver(t *testing.T, mux *http.ServeMux) (*Resolver, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	r := NewResolver(ResolverConfig{
		WebBaseURL: srv.URL,
		AppBaseURL: srv.URL,
		HTTPClient: srv.Client(),
	}, nil)
	return r, srv
}

func TestResolvePrefersWebAPI(t *testing.T) {
	var reflowHits atomic.Int64
	var gotRID atomic.Value

	mux := http.NewServeMux()
	mux.HandleFunc(webEnterPath, func(w http.ResponseWriter, r *http.Request) {
		gotRID.Store(r.URL.Query().Get("web_rid"))
		w.Write([]byte(liveEnterBody))
	})
	mux.HandleFunc(reflowPath, func(w http.ResponseWriter, r *http.Request) {
		reflowHits.Add(1)
		w.Write([]byte(reflowBody))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(roomPageBody))
	})

	r, srv := newTestResolver(t, mux)
	res, err := r.Resolve(context.Background(), RoomQuery{URL: srv.URL + "/901113773259"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Strategy != "web" {
		t.Errorf("strategy = %q, want web", res.Strategy)
	}
	if rid, _ := gotRID.Load().(string); rid != "901113773259" {
		t.Errorf("web_rid = %q, want 901113773259", rid)
	}
	if reflowHits.Load() != 0 {
		t.Errorf("reflow API hit %d times, want 0", reflowHits.Load())
	}
	if res.Meta.Status != StatusLive {
		t.Errorf("status = %v, want live", res.Meta.Status)
	}
	if res.Meta.AnchorName != "anchor-01" || res.Meta.Title != "night show" {
		t.Errorf("metadata = %+v", res.Meta)
	}
	if len(res.Endpoints) != len(Qualities) {
		t.Fatalf("endpoints = %d, want %d", len(res.Endpoints), len(Qualities))
	}
	if got := res.Endpoints[QualityOrigin].BestURL(); got != "http://pull.example/full_hd1.flv" {
		t.Errorf("OD url = %q, want best flv", got)
	}
	if got := res.Endpoints[QualityUltra].BestURL(); got != "http://pull.example/hd1.flv" {
		t.Errorf("UHD url = %q, want hd1 flv", got)
	}
}

func TestResolveFallsBackToReflow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(webEnterPath, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	})
	mux.HandleFunc(reflowPath, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("room_id") != "7318296342189919011" {
			http.Error(w, "bad room", http.StatusBadRequest)
			return
		}
		w.Write([]byte(reflowBody))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(roomPageBody))
	})

	r, srv := newTestResolver(t, mux)
	res, err := r.Resolve(context.Background(), RoomQuery{URL: srv.URL + "/901113773259"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Strategy != "app" {
		t.Errorf("strategy = %q, want app", res.Strategy)
	}
	if res.Meta.AnchorName != "anchor-app" {
		t.Errorf("anchor = %q, want anchor-app", res.Meta.AnchorName)
	}
	ep, ok := res.Endpoints[QualityLow]
	if !ok {
		t.Fatal("no LD endpoint")
	}
	// A single published tier serves every quality.
	if ep.BestURL() != "http://pull.example/app.flv" {
		t.Errorf("LD url = %q", ep.BestURL())
	}
}

func TestResolveReportsEveryFailedStrategy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})

	r, srv := newTestResolver(t, mux)
	_, err := r.Resolve(context.Background(), RoomQuery{URL: srv.URL + "/901113773259"})
	if err == nil {
		t.Fatal("Resolve succeeded, want error")
	}
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("error type = %T, want *ResolutionError", err)
	}
	if len(resErr.Failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(resErr.Failures))
	}
	if resErr.Failures[0].Strategy != "web" || resErr.Failures[1].Strategy != "app" {
		t.Errorf("strategies = %q, %q", resErr.Failures[0].Strategy, resErr.Failures[1].Strategy)
	}
	for _, f := range resErr.Failures {
		if f.Cause == "" {
			t.Errorf("strategy %s has empty cause", f.Strategy)
		}
		if n := utf8.RuneCountInString(f.Cause); n > maxCauseLen+3 {
			t.Errorf("strategy %s cause %d runes, want <= %d", f.Strategy, n, maxCauseLen+3)
		}
	}
	for _, want := range []string{"web:", "app:"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestResolveOfflineRoomHasNoEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(webEnterPath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(offlineEnterBody))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(roomPageBody))
	})

	r, srv := newTestResolver(t, mux)
	res, err := r.Resolve(context.Background(), RoomQuery{URL: srv.URL + "/901113773259"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Meta.Status != StatusOffline {
		t.Errorf("status = %v, want offline", res.Meta.Status)
	}
	if res.Meta.AnchorName != "anchor-01" {
		t.Errorf("anchor = %q, want anchor-01", res.Meta.AnchorName)
	}
	if len(res.Endpoints) != 0 {
		t.Errorf("endpoints = %v, want none", res.Endpoints)
	}
}

func TestEndpointLadderClampsToWorstTier(t *testing.T) {
	info := &roomInfo{
		meta: RoomMetadata{Status: StatusLive},
		flv: map[string]string{
			"FULL_HD1": "http://pull.example/full_hd1.flv",
			"HD1":      "http://pull.example/hd1.flv",
		},
		hls: map[string]string{},
	}
	eps := info.endpoints()
	if len(eps) != len(Qualities) {
		t.Fatalf("endpoints = %d, want %d", len(eps), len(Qualities))
	}
	wants := map[Quality]string{
		QualityOrigin: "http://pull.example/full_hd1.flv",
		QualityUltra:  "http://pull.example/hd1.flv",
		QualityHigh:   "http://pull.example/hd1.flv",
		QualityStd:    "http://pull.example/hd1.flv",
		QualityLow:    "http://pull.example/hd1.flv",
	}
	for q, want := range wants {
		if got := eps[q].BestURL(); got != want {
			t.Errorf("%s url = %q, want %q", q, got, want)
		}
	}
}

func TestEndpointLadderPrefersOrigin(t *testing.T) {
	info := &roomInfo{
		meta: RoomMetadata{Status: StatusLive},
		flv: map[string]string{
			"ORIGIN":   "http://pull.example/origin.flv",
			"FULL_HD1": "http://pull.example/full_hd1.flv",
		},
		hls: map[string]string{},
	}
	eps := info.endpoints()
	if got := eps[QualityOrigin].BestURL(); got != "http://pull.example/origin.flv" {
		t.Errorf("OD url = %q, want origin feed", got)
	}
	if got := eps[QualityUltra].BestURL(); got != "http://pull.example/full_hd1.flv" {
		t.Errorf("UHD url = %q, want full_hd1", got)
	}
}

func TestScrapeRoomIDHandlesEscapedPayload(t *testing.T) {
	pages := map[string]string{
		"plain":   `{"roomId":"123456"}`,
		"escaped": `{\"roomId\":\"123456\"}`,
		"encoded": `%7B%22roomId%22%3A%22123456%22%7D`,
	}
	for name, page := range pages {
		t.Run(name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(page))
			})
			r, srv := newTestResolver(t, mux)
			id, err := r.scrapeRoomID(context.Background(), RoomQuery{URL: srv.URL + "/live"})
			if err != nil {
				t.Fatalf("scrapeRoomID: %v", err)
			}
			if id != "123456" {
				t.Errorf("room id = %q, want 123456", id)
			}
		})
	}
}

func TestParseQuality(t *testing.T) {
	q, err := ParseQuality(" hd ")
	if err != nil || q != QualityHigh {
		t.Errorf("ParseQuality(hd) = %v, %v", q, err)
	}
	if _, err := ParseQuality("4k"); err == nil {
		t.Error("ParseQuality(4k) succeeded, want error")
	}
}

func TestWebRIDFromURL(t *testing.T) {
	cases := map[string]string{
		"https://live.douyin.com/901113773259":                  "901113773259",
		"https://live.douyin.com/901113773259/":                 "901113773259",
		"https://live.douyin.com/901113773259?enter_from=main ": "901113773259",
	}
	for raw, want := range cases {
		got, err := webRIDFromURL(raw)
		if err != nil {
			t.Errorf("webRIDFromURL(%q): %v", raw, err)
			continue
		}
		if got != want {
			t.Errorf("webRIDFromURL(%q) = %q, want %q", raw, got, want)
		}
	}
	if _, err := webRIDFromURL("https://live.douyin.com/"); err == nil {
		t.Error("empty path succeeded, want error")
	}
}

func TestTruncateCause(t *testing.T) {
	short := errors.New("no such host")
	if got := truncateCause(short); got != "no such host" {
		t.Errorf("short cause = %q", got)
	}
	long := errors.New(strings.Repeat("x", 120))
	got := truncateCause(long)
	if utf8.RuneCountInString(got) != maxCauseLen+3 {
		t.Errorf("long cause = %d runes, want %d", utf8.RuneCountInString(got), maxCauseLen+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("long cause %q missing ellipsis", got)
	}
}
