package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/falconstream/internal/falcon"
)

// fakeFalcon is an in-process Falcon backend serving the token endpoint,
// stream discovery, the refresh action, and a data feed.
type fakeFalcon struct {
	server *httptest.Server

	mu           sync.Mutex
	authCalls    int
	refreshCalls int
	refreshOK    bool
	authOK       bool
	noStreams    bool
	feed         func(w http.ResponseWriter, r *http.Request)
}

func newFakeFalcon() *fakeFalcon {
	f := &fakeFalcon{refreshOK: true, authOK: true}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authCalls++
		ok := f.authOK
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"errors":[{"code":403,"message":"access denied"}]}`)
			return
		}
		fmt.Fprint(w, `{"access_token":"test-token","expires_in":1799}`)
	})
	mux.HandleFunc("/sensors/entities/datafeed/v2", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		empty := f.noStreams
		f.mu.Unlock()
		resources := []falcon.StreamDescriptor{}
		if !empty {
			resources = append(resources, f.descriptor())
		}
		json.NewEncoder(w).Encode(map[string]any{"resources": resources})
	})
	mux.HandleFunc("/sensors/entities/datafeed-actions/v1/0", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.refreshCalls++
		ok := f.refreshOK
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		feed := f.feed
		f.mu.Unlock()
		if feed == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		feed(w, r)
	})

	f.server = httptest.NewServer(mux)
	return f
}

func (f *fakeFalcon) close() { f.server.Close() }

func (f *fakeFalcon) authCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls
}

func (f *fakeFalcon) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

func (f *fakeFalcon) setFeed(fn func(w http.ResponseWriter, r *http.Request)) {
	f.mu.Lock()
	f.feed = fn
	f.mu.Unlock()
}

func (f *fakeFalcon) client() *falcon.Client {
	return falcon.NewClient(falcon.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		BaseURL:      f.server.URL,
		Timeout:      5 * time.Second,
	})
}

func (f *fakeFalcon) descriptor() falcon.StreamDescriptor {
	return falcon.StreamDescriptor{
		DataFeedURL:             f.server.URL + "/feed?appId=test",
		SessionToken:            falcon.SessionToken{Token: "feed-token"},
		RefreshActiveSessionURL: f.server.URL + "/sensors/entities/datafeed-actions/v1/0",
		RefreshInterval:         1800,
	}
}

// ndjsonFeed writes the given lines and closes the body.
func ndjsonFeed(lines ...string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
	}
}

// blockingFeed writes the given line, then holds the connection open until
// released or the request is cancelled.
func blockingFeed(line string, release <-chan struct{}) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		if _, err := w.Write([]byte(line + "\n")); err != nil {
			return
		}
		flusher.Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}
}

func eventLineJSON(eventType string, offset int64) string {
	return fmt.Sprintf(`{"metadata":{"eventType":%q,"offset":%d},"event":{"Name":"test"}}`, eventType, offset)
}

// captureSink records every envelope it receives.
type captureSink struct {
	mu        sync.Mutex
	envelopes []Envelope
}

func (s *captureSink) Put(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.envelopes = append(s.envelopes, env)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) all() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.envelopes...)
}

func testLogger() *zap.Logger { return zap.NewNop() }
