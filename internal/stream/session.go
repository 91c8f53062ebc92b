// Package stream implements the long-lived Falcon Event Stream consumer:
// per-partition session state, the read loop state machine, event filtering,
// and the orchestrator that runs one loop per discovered partition.
package stream

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lvonguyen/falconstream/internal/falcon"
)

var partitionRe = regexp.MustCompile(`v1/(\d+)`)

// TokenRefreshError indicates a session refresh failed. Fatal for the
// partition: reading cannot continue without a valid session.
type TokenRefreshError struct {
	Partition string
	Err       error
}

func (e *TokenRefreshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to refresh stream session for partition %s: %v", e.Partition, e.Err)
	}
	return fmt.Sprintf("failed to refresh stream session for partition %s", e.Partition)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// Session holds the mutable per-partition state: the data-feed session token,
// the consumption offset, and the token validity window. One Session has
// exactly one owning read loop; only the offset may be read concurrently.
type Session struct {
	client    *falcon.Client
	appID     string
	partition string

	dataFeedURL     string
	sessionToken    string
	refreshInterval time.Duration
	grace           time.Duration
	epoch           time.Time

	offset atomic.Int64

	latest  bool
	include []string
}

// SessionConfig holds session construction parameters.
type SessionConfig struct {
	AppID             string
	Offset            int64
	Latest            bool
	IncludeEventTypes []string
}

// NewSession builds a Session from a discovery descriptor. The partition id
// is extracted from the refresh URL; a descriptor whose refresh URL does not
// carry one is rejected.
func NewSession(client *falcon.Client, desc falcon.StreamDescriptor, cfg SessionConfig) (*Session, error) {
	m := partitionRe.FindStringSubmatch(desc.RefreshActiveSessionURL)
	if m == nil {
		return nil, fmt.Errorf("no partition id in refresh URL %q", desc.RefreshActiveSessionURL)
	}

	interval := time.Duration(desc.RefreshInterval) * time.Second
	s := &Session{
		client:          client,
		appID:           cfg.AppID,
		partition:       m[1],
		dataFeedURL:     desc.DataFeedURL,
		sessionToken:    desc.SessionToken.Token,
		refreshInterval: interval,
		grace:           refreshGrace(interval),
		epoch:           time.Now(),
		latest:          cfg.Latest,
		include:         cfg.IncludeEventTypes,
	}
	s.offset.Store(cfg.Offset)
	return s, nil
}

// refreshGrace returns the margin subtracted from the advertised validity
// window: max(60s, 10% of the interval), clamped below the interval itself
// so a refresh always fires before the backend invalidates the token.
func refreshGrace(interval time.Duration) time.Duration {
	grace := interval / 10
	if grace < time.Minute {
		grace = time.Minute
	}
	if grace >= interval {
		grace = interval / 2
	}
	return grace
}

// Partition returns the backend-assigned partition id.
func (s *Session) Partition() string { return s.partition }

// Offset returns the last consumed offset. Safe to call concurrently with
// the read loop.
func (s *Session) Offset() int64 { return s.offset.Load() }

// Advance records the offset of a successfully parsed line. Offsets never
// move backward; a stale value is ignored rather than applied.
func (s *Session) Advance(offset int64) {
	for {
		cur := s.offset.Load()
		if offset <= cur {
			return
		}
		if s.offset.CompareAndSwap(cur, offset) {
			return
		}
	}
}

// Expired reports whether the session token is inside the refresh grace
// window at the given instant.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.epoch.Add(s.refreshInterval - s.grace))
}

// Refresh re-authenticates and performs the refresh-active-session action
// for this partition. On success the validity epoch is reset; the offset is
// never touched. Any failure is returned as a TokenRefreshError.
func (s *Session) Refresh(ctx context.Context) error {
	token, err := s.client.Authenticate(ctx)
	if err != nil {
		return &TokenRefreshError{Partition: s.partition, Err: err}
	}

	ok, err := s.client.RefreshStream(ctx, token, s.partition, s.appID)
	if err != nil {
		return &TokenRefreshError{Partition: s.partition, Err: err}
	}
	if !ok {
		return &TokenRefreshError{Partition: s.partition}
	}

	s.epoch = time.Now()
	return nil
}

// feedURL builds the data-feed request URL with the resumption selector and
// the optional server-side event-type filter. Resumption modes are mutually
// exclusive: either a tail read (whence=2) or an explicit offset.
func (s *Session) feedURL() string {
	u := s.dataFeedURL
	if s.latest {
		u += "&whence=2"
	} else {
		u += fmt.Sprintf("&offset=%d", s.offset.Load())
	}
	if len(s.include) > 0 {
		u += "&eventType=" + strings.Join(s.include, ",")
	}
	return u
}
