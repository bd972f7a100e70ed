package douyin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// maxCauseLen bounds each recorded strategy failure so the aggregate
// error stays a single readable log line.
const maxCauseLen = 50

// Resolution is the outcome of resolving one room URL: metadata plus one
// playable endpoint per quality. Endpoints is empty when the room is not
// live.
type Resolution struct {
	Meta      RoomMetadata
	Endpoints map[Quality]StreamEndpoint
	Strategy  string
}

// StrategyFailure records why one resolution strategy gave up.
type StrategyFailure struct {
	Strategy string
	Cause    string
}

// ResolutionError reports that every strategy failed for a room URL.
type ResolutionError struct {
	URL      string
	Failures []StrategyFailure
}

func (e *ResolutionError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Strategy+": "+f.Cause)
	}
	return fmt.Sprintf("resolve %s: %s", e.URL, strings.Join(parts, "; "))
}

type strategy struct {
	name  string
	fetch func(context.Context, RoomQuery) (*roomInfo, error)
}

func (r *Resolver) strategies() []strategy {
	return []strategy{
		{name: "web", fetch: r.fetchWebRoom},
		{name: "app", fetch: r.fetchAppRoom},
	}
}

// Resolve fetches the state of the room behind a live URL. Strategies run
// in order and the first successful fetch wins; an offline room is still a
// successful resolution, just one with no endpoints. When every strategy
// fails the returned error is a *ResolutionError carrying all causes.
func (r *Resolver) Resolve(ctx context.Context, q RoomQuery) (*Resolution, error) {
	var failures []StrategyFailure
	for _, s := range r.strategies() {
		info, err := s.fetch(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("room resolution strategy failed",
				zap.String("strategy", s.name),
				zap.String("url", q.URL),
				zap.Error(err))
			failures = append(failures, StrategyFailure{Strategy: s.name, Cause: truncateCause(err)})
			continue
		}

		res := &Resolution{
			Meta:      info.meta,
			Endpoints: map[Quality]StreamEndpoint{},
			Strategy:  s.name,
		}
		if info.meta.Status == StatusLive {
			res.Endpoints = info.endpoints()
		}
		r.logger.Info("room resolved",
			zap.String("strategy", s.name),
			zap.String("room_id", res.Meta.RoomID),
			zap.String("anchor", res.Meta.AnchorName),
			zap.String("status", res.Meta.Status.String()),
			zap.Int("endpoints", len(res.Endpoints)))
		return res, nil
	}
	return nil, &ResolutionError{URL: q.URL, Failures: failures}
}

func truncateCause(err error) string {
	msg := err.Error()
	if utf8.RuneCountInString(msg) <= maxCauseLen {
		return msg
	}
	return string([]rune(msg)[:maxCauseLen]) + "..."
}

// knownTiers orders douyin pull tiers best-first. ORIGIN shows up only on
// rooms that expose the unprocessed feed and always outranks FULL_HD1.
var knownTiers = []string{"ORIGIN", "FULL_HD1", "HD1", "SD1", "SD2"}

// endpoints maps the tier ladder onto the quality ladder. Quality rank
// indexes into the available URLs best-first and clamps to the worst tier,
// so a room publishing fewer tiers than qualities reuses its lowest feed.
func (info *roomInfo) endpoints() map[Quality]StreamEndpoint {
	flv := orderedURLs(info.flv)
	hls := orderedURLs(info.hls)
	eps := make(map[Quality]StreamEndpoint, len(Qualities))
	for rank, q := range Qualities {
		ep := StreamEndpoint{
			Quality: q,
			FlvURL:  pick(flv, rank),
			HlsURL:  pick(hls, rank),
		}
		if ep.Playable() {
			eps[q] = ep
		}
	}
	return eps
}

func orderedURLs(byTier map[string]string) []string {
	urls := make([]string, 0, len(byTier))
	seen := make(map[string]bool, len(byTier))
	for _, tier := range knownTiers {
		if u, ok := byTier[tier]; ok {
			urls = append(urls, u)
			seen[tier] = true
		}
	}
	// Tiers outside the known ladder sort after it, alphabetically so the
	// result is deterministic.
	rest := make([]string, 0, len(byTier))
	for tier := range byTier {
		if !seen[tier] {
			rest = append(rest, tier)
		}
	}
	sort.Strings(rest)
	for _, tier := range rest {
		urls = append(urls, byTier[tier])
	}
	return urls
}

func pick(urls []string, rank int) string {
	if len(urls) == 0 {
		return ""
	}
	if rank >= len(urls) {
		rank = len(urls) - 1
	}
	return urls[rank]
}
