package douyin

import (
	"fmt"
	"strings"
)

// Quality is a named stream tier requested by the caller.
type Quality string

const (
	QualityOrigin Quality = "OD"  // source quality
	QualityUltra  Quality = "UHD" // ultra HD
	QualityHigh   Quality = "HD"  // high definition
	QualityStd    Quality = "SD"  // standard definition
	QualityLow    Quality = "LD"  // low / smooth
)

// Qualities lists all known quality labels, best first.
var Qualities = []Quality{QualityOrigin, QualityUltra, QualityHigh, QualityStd, QualityLow}

// ParseQuality normalizes and validates a quality label.
func ParseQuality(s string) (Quality, error) {
	q := Quality(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Qualities {
		if q == known {
			return q, nil
		}
	}
	return "", fmt.Errorf("unknown quality %q (want one of OD, UHD, HD, SD, LD)", s)
}

// RoomStatus is the broadcast state of a room.
type RoomStatus int

const (
	StatusUnknown RoomStatus = iota
	StatusLive
	StatusOffline
)

// Webcast wire codes for room status.
const (
	wireStatusLive    = 2
	wireStatusOffline = 4
)

func statusFromWire(code int64) RoomStatus {
	switch code {
	case wireStatusLive:
		return StatusLive
	case wireStatusOffline:
		return StatusOffline
	default:
		return StatusUnknown
	}
}

func (s RoomStatus) String() string {
	switch s {
	case StatusLive:
		return "live"
	case StatusOffline:
		return "offline"
	}
	return "unknown"
}

// RoomQuery identifies the room to resolve. Immutable once created.
type RoomQuery struct {
	// URL is the human-facing room URL, e.g. https://live.douyin.com/901113773259.
	URL string
	// Cookies is an optional cookie header value used for both strategies
	// (helps with anti-crawl challenges).
	Cookies string
}

// RoomMetadata is the result of one successful resolution. Read-only after
// creation; reused by every capture session of the run.
type RoomMetadata struct {
	Status     RoomStatus
	AnchorName string
	Title      string
	// RoomID is the numeric webcast room id, kept for diagnostics.
	RoomID string
}

// StreamEndpoint is a resolved, playable source for one quality tier.
// At least one URL must be present for the quality to be capturable.
type StreamEndpoint struct {
	Quality Quality
	// FlvURL is the direct stream URL. Preferred when present: more stable
	// and directly muxable.
	FlvURL string
	// HlsURL is the segmented-playlist URL, used when no FLV is offered.
	HlsURL string
}

// BestURL returns the preferred playable URL, or "" when the endpoint is
// not capturable.
func (e StreamEndpoint) BestURL() string {
	if e.FlvURL != "" {
		return e.FlvURL
	}
	return e.HlsURL
}

// Playable reports whether the endpoint carries at least one URL.
func (e StreamEndpoint) Playable() bool {
	return e.FlvURL != "" || e.HlsURL != ""
}
