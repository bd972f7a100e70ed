package douyin

import (
	"context"
	"fmt"
	"net/url"

	"github.com/buger/jsonparser"
)

// webEnterPath is the API the browser player calls when joining a room.
const webEnterPath = "/webcast/room/web/enter/"

// fetchWebRoom resolves the room through the web enter API (strategy "web").
func (r *Resolver) fetchWebRoom(ctx context.Context, q RoomQuery) (*roomInfo, error) {
	rid, err := webRIDFromURL(q.URL)
	if err != nil {
		return nil, err
	}
	cookies := q.Cookies
	if cookies == "" {
		cookies = r.bootstrapCookies(ctx)
	}

	params := url.Values{}
	params.Set("aid", "6383")
	params.Set("app_name", "douyin_web")
	params.Set("live_id", "1")
	params.Set("device_platform", "web")
	params.Set("language", "zh-CN")
	params.Set("enter_from", "web_live")
	params.Set("cookie_enabled", "true")
	params.Set("screen_width", "1920")
	params.Set("screen_height", "1080")
	params.Set("browser_language", "zh-CN")
	params.Set("browser_platform", "Win32")
	params.Set("browser_name", "Chrome")
	params.Set("browser_version", "121.0.0.0")
	params.Set("web_rid", rid)

	body, err := r.get(ctx, r.webBase+webEnterPath+"?"+params.Encode(), cookies)
	if err != nil {
		return nil, fmt.Errorf("web enter: %w", err)
	}

	// The enter API nests the room object in data.data[0].
	room, _, _, err := jsonparser.Get(body, "data", "data", "[0]")
	if err != nil {
		return nil, fmt.Errorf("web enter: no room data: %w", err)
	}
	info, err := parseRoom(room)
	if err != nil {
		return nil, fmt.Errorf("web enter: %w", err)
	}
	return info, nil
}

// roomInfo is the raw result of one strategy fetch: metadata plus the
// pull-url maps keyed by douyin tier (FULL_HD1, HD1, SD1, SD2).
type roomInfo struct {
	meta RoomMetadata
	flv  map[string]string
	hls  map[string]string
}

// parseRoom extracts metadata and pull URLs from a webcast room object.
// Both strategies return the same room shape once unwrapped.
func parseRoom(room []byte) (*roomInfo, error) {
	statusCode, err := jsonparser.GetInt(room, "status")
	if err != nil {
		return nil, fmt.Errorf("room status missing: %w", err)
	}
	info := &roomInfo{
		meta: RoomMetadata{Status: statusFromWire(statusCode)},
		flv:  pullURLs(room, "flv_pull_url"),
		hls:  pullURLs(room, "hls_pull_url_map"),
	}
	info.meta.Title, _ = jsonparser.GetString(room, "title")
	info.meta.AnchorName, _ = jsonparser.GetString(room, "owner", "nickname")
	info.meta.RoomID, _ = jsonparser.GetString(room, "id_str")
	return info, nil
}

// pullURLs collects one tier->URL map from stream_url. Offline rooms carry
// no stream_url at all; that is not an error.
func pullURLs(room []byte, key string) map[string]string {
	urls := make(map[string]string)
	_ = jsonparser.ObjectEach(room, func(tier, value []byte, vt jsonparser.ValueType, _ int) error {
		if vt != jsonparser.String {
			return nil
		}
		if u, err := jsonparser.ParseString(value); err == nil && u != "" {
			urls[string(tier)] = u
		}
		return nil
	}, "stream_url", key)
	return urls
}
