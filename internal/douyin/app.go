package douyin

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"github.com/buger/jsonparser"
)

// reflowPath is the share-link API used by the mobile app. It takes the
// numeric room id instead of the public web_rid.
const reflowPath = "/webcast/room/reflow/info/"

// roomIDPattern matches the numeric room id embedded in the room page
// render payload, tolerating escaped JSON quoting.
var roomIDPattern = regexp.MustCompile(`roomId\\?":\\?"(\d+)`)

// fetchAppRoom resolves the room through the app reflow API (strategy
// "app"). It first scrapes the numeric room id from the room page.
func (r *Resolver) fetchAppRoom(ctx context.Context, q RoomQuery) (*roomInfo, error) {
	roomID, err := r.scrapeRoomID(ctx, q)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("type_id", "0")
	params.Set("live_id", "1")
	params.Set("room_id", roomID)
	params.Set("sec_user_id", "")
	params.Set("version_code", "99.99.99")
	params.Set("app_id", "1128")

	body, err := r.get(ctx, r.appBase+reflowPath+"?"+params.Encode(), q.Cookies)
	if err != nil {
		return nil, fmt.Errorf("reflow: %w", err)
	}

	room, _, _, err := jsonparser.Get(body, "data", "room")
	if err != nil {
		return nil, fmt.Errorf("reflow: no room data: %w", err)
	}
	info, err := parseRoom(room)
	if err != nil {
		return nil, fmt.Errorf("reflow: %w", err)
	}
	return info, nil
}

// scrapeRoomID loads the room page and pulls the webcast room id out of
// the embedded render data, which is URL-encoded in most page variants.
func (r *Resolver) scrapeRoomID(ctx context.Context, q RoomQuery) (string, error) {
	body, err := r.get(ctx, q.URL, q.Cookies)
	if err != nil {
		return "", fmt.Errorf("room page: %w", err)
	}
	if m := roomIDPattern.FindSubmatch(body); m != nil {
		return string(m[1]), nil
	}
	if decoded, derr := url.QueryUnescape(string(body)); derr == nil {
		if m := roomIDPattern.FindStringSubmatch(decoded); m != nil {
			return m[1], nil
		}
	}
	return "", errors.New("room page: room id not found")
}
