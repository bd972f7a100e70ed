package capture

import "strings"

// Format is the output container, chosen by the shape of the source URL.
type Format string

const (
	// FormatFLV wraps a direct stream as-is.
	FormatFLV Format = "flv"
	// FormatMP4 remuxes a segmented-playlist source and needs the ADTS
	// audio repack filter when stream-copying.
	FormatMP4 Format = "mp4"
)

// Ext is the file extension for the container.
func (f Format) Ext() string { return string(f) }

// FormatForURL picks the container for a source URL: segmented playlists
// remux into mp4, direct streams stay flv.
func FormatForURL(url string) Format {
	if strings.Contains(url, ".m3u8") {
		return FormatMP4
	}
	return FormatFLV
}
