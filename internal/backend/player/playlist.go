package player

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"matchlive/internal/session"
)

// ErrNotPlaylist is returned when the input does not start with #EXTM3U.
var ErrNotPlaylist = errors.New("not an HLS playlist")

// Variant is one #EXT-X-STREAM-INF entry of a master playlist.
type Variant struct {
	Rendition session.Rendition
	URI       string
	Codecs    string
}

// Playlist is a parsed HLS playlist. Media is true when the playlist lists
// segments directly instead of variants. Ended is set by #EXT-X-ENDLIST, in
// which case Duration is the sum of the segment durations.
type Playlist struct {
	Variants []Variant
	Media    bool
	Ended    bool
	Duration time.Duration
}

// Renditions returns the renditions of all variants in playlist order.
func (p Playlist) Renditions() []session.Rendition {
	out := make([]session.Rendition, 0, len(p.Variants))
	for _, v := range p.Variants {
		out = append(out, v.Rendition)
	}
	return out
}

// ParseMasterPlaylist reads an HLS playlist. Variant URIs are resolved
// against base when it is not nil.
func ParseMasterPlaylist(r io.Reader, base *url.URL) (Playlist, error) {
	sc := bufio.NewScanner(r)
	var (
		pl      Playlist
		pending map[string]string
		first   = true
		ids     = make(map[string]int)
	)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if first {
			if line != "#EXTM3U" {
				return Playlist{}, ErrNotPlaylist
			}
			first = false
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			pending = parseAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
		case strings.HasPrefix(line, "#EXTINF:"):
			pl.Media = true
			d, err := segmentDuration(strings.TrimPrefix(line, "#EXTINF:"))
			if err != nil {
				return Playlist{}, err
			}
			pl.Duration += d
		case line == "#EXT-X-ENDLIST":
			pl.Media = true
			pl.Ended = true
		case strings.HasPrefix(line, "#"):
			// other tags and comments
		default:
			if pending == nil {
				continue
			}
			v, err := variantFrom(pending, line, base)
			if err != nil {
				return Playlist{}, err
			}
			v.Rendition.ID = uniqueID(ids, v.Rendition.ID)
			pl.Variants = append(pl.Variants, v)
			pending = nil
		}
	}
	if err := sc.Err(); err != nil {
		return Playlist{}, fmt.Errorf("read playlist: %w", err)
	}
	if first {
		return Playlist{}, ErrNotPlaylist
	}
	return pl, nil
}

func variantFrom(attrs map[string]string, uri string, base *url.URL) (Variant, error) {
	v := Variant{URI: uri, Codecs: attrs["CODECS"]}

	if bw, ok := attrs["BANDWIDTH"]; ok {
		n, err := strconv.Atoi(bw)
		if err != nil {
			return Variant{}, fmt.Errorf("invalid BANDWIDTH %q: %w", bw, err)
		}
		v.Rendition.Bitrate = n
	}
	if res, ok := attrs["RESOLUTION"]; ok {
		w, h, found := strings.Cut(strings.ToLower(res), "x")
		width, errW := strconv.Atoi(w)
		height, errH := strconv.Atoi(h)
		if !found || errW != nil || errH != nil {
			return Variant{}, fmt.Errorf("invalid RESOLUTION %q", res)
		}
		v.Rendition.Width, v.Rendition.Height = width, height
	}

	switch {
	case attrs["NAME"] != "":
		v.Rendition.ID = attrs["NAME"]
	case v.Rendition.Height > 0:
		v.Rendition.ID = fmt.Sprintf("%dp", v.Rendition.Height)
	case v.Rendition.Bitrate > 0:
		v.Rendition.ID = fmt.Sprintf("%dk", v.Rendition.Bitrate/1000)
	default:
		v.Rendition.ID = "variant"
	}

	if base != nil {
		ref, err := url.Parse(uri)
		if err != nil {
			return Variant{}, fmt.Errorf("invalid variant uri %q: %w", uri, err)
		}
		v.URI = base.ResolveReference(ref).String()
	}
	return v, nil
}

func segmentDuration(v string) (time.Duration, error) {
	secs, _, _ := strings.Cut(v, ",")
	f, err := strconv.ParseFloat(strings.TrimSpace(secs), 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid EXTINF %q", v)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// parseAttributes splits an attribute list, honouring quoted values that
// contain commas.
func parseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	for len(s) > 0 {
		key, rest, ok := strings.Cut(s, "=")
		if !ok {
			break
		}
		key = strings.TrimSpace(key)

		var val string
		if strings.HasPrefix(rest, `"`) {
			end := strings.Index(rest[1:], `"`)
			if end < 0 {
				val, s = rest[1:], ""
			} else {
				val, s = rest[1:end+1], rest[end+2:]
			}
			s = strings.TrimPrefix(s, ",")
		} else {
			val, s, _ = strings.Cut(rest, ",")
		}
		attrs[strings.ToUpper(key)] = val
	}
	return attrs
}

func uniqueID(seen map[string]int, id string) string {
	seen[id]++
	if n := seen[id]; n > 1 {
		return fmt.Sprintf("%s-%d", id, n)
	}
	return id
}
