// Package urls extracts channel identifiers from the site's page, token and
// manifest URLs, and parses and rewrites their query strings without
// reordering or re-encoding anything the upstream signed.
package urls

import (
	"fmt"
	"net/url"
	"strings"

	regexp "github.com/grafana/regexp"
)

// URL markers used to locate the channel segment.
const (
	PageDomain     = "twitch.tv/"
	TokenPrefix    = "api.twitch.tv/api/channels/"
	TokenSuffix    = "/access_token"
	ManifestPrefix = "usher.ttvnw.net/api/channel/hls/"
	ManifestSuffix = ".m3u8"
)

// AllowAudioOnlyParam is the manifest query parameter that enables the audio-only variant.
const AllowAudioOnlyParam = "allow_audio_only"

// channelPattern matches a normalized channel login.
var channelPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// reservedRoutes are first path segments on the site that are not channels.
var reservedRoutes = map[string]struct{}{
	"directory": {},
	"videos":    {},
	"u":         {},
	"user":      {},
	"settings":  {},
}

// ExtractBetween returns the text strictly between the first occurrence of start
// and the first occurrence of end after it. When end is missing the result runs
// to the end of s if endOptional is set, otherwise nothing is found.
func ExtractBetween(s, start, end string, endOptional bool) (string, bool) {
	i := strings.Index(s, start)
	if i == -1 {
		return "", false
	}
	rest := s[i+len(start):]

	j := strings.Index(rest, end)
	if j == -1 {
		if !endOptional {
			return "", false
		}
		return rest, true
	}
	return rest[:j], true
}

// NormalizeChannel trims, lower-cases and cuts a raw segment at the first
// '/', '?' or '#', so every URL shape yields the same key for one channel.
func NormalizeChannel(raw string) (string, bool) {
	ch := strings.TrimSpace(raw)
	if i := strings.IndexAny(ch, "/?#"); i != -1 {
		ch = ch[:i]
	}
	ch = strings.ToLower(ch)
	if !channelPattern.MatchString(ch) {
		return "", false
	}
	return ch, true
}

// ChannelFromTokenURL extracts the channel from a token endpoint request URL.
func ChannelFromTokenURL(tokenURL string) (string, bool) {
	seg, ok := ExtractBetween(tokenURL, TokenPrefix, TokenSuffix, false)
	if !ok {
		return "", false
	}
	return NormalizeChannel(seg)
}

// ChannelFromManifestURL extracts the channel from a manifest (usher) request URL.
func ChannelFromManifestURL(manifestURL string) (string, bool) {
	seg, ok := ExtractBetween(manifestURL, ManifestPrefix, ManifestSuffix, false)
	if !ok {
		return "", false
	}
	return NormalizeChannel(seg)
}

// ChannelFromPageURL extracts the channel from a site page URL such as
// https://www.twitch.tv/foo, rejecting reserved routes like /directory.
func ChannelFromPageURL(pageURL string) (string, bool) {
	seg, ok := ExtractBetween(pageURL, PageDomain, "/", true)
	if !ok {
		return "", false
	}
	ch, ok := NormalizeChannel(seg)
	if !ok {
		return "", false
	}
	if _, reserved := reservedRoutes[ch]; reserved {
		return "", false
	}
	return ch, true
}

// QueryParam is one raw key/value pair of a query string. HasValue is false
// for a bare key with no '='.
type QueryParam struct {
	Key      string
	Value    string
	HasValue bool
}

func (p QueryParam) String() string {
	if !p.HasValue {
		return p.Key
	}
	return p.Key + "=" + p.Value
}

// splitURL separates rawURL into the part before '?', the raw query and the
// raw fragment.
func splitURL(rawURL string) (base, query, fragment string, hasQuery bool) {
	base = rawURL
	if i := strings.IndexByte(base, '#'); i != -1 {
		fragment = base[i+1:]
		base = base[:i]
	}
	if i := strings.IndexByte(base, '?'); i != -1 {
		query = base[i+1:]
		base = base[:i]
		hasQuery = true
	}
	return base, query, fragment, hasQuery
}

func parseParams(query string) []QueryParam {
	var params []QueryParam
	for _, item := range strings.Split(query, "&") {
		if item == "" {
			continue
		}
		key, value, found := strings.Cut(item, "=")
		params = append(params, QueryParam{Key: key, Value: value, HasValue: found})
	}
	return params
}

// ParseQueryString returns the query parameters of rawURL in order, without
// decoding. A URL without '?' has no parameters.
func ParseQueryString(rawURL string) []QueryParam {
	_, query, _, hasQuery := splitURL(rawURL)
	if !hasQuery {
		return nil
	}
	return parseParams(query)
}

// QueryMap returns the query parameters of rawURL as a map; the last
// occurrence of a duplicated key wins.
func QueryMap(rawURL string) map[string]string {
	params := ParseQueryString(rawURL)
	m := make(map[string]string, len(params))
	for _, p := range params {
		m[p.Key] = p.Value
	}
	return m
}

// QueryValue returns the percent-decoded value of the first key parameter.
func QueryValue(rawURL, key string) (string, bool) {
	for _, p := range ParseQueryString(rawURL) {
		if p.Key != key {
			continue
		}
		if v, err := url.QueryUnescape(p.Value); err == nil {
			return v, true
		}
		return p.Value, true
	}
	return "", false
}

// AppendAllowAudioOnly makes sure rawURL carries allow_audio_only=true exactly
// once. An existing occurrence is overwritten in place, later duplicates are
// dropped, and everything else keeps its order and encoding.
func AppendAllowAudioOnly(rawURL string) string {
	base, query, fragment, _ := splitURL(rawURL)

	params := parseParams(query)
	out := make([]QueryParam, 0, len(params)+1)
	seen := false
	for _, p := range params {
		if p.Key != AllowAudioOnlyParam {
			out = append(out, p)
			continue
		}
		if seen {
			continue
		}
		seen = true
		out = append(out, QueryParam{Key: AllowAudioOnlyParam, Value: "true", HasValue: true})
	}
	if !seen {
		out = append(out, QueryParam{Key: AllowAudioOnlyParam, Value: "true", HasValue: true})
	}

	parts := make([]string, len(out))
	for i, p := range out {
		parts[i] = p.String()
	}

	result := base + "?" + strings.Join(parts, "&")
	if fragment != "" {
		result += "#" + fragment
	}
	return result
}

// BuildManifestURL assembles a manifest request URL for channel from a fresh
// token and signature. nonce scopes the request the way the web player's p
// parameter does.
func BuildManifestURL(base, channel, token, sig string, nonce int) string {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u := fmt.Sprintf("%s%s%s?player=twitchweb&token=%s&sig=%s&%s=true&allow_source=true&type=any&p=%d",
		base, url.PathEscape(channel), ManifestSuffix,
		url.QueryEscape(token), url.QueryEscape(sig), AllowAudioOnlyParam, nonce)
	return AppendAllowAudioOnly(u)
}
