package parser

import (
	"bufio"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"audio-only-proxy/work/logger"
	"audio-only-proxy/work/types"

	regexp "github.com/grafana/regexp"
	"github.com/grafov/m3u8"
)

// attributePattern matches KEY=VALUE pairs of an HLS attribute list, with the
// quoted form first so commas inside quotes stay in the value.
var attributePattern = regexp.MustCompile(`([A-Z0-9-]+)=("[^"]*"|[^,]*)`)

// ListVariants lists the variants of a multivariant playlist. It decodes with
// grafov/m3u8 and falls back to a line scanner when the library rejects the
// document. Relative variant URLs are resolved against baseURL. A media
// playlist is reported as a single variant pointing at baseURL.
func ListVariants(content, baseURL string) ([]types.Variant, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("empty playlist: %w", types.ErrParse)
	}

	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(content), false)
	if err != nil {
		logger.Debug("{parser/master - ListVariants} grafov parser failed, using fallback scanner: %v", err)
		return scanVariants(content, baseURL)
	}

	switch listType {
	case m3u8.MASTER:
		master, ok := playlist.(*m3u8.MasterPlaylist)
		if !ok {
			return scanVariants(content, baseURL)
		}

		var variants []types.Variant
		for _, v := range master.Variants {
			if v == nil {
				continue
			}
			variant := types.Variant{
				Name:       v.Name,
				URL:        resolveURL(v.URI, baseURL),
				Bandwidth:  int(v.Bandwidth),
				Resolution: v.Resolution,
				Codecs:     v.Codecs,
				Video:      v.Video,
			}
			variant.AudioOnly = isAudioOnly(variant)
			variants = append(variants, variant)
		}

		if len(variants) == 0 {
			return nil, fmt.Errorf("no variants in master playlist: %w", types.ErrNotFound)
		}
		logger.Debug("{parser/master - ListVariants} grafov parser found %d variants", len(variants))
		return variants, nil

	default:
		logger.Debug("{parser/master - ListVariants} media playlist, reporting it as a single variant")
		return []types.Variant{{Name: "direct", URL: baseURL}}, nil
	}
}

// scanVariants is the fallback parser: each #EXT-X-STREAM-INF line is paired
// with the next non-comment line as its URL.
func scanVariants(content, baseURL string) ([]types.Variant, error) {
	var variants []types.Variant
	var current *types.Variant

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			v := parseStreamInf(line)
			current = &v
			continue
		}
		if current == nil || line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		current.URL = resolveURL(line, baseURL)
		current.AudioOnly = isAudioOnly(*current)
		variants = append(variants, *current)
		current = nil
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning playlist: %v: %w", err, types.ErrParse)
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("no variants in playlist: %w", types.ErrNotFound)
	}

	logger.Debug("{parser/master - scanVariants} fallback scanner found %d variants", len(variants))
	return variants, nil
}

// parseStreamInf reads the attributes of one #EXT-X-STREAM-INF line.
func parseStreamInf(line string) types.Variant {
	attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))

	v := types.Variant{
		Name:       attrs["NAME"],
		Resolution: attrs["RESOLUTION"],
		Codecs:     attrs["CODECS"],
		Video:      attrs["VIDEO"],
	}
	if bw, err := strconv.Atoi(attrs["BANDWIDTH"]); err == nil {
		v.Bandwidth = bw
	}
	return v
}

func parseAttributes(params string) map[string]string {
	attributes := make(map[string]string)
	for _, match := range attributePattern.FindAllStringSubmatch(params, -1) {
		if len(match) >= 3 {
			attributes[match[1]] = strings.Trim(match[2], "\"")
		}
	}
	return attributes
}

func isAudioOnly(v types.Variant) bool {
	return strings.Contains(strings.ToLower(v.Video), AudioOnlyMarker) ||
		strings.Contains(strings.ToLower(v.Name), "audio only") ||
		strings.Contains(strings.ToLower(v.Name), AudioOnlyMarker)
}

// resolveURL makes streamURL absolute against baseURL; absolute URLs and
// unparsable input come back unchanged.
func resolveURL(streamURL, baseURL string) string {
	if strings.HasPrefix(streamURL, "http://") || strings.HasPrefix(streamURL, "https://") || baseURL == "" {
		return streamURL
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return streamURL
	}
	rel, err := url.Parse(streamURL)
	if err != nil {
		return streamURL
	}
	return base.ResolveReference(rel).String()
}
