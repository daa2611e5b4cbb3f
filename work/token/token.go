// Package token parses access token responses and the signed token payload
// they carry.
package token

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"audio-only-proxy/work/types"
)

// legacyResponse is the body of the api.twitch.tv access_token endpoint.
// Token is usually a JSON document encoded as a string, but an inline
// object is accepted too.
type legacyResponse struct {
	Token json.RawMessage `json:"token"`
	Sig   string          `json:"sig"`
}

// gqlResponse is the PlaybackAccessToken shape returned by the GraphQL endpoint.
type gqlResponse struct {
	Data struct {
		StreamPlaybackAccessToken *struct {
			Value     string `json:"value"`
			Signature string `json:"signature"`
		} `json:"streamPlaybackAccessToken"`
	} `json:"data"`
}

// payload is the part of the token document this service cares about.
type payload struct {
	Expires json.Number `json:"expires"`
}

// ParseResponse extracts the raw token, its signature and its expiry from a
// token endpoint response body. Every failure wraps types.ErrParse.
func ParseResponse(body []byte) (types.TokenCredential, error) {
	var cred types.TokenCredential

	var legacy legacyResponse
	if err := json.Unmarshal(body, &legacy); err != nil {
		return cred, fmt.Errorf("token response is not JSON: %v: %w", err, types.ErrParse)
	}

	tokenText, sig := "", legacy.Sig
	switch raw := bytes.TrimSpace(legacy.Token); {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		var gql gqlResponse
		if err := json.Unmarshal(body, &gql); err != nil || gql.Data.StreamPlaybackAccessToken == nil {
			return cred, fmt.Errorf("token response has no token field: %w", types.ErrParse)
		}
		tokenText = gql.Data.StreamPlaybackAccessToken.Value
		sig = gql.Data.StreamPlaybackAccessToken.Signature

	case raw[0] == '"':
		if err := json.Unmarshal(raw, &tokenText); err != nil {
			return cred, fmt.Errorf("token field is not a string: %v: %w", err, types.ErrParse)
		}

	case raw[0] == '{':
		var compact bytes.Buffer
		if err := json.Compact(&compact, raw); err != nil {
			return cred, fmt.Errorf("token object is malformed: %v: %w", err, types.ErrParse)
		}
		tokenText = compact.String()

	default:
		return cred, fmt.Errorf("token field has unexpected type: %w", types.ErrParse)
	}

	if tokenText == "" {
		return cred, fmt.Errorf("token is empty: %w", types.ErrParse)
	}
	if sig == "" {
		return cred, fmt.Errorf("token response has no signature: %w", types.ErrParse)
	}

	expires, err := ParseExpiry(tokenText)
	if err != nil {
		return cred, err
	}

	cred.Token = tokenText
	cred.Signature = sig
	cred.ExpiresAt = expires
	return cred, nil
}

// ParseExpiry returns the expires field (unix seconds) of a token document.
// A missing, non-numeric or non-positive value wraps types.ErrParse.
func ParseExpiry(tokenText string) (int64, error) {
	var p payload
	if err := json.Unmarshal([]byte(tokenText), &p); err != nil {
		return 0, fmt.Errorf("token payload is not JSON: %v: %w", err, types.ErrParse)
	}
	if p.Expires == "" {
		return 0, fmt.Errorf("token payload has no expires: %w", types.ErrParse)
	}

	expires, err := p.Expires.Int64()
	if err != nil {
		f, ferr := strconv.ParseFloat(p.Expires.String(), 64)
		if ferr != nil {
			return 0, fmt.Errorf("token expires %q is not a number: %w", p.Expires, types.ErrParse)
		}
		expires = int64(f)
	}
	if expires <= 0 {
		return 0, fmt.Errorf("token expires %d is not a timestamp: %w", expires, types.ErrParse)
	}
	return expires, nil
}
