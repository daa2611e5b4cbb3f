package types

// SafetyMarginSeconds is how long before the token's stated expiry a cached
// manifest credential stops being handed out.
const SafetyMarginSeconds int64 = 60

// ResolveAudioCommand is the only command understood on the message endpoint.
const ResolveAudioCommand = "resolveAudioUrl"

// ManifestCredential is a signed manifest URL together with the unix-seconds
// expiry parsed from the token embedded in it.
type ManifestCredential struct {
	ManifestURL string // Manifest URL with the audio-only flag enabled
	ExpiresAt   int64  // Token expiry, unix seconds
}

// UsableAt reports whether the credential may still be handed out at now
// (unix seconds). The boundary now == ExpiresAt-60 counts as expired.
func (mc ManifestCredential) UsableAt(now int64) bool {
	return now < mc.ExpiresAt-SafetyMarginSeconds
}

// TokenCredential is the parsed body of a token endpoint response.
type TokenCredential struct {
	Token     string // Raw token text, sent back verbatim in the manifest URL
	Signature string // Signature over Token
	ExpiresAt int64  // Expiry from the token payload, unix seconds
}

// ChannelState is a per-channel snapshot of the credential cache for admin output.
type ChannelState struct {
	Channel     string `json:"channel"`
	TokenURL    string `json:"tokenUrl,omitempty"`
	ManifestURL string `json:"manifestUrl,omitempty"`
	ExpiresAt   int64  `json:"expiresAt,omitempty"`
	Usable      bool   `json:"usable"`
	ExpiresIn   string `json:"expiresIn,omitempty"`
}

// Message is the request body the extension sends to the message endpoint.
// PageURL may replace Channel when the content script only knows the page location.
type Message struct {
	Command string `json:"command"`
	Channel string `json:"channel,omitempty"`
	PageURL string `json:"pageUrl,omitempty"`
}

// MessageResponse carries the resolved audio-only URL, or null on any failure.
type MessageResponse struct {
	StreamURL *string `json:"streamUrl"`
}

// ObserveRequest is the body of a request observation hook call.
type ObserveRequest struct {
	URL string `json:"url"`
}

// Variant is one entry of a multivariant playlist, as listed by the admin API.
type Variant struct {
	Name       string `json:"name,omitempty"`
	URL        string `json:"url"`
	Bandwidth  int    `json:"bandwidth,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Codecs     string `json:"codecs,omitempty"`
	Video      string `json:"video,omitempty"`
	AudioOnly  bool   `json:"audioOnly"`
}
