// Package capabilities stores the declarative playback capability each client
// declares with its session, versioned per session.
package capabilities

import (
	"time"
)

// Media types used by profiles.
const (
	MediaTypeVideo = "Video"
	MediaTypeAudio = "Audio"
	MediaTypePhoto = "Photo"
)

// Streaming protocols a transcoding profile can target.
const (
	ProtocolProgressive = "progressive"
	ProtocolDash        = "dash"
	ProtocolHls         = "hls"
)

// Subtitle delivery methods.
const (
	SubtitleMethodExternal = "external"
	SubtitleMethodEmbed    = "embed"
	SubtitleMethodEncode   = "encode"
)

// Condition operators.
const (
	OpEquals           = "equals"
	OpNotEquals        = "notEquals"
	OpGreaterThanEqual = "greaterThanEqual"
	OpLessThanEqual    = "lessThanEqual"
	OpEqualsAny        = "equalsAny"
	OpContains         = "contains"
)

// ProfileCondition constrains a single source attribute.
type ProfileCondition struct {
	Property                 string `json:"property"`
	Operator                 string `json:"operator"`
	Value                    string `json:"value"`
	IsRequired               bool   `json:"isRequired"`
	IsRequiredForTranscoding bool   `json:"isRequiredForTranscoding"`
}

// DirectPlayProfile declares a (type, container, codec) combination the
// client plays natively. Container and codec fields are comma-delimited
// lists; empty means any.
type DirectPlayProfile struct {
	Type       string `json:"type"`
	Container  string `json:"container"`
	VideoCodec string `json:"videoCodec,omitempty"`
	AudioCodec string `json:"audioCodec,omitempty"`
}

// TranscodingProfile declares an output format the client accepts when the
// source cannot be played directly. Profiles are listed in priority order.
type TranscodingProfile struct {
	Type             string             `json:"type"`
	Container        string             `json:"container"`
	Protocol         string             `json:"protocol"`
	VideoCodec       string             `json:"videoCodec,omitempty"`
	AudioCodec       string             `json:"audioCodec,omitempty"`
	MaxAudioChannels int                `json:"maxAudioChannels,omitempty"`
	MaxVideoBitrate  int64              `json:"maxVideoBitrate,omitempty"`
	Conditions       []ProfileCondition `json:"conditions,omitempty"`
}

// ContainerProfile applies conditions to a whole container.
type ContainerProfile struct {
	Type       string             `json:"type"`
	Container  string             `json:"container"`
	Conditions []ProfileCondition `json:"conditions"`
}

// CodecProfile applies conditions keyed by codec and optional container.
type CodecProfile struct {
	Type       string             `json:"type"` // video or audio
	Codec      string             `json:"codec"`
	Container  string             `json:"container,omitempty"`
	Conditions []ProfileCondition `json:"conditions"`
}

// SubtitleProfile declares a subtitle format plus delivery method.
type SubtitleProfile struct {
	Format   string `json:"format"`
	Method   string `json:"method"`
	Protocol string `json:"protocol,omitempty"`
	Language string `json:"language,omitempty"`
}

// ResponseProfile overrides the MIME type for a (type, container) pair.
type ResponseProfile struct {
	Type      string `json:"type"`
	Container string `json:"container"`
	MimeType  string `json:"mimeType"`
}

// Capabilities is the enumerated capability record a client declares.
type Capabilities struct {
	MaxStreamingBitrate   int64 `json:"maxStreamingBitrate,omitempty"`
	MaxStaticBitrate      int64 `json:"maxStaticBitrate,omitempty"`
	MusicStreamingBitrate int64 `json:"musicStreamingBitrate,omitempty"`

	DirectPlayProfiles  []DirectPlayProfile  `json:"directPlayProfiles,omitempty"`
	TranscodingProfiles []TranscodingProfile `json:"transcodingProfiles,omitempty"`
	ContainerProfiles   []ContainerProfile   `json:"containerProfiles,omitempty"`
	CodecProfiles       []CodecProfile       `json:"codecProfiles,omitempty"`
	SubtitleProfiles    []SubtitleProfile    `json:"subtitleProfiles,omitempty"`
	ResponseProfiles    []ResponseProfile    `json:"responseProfiles,omitempty"`

	SupportedImageFormats []string `json:"supportedImageFormats,omitempty"`

	SupportsDash        bool `json:"supportsDash"`
	SupportsHls         bool `json:"supportsHls"`
	SupportsHDR         bool `json:"supportsHdr"`
	SupportsToneMapping bool `json:"supportsToneMapping"`
}

// Profile is one stored capability version for a session.
type Profile struct {
	SessionID    string       `json:"sessionId"`
	Version      int          `json:"version"`
	DeviceID     string       `json:"deviceId,omitempty"`
	DeviceName   string       `json:"deviceName,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
	DeclaredAt   time.Time    `json:"declaredAt"`
}

// Declaration is the inbound capability body before versioning.
type Declaration struct {
	DeviceID     string       `json:"deviceId,omitempty"`
	DeviceName   string       `json:"deviceName,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}
