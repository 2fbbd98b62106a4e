package capabilities

import (
	"time"
)

// fallbackBitrate is effectively "no cap" for the synthesized profile.
const fallbackBitrate = 1_000_000_000

// DefaultProfile synthesizes the profile used when a session never declared
// capabilities: DASH transcode for everything, no direct play. The planner
// will route any real content to Transcode against it.
func DefaultProfile(sessionID string) *Profile {
	return &Profile{
		SessionID: sessionID,
		Version:   1,
		Capabilities: Capabilities{
			MaxStreamingBitrate:   fallbackBitrate,
			MaxStaticBitrate:      fallbackBitrate,
			MusicStreamingBitrate: fallbackBitrate,
			TranscodingProfiles: []TranscodingProfile{
				{
					Type:       MediaTypeVideo,
					Container:  "mp4",
					Protocol:   ProtocolDash,
					VideoCodec: "h264",
					AudioCodec: "aac",
				},
				{
					Type:       MediaTypeAudio,
					Container:  "mp4",
					Protocol:   ProtocolDash,
					AudioCodec: "aac",
				},
			},
			SupportsDash: true,
		},
		DeclaredAt: time.Now(),
	}
}
