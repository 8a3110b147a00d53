package domain

import "time"

// Platform is a listening platform a visitor can be routed to.
type Platform string

const (
	PlatformSpotify      Platform = "spotify"
	PlatformAppleMusic   Platform = "apple_music"
	PlatformYouTubeMusic Platform = "youtube_music"
	PlatformAmazonMusic  Platform = "amazon_music"
	PlatformDeezer       Platform = "deezer"
	PlatformTidal        Platform = "tidal"
	PlatformSoundCloud   Platform = "soundcloud"
	PlatformBandcamp     Platform = "bandcamp"
)

var knownPlatforms = map[Platform]bool{
	PlatformSpotify: true, PlatformAppleMusic: true, PlatformYouTubeMusic: true,
	PlatformAmazonMusic: true, PlatformDeezer: true, PlatformTidal: true,
	PlatformSoundCloud: true, PlatformBandcamp: true,
}

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool { return knownPlatforms[p] }

// Identity is the resolved state of one visitor.
type Identity struct {
	AnonymousID       string     `json:"anonymous_id" db:"anonymous_id"`
	IdentifiedID      string     `json:"identified_id,omitempty" db:"identified_id"`
	IdentifiedAt      *time.Time `json:"identified_at,omitempty" db:"identified_at"`
	PreferredPlatform Platform   `json:"preferred_platform,omitempty" db:"preferred_platform"`
	PreferenceSetAt   *time.Time `json:"preference_set_at,omitempty" db:"preference_set_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Identified reports whether a durable contact identifier has been captured.
func (i Identity) Identified() bool { return i.IdentifiedID != "" }

// HasPreference reports whether a preferred listen platform is set.
func (i Identity) HasPreference() bool { return i.PreferredPlatform != "" }
