package decision

import (
	"context"
	"sync"

	"github.com/ignite/fan-automation/internal/domain"
)

// Catalog looks up what a subject's profile supports.
type Catalog interface {
	Capabilities(ctx context.Context, subjectID string) (domain.SubjectCapabilities, error)
}

// StaticCatalog serves capabilities loaded from configuration. Unknown
// subjects get the default capabilities.
type StaticCatalog struct {
	mu       sync.RWMutex
	subjects map[string]domain.SubjectCapabilities
	def      domain.SubjectCapabilities
}

// NewStaticCatalog indexes subjects by id. def is returned for unknown ids.
func NewStaticCatalog(subjects []domain.SubjectCapabilities, def domain.SubjectCapabilities) *StaticCatalog {
	c := &StaticCatalog{subjects: make(map[string]domain.SubjectCapabilities, len(subjects)), def: def}
	for _, s := range subjects {
		c.subjects[s.SubjectID] = s
	}
	return c
}

// DefaultCapabilities supports Subscribe and every listen platform.
func DefaultCapabilities() domain.SubjectCapabilities {
	return domain.SubjectCapabilities{
		SupportsSubscribe: true,
		ListenPlatforms: []domain.Platform{
			domain.PlatformSpotify, domain.PlatformAppleMusic, domain.PlatformYouTubeMusic,
			domain.PlatformAmazonMusic, domain.PlatformDeezer, domain.PlatformTidal,
			domain.PlatformSoundCloud, domain.PlatformBandcamp,
		},
	}
}

func (c *StaticCatalog) Capabilities(_ context.Context, subjectID string) (domain.SubjectCapabilities, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if caps, ok := c.subjects[subjectID]; ok {
		return caps, nil
	}
	caps := c.def
	caps.SubjectID = subjectID
	return caps, nil
}

// Put replaces one subject's capabilities.
func (c *StaticCatalog) Put(caps domain.SubjectCapabilities) {
	c.mu.Lock()
	c.subjects[caps.SubjectID] = caps
	c.mu.Unlock()
}
