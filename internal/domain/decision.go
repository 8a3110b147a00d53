package domain

// ActionKind is a call-to-action a profile can present.
type ActionKind string

const (
	ActionSubscribe     ActionKind = "subscribe"
	ActionListenRouted  ActionKind = "listen_routed"
	ActionListenGeneric ActionKind = "listen_generic"
)

// SubjectCapabilities describes which actions an artist/profile supports.
type SubjectCapabilities struct {
	SubjectID         string     `json:"subject_id" yaml:"subject_id"`
	SupportsSubscribe bool       `json:"supports_subscribe" yaml:"subscribe"`
	ListenPlatforms   []Platform `json:"listen_platforms" yaml:"platforms"`
}

// SupportsListen reports whether any listen destination exists.
func (c SubjectCapabilities) SupportsListen() bool { return len(c.ListenPlatforms) > 0 }

// SupportsPlatform reports whether listening on p is possible.
func (c SubjectCapabilities) SupportsPlatform(p Platform) bool {
	if p == "" {
		return false
	}
	for _, lp := range c.ListenPlatforms {
		if lp == p {
			return true
		}
	}
	return false
}

// CTA is one rendered call-to-action.
type CTA struct {
	Kind     ActionKind `json:"kind"`
	Platform Platform   `json:"platform,omitempty"`
}

// Decision is the output of the decision engine. Available is false when the
// subject supports none of the candidate actions; callers render no CTA.
type Decision struct {
	Available bool `json:"available"`
	Primary   *CTA `json:"primary,omitempty"`
	Secondary *CTA `json:"secondary,omitempty"`
}

// NoActionAvailable is the empty decision.
func NoActionAvailable() Decision { return Decision{} }
