package decision

import "github.com/ignite/fan-automation/internal/domain"

// Decide computes the CTA for a visitor on a subject's profile. It is a pure
// function of its inputs.
//
//	anonymous,  any preference -> Subscribe, secondary Listen
//	identified, no preference  -> Listen (generic)
//	identified, preference     -> Listen (routed)
//
// When the computed primary is unsupported the first supported action of
// {Listen routed, Listen generic, Subscribe} is used instead. If none is
// supported the result is domain.NoActionAvailable().
func Decide(id domain.Identity, caps domain.SubjectCapabilities) domain.Decision {
	var primary domain.ActionKind
	switch {
	case !id.Identified():
		primary = domain.ActionSubscribe
	case id.HasPreference():
		primary = domain.ActionListenRouted
	default:
		primary = domain.ActionListenGeneric
	}

	cta, ok := candidate(primary, id, caps)
	if !ok {
		cta, ok = fallback(id, caps)
	}
	if !ok {
		return domain.NoActionAvailable()
	}

	d := domain.Decision{Available: true, Primary: &cta}
	if !id.Identified() && cta.Kind == domain.ActionSubscribe {
		d.Secondary = listen(id, caps)
	}
	return d
}

// Fallback reports whether d's primary differs from what the identity alone
// would have produced.
func Fallback(id domain.Identity, d domain.Decision) bool {
	if !d.Available {
		return true
	}
	switch {
	case !id.Identified():
		return d.Primary.Kind != domain.ActionSubscribe
	case id.HasPreference():
		return d.Primary.Kind != domain.ActionListenRouted
	default:
		return d.Primary.Kind != domain.ActionListenGeneric
	}
}

func candidate(kind domain.ActionKind, id domain.Identity, caps domain.SubjectCapabilities) (domain.CTA, bool) {
	switch kind {
	case domain.ActionListenRouted:
		if id.HasPreference() && caps.SupportsPlatform(id.PreferredPlatform) {
			return domain.CTA{Kind: kind, Platform: id.PreferredPlatform}, true
		}
	case domain.ActionListenGeneric:
		if caps.SupportsListen() {
			return domain.CTA{Kind: kind}, true
		}
	case domain.ActionSubscribe:
		if caps.SupportsSubscribe {
			return domain.CTA{Kind: kind}, true
		}
	}
	return domain.CTA{}, false
}

func fallback(id domain.Identity, caps domain.SubjectCapabilities) (domain.CTA, bool) {
	for _, kind := range []domain.ActionKind{domain.ActionListenRouted, domain.ActionListenGeneric, domain.ActionSubscribe} {
		if cta, ok := candidate(kind, id, caps); ok {
			return cta, true
		}
	}
	return domain.CTA{}, false
}

func listen(id domain.Identity, caps domain.SubjectCapabilities) *domain.CTA {
	if cta, ok := candidate(domain.ActionListenRouted, id, caps); ok {
		return &cta
	}
	if cta, ok := candidate(domain.ActionListenGeneric, id, caps); ok {
		return &cta
	}
	return nil
}
