package models

// Platform is the closed set of publish targets. The values are persisted on
// jobs and recipes, so they must stay wire-stable.
type Platform string

const (
	PlatformTelegram Platform = "tg"
	PlatformSite     Platform = "site"
	PlatformVK       Platform = "vk"
	PlatformOK       Platform = "ok"
	PlatformFacebook Platform = "fb"
	PlatformThreads  Platform = "threads"
	PlatformTwitter  Platform = "x"
)

// Platforms lists every known platform in display order.
func Platforms() []Platform {
	return []Platform{
		PlatformTelegram,
		PlatformSite,
		PlatformVK,
		PlatformOK,
		PlatformFacebook,
		PlatformThreads,
		PlatformTwitter,
	}
}

func (p Platform) Valid() bool {
	switch p {
	case PlatformTelegram, PlatformSite, PlatformVK, PlatformOK,
		PlatformFacebook, PlatformThreads, PlatformTwitter:
		return true
	}
	return false
}

func (p Platform) String() string {
	return string(p)
}
