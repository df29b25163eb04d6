package publisher

import "strings"

// Setting keys of the flat publishing configuration namespace. One snapshot
// is read per dispatch; adapters only see the keys they declare.
const (
	KeyTelegramBotToken  = "telegram_bot_token"
	KeyTelegramChannelID = "telegram_channel_id"

	KeyTildaCookies   = "tilda_cookies"
	KeyTildaProjectID = "tilda_project_id"
	KeyTildaFeedUID   = "tilda_feed_uid"
	KeyTildaSiteURL   = "tilda_site_url"

	KeyVKAccessToken = "vk_access_token"
	KeyVKOwnerID     = "vk_owner_id"
	KeyVKAPIVersion  = "vk_api_version"

	KeyOKAccessToken = "ok_access_token"
	KeyOKPublicKey   = "ok_public_key"
	KeyOKAppSecret   = "ok_app_secret"
	KeyOKGroupID     = "ok_group_id"

	KeyFBAccessToken = "fb_access_token"
	KeyFBPageID      = "fb_page_id"

	KeyThreadsAccessToken = "th_access_token"
	KeyThreadsUserID      = "th_user_id"

	KeyTwitterAuthToken = "twitter_auth_token"
	KeyTwitterProxyURL  = "twitter_proxy_url"

	KeyMetaProxyURL    = "meta_proxy_url"
	KeySafePublishMode = "safe_publish_mode"
	KeySmartLinkMode   = "smart_link_mode"
)

// Settings is an immutable snapshot of the project's key/value configuration
// at dispatch time.
type Settings map[string]string

func (s Settings) Get(key string) string {
	return strings.TrimSpace(s[key])
}

func (s Settings) GetBool(key string) bool {
	switch strings.ToLower(s.Get(key)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// Has reports whether every given key is present and non-empty.
func (s Settings) Has(keys ...string) bool {
	for _, key := range keys {
		if s.Get(key) == "" {
			return false
		}
	}
	return true
}
