package domain

// ProxyType is the closed set of proxy protocols a user may be provisioned
// on. Modeled as a tagged variant rather than a free-form string map per
// the dynamic-settings design note: each proxy type carries its own
// settings shape in ProxySettings. BuildAccount does not look at the proxy
// type; it reads only the flow and passes the settings through, and the
// flow-gating rule is the sole place upstream settings shape matters to the
// dispatcher.
type ProxyType string

const (
	ProxyVLESS       ProxyType = "vless"
	ProxyVMess       ProxyType = "vmess"
	ProxyTrojan      ProxyType = "trojan"
	ProxyShadowsocks ProxyType = "shadowsocks"
)

// ProxySettings is one proxy type's per-user settings, plus the optional
// flow carried by flow-capable protocols (vless).
type ProxySettings struct {
	Flow     Flow
	Settings map[string]any
}

// UserStatus mirrors the subscription-relevant lifecycle of a user record;
// the dispatcher itself is agnostic to it beyond passing it through.
type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserDisabled UserStatus = "disabled"
	UserLimited  UserStatus = "limited"
	UserExpired  UserStatus = "expired"
)

// UserView is the read-only user snapshot passed to enqueue. It is captured
// at enqueue time and never mutated afterward — later changes to the same
// user produce a new UserView via a new enqueue.
type UserView struct {
	ID       int
	Username string
	Status   UserStatus

	// Proxies holds one entry per proxy type the user is provisioned for.
	Proxies map[ProxyType]ProxySettings

	// Inbounds lists, per proxy type, the ordered inbound tags the user
	// should be present on.
	Inbounds map[ProxyType][]string
}

// Email derives this user's remote-engine identity.
func (u UserView) Email() string {
	return Email(u.ID, u.Username)
}

// ActiveTags returns the set of inbound tags this user is currently meant
// to be present on, across all proxy types, deduplicated.
func (u UserView) ActiveTags() map[string]struct{} {
	tags := make(map[string]struct{})
	for _, list := range u.Inbounds {
		for _, tag := range list {
			tags[tag] = struct{}{}
		}
	}
	return tags
}
