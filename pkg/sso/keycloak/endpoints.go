package keycloak

import (
	"net/url"
	"strings"
)

// Endpoints are the OpenID Connect endpoints of a realm.
type Endpoints struct {
	Issuer     string
	Auth       string
	Token      string
	UserInfo   string
	Introspect string
	Logout     string
	Certs      string
}

// NewEndpoints derives the realm endpoints from the server base URL.
func NewEndpoints(baseURL, realm string) Endpoints {
	issuer := strings.TrimRight(baseURL, "/") + "/realms/" + url.PathEscape(realm)
	oidc := issuer + "/protocol/openid-connect"
	return Endpoints{
		Issuer:     issuer,
		Auth:       oidc + "/auth",
		Token:      oidc + "/token",
		UserInfo:   oidc + "/userinfo",
		Introspect: oidc + "/token/introspect",
		Logout:     oidc + "/logout",
		Certs:      oidc + "/certs",
	}
}
