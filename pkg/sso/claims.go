package sso

import (
	"fmt"
	"strings"
	"unicode"
)

// Claims are the normalized identity claims returned by the identity provider.
type Claims struct {
	Subject           string              `json:"sub"`
	Email             string              `json:"email,omitempty"`
	EmailVerified     bool                `json:"email_verified,omitempty"`
	Name              string              `json:"name,omitempty"`
	GivenName         string              `json:"given_name,omitempty"`
	FamilyName        string              `json:"family_name,omitempty"`
	PreferredUsername string              `json:"preferred_username,omitempty"`
	RealmRoles        []string            `json:"realm_roles,omitempty"`
	ClientRoles       map[string][]string `json:"client_roles,omitempty"`
	Roles             []string            `json:"roles,omitempty"`
	Raw               map[string]any      `json:"-"`
}

// NewClaims normalizes a raw claim map. Both the normalized keys and the
// Keycloak wire keys (sub, realm_access.roles, resource_access.<client>.roles)
// are understood.
func NewClaims(raw map[string]any) Claims {
	c := Claims{Raw: raw}

	c.Subject = firstString(raw, "sub", "subject")
	c.Email = stringClaim(raw, "email")
	c.Name = stringClaim(raw, "name")
	c.GivenName = stringClaim(raw, "given_name")
	c.FamilyName = stringClaim(raw, "family_name")
	c.PreferredUsername = stringClaim(raw, "preferred_username")
	c.EmailVerified = boolClaim(raw, "email_verified")

	c.RealmRoles = stringSlice(raw["realm_roles"])
	if realm, ok := raw["realm_access"].(map[string]any); ok {
		c.RealmRoles = append(c.RealmRoles, stringSlice(realm["roles"])...)
	}

	c.ClientRoles = map[string][]string{}
	if clients, ok := raw["client_roles"].(map[string]any); ok {
		for client, roles := range clients {
			c.ClientRoles[client] = append(c.ClientRoles[client], stringSlice(roles)...)
		}
	}
	if resources, ok := raw["resource_access"].(map[string]any); ok {
		for client, access := range resources {
			if m, ok := access.(map[string]any); ok {
				c.ClientRoles[client] = append(c.ClientRoles[client], stringSlice(m["roles"])...)
			}
		}
	}

	c.Roles = stringSlice(raw["roles"])
	return c
}

// DisplayName picks the best available human name for the claims.
func (c Claims) DisplayName() string {
	if n := strings.TrimSpace(c.Name); n != "" {
		return n
	}
	if full := strings.TrimSpace(strings.TrimSpace(c.GivenName) + " " + strings.TrimSpace(c.FamilyName)); full != "" {
		return full
	}
	if u := strings.TrimSpace(c.PreferredUsername); u != "" {
		return u
	}
	return nameFromEmail(c.Email)
}

// nameFromEmail turns "jane.doe@example.com" into "Jane Doe".
func nameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	local = strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(local)
	words := strings.Fields(local)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func stringClaim(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := stringClaim(raw, k); v != "" {
			return v
		}
	}
	return ""
}

func boolClaim(raw map[string]any, key string) bool {
	switch v := raw[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return append([]string(nil), vals...)
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if vals == "" {
			return nil
		}
		return []string{vals}
	default:
		return nil
	}
}
