package sso

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/ssobridge/pkg/observability"
	"github.com/platinummonkey/ssobridge/pkg/ssoerr"
)

// RoleMapping maps an IdP role name to one or more local role names.
// Lookups are case-sensitive.
type RoleMapping map[string][]string

// UnmarshalYAML accepts either a scalar or a sequence for each entry.
func (m *RoleMapping) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("role mapping must be a mapping, got %s", node.Tag)
	}
	out := make(RoleMapping, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		switch value.Kind {
		case yaml.ScalarNode:
			if value.Value != "" {
				out[key.Value] = []string{value.Value}
			}
		case yaml.SequenceNode:
			var roles []string
			if err := value.Decode(&roles); err != nil {
				return fmt.Errorf("role mapping %q: %w", key.Value, err)
			}
			out[key.Value] = roles
		default:
			return fmt.Errorf("role mapping %q: expected string or list", key.Value)
		}
	}
	*m = out
	return nil
}

// Clone returns a deep copy.
func (m RoleMapping) Clone() RoleMapping {
	out := make(RoleMapping, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// RoleMapper translates IdP roles into local roles and keeps users in sync.
type RoleMapper struct {
	mapping     atomic.Pointer[RoleMapping]
	defaultRole string
	enabled     bool
	mode        RoleSyncMode
	clientID    string
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewRoleMapper creates a mapper from the SSO configuration.
func NewRoleMapper(cfg Config, logger *observability.Logger, metrics *observability.Metrics) *RoleMapper {
	if logger == nil {
		logger = observability.NopLogger()
	}
	m := &RoleMapper{
		defaultRole: cfg.DefaultRole,
		enabled:     cfg.EnableRoleMapping,
		mode:        cfg.syncMode(),
		clientID:    cfg.ClientID,
		logger:      logger,
		metrics:     metrics,
	}
	m.SetMapping(cfg.RoleMapping)
	return m
}

// SetMapping atomically replaces the active mapping.
func (m *RoleMapper) SetMapping(mapping RoleMapping) {
	cloned := mapping.Clone()
	m.mapping.Store(&cloned)
}

// Mapping returns a copy of the active mapping.
func (m *RoleMapper) Mapping() RoleMapping {
	return m.mapping.Load().Clone()
}

// DefaultRole returns the role assigned when nothing maps.
func (m *RoleMapper) DefaultRole() string {
	return m.defaultRole
}

// MapToLocalRoles returns the deduplicated local roles for idpRoles. The first
// element is the primary role. When nothing maps, the default role is returned.
func (m *RoleMapper) MapToLocalRoles(idpRoles []string) []string {
	mapping := *m.mapping.Load()

	seen := make(map[string]struct{})
	var out []string
	for _, idpRole := range idpRoles {
		for _, local := range mapping[idpRole] {
			if local == "" {
				continue
			}
			if _, dup := seen[local]; dup {
				continue
			}
			seen[local] = struct{}{}
			out = append(out, local)
		}
	}

	if len(out) == 0 {
		return []string{m.defaultRole}
	}
	return out
}

// PrimaryRole returns the first mapped local role.
func (m *RoleMapper) PrimaryRole(idpRoles []string) string {
	return m.MapToLocalRoles(idpRoles)[0]
}

// ExtractRoles collects realm roles, then the configured client's roles, then
// generic roles, without duplicates.
func (m *RoleMapper) ExtractRoles(claims Claims) []string {
	return ExtractRoles(claims, m.clientID)
}

// ExtractRoles collects realm roles, then clientID's roles, then generic roles.
func ExtractRoles(claims Claims, clientID string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(roles []string) {
		for _, r := range roles {
			if _, dup := seen[r]; dup || r == "" {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	add(claims.RealmRoles)
	if clientID != "" {
		add(claims.ClientRoles[clientID])
	}
	add(claims.Roles)
	return out
}

// SyncRoles resolves the local roles for idpRoles and assigns them to user.
// Local role names missing from the store are skipped. A missing default role
// is a configuration error.
func (m *RoleMapper) SyncRoles(ctx context.Context, store RoleStore, user *User, idpRoles []string) error {
	if !m.enabled {
		return nil
	}

	names := m.MapToLocalRoles(idpRoles)
	found, err := store.FindRolesByNames(ctx, names)
	if err != nil {
		m.metrics.RecordRoleSync("failure")
		return ssoerr.RoleMappingFailed(user.Email, err)
	}

	byName := make(map[string]Role, len(found))
	for _, r := range found {
		byName[r.Name] = r
	}

	// keep mapping order so the primary role stays first
	var roleIDs []int64
	for _, name := range names {
		role, ok := byName[name]
		if !ok {
			m.logger.WithFields(map[string]interface{}{
				"role":    name,
				"user_id": user.ID,
			}).Warn("Mapped role does not exist locally, skipping")
			continue
		}
		roleIDs = append(roleIDs, role.ID)
	}

	if len(roleIDs) == 0 {
		def, err := store.FindRoleByName(ctx, m.defaultRole)
		if err != nil {
			m.metrics.RecordRoleSync("failure")
			if errors.Is(err, ErrNotFound) {
				return ssoerr.InvalidConfig("default_role", fmt.Sprintf("role '%s' does not exist", m.defaultRole))
			}
			return ssoerr.RoleMappingFailed(user.Email, err)
		}
		roleIDs = []int64{def.ID}
	}

	if err := store.AssignPrimaryRole(ctx, user.ID, roleIDs[0]); err != nil {
		m.metrics.RecordRoleSync("failure")
		return ssoerr.RoleMappingFailed(user.Email, err)
	}

	final := roleIDs
	if m.mode == RoleSyncMerge {
		final = mergeRoleIDs(roleIDs, user.RoleIDs)
	}
	if err := store.ReplaceAllRoles(ctx, user.ID, final); err != nil {
		m.metrics.RecordRoleSync("failure")
		return ssoerr.RoleMappingFailed(user.Email, err)
	}

	primary := roleIDs[0]
	user.RoleID = &primary
	user.RoleIDs = final
	m.metrics.RecordRoleSync("success")

	m.logger.WithFields(map[string]interface{}{
		"user_id":   user.ID,
		"idp_roles": idpRoles,
		"roles":     names,
		"mode":      string(m.mode),
	}).Debug("Synchronized user roles")
	return nil
}

// Validate checks that the default role exists in the store.
func (m *RoleMapper) Validate(ctx context.Context, store RoleStore) error {
	if !m.enabled {
		return nil
	}
	if _, err := store.FindRoleByName(ctx, m.defaultRole); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ssoerr.InvalidConfig("default_role", fmt.Sprintf("role '%s' does not exist", m.defaultRole))
		}
		return fmt.Errorf("failed to look up default role: %w", err)
	}
	return nil
}

func mergeRoleIDs(primary, existing []int64) []int64 {
	seen := make(map[int64]struct{}, len(primary)+len(existing))
	out := make([]int64, 0, len(primary)+len(existing))
	for _, ids := range [][]int64{primary, existing} {
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
