package sso

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/platinummonkey/ssobridge/pkg/observability"
	"github.com/platinummonkey/ssobridge/pkg/ssoerr"
)

// UserReconciler finds, links or provisions the local user for a set of claims.
type UserReconciler struct {
	tx            Transactor
	roles         *RoleMapper
	autoProvision bool
	syncUserData  bool
	logger        *observability.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

// NewUserReconciler creates a reconciler.
func NewUserReconciler(cfg Config, tx Transactor, roles *RoleMapper, logger *observability.Logger, metrics *observability.Metrics) *UserReconciler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &UserReconciler{
		tx:            tx,
		roles:         roles,
		autoProvision: cfg.AutoProvisionUsers,
		syncUserData:  cfg.SyncUserData,
		logger:        logger,
		metrics:       metrics,
		now:           time.Now,
	}
}

// FindOrCreateUser resolves the local user for claims in a single transaction.
// Lookup order is external id, then email. A user found by email is linked
// only if it authenticates locally.
func (r *UserReconciler) FindOrCreateUser(ctx context.Context, claims Claims) (*User, error) {
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ssoerr.MissingRequiredField("sub")
	}

	var result *User
	var path string
	err := r.tx.InTx(ctx, func(store Store) error {
		user, err := store.FindByExternalID(ctx, claims.Subject)
		switch {
		case err == nil:
			path = "existing"
			if r.syncUserData {
				if err := r.update(ctx, store, user, claims); err != nil {
					return err
				}
			}
			result = user
			return nil
		case !errors.Is(err, ErrNotFound):
			return ssoerr.Classify(err)
		}

		if claims.Email != "" {
			user, err = store.FindByEmail(ctx, claims.Email)
			switch {
			case err == nil:
				if err := r.link(ctx, store, user, claims); err != nil {
					return err
				}
				path = "linked"
				result = user
				return nil
			case !errors.Is(err, ErrNotFound):
				return ssoerr.Classify(err)
			}
		}

		if !r.autoProvision {
			return ssoerr.AutoProvisionDisabled()
		}

		user, err = r.create(ctx, store, claims)
		if err != nil {
			return err
		}
		path = "created"
		result = user
		return nil
	})
	if err != nil {
		r.metrics.RecordReconcile("failed")
		return nil, ssoerr.Classify(err)
	}

	r.metrics.RecordReconcile(path)
	r.logger.WithFields(map[string]interface{}{
		"user_id": result.ID,
		"path":    path,
	}).Info("Reconciled SSO user")
	return result, nil
}

func (r *UserReconciler) link(ctx context.Context, store Store, user *User, claims Claims) error {
	switch {
	case user.IsLocal():
	case user.IsSSO() && (user.ExternalID == "" || user.ExternalID == claims.Subject):
	default:
		r.logger.WithFields(map[string]interface{}{
			"user_id":       user.ID,
			"auth_provider": string(user.AuthProvider),
		}).Warn("Email already bound to another identity")
		return ssoerr.DuplicateUser(claims.Email)
	}

	user.ExternalID = claims.Subject
	user.AuthProvider = ProviderSSO
	r.logger.WithField("user_id", user.ID).Info("Linking existing user to SSO identity")

	if r.syncUserData {
		return r.update(ctx, store, user, claims)
	}
	if err := store.Save(ctx, user); err != nil {
		return ssoerr.UpdateFailed(user.Email, err)
	}
	return nil
}

func (r *UserReconciler) update(ctx context.Context, store Store, user *User, claims Claims) error {
	if claims.Email != "" && user.Email != claims.Email {
		user.Email = claims.Email
	}
	if name := claims.DisplayName(); name != "" && user.DisplayName != name {
		user.DisplayName = name
	}
	user.UpdatedAt = r.now()

	if err := store.Save(ctx, user); err != nil {
		return ssoerr.UpdateFailed(user.Email, err)
	}
	return r.syncRoles(ctx, store, user, claims)
}

func (r *UserReconciler) create(ctx context.Context, store Store, claims Claims) (*User, error) {
	if strings.TrimSpace(claims.Email) == "" {
		return nil, ssoerr.MissingRequiredField("email")
	}

	hash, err := unusablePasswordHash()
	if err != nil {
		return nil, ssoerr.CreationFailed(claims.Email, err)
	}

	now := r.now()
	user := &User{
		Email:        claims.Email,
		DisplayName:  claims.DisplayName(),
		PasswordHash: hash,
		SSOIdentity: SSOIdentity{
			AuthProvider: ProviderSSO,
			ExternalID:   claims.Subject,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.Create(ctx, user); err != nil {
		return nil, ssoerr.CreationFailed(claims.Email, err)
	}

	r.logger.WithField("user_id", user.ID).Info("Provisioned new SSO user")

	if err := r.syncRoles(ctx, store, user, claims); err != nil {
		return nil, err
	}
	return user, nil
}

// syncRoles logs role failures without failing the login. A configuration
// error still aborts.
func (r *UserReconciler) syncRoles(ctx context.Context, store Store, user *User, claims Claims) error {
	if r.roles == nil {
		return nil
	}
	err := r.roles.SyncRoles(ctx, store, user, r.roles.ExtractRoles(claims))
	if err == nil {
		return nil
	}
	if errors.Is(err, ssoerr.ErrConfiguration) {
		return err
	}
	r.logger.WithError(err).WithField("user_id", user.ID).Error("Role synchronization failed")
	return nil
}
