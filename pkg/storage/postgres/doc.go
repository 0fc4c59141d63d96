// Package postgres implements the sso user and role stores on PostgreSQL.
//
// Store satisfies sso.Store, sso.Transactor and sso.ExpiredTokenStore. Role
// writes run under a savepoint so that a failed role sync inside a login
// transaction does not abort the user update around it.
//
// ConnectionManager owns the primary pool and optional read replicas. Reads
// outside a transaction can be routed to replicas with WithReader:
//
//	cm, err := postgres.NewConnectionManager(cfg, logger)
//	if err != nil {
//		return err
//	}
//	if err := postgres.RunMigrations(ctx, cm.Primary(), logger); err != nil {
//		return err
//	}
//	store := postgres.NewStore(cm.Primary(), postgres.WithReader(cm.Replica))
package postgres
