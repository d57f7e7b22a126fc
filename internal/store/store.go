package store

import (
	"github.com/freshroute/expiry-engine/internal/analytics"
	"github.com/freshroute/expiry-engine/internal/notifications"
	"github.com/freshroute/expiry-engine/internal/risk"
	"github.com/freshroute/expiry-engine/internal/scoring"
)

// Postgres backs every stage.
var (
	_ analytics.Store            = (*Postgres)(nil)
	_ risk.Store                 = (*Postgres)(nil)
	_ scoring.Store              = (*Postgres)(nil)
	_ notifications.EmitStore    = (*Postgres)(nil)
	_ notifications.ServiceStore = (*Postgres)(nil)
)
