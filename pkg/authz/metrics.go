package authz

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/warden/pkg/rbac"
)

// Decision outcomes
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Metrics holds the Prometheus metrics of the authorization service
type Metrics struct {
	DecisionsTotal *prometheus.CounterVec
	UserGroupsTotal *prometheus.CounterVec
}

// NewMetrics creates the service metrics and registers them when registry is not nil
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_authz_decisions_total",
				Help: "Total number of authorization decisions by outcome",
			},
			[]string{"operation", "outcome"},
		),
		UserGroupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_authz_user_group_resolutions_total",
				Help: "Total number of user group resolutions by source",
			},
			[]string{"source"},
		),
	}

	if registry != nil {
		registry.MustRegister(m.DecisionsTotal, m.UserGroupsTotal)
	}
	return m
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeAllowed
	case errors.Is(err, rbac.ErrAccessDenied),
		errors.Is(err, rbac.ErrNotAuthorizedDueToUsageRestrictions),
		errors.Is(err, rbac.ErrNotAccountMgrNorHasAllAppAccess):
		return OutcomeDenied
	default:
		return OutcomeError
	}
}

func (m *Metrics) record(operation string, err error) {
	m.DecisionsTotal.WithLabelValues(operation, outcome(err)).Inc()
}

func (m *Metrics) recordBool(operation string, allowed bool) {
	if allowed {
		m.DecisionsTotal.WithLabelValues(operation, OutcomeAllowed).Inc()
		return
	}
	m.DecisionsTotal.WithLabelValues(operation, OutcomeDenied).Inc()
}
