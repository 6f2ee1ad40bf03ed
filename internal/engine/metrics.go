package engine

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/001Space/cartsync/internal/domain"
	apperrors "github.com/001Space/cartsync/pkg/errors"
)

var (
	fallbackOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartsync_fallback_operations_total",
			Help: "Cart mutations that succeeded only against the local fallback store",
		},
		[]string{"op"},
	)

	remoteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartsync_remote_failures_total",
			Help: "Remote cart store failures by operation and error class",
		},
		[]string{"op", "class"},
	)

	cartSourceGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cartsync_cart_source",
			Help: "Origin of the current cart state (0=remote, 1=local_fallback)",
		},
	)

	cartItemsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cartsync_cart_items",
			Help: "Number of distinct items in the current cart",
		},
	)
)

func recordRemoteFailure(op string, err error) {
	remoteFailuresTotal.WithLabelValues(op, errorClass(err)).Inc()
}

func errorClass(err error) string {
	switch {
	case apperrors.IsTransient(err):
		return "transient"
	case errors.Is(err, apperrors.ErrNotAuthenticated):
		return "auth"
	case errors.Is(err, apperrors.ErrRemoteRejected), errors.Is(err, apperrors.ErrInvalidArgument):
		return "rejected"
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	default:
		return "other"
	}
}

func observeCartState(cart *domain.Cart) {
	if cart.Source == domain.SourceRemote {
		cartSourceGauge.Set(0)
	} else {
		cartSourceGauge.Set(1)
	}
	cartItemsGauge.Set(float64(len(cart.Items)))
}
