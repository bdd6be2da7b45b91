package service

import (
	"context"
	"time"

	"github.com/shooter51/divestreams-server/internal/model"
	"github.com/shooter51/divestreams-server/internal/repository"
	"github.com/shooter51/divestreams-server/internal/tenant"
)

// Availability is a capacity quote for one activity instance.
type Availability struct {
	InstanceID   uint64 `json:"instance_id"`
	ActivityName string `json:"activity_name"`
	Kind         string `json:"kind"`
	StartsAt     string `json:"starts_at"`
	EffectiveMax uint32 `json:"effective_max"`
	Committed    uint32 `json:"committed"`
	Available    uint32 `json:"available"`
	PriceCents   uint32 `json:"price_cents"`
}

// Capacity resolves effective capacity and committed participants for
// activity instances.  Resolve is the read-only quoting path; admission
// recomputes the same numbers inside the instance lock and never reuses a
// quote.
type Capacity struct {
	store repository.Store
}

// NewCapacity returns a Capacity resolver backed by the given store.
func NewCapacity(store repository.Store) *Capacity {
	return &Capacity{store: store}
}

// Resolve computes {effectiveMax, committed, available} for the instance.
// Returns repository.ErrNotFound when the instance does not exist in this
// tenant.
func (s *Capacity) Resolve(ctx context.Context, scope tenant.Scope, instanceID uint64) (Availability, error) {
	inst, err := s.store.GetInstance(ctx, scope, instanceID)
	if err != nil {
		return Availability{}, err
	}
	committed, err := s.store.CountCommitted(ctx, scope, instanceID)
	if err != nil {
		return Availability{}, err
	}
	return availabilityFor(inst, committed), nil
}

// availabilityFor derives the quote from an instance row and a committed
// count.  Shared with the admission controller, which calls it on values
// read under the instance lock.
func availabilityFor(inst *model.ActivityInstance, committed uint32) Availability {
	max := inst.EffectiveCapacity()
	var available uint32
	if committed < max {
		available = max - committed
	}
	kind := model.KindBooking
	if inst.TemplateKind == model.KindCourse {
		kind = model.KindEnrollment
	}
	return Availability{
		InstanceID:   inst.ID,
		ActivityName: inst.TemplateName,
		Kind:         kind,
		StartsAt:     inst.StartsAt.UTC().Format(time.RFC3339),
		EffectiveMax: max,
		Committed:    committed,
		Available:    available,
		PriceCents:   inst.EffectivePriceCents(),
	}
}
