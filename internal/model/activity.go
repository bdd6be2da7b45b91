package model

import "time"

// Template kinds.  A TOUR template produces bookable trips, a COURSE
// template produces training sessions accepting one enrollment per seat.
const (
	KindTour   = "TOUR"
	KindCourse = "COURSE"
)

// Activity instance statuses.  Only SCHEDULED and OPEN instances accept
// new reservations.
const (
	InstanceScheduled  = "SCHEDULED"
	InstanceOpen       = "OPEN"
	InstanceInProgress = "IN_PROGRESS"
	InstanceCompleted  = "COMPLETED"
	InstanceCanceled   = "CANCELED"
)

// ActivityTemplate is the reusable offering definition (a tour or training
// course).  It defines the default capacity and price for instances
// scheduled against it.  Templates are created by staff scheduling tooling;
// this service only reads them.
//
// Fields:
//  ID             – primary key identifier.
//  OrganizationID – owning tenant.
//  Kind           – TOUR or COURSE.
//  Name           – display name (e.g. "Two-Tank Reef Dive").
//  Capacity       – default participant capacity for instances.
//  PriceCents     – default price per participant in cents.
//  Active         – deactivated templates keep their instances but accept
//                   no new scheduling.
type ActivityTemplate struct {
	ID             uint64    // activity_templates.id
	OrganizationID uint64    // activity_templates.organization_id
	Kind           string    // activity_templates.kind
	Name           string    // activity_templates.name
	Capacity       uint32    // activity_templates.capacity
	PriceCents     uint32    // activity_templates.price_cents
	Active         bool      // activity_templates.is_active
	CreatedAt      time.Time // activity_templates.created_at
	UpdatedAt      time.Time // activity_templates.updated_at
}

// ActivityInstance is one scheduled, bookable occurrence of a template: a
// trip departure or a training session.  Capacity and price may override
// the template defaults.  The TemplateKind, TemplateName and
// TemplateCapacity fields are joined from the template row on read; they
// are not columns of activity_instances.
type ActivityInstance struct {
	ID             uint64    // activity_instances.id
	OrganizationID uint64    // activity_instances.organization_id
	TemplateID     uint64    // activity_instances.template_id
	StartsAt       time.Time // activity_instances.starts_at (UTC)
	Capacity       *uint32   // activity_instances.capacity (nullable override)
	PriceCents     *uint32   // activity_instances.price_cents (nullable override)
	Status         string    // activity_instances.status
	CreatedAt      time.Time // activity_instances.created_at
	UpdatedAt      time.Time // activity_instances.updated_at

	TemplateKind     string // joined from activity_templates.kind
	TemplateName     string // joined from activity_templates.name
	TemplateCapacity uint32 // joined from activity_templates.capacity
	TemplatePrice    uint32 // joined from activity_templates.price_cents
}

// EffectiveCapacity returns the instance-level capacity override when
// present, else the template default.
func (a *ActivityInstance) EffectiveCapacity() uint32 {
	if a.Capacity != nil {
		return *a.Capacity
	}
	return a.TemplateCapacity
}

// EffectivePriceCents returns the instance-level price override when
// present, else the template default.
func (a *ActivityInstance) EffectivePriceCents() uint32 {
	if a.PriceCents != nil {
		return *a.PriceCents
	}
	return a.TemplatePrice
}

// Bookable reports whether the instance status accepts new reservations.
// Date eligibility is checked separately by the admission controller.
func (a *ActivityInstance) Bookable() bool {
	return a.Status == InstanceScheduled || a.Status == InstanceOpen
}
