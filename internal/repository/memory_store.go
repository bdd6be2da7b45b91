package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shooter51/divestreams-server/internal/model"
	"github.com/shooter51/divestreams-server/internal/tenant"
)

// MemoryStore implements Store entirely in memory.  It mirrors the MySQL
// implementation's semantics closely enough for the service tests to
// exercise the real admission and lifecycle logic: per-instance and
// per-reservation exclusive row locks with a bounded wait, staged writes
// that vanish on rollback, and insert-time index locks on (organization,
// email) and (organization, number) that block competing transactions
// until the holder finishes, the way InnoDB blocks a conflicting INSERT.
type MemoryStore struct {
	mu     sync.Mutex
	nextID uint64

	orgs         map[uint64]model.Organization
	orgsBySlug   map[string]uint64
	templates    map[uint64]model.ActivityTemplate
	instances    map[uint64]model.ActivityInstance
	customers    map[uint64]model.Customer
	reservations map[uint64]model.Reservation
	staff        map[uint64]model.StaffUser

	// uniqueness claims held by in-flight transactions; the channel is
	// closed when the holder finishes so blocked inserters can re-check
	emailClaims  map[string]chan struct{} // "orgID:email"
	numberClaims map[string]chan struct{} // "orgID:number"

	// one buffered channel per row acts as its exclusive lock
	instanceLocks    map[uint64]chan struct{}
	reservationLocks map[uint64]chan struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:             map[uint64]model.Organization{},
		orgsBySlug:       map[string]uint64{},
		templates:        map[uint64]model.ActivityTemplate{},
		instances:        map[uint64]model.ActivityInstance{},
		customers:        map[uint64]model.Customer{},
		reservations:     map[uint64]model.Reservation{},
		staff:            map[uint64]model.StaffUser{},
		emailClaims:      map[string]chan struct{}{},
		numberClaims:     map[string]chan struct{}{},
		instanceLocks:    map[uint64]chan struct{}{},
		reservationLocks: map[uint64]chan struct{}{},
	}
}

func (s *MemoryStore) nextIDLocked() uint64 {
	s.nextID++
	return s.nextID
}

func emailKey(orgID uint64, email string) string {
	return fmt.Sprintf("%d:%s", orgID, model.NormalizeEmail(email))
}

func numberKey(orgID uint64, number string) string {
	return fmt.Sprintf("%d:%s", orgID, number)
}

// ---- seeding helpers (used by tests and demo wiring) ----

// SeedOrganization inserts an organization and returns it.
func (s *MemoryStore) SeedOrganization(slug, name string) model.Organization {
	s.mu.Lock()
	defer s.mu.Unlock()
	org := model.Organization{
		ID: s.nextIDLocked(), Slug: slug, Name: name,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	s.orgs[org.ID] = org
	s.orgsBySlug[slug] = org.ID
	return org
}

// SeedTemplate inserts an activity template and returns it.
func (s *MemoryStore) SeedTemplate(orgID uint64, kind, name string, capacity, priceCents uint32) model.ActivityTemplate {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := model.ActivityTemplate{
		ID: s.nextIDLocked(), OrganizationID: orgID, Kind: kind, Name: name,
		Capacity: capacity, PriceCents: priceCents, Active: true,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	s.templates[t.ID] = t
	return t
}

// SeedInstance inserts an activity instance and returns it.  Capacity and
// price overrides may be nil to fall back to the template defaults.
func (s *MemoryStore) SeedInstance(orgID, templateID uint64, startsAt time.Time, status string, capacity, priceCents *uint32) model.ActivityInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst := model.ActivityInstance{
		ID: s.nextIDLocked(), OrganizationID: orgID, TemplateID: templateID,
		StartsAt: startsAt, Capacity: capacity, PriceCents: priceCents, Status: status,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	s.instances[inst.ID] = inst
	return inst
}

// SetInstanceCapacity changes an instance's capacity override in place,
// mirroring staff scheduling tooling shrinking or growing a departure.
func (s *MemoryStore) SetInstanceCapacity(instanceID uint64, capacity *uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return
	}
	inst.Capacity = capacity
	inst.UpdatedAt = time.Now().UTC()
	s.instances[instanceID] = inst
}

// Customers returns copies of all customer rows in the organization,
// for test assertions.
func (s *MemoryStore) Customers(orgID uint64) []model.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Customer
	for _, c := range s.customers {
		if c.OrganizationID == orgID {
			out = append(out, c)
		}
	}
	return out
}

// Reservations returns copies of all reservation rows in the
// organization, for test assertions.
func (s *MemoryStore) Reservations(orgID uint64) []model.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Reservation
	for _, r := range s.reservations {
		if r.OrganizationID == orgID {
			out = append(out, r)
		}
	}
	return out
}

// ---- Store ----

func (s *MemoryStore) GetOrganizationBySlug(ctx context.Context, slug string) (*model.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.orgsBySlug[slug]
	if !ok {
		return nil, ErrNotFound
	}
	org := s.orgs[id]
	return &org, nil
}

func (s *MemoryStore) GetInstance(ctx context.Context, scope tenant.Scope, instanceID uint64) (*model.ActivityInstance, error) {
	if !scope.Valid() {
		return nil, tenant.ErrTenantUnresolved
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instanceLocked(scope, instanceID)
}

// instanceLocked returns a copy of the instance with its template fields
// joined.  Caller holds s.mu.
func (s *MemoryStore) instanceLocked(scope tenant.Scope, instanceID uint64) (*model.ActivityInstance, error) {
	inst, ok := s.instances[instanceID]
	if !ok || inst.OrganizationID != scope.OrganizationID {
		return nil, ErrNotFound
	}
	tmpl, ok := s.templates[inst.TemplateID]
	if !ok {
		return nil, ErrNotFound
	}
	inst.TemplateKind = tmpl.Kind
	inst.TemplateName = tmpl.Name
	inst.TemplateCapacity = tmpl.Capacity
	inst.TemplatePrice = tmpl.PriceCents
	return &inst, nil
}

func (s *MemoryStore) CountCommitted(ctx context.Context, scope tenant.Scope, instanceID uint64) (uint32, error) {
	if !scope.Valid() {
		return 0, tenant.ErrTenantUnresolved
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countCommittedLocked(scope, instanceID), nil
}

func (s *MemoryStore) countCommittedLocked(scope tenant.Scope, instanceID uint64) uint32 {
	var total uint32
	for _, r := range s.reservations {
		if r.OrganizationID == scope.OrganizationID && r.InstanceID == instanceID && model.Counted(r.Status) {
			total += r.Participants
		}
	}
	return total
}

func (s *MemoryStore) GetReservationByNumber(ctx context.Context, scope tenant.Scope, number string) (*model.Reservation, error) {
	if !scope.Valid() {
		return nil, tenant.ErrTenantUnresolved
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reservations {
		if r.OrganizationID == scope.OrganizationID && r.Number == number {
			out := r
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CreateStaffUser(ctx context.Context, scope tenant.Scope, u *model.StaffUser) error {
	if !scope.Valid() {
		return tenant.ErrTenantUnresolved
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email := model.NormalizeEmail(u.Email)
	for _, existing := range s.staff {
		if existing.OrganizationID == scope.OrganizationID && existing.Email == email {
			return ErrDuplicate
		}
	}
	u.ID = s.nextIDLocked()
	u.OrganizationID = scope.OrganizationID
	u.Email = email
	u.IsActive = true
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	s.staff[u.ID] = *u
	return nil
}

func (s *MemoryStore) GetStaffUserByEmail(ctx context.Context, scope tenant.Scope, email string) (*model.StaffUser, error) {
	if !scope.Valid() {
		return nil, tenant.ErrTenantUnresolved
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	norm := model.NormalizeEmail(email)
	for _, u := range s.staff {
		if u.OrganizationID == scope.OrganizationID && u.Email == norm {
			out := u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) WithinTx(ctx context.Context, scope tenant.Scope, fn func(tx Tx) error) error {
	if !scope.Valid() {
		return tenant.ErrTenantUnresolved
	}
	tx := &memoryTx{
		s:                  s,
		scope:              scope,
		stagedCustomers:    map[uint64]model.Customer{},
		stagedReservations: map[uint64]model.Reservation{},
	}
	if err := fn(tx); err != nil {
		tx.finish(false)
		return err
	}
	tx.finish(true)
	return nil
}

// memoryTx stages writes until commit.  Uniqueness claims are taken
// eagerly at insert time so two in-flight transactions cannot both stage
// the same email or reservation number; claims are released when the
// transaction finishes either way.
type memoryTx struct {
	s     *MemoryStore
	scope tenant.Scope

	heldLocks          []uint64
	heldResLocks       []uint64
	claimedEmails      []string
	claimedNumbers     []string
	stagedCustomers    map[uint64]model.Customer
	stagedReservations map[uint64]model.Reservation
	done               bool
}

// finish applies or discards staged writes, then releases claims and row
// locks.  Locks release last so a competing transaction observes the
// committed state once it acquires them; claim channels close so blocked
// inserters wake and re-check.
func (t *memoryTx) finish(commit bool) {
	if t.done {
		return
	}
	t.done = true
	t.s.mu.Lock()
	if commit {
		for id, c := range t.stagedCustomers {
			t.s.customers[id] = c
		}
		for id, r := range t.stagedReservations {
			t.s.reservations[id] = r
		}
	}
	for _, k := range t.claimedEmails {
		if ch, ok := t.s.emailClaims[k]; ok {
			close(ch)
			delete(t.s.emailClaims, k)
		}
	}
	for _, k := range t.claimedNumbers {
		if ch, ok := t.s.numberClaims[k]; ok {
			close(ch)
			delete(t.s.numberClaims, k)
		}
	}
	locks := make([]chan struct{}, 0, len(t.heldLocks)+len(t.heldResLocks))
	for _, id := range t.heldLocks {
		locks = append(locks, t.s.instanceLocks[id])
	}
	for _, id := range t.heldResLocks {
		locks = append(locks, t.s.reservationLocks[id])
	}
	t.s.mu.Unlock()
	for _, ch := range locks {
		<-ch
	}
}

func (t *memoryTx) LockInstance(ctx context.Context, instanceID uint64) (*model.ActivityInstance, error) {
	t.s.mu.Lock()
	if _, err := t.s.instanceLocked(t.scope, instanceID); err != nil {
		t.s.mu.Unlock()
		return nil, err
	}
	ch, ok := t.s.instanceLocks[instanceID]
	if !ok {
		ch = make(chan struct{}, 1)
		t.s.instanceLocks[instanceID] = ch
	}
	t.s.mu.Unlock()

	// Bounded wait on the exclusive lock; a deadline hit maps to ErrBusy
	// exactly like a lock wait timeout in MySQL.
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrBusy
		}
		return nil, ctx.Err()
	}
	t.heldLocks = append(t.heldLocks, instanceID)

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.instanceLocked(t.scope, instanceID)
}

func (t *memoryTx) CountCommitted(ctx context.Context, instanceID uint64) (uint32, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var total uint32
	for id, r := range t.s.reservations {
		if _, staged := t.stagedReservations[id]; staged {
			continue // staged version below supersedes the committed row
		}
		if r.OrganizationID == t.scope.OrganizationID && r.InstanceID == instanceID && model.Counted(r.Status) {
			total += r.Participants
		}
	}
	for _, r := range t.stagedReservations {
		if r.InstanceID == instanceID && model.Counted(r.Status) {
			total += r.Participants
		}
	}
	return total, nil
}

func (t *memoryTx) FindCustomerByEmail(ctx context.Context, email string) (*model.Customer, error) {
	norm := model.NormalizeEmail(email)
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, c := range t.stagedCustomers {
		if c.Email == norm {
			out := c
			return &out, nil
		}
	}
	for _, c := range t.s.customers {
		if c.OrganizationID == t.scope.OrganizationID && c.Email == norm {
			out := c
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) InsertCustomer(ctx context.Context, c *model.Customer) error {
	norm := model.NormalizeEmail(c.Email)
	key := emailKey(t.scope.OrganizationID, norm)
	for {
		t.s.mu.Lock()
		for _, existing := range t.s.customers {
			if existing.OrganizationID == t.scope.OrganizationID && existing.Email == norm {
				t.s.mu.Unlock()
				return ErrDuplicate
			}
		}
		if held, ok := t.s.emailClaims[key]; ok {
			t.s.mu.Unlock()
			// A competing transaction holds the index lock on this email.
			// Block until it finishes, then re-check what it left behind:
			// a committed row becomes ErrDuplicate, a rollback frees the
			// claim.
			if err := waitClaim(ctx, held); err != nil {
				return err
			}
			continue
		}
		t.s.emailClaims[key] = make(chan struct{})
		t.claimedEmails = append(t.claimedEmails, key)

		c.ID = t.s.nextIDLocked()
		c.OrganizationID = t.scope.OrganizationID
		c.Email = norm
		c.CreatedAt = time.Now().UTC()
		c.UpdatedAt = c.CreatedAt
		t.stagedCustomers[c.ID] = *c
		t.s.mu.Unlock()
		return nil
	}
}

// waitClaim blocks until a competing transaction's uniqueness claim is
// released.  A deadline hit maps to ErrBusy exactly like an index lock
// wait timeout in MySQL.
func waitClaim(ctx context.Context, held chan struct{}) error {
	select {
	case <-held:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrBusy
		}
		return ctx.Err()
	}
}

func (t *memoryTx) UpdateCustomerProfile(ctx context.Context, c *model.Customer) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if staged, ok := t.stagedCustomers[c.ID]; ok {
		staged.FirstName, staged.LastName, staged.Phone = c.FirstName, c.LastName, c.Phone
		staged.UpdatedAt = time.Now().UTC()
		t.stagedCustomers[c.ID] = staged
		return nil
	}
	existing, ok := t.s.customers[c.ID]
	if !ok || existing.OrganizationID != t.scope.OrganizationID {
		return ErrNotFound
	}
	existing.FirstName, existing.LastName, existing.Phone = c.FirstName, c.LastName, c.Phone
	existing.UpdatedAt = time.Now().UTC()
	t.stagedCustomers[c.ID] = existing
	return nil
}

func (t *memoryTx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	key := numberKey(t.scope.OrganizationID, r.Number)
	for {
		t.s.mu.Lock()
		for _, existing := range t.s.reservations {
			if existing.OrganizationID == t.scope.OrganizationID && existing.Number == r.Number {
				t.s.mu.Unlock()
				return ErrDuplicate
			}
		}
		if held, ok := t.s.numberClaims[key]; ok {
			t.s.mu.Unlock()
			if err := waitClaim(ctx, held); err != nil {
				return err
			}
			continue
		}
		t.s.numberClaims[key] = make(chan struct{})
		t.claimedNumbers = append(t.claimedNumbers, key)

		r.ID = t.s.nextIDLocked()
		r.OrganizationID = t.scope.OrganizationID
		r.CreatedAt = time.Now().UTC()
		r.UpdatedAt = r.CreatedAt
		t.stagedReservations[r.ID] = *r
		t.s.mu.Unlock()
		return nil
	}
}

// GetReservationByNumber acquires the reservation's exclusive row lock
// before returning it, so two transactions mutating the same reservation
// serialize and each reads the state the previous one committed.
func (t *memoryTx) GetReservationByNumber(ctx context.Context, number string) (*model.Reservation, error) {
	t.s.mu.Lock()
	for _, r := range t.stagedReservations {
		if r.Number == number {
			out := r
			t.s.mu.Unlock()
			return &out, nil
		}
	}
	var id uint64
	for rid, r := range t.s.reservations {
		if r.OrganizationID == t.scope.OrganizationID && r.Number == number {
			id = rid
			break
		}
	}
	if id == 0 {
		t.s.mu.Unlock()
		return nil, ErrNotFound
	}
	ch, ok := t.s.reservationLocks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		t.s.reservationLocks[id] = ch
	}
	held := false
	for _, h := range t.heldResLocks {
		if h == id {
			held = true
			break
		}
	}
	t.s.mu.Unlock()

	if !held {
		select {
		case ch <- struct{}{}:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrBusy
			}
			return nil, ctx.Err()
		}
		t.heldResLocks = append(t.heldResLocks, id)
	}

	// Re-read once the lock is held: the transaction we waited on may
	// have committed a newer version.
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	r, ok := t.s.reservations[id]
	if !ok || r.OrganizationID != t.scope.OrganizationID {
		return nil, ErrNotFound
	}
	out := r
	return &out, nil
}

func (t *memoryTx) UpdateReservation(ctx context.Context, r *model.Reservation) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.stagedReservations[r.ID]; !ok {
		existing, ok := t.s.reservations[r.ID]
		if !ok || existing.OrganizationID != t.scope.OrganizationID {
			return ErrNotFound
		}
	}
	updated := *r
	updated.OrganizationID = t.scope.OrganizationID
	updated.UpdatedAt = time.Now().UTC()
	t.stagedReservations[r.ID] = updated
	return nil
}
