package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/shooter51/divestreams-server/internal/model"
	"github.com/shooter51/divestreams-server/internal/tenant"
)

// MySQL error numbers this store translates into sentinel errors.
const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// MySQLStore implements Store on top of a MySQL connection pool.  The
// organization filter is appended to every statement here, at the storage
// layer, so handlers and services cannot issue an unscoped query by
// accident.  The pool's innodb_lock_wait_timeout (set in the DSN) bounds
// every SELECT ... FOR UPDATE wait.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore returns a MySQLStore bound to the given pool.
func NewMySQLStore(db *sql.DB) *MySQLStore { return &MySQLStore{db: db} }

// mapErr translates driver and context errors into the package sentinels.
// Unrecognized errors are wrapped so the storage detail survives logging
// without the caller depending on it.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrBusy
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlErrDuplicateEntry:
			return ErrDuplicate
		case mysqlErrLockWaitTimeout, mysqlErrDeadlock:
			return ErrBusy
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func requireScope(scope tenant.Scope) error {
	if !scope.Valid() {
		return tenant.ErrTenantUnresolved
	}
	return nil
}

func (s *MySQLStore) GetOrganizationBySlug(ctx context.Context, slug string) (*model.Organization, error) {
	const q = `SELECT id, slug, name, created_at, updated_at FROM organizations WHERE slug = ?`
	var org model.Organization
	err := s.db.QueryRowContext(ctx, q, slug).Scan(
		&org.ID, &org.Slug, &org.Name, &org.CreatedAt, &org.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr("get organization", err)
	}
	return &org, nil
}

func (s *MySQLStore) GetInstance(ctx context.Context, scope tenant.Scope, instanceID uint64) (*model.ActivityInstance, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	return getInstance(ctx, s.db, scope, instanceID, false)
}

func (s *MySQLStore) CountCommitted(ctx context.Context, scope tenant.Scope, instanceID uint64) (uint32, error) {
	if err := requireScope(scope); err != nil {
		return 0, err
	}
	return countCommitted(ctx, s.db, scope, instanceID)
}

func (s *MySQLStore) GetReservationByNumber(ctx context.Context, scope tenant.Scope, number string) (*model.Reservation, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	return getReservationByNumber(ctx, s.db, scope, number, false)
}

func (s *MySQLStore) CreateStaffUser(ctx context.Context, scope tenant.Scope, u *model.StaffUser) error {
	if err := requireScope(scope); err != nil {
		return err
	}
	const q = `INSERT INTO staff_users (organization_id, email, password_hash, role, is_active)
	           VALUES (?, ?, ?, ?, TRUE)`
	res, err := s.db.ExecContext(ctx, q, scope.OrganizationID, u.Email, u.PasswordHash, u.Role)
	if err != nil {
		return mapErr("create staff user", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return mapErr("create staff user", err)
	}
	u.ID = uint64(id)
	u.OrganizationID = scope.OrganizationID
	u.IsActive = true
	return nil
}

func (s *MySQLStore) GetStaffUserByEmail(ctx context.Context, scope tenant.Scope, email string) (*model.StaffUser, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	const q = `SELECT id, organization_id, email, password_hash, role, is_active, created_at, updated_at
	           FROM staff_users WHERE organization_id = ? AND email = ? LIMIT 1`
	var u model.StaffUser
	err := s.db.QueryRowContext(ctx, q, scope.OrganizationID, model.NormalizeEmail(email)).Scan(
		&u.ID, &u.OrganizationID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr("get staff user", err)
	}
	return &u, nil
}

// WithinTx opens a transaction bound to the scope and runs fn inside it.
// Any error rolls the whole transaction back before it crosses this
// boundary, so a failed admission leaves no customer or reservation rows
// behind.
func (s *MySQLStore) WithinTx(ctx context.Context, scope tenant.Scope, fn func(tx Tx) error) error {
	if err := requireScope(scope); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr("begin tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&mysqlTx{tx: tx, scope: scope}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapErr("commit tx", err)
	}
	committed = true
	return nil
}

// mysqlTx carries the *sql.Tx together with the scope it was opened with.
// The scope is fixed for the transaction's lifetime and cleared with it,
// so bindings never outlive the request onto a pooled connection.
type mysqlTx struct {
	tx    *sql.Tx
	scope tenant.Scope
}

func (t *mysqlTx) LockInstance(ctx context.Context, instanceID uint64) (*model.ActivityInstance, error) {
	return getInstance(ctx, t.tx, t.scope, instanceID, true)
}

func (t *mysqlTx) CountCommitted(ctx context.Context, instanceID uint64) (uint32, error) {
	return countCommitted(ctx, t.tx, t.scope, instanceID)
}

func (t *mysqlTx) FindCustomerByEmail(ctx context.Context, email string) (*model.Customer, error) {
	const q = `SELECT id, organization_id, email, first_name, last_name, phone, created_at, updated_at
	           FROM customers WHERE organization_id = ? AND email = ? LIMIT 1`
	var c model.Customer
	err := t.tx.QueryRowContext(ctx, q, t.scope.OrganizationID, model.NormalizeEmail(email)).Scan(
		&c.ID, &c.OrganizationID, &c.Email, &c.FirstName, &c.LastName, &c.Phone,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr("find customer", err)
	}
	return &c, nil
}

func (t *mysqlTx) InsertCustomer(ctx context.Context, c *model.Customer) error {
	const q = `INSERT INTO customers (organization_id, email, first_name, last_name, phone)
	           VALUES (?, ?, ?, ?, ?)`
	res, err := t.tx.ExecContext(ctx, q,
		t.scope.OrganizationID, model.NormalizeEmail(c.Email), c.FirstName, c.LastName, c.Phone)
	if err != nil {
		return mapErr("insert customer", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return mapErr("insert customer", err)
	}
	c.ID = uint64(id)
	c.OrganizationID = t.scope.OrganizationID
	return nil
}

func (t *mysqlTx) UpdateCustomerProfile(ctx context.Context, c *model.Customer) error {
	const q = `UPDATE customers SET first_name = ?, last_name = ?, phone = ?
	           WHERE id = ? AND organization_id = ?`
	_, err := t.tx.ExecContext(ctx, q, c.FirstName, c.LastName, c.Phone, c.ID, t.scope.OrganizationID)
	return mapErr("update customer", err)
}

func (t *mysqlTx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	const q = `INSERT INTO reservations
	           (organization_id, instance_id, customer_id, number, kind, participants, status,
	            subtotal_cents, discount_cents, tax_cents, total_cents, paid_cents, payment_status)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := t.tx.ExecContext(ctx, q,
		t.scope.OrganizationID, r.InstanceID, r.CustomerID, r.Number, r.Kind, r.Participants,
		r.Status, r.SubtotalCents, r.DiscountCents, r.TaxCents, r.TotalCents,
		r.PaidCents, r.PaymentStatus)
	if err != nil {
		return mapErr("insert reservation", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return mapErr("insert reservation", err)
	}
	r.ID = uint64(id)
	r.OrganizationID = t.scope.OrganizationID
	return nil
}

func (t *mysqlTx) GetReservationByNumber(ctx context.Context, number string) (*model.Reservation, error) {
	return getReservationByNumber(ctx, t.tx, t.scope, number, true)
}

func (t *mysqlTx) UpdateReservation(ctx context.Context, r *model.Reservation) error {
	const q = `UPDATE reservations
	           SET status = ?, subtotal_cents = ?, discount_cents = ?, tax_cents = ?,
	               total_cents = ?, paid_cents = ?, payment_status = ?
	           WHERE id = ? AND organization_id = ?`
	_, err := t.tx.ExecContext(ctx, q,
		r.Status, r.SubtotalCents, r.DiscountCents, r.TaxCents, r.TotalCents,
		r.PaidCents, r.PaymentStatus, r.ID, t.scope.OrganizationID)
	return mapErr("update reservation", err)
}

// querier is the subset of *sql.DB and *sql.Tx the shared helpers need.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// getInstance reads an activity instance within the scope.  When forUpdate
// is set the instance row is locked exclusively; the template read that
// follows runs without a lock on purpose, so instances sharing a template
// do not serialize against each other.
func getInstance(ctx context.Context, q querier, scope tenant.Scope, instanceID uint64, forUpdate bool) (*model.ActivityInstance, error) {
	query := `SELECT id, organization_id, template_id, starts_at, capacity, price_cents, status,
	                 created_at, updated_at
	          FROM activity_instances WHERE id = ? AND organization_id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		inst     model.ActivityInstance
		capacity sql.NullInt64
		price    sql.NullInt64
	)
	err := q.QueryRowContext(ctx, query, instanceID, scope.OrganizationID).Scan(
		&inst.ID, &inst.OrganizationID, &inst.TemplateID, &inst.StartsAt,
		&capacity, &price, &inst.Status, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr("get instance", err)
	}
	if capacity.Valid {
		v := uint32(capacity.Int64)
		inst.Capacity = &v
	}
	if price.Valid {
		v := uint32(price.Int64)
		inst.PriceCents = &v
	}
	const tmplQ = `SELECT kind, name, capacity, price_cents FROM activity_templates
	               WHERE id = ? AND organization_id = ?`
	err = q.QueryRowContext(ctx, tmplQ, inst.TemplateID, scope.OrganizationID).Scan(
		&inst.TemplateKind, &inst.TemplateName, &inst.TemplateCapacity, &inst.TemplatePrice,
	)
	if err != nil {
		return nil, mapErr("get instance template", err)
	}
	return &inst, nil
}

// countCommitted sums participants over reservations whose status still
// consumes capacity.  The NOT IN list is built from the model vocabulary
// so the capacity resolver and the lifecycle manager can never disagree
// about the counted set.
func countCommitted(ctx context.Context, q querier, scope tenant.Scope, instanceID uint64) (uint32, error) {
	uncounted := model.UncountedStatuses()
	query := `SELECT COALESCE(SUM(participants), 0) FROM reservations
	          WHERE instance_id = ? AND organization_id = ? AND status NOT IN (?`
	args := []interface{}{instanceID, scope.OrganizationID, uncounted[0]}
	for _, st := range uncounted[1:] {
		query += ",?"
		args = append(args, st)
	}
	query += ")"
	var committed uint32
	if err := q.QueryRowContext(ctx, query, args...).Scan(&committed); err != nil {
		return 0, mapErr("count committed", err)
	}
	return committed, nil
}

// getReservationByNumber reads a reservation within the scope.  When
// forUpdate is set the row is locked exclusively, so a lifecycle mutation
// reads the latest committed state rather than the transaction's snapshot
// and concurrent mutations on the same reservation serialize here.
func getReservationByNumber(ctx context.Context, q querier, scope tenant.Scope, number string, forUpdate bool) (*model.Reservation, error) {
	query := `SELECT id, organization_id, instance_id, customer_id, number, kind, participants,
	                 status, subtotal_cents, discount_cents, tax_cents, total_cents,
	                 paid_cents, payment_status, created_at, updated_at
	          FROM reservations WHERE organization_id = ? AND number = ? LIMIT 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var r model.Reservation
	err := q.QueryRowContext(ctx, query, scope.OrganizationID, number).Scan(
		&r.ID, &r.OrganizationID, &r.InstanceID, &r.CustomerID, &r.Number, &r.Kind,
		&r.Participants, &r.Status, &r.SubtotalCents, &r.DiscountCents, &r.TaxCents,
		&r.TotalCents, &r.PaidCents, &r.PaymentStatus, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr("get reservation", err)
	}
	return &r, nil
}
