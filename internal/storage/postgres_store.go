package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/example/delivery-dispatch/internal/apperrors"
	"github.com/example/delivery-dispatch/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var (
	orderColumns = []string{
		"id", "restaurant_id", "customer_id", "items", "customer_lat", "customer_lng",
		"driver_id", "status", "payment_intent_id", "created_at", "updated_at",
		"accepted_at", "declined_at", "assigned_at",
	}
	requestColumns = []string{
		"id", "driver_id", "order_id", "created_at", "accepted", "accepted_at", "stale", "stale_at",
	}
	driverColumns     = []string{"id", "name", "available", "lat", "lng", "updated_at", "created_at"}
	customerColumns   = []string{"id", "name", "lat", "lng", "created_at"}
	restaurantColumns = []string{"id", "name", "contact", "menu", "created_at"}
	outboxColumns     = []string{"id", "change", "attempts", "last_error", "next_attempt_at", "created_at"}
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

// Migrate applies the embedded goose migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(db, "migrations"); err != nil && !errors.Is(err, goose.ErrNoNextVersion) {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func (p *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func exec(ctx context.Context, q queryer, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, query, args...)
	return err
}

// orders

func (p *PostgresStore) CreateOrder(ctx context.Context, o models.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	lat, lng := coordArgs(o.CustomerLoc)
	err = exec(ctx, p.db, psql.Insert("orders").Columns(orderColumns...).Values(
		o.ID, o.RestaurantID, o.CustomerID, string(items), lat, lng,
		nullString(o.DriverID), string(o.Status), o.PaymentIntentID, o.CreatedAt, o.UpdatedAt,
		o.AcceptedAt, o.DeclinedAt, o.AssignedAt,
	))
	if isUniqueViolation(err) {
		return fmt.Errorf("order %s exists: %w", o.ID, apperrors.ErrConflict)
	}
	return err
}

func (p *PostgresStore) GetOrder(ctx context.Context, id string) (models.Order, error) {
	return getOrder(ctx, p.db, id, false)
}

func getOrder(ctx context.Context, q queryer, id string, lock bool) (models.Order, error) {
	b := psql.Select(orderColumns...).From("orders").Where(sq.Eq{"id": id})
	if lock {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return models.Order{}, err
	}
	o, err := scanOrder(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, fmt.Errorf("order %s: %w", id, apperrors.ErrNotFound)
	}
	return o, err
}

func (p *PostgresStore) ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error) {
	b := psql.Select(orderColumns...).From("orders").OrderBy("created_at DESC")
	if f.CustomerID != "" {
		b = b.Where(sq.Eq{"customer_id": f.CustomerID})
	}
	if f.RestaurantID != "" {
		b = b.Where(sq.Eq{"restaurant_id": f.RestaurantID})
	}
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": string(f.Status)})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateOrder(ctx context.Context, id string, fn func(o *models.Order) error) (models.OrderChange, error) {
	var change models.OrderChange
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := getOrder(ctx, tx, id, true)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := fn(&next); err != nil {
			return err
		}
		if err := writeOrder(ctx, tx, next); err != nil {
			return err
		}
		change = models.OrderChange{Before: cur, After: next, At: next.UpdatedAt}
		return enqueueChange(ctx, tx, change)
	})
	return change, err
}

// writeOrder persists the mutable order columns. Customer location and
// line items are fixed at creation and never rewritten.
func writeOrder(ctx context.Context, q queryer, o models.Order) error {
	return exec(ctx, q, psql.Update("orders").SetMap(map[string]any{
		"driver_id":         nullString(o.DriverID),
		"status":            string(o.Status),
		"payment_intent_id": o.PaymentIntentID,
		"updated_at":        o.UpdatedAt,
		"accepted_at":       o.AcceptedAt,
		"declined_at":       o.DeclinedAt,
		"assigned_at":       o.AssignedAt,
	}).Where(sq.Eq{"id": o.ID}))
}

func scanOrder(s scanner) (models.Order, error) {
	var (
		o              models.Order
		items          []byte
		lat, lng       sql.NullFloat64
		driverID       sql.NullString
		status         string
		acc, dec, asgn sql.NullTime
	)
	if err := s.Scan(&o.ID, &o.RestaurantID, &o.CustomerID, &items, &lat, &lng, &driverID, &status,
		&o.PaymentIntentID, &o.CreatedAt, &o.UpdatedAt, &acc, &dec, &asgn); err != nil {
		return models.Order{}, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return models.Order{}, fmt.Errorf("decode items of order %s: %w", o.ID, err)
	}
	o.CustomerLoc = coordFrom(lat, lng)
	o.DriverID = driverID.String
	o.Status = models.OrderStatus(status)
	o.AcceptedAt = timeFrom(acc)
	o.DeclinedAt = timeFrom(dec)
	o.AssignedAt = timeFrom(asgn)
	return o, nil
}

// driver requests

func (p *PostgresStore) CreateRequestIfAbsent(ctx context.Context, r models.DriverRequest) (models.DriverRequest, bool, error) {
	query, args, err := psql.Insert("driver_requests").Columns(requestColumns...).Values(
		r.ID, r.DriverID, r.OrderID, r.CreatedAt, r.Accepted, r.AcceptedAt, r.Stale, r.StaleAt,
	).Suffix("ON CONFLICT (driver_id, order_id) DO NOTHING RETURNING " + strings.Join(requestColumns, ", ")).ToSql()
	if err != nil {
		return models.DriverRequest{}, false, err
	}
	stored, err := scanRequest(p.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.DriverRequest{}, false, err
	}
	query, args, err = psql.Select(requestColumns...).From("driver_requests").
		Where(sq.Eq{"driver_id": r.DriverID, "order_id": r.OrderID}).ToSql()
	if err != nil {
		return models.DriverRequest{}, false, err
	}
	stored, err = scanRequest(p.db.QueryRowContext(ctx, query, args...))
	return stored, false, err
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (models.DriverRequest, error) {
	return getRequest(ctx, p.db, id, false)
}

func getRequest(ctx context.Context, q queryer, id string, lock bool) (models.DriverRequest, error) {
	b := psql.Select(requestColumns...).From("driver_requests").Where(sq.Eq{"id": id})
	if lock {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return models.DriverRequest{}, err
	}
	r, err := scanRequest(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.DriverRequest{}, fmt.Errorf("driver request %s: %w", id, apperrors.ErrNotFound)
	}
	return r, err
}

func (p *PostgresStore) ListRequestsByDriver(ctx context.Context, driverID string) ([]models.DriverRequest, error) {
	return p.listRequests(ctx, sq.Eq{"driver_id": driverID})
}

func (p *PostgresStore) ListRequestsByOrder(ctx context.Context, orderID string) ([]models.DriverRequest, error) {
	return p.listRequests(ctx, sq.Eq{"order_id": orderID})
}

func (p *PostgresStore) listRequests(ctx context.Context, where sq.Eq) ([]models.DriverRequest, error) {
	query, args, err := psql.Select(requestColumns...).From("driver_requests").
		Where(where).OrderBy("created_at DESC", "id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.DriverRequest, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AcceptRequest(ctx context.Context, id string, fn AcceptFunc) (models.DriverRequest, models.OrderChange, error) {
	var (
		req      models.DriverRequest
		change   models.OrderChange
		conflict error
	)
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := getRequest(ctx, tx, id, true)
		if err != nil {
			return err
		}
		order, err := getOrder(ctx, tx, cur.OrderID, true)
		if err != nil {
			return err
		}
		nextReq := cur
		nextOrder := order.Clone()
		if err := fn(&nextReq, &nextOrder); err != nil {
			if !errors.Is(err, apperrors.ErrConflict) {
				return err
			}
			conflict = err
			req = nextReq
			return writeRequest(ctx, tx, nextReq)
		}
		if err := writeRequest(ctx, tx, nextReq); err != nil {
			return err
		}
		if err := writeOrder(ctx, tx, nextOrder); err != nil {
			return err
		}
		req = nextReq
		change = models.OrderChange{Before: order, After: nextOrder, At: nextOrder.UpdatedAt}
		if !orderChanged(change) {
			return nil
		}
		return enqueueChange(ctx, tx, change)
	})
	if err != nil {
		return models.DriverRequest{}, models.OrderChange{}, err
	}
	if conflict != nil {
		return req, models.OrderChange{}, conflict
	}
	return req, change, nil
}

func writeRequest(ctx context.Context, q queryer, r models.DriverRequest) error {
	return exec(ctx, q, psql.Update("driver_requests").SetMap(map[string]any{
		"accepted":    r.Accepted,
		"accepted_at": r.AcceptedAt,
		"stale":       r.Stale,
		"stale_at":    r.StaleAt,
	}).Where(sq.Eq{"id": r.ID}))
}

func scanRequest(s scanner) (models.DriverRequest, error) {
	var (
		r              models.DriverRequest
		accAt, staleAt sql.NullTime
	)
	if err := s.Scan(&r.ID, &r.DriverID, &r.OrderID, &r.CreatedAt, &r.Accepted, &accAt, &r.Stale, &staleAt); err != nil {
		return models.DriverRequest{}, err
	}
	r.AcceptedAt = timeFrom(accAt)
	r.StaleAt = timeFrom(staleAt)
	return r, nil
}

// outbox

func enqueueChange(ctx context.Context, q queryer, change models.OrderChange) error {
	b, err := json.Marshal(change)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return exec(ctx, q, psql.Insert("order_outbox").
		Columns("order_id", "change", "next_attempt_at", "created_at").
		Values(change.After.ID, string(b), now, now))
}

// ClaimChanges locks due rows with SKIP LOCKED and pushes their next attempt
// past the lease, so concurrent relays split the backlog instead of racing.
func (p *PostgresStore) ClaimChanges(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]OutboxEntry, error) {
	var out []OutboxEntry
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		b := psql.Select(outboxColumns...).From("order_outbox").
			Where(sq.LtOrEq{"next_attempt_at": now}).
			OrderBy("id").
			Suffix("FOR UPDATE SKIP LOCKED")
		if limit > 0 {
			b = b.Limit(uint64(limit))
		}
		query, args, err := b.ToSql()
		if err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		ids := make([]int64, 0)
		for rows.Next() {
			e, err := scanOutbox(rows)
			if err != nil {
				return err
			}
			out = append(out, e)
			ids = append(ids, e.ID)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return exec(ctx, tx, psql.Update("order_outbox").
			Set("next_attempt_at", now.Add(lease)).
			Where(sq.Eq{"id": ids}))
	})
	if err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) MarkChangeSent(ctx context.Context, id int64) error {
	return exec(ctx, p.db, psql.Delete("order_outbox").Where(sq.Eq{"id": id}))
}

func (p *PostgresStore) RetryChange(ctx context.Context, id int64, attempts int, lastErr string, next time.Time) error {
	return exec(ctx, p.db, psql.Update("order_outbox").SetMap(map[string]any{
		"attempts":        attempts,
		"last_error":      lastErr,
		"next_attempt_at": next,
	}).Where(sq.Eq{"id": id}))
}

func scanOutbox(s scanner) (OutboxEntry, error) {
	var (
		e      OutboxEntry
		change []byte
	)
	if err := s.Scan(&e.ID, &change, &e.Attempts, &e.LastError, &e.NextAttemptAt, &e.CreatedAt); err != nil {
		return OutboxEntry{}, err
	}
	if err := json.Unmarshal(change, &e.Change); err != nil {
		return OutboxEntry{}, fmt.Errorf("decode outbox entry %d: %w", e.ID, err)
	}
	return e, nil
}

// drivers

func (p *PostgresStore) UpsertDriver(ctx context.Context, d models.Driver) error {
	lat, lng := coordArgs(d.Location)
	return exec(ctx, p.db, psql.Insert("drivers").Columns(driverColumns...).
		Values(d.ID, d.Name, d.Available, lat, lng, d.UpdatedAt, d.CreatedAt).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, available = EXCLUDED.available, " +
			"lat = EXCLUDED.lat, lng = EXCLUDED.lng, updated_at = EXCLUDED.updated_at"))
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (models.Driver, error) {
	return getDriver(ctx, p.db, id, false)
}

func getDriver(ctx context.Context, q queryer, id string, lock bool) (models.Driver, error) {
	b := psql.Select(driverColumns...).From("drivers").Where(sq.Eq{"id": id})
	if lock {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return models.Driver{}, err
	}
	d, err := scanDriver(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Driver{}, fmt.Errorf("driver %s: %w", id, apperrors.ErrNotFound)
	}
	return d, err
}

func (p *PostgresStore) UpdateDriver(ctx context.Context, id string, fn func(d *models.Driver) error) (models.Driver, error) {
	var out models.Driver
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		d, err := getDriver(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := fn(&d); err != nil {
			return err
		}
		lat, lng := coordArgs(d.Location)
		if err := exec(ctx, tx, psql.Update("drivers").SetMap(map[string]any{
			"name":       d.Name,
			"available":  d.Available,
			"lat":        lat,
			"lng":        lng,
			"updated_at": d.UpdatedAt,
		}).Where(sq.Eq{"id": id})); err != nil {
			return err
		}
		out = d
		return nil
	})
	return out, err
}

func (p *PostgresStore) ListAvailableDrivers(ctx context.Context) ([]models.Driver, error) {
	query, args, err := psql.Select(driverColumns...).From("drivers").
		Where(sq.Eq{"available": true}).OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Driver, 0)
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDriver(s scanner) (models.Driver, error) {
	var (
		d        models.Driver
		lat, lng sql.NullFloat64
	)
	if err := s.Scan(&d.ID, &d.Name, &d.Available, &lat, &lng, &d.UpdatedAt, &d.CreatedAt); err != nil {
		return models.Driver{}, err
	}
	d.Location = coordFrom(lat, lng)
	return d, nil
}

// profiles

func (p *PostgresStore) UpsertCustomer(ctx context.Context, c models.Customer) error {
	lat, lng := coordArgs(c.Location)
	return exec(ctx, p.db, psql.Insert("customers").Columns(customerColumns...).
		Values(c.ID, c.Name, lat, lng, c.CreatedAt).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, lat = EXCLUDED.lat, lng = EXCLUDED.lng"))
}

func (p *PostgresStore) GetCustomer(ctx context.Context, id string) (models.Customer, error) {
	return getCustomer(ctx, p.db, id, false)
}

func getCustomer(ctx context.Context, q queryer, id string, lock bool) (models.Customer, error) {
	b := psql.Select(customerColumns...).From("customers").Where(sq.Eq{"id": id})
	if lock {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return models.Customer{}, err
	}
	var (
		c        models.Customer
		lat, lng sql.NullFloat64
	)
	err = q.QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.Name, &lat, &lng, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Customer{}, fmt.Errorf("customer %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return models.Customer{}, err
	}
	c.Location = coordFrom(lat, lng)
	return c, nil
}

func (p *PostgresStore) UpdateCustomer(ctx context.Context, id string, fn func(c *models.Customer) error) (models.Customer, error) {
	var out models.Customer
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		c, err := getCustomer(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			return err
		}
		lat, lng := coordArgs(c.Location)
		if err := exec(ctx, tx, psql.Update("customers").
			SetMap(map[string]any{"name": c.Name, "lat": lat, "lng": lng}).
			Where(sq.Eq{"id": id})); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

func (p *PostgresStore) UpsertRestaurant(ctx context.Context, r models.Restaurant) error {
	menu, err := json.Marshal(nonNilMenu(r.Menu))
	if err != nil {
		return err
	}
	return exec(ctx, p.db, psql.Insert("restaurants").Columns(restaurantColumns...).
		Values(r.ID, r.Name, r.Contact, string(menu), r.CreatedAt).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, contact = EXCLUDED.contact, menu = EXCLUDED.menu"))
}

func (p *PostgresStore) GetRestaurant(ctx context.Context, id string) (models.Restaurant, error) {
	query, args, err := psql.Select(restaurantColumns...).From("restaurants").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return models.Restaurant{}, err
	}
	r, err := scanRestaurant(p.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Restaurant{}, fmt.Errorf("restaurant %s: %w", id, apperrors.ErrNotFound)
	}
	return r, err
}

func (p *PostgresStore) ListRestaurants(ctx context.Context) ([]models.Restaurant, error) {
	query, args, err := psql.Select(restaurantColumns...).From("restaurants").OrderBy("name").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Restaurant, 0)
	for rows.Next() {
		r, err := scanRestaurant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRestaurant(s scanner) (models.Restaurant, error) {
	var (
		r    models.Restaurant
		menu []byte
	)
	if err := s.Scan(&r.ID, &r.Name, &r.Contact, &menu, &r.CreatedAt); err != nil {
		return models.Restaurant{}, err
	}
	if err := json.Unmarshal(menu, &r.Menu); err != nil {
		return models.Restaurant{}, fmt.Errorf("decode menu of restaurant %s: %w", r.ID, err)
	}
	return r, nil
}

// tokens

func (p *PostgresStore) PutToken(ctx context.Context, t models.DeviceToken) error {
	return exec(ctx, p.db, psql.Insert("device_tokens").
		Columns("role", "account_id", "token", "updated_at").
		Values(string(t.Role), t.AccountID, t.Token, t.UpdatedAt).
		Suffix("ON CONFLICT (role, account_id) DO UPDATE SET token = EXCLUDED.token, updated_at = EXCLUDED.updated_at"))
}

func (p *PostgresStore) GetToken(ctx context.Context, role models.Role, accountID string) (models.DeviceToken, error) {
	query, args, err := psql.Select("role", "account_id", "token", "updated_at").From("device_tokens").
		Where(sq.Eq{"role": string(role), "account_id": accountID}).ToSql()
	if err != nil {
		return models.DeviceToken{}, err
	}
	var (
		t     models.DeviceToken
		rname string
	)
	err = p.db.QueryRowContext(ctx, query, args...).Scan(&rname, &t.AccountID, &t.Token, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DeviceToken{}, fmt.Errorf("token %s/%s: %w", role, accountID, apperrors.ErrNotFound)
	}
	if err != nil {
		return models.DeviceToken{}, err
	}
	t.Role = models.Role(rname)
	return t, nil
}

func coordArgs(c *models.Coord) (any, any) {
	if c == nil {
		return nil, nil
	}
	return c.Lat, c.Lng
}

func coordFrom(lat, lng sql.NullFloat64) *models.Coord {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &models.Coord{Lat: lat.Float64, Lng: lng.Float64}
}

func timeFrom(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNilMenu(m []models.LineItem) []models.LineItem {
	if m == nil {
		return []models.LineItem{}
	}
	return m
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
