// Package storage is the account/roster persistence layer. It backs
// SASL PLAIN authentication and the jabber:iq:roster handler — the
// spec's stanza-persistence Non-goal does not apply here, since
// nothing routed through the core is ever written to disk.
package storage

import (
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/xmp3io/xmp3/storage/model"
)

// Repository is the storage contract the auth and roster components
// depend on.
type Repository interface {
	FetchUser(username string) (*model.User, error)
	UpsertUser(u *model.User) error
	FetchRoster(username string) ([]model.RosterItem, error)
}

// SQLRepository implements Repository over database/sql, building
// queries with squirrel so the same code works unmodified across the
// mysql/postgres/sqlite drivers wired in by the caller (see Open).
type SQLRepository struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	cb      *gobreaker.CircuitBreaker
}

// driverPlaceholder maps a database/sql driver name to squirrel's
// placeholder format for it.
func driverPlaceholder(driverName string) sq.PlaceholderFormat {
	if driverName == "postgres" {
		return sq.Dollar
	}
	return sq.Question
}

// Open opens driverName/dataSourceName (one of "mysql", "postgres",
// "sqlite3") and wraps all calls in a circuit breaker so a flapping
// database cannot stall the single-threaded reactor indefinitely on
// retries.
func Open(driverName, dataSourceName string) (*SQLRepository, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: open %s", driverName)
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "storage",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
	})
	return &SQLRepository{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(driverPlaceholder(driverName)),
		cb:      cb,
	}, nil
}

func (r *SQLRepository) FetchUser(username string) (*model.User, error) {
	row, err := r.cb.Execute(func() (interface{}, error) {
		query, args, err := r.builder.
			Select("username", "password_hash", "logged_out_at").
			From("users").
			Where(sq.Eq{"username": username}).
			ToSql()
		if err != nil {
			return nil, err
		}
		var u model.User
		var loggedOutAt sql.NullTime
		err = r.db.QueryRow(query, args...).Scan(&u.Username, &u.PasswordHash, &loggedOutAt)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if loggedOutAt.Valid {
			u.LoggedOutAt = loggedOutAt.Time
		}
		return &u, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "storage: fetch user")
	}
	if row == nil {
		return nil, nil
	}
	return row.(*model.User), nil
}

// UpsertUser writes u with a plain INSERT into users; an existing row
// for the same username is not updated.
func (r *SQLRepository) UpsertUser(u *model.User) error {
	_, err := r.cb.Execute(func() (interface{}, error) {
		query, args, err := r.builder.
			Insert("users").
			Columns("username", "password_hash", "logged_out_at").
			Values(u.Username, u.PasswordHash, u.LoggedOutAt).
			ToSql()
		if err != nil {
			return nil, err
		}
		_, err = r.db.Exec(query, args...)
		return nil, err
	})
	return errors.Wrap(err, "storage: upsert user")
}

func (r *SQLRepository) FetchRoster(username string) ([]model.RosterItem, error) {
	rows, err := r.cb.Execute(func() (interface{}, error) {
		query, args, err := r.builder.
			Select("username", "contact_jid", "name", "subscription").
			From("roster_items").
			Where(sq.Eq{"username": username}).
			ToSql()
		if err != nil {
			return nil, err
		}
		sqlRows, err := r.db.Query(query, args...)
		if err != nil {
			return nil, err
		}
		defer sqlRows.Close()

		var items []model.RosterItem
		for sqlRows.Next() {
			var item model.RosterItem
			if err := sqlRows.Scan(&item.Username, &item.ContactJID, &item.Name, &item.Subscription); err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, sqlRows.Err()
	})
	if err != nil {
		return nil, errors.Wrap(err, "storage: fetch roster")
	}
	if rows == nil {
		return nil, nil
	}
	return rows.([]model.RosterItem), nil
}

// Close releases the underlying database connection pool.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}
