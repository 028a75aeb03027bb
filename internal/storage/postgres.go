// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/monisens/monisens/pkg/driver"
)

// poolIface is the subset of pgxpool.Pool the recorder uses. pgxmock
// satisfies it in tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Close()
}

// identPattern restricts the identifiers interpolated into DDL/DML. Catalog
// names reaching here have passed host validation already; this is the last
// line before SQL text.
var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// PostgresRecorder implements Recorder on PostgreSQL, one table per device
// sensor shaped after the sensor's discovered data fields.
type PostgresRecorder struct {
	pool poolIface
}

// NewPostgresRecorder connects a recorder to the database at dsn.
func NewPostgresRecorder(ctx context.Context, dsn string) (*PostgresRecorder, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.With("operation", "connect recorder").Wrap(err)
	}
	return &PostgresRecorder{pool: pool}, nil
}

// NewPostgresRecorderWithPool wraps an existing pool. For tests.
func NewPostgresRecorderWithPool(pool poolIface) *PostgresRecorder {
	return &PostgresRecorder{pool: pool}
}

// Close closes the connection pool.
func (r *PostgresRecorder) Close() {
	r.pool.Close()
}

// EnsureSensorTables creates one table per sensor in the catalog, named
// device_<id>_<sensor>, with a column per data field plus a received_at
// timestamp. An already existing table is left untouched.
func (r *PostgresRecorder) EnsureSensorTables(ctx context.Context, deviceID int32, catalog []driver.SensorTypeInfo) error {
	for _, info := range catalog {
		ddl, err := createTableSQL(deviceID, info)
		if err != nil {
			return err
		}

		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.DuplicateTable {
				continue
			}
			return oops.With("operation", "create sensor table").
				With("device_id", deviceID).With("sensor", info.Name).
				Wrap(err)
		}
	}
	return nil
}

// Record inserts one sensor reading into the sensor's table.
func (r *PostgresRecorder) Record(ctx context.Context, deviceID int32, msg driver.SensorMessage) error {
	table, err := tableName(deviceID, msg.Sensor)
	if err != nil {
		return err
	}

	cols := make([]string, 0, len(msg.Values)+1)
	placeholders := make([]string, 0, len(msg.Values)+1)
	args := make([]any, 0, len(msg.Values)+1)

	cols = append(cols, "received_at")
	placeholders = append(placeholders, "$1")
	args = append(args, time.Now())

	for i, v := range msg.Values {
		if !identPattern.MatchString(v.Name) {
			return oops.Code("invalid_identifier").
				With("device_id", deviceID).With("field", v.Name).
				Errorf("data field name %q is not a valid identifier", v.Name)
		}
		cols = append(cols, v.Name)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		args = append(args, sqlValue(v))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return oops.With("operation", "record sensor message").
			With("device_id", deviceID).With("sensor", msg.Sensor).
			Wrap(err)
	}
	return nil
}

func tableName(deviceID int32, sensor string) (string, error) {
	if !identPattern.MatchString(sensor) {
		return "", oops.Code("invalid_identifier").
			With("device_id", deviceID).With("sensor", sensor).
			Errorf("sensor name %q is not a valid identifier", sensor)
	}
	return fmt.Sprintf("device_%d_%s", deviceID, sensor), nil
}

func createTableSQL(deviceID int32, info driver.SensorTypeInfo) (string, error) {
	table, err := tableName(deviceID, info.Name)
	if err != nil {
		return "", err
	}

	cols := make([]string, 0, len(info.Fields)+1)
	cols = append(cols, "received_at TIMESTAMP NOT NULL")
	for _, f := range info.Fields {
		if !identPattern.MatchString(f.Name) {
			return "", oops.Code("invalid_identifier").
				With("device_id", deviceID).With("field", f.Name).
				Errorf("data field name %q is not a valid identifier", f.Name)
		}
		cols = append(cols, f.Name+" "+sqlType(f.Type))
	}

	return fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(cols, ", ")), nil
}

// sqlType maps catalog data types onto PostgreSQL column types.
func sqlType(t driver.DataType) string {
	switch t {
	case driver.TypeInt16:
		return "SMALLINT"
	case driver.TypeInt32:
		return "INTEGER"
	case driver.TypeInt64:
		return "BIGINT"
	case driver.TypeFloat32:
		return "REAL"
	case driver.TypeFloat64:
		return "DOUBLE PRECISION"
	case driver.TypeTimestamp:
		return "TIMESTAMP"
	case driver.TypeString:
		return "TEXT"
	case driver.TypeJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

// sqlValue converts an emitted value to its SQL argument form. Timestamps
// travel as Unix milliseconds in the contract.
func sqlValue(v driver.SensorValue) any {
	if v.Type == driver.TypeTimestamp {
		if ms, ok := v.Value.(int64); ok {
			return time.UnixMilli(ms).UTC()
		}
	}
	return v.Value
}
