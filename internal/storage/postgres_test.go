// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monisens/monisens/pkg/driver"
)

func temperatureCatalog() []driver.SensorTypeInfo {
	return []driver.SensorTypeInfo{
		{
			Name: "temperature",
			Fields: []driver.DataField{
				{Name: "measured_at", Type: driver.TypeTimestamp},
				{Name: "celsius", Type: driver.TypeFloat64},
			},
		},
	}
}

func TestPostgresRecorder_EnsureSensorTables(t *testing.T) {
	tests := []struct {
		name      string
		catalog   []driver.SensorTypeInfo
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   bool
		errMsg    string
	}{
		{
			name:    "creates one table per sensor",
			catalog: temperatureCatalog(),
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`CREATE TABLE device_7_temperature \(received_at TIMESTAMP NOT NULL, measured_at TIMESTAMP, celsius DOUBLE PRECISION\)`).
					WillReturnResult(pgxmock.NewResult("CREATE", 0))
			},
			wantErr: false,
		},
		{
			name: "maps every column type",
			catalog: []driver.SensorTypeInfo{
				{
					Name: "mixed",
					Fields: []driver.DataField{
						{Name: "a", Type: driver.TypeInt16},
						{Name: "b", Type: driver.TypeInt32},
						{Name: "c", Type: driver.TypeInt64},
						{Name: "d", Type: driver.TypeFloat32},
						{Name: "e", Type: driver.TypeString},
						{Name: "f", Type: driver.TypeJSON},
					},
				},
			},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`CREATE TABLE device_7_mixed \(received_at TIMESTAMP NOT NULL, a SMALLINT, b INTEGER, c BIGINT, d REAL, e TEXT, f JSONB\)`).
					WillReturnResult(pgxmock.NewResult("CREATE", 0))
			},
			wantErr: false,
		},
		{
			name:    "existing table is left untouched",
			catalog: temperatureCatalog(),
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`CREATE TABLE device_7_temperature`).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.DuplicateTable})
			},
			wantErr: false,
		},
		{
			name:    "database error surfaces",
			catalog: temperatureCatalog(),
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`CREATE TABLE device_7_temperature`).
					WillReturnError(errors.New("connection refused"))
			},
			wantErr: true,
			errMsg:  "connection refused",
		},
		{
			name: "rejects sensor name that is not an identifier",
			catalog: []driver.SensorTypeInfo{
				{Name: "temp; DROP TABLE readings", Fields: []driver.DataField{{Name: "v", Type: driver.TypeInt32}}},
			},
			setupMock: func(pgxmock.PgxPoolIface) {},
			wantErr:   true,
			errMsg:    "not a valid identifier",
		},
		{
			name: "rejects field name that is not an identifier",
			catalog: []driver.SensorTypeInfo{
				{Name: "temperature", Fields: []driver.DataField{{Name: "Celsius", Type: driver.TypeFloat64}}},
			},
			setupMock: func(pgxmock.PgxPoolIface) {},
			wantErr:   true,
			errMsg:    "not a valid identifier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			rec := NewPostgresRecorderWithPool(mock)
			err = rec.EnsureSensorTables(context.Background(), 7, tt.catalog)

			if tt.wantErr {
				require.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				require.NoError(t, err)
			}

			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestPostgresRecorder_Record(t *testing.T) {
	measured := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	tests := []struct {
		name      string
		msg       driver.SensorMessage
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   bool
		errMsg    string
	}{
		{
			name: "successful insert",
			msg: driver.SensorMessage{
				Sensor: "temperature",
				Values: []driver.SensorValue{
					{Name: "measured_at", Type: driver.TypeTimestamp, Value: measured.UnixMilli()},
					{Name: "celsius", Type: driver.TypeFloat64, Value: 21.5},
				},
			},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO device_7_temperature \(received_at, measured_at, celsius\) VALUES \(\$1, \$2, \$3\)`).
					WithArgs(pgxmock.AnyArg(), measured, 21.5).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
			wantErr: false,
		},
		{
			name: "database error surfaces",
			msg: driver.SensorMessage{
				Sensor: "temperature",
				Values: []driver.SensorValue{
					{Name: "celsius", Type: driver.TypeFloat64, Value: 21.5},
				},
			},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO device_7_temperature`).
					WithArgs(pgxmock.AnyArg(), 21.5).
					WillReturnError(errors.New("disk full"))
			},
			wantErr: true,
			errMsg:  "disk full",
		},
		{
			name: "rejects sensor name that is not an identifier",
			msg: driver.SensorMessage{
				Sensor: "temp'--",
				Values: []driver.SensorValue{{Name: "v", Type: driver.TypeInt32, Value: int32(1)}},
			},
			setupMock: func(pgxmock.PgxPoolIface) {},
			wantErr:   true,
			errMsg:    "not a valid identifier",
		},
		{
			name: "rejects field name that is not an identifier",
			msg: driver.SensorMessage{
				Sensor: "temperature",
				Values: []driver.SensorValue{{Name: "1celsius", Type: driver.TypeFloat64, Value: 21.5}},
			},
			setupMock: func(pgxmock.PgxPoolIface) {},
			wantErr:   true,
			errMsg:    "not a valid identifier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			rec := NewPostgresRecorderWithPool(mock)
			err = rec.Record(context.Background(), 7, tt.msg)

			if tt.wantErr {
				require.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				require.NoError(t, err)
			}

			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestSQLValue_TimestampConversion(t *testing.T) {
	measured := time.Date(2026, 3, 14, 9, 26, 53, 123000000, time.UTC)

	got := sqlValue(driver.SensorValue{
		Name:  "measured_at",
		Type:  driver.TypeTimestamp,
		Value: measured.UnixMilli(),
	})

	ts, ok := got.(time.Time)
	require.True(t, ok, "timestamp values convert to time.Time")
	assert.True(t, ts.Equal(measured))
	assert.Equal(t, time.UTC, ts.Location())
}

func TestSQLValue_PassThrough(t *testing.T) {
	assert.Equal(t, int32(42), sqlValue(driver.SensorValue{Name: "v", Type: driver.TypeInt32, Value: int32(42)}))
	assert.Equal(t, "ok", sqlValue(driver.SensorValue{Name: "v", Type: driver.TypeString, Value: "ok"}))

	// A mistyped timestamp payload is passed through unconverted.
	assert.Equal(t, "2026-03-14", sqlValue(driver.SensorValue{Name: "v", Type: driver.TypeTimestamp, Value: "2026-03-14"}))
}

func TestTableName(t *testing.T) {
	name, err := tableName(3, "heartbeat")
	require.NoError(t, err)
	assert.Equal(t, "device_3_heartbeat", name)

	_, err = tableName(3, "Heart-Beat")
	require.Error(t, err)
}

func TestDiscardRecorder(t *testing.T) {
	var rec Recorder = Discard{}

	assert.NoError(t, rec.EnsureSensorTables(context.Background(), 1, temperatureCatalog()))
	assert.NoError(t, rec.Record(context.Background(), 1, driver.SensorMessage{Sensor: "temperature"}))
	rec.Close()
}

// The pool interface stays pgxmock-compatible.
func TestRecorderInterface(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	defer mock.Close()

	var _ Recorder = NewPostgresRecorderWithPool(mock)
}
