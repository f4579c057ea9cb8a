package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseEngine implements Engine over a ClickHouse connection.
type ClickHouseEngine struct {
	conn driver.Conn
	log  *slog.Logger
}

// NewClickHouseEngine opens a read-only ClickHouse connection and pings it.
func NewClickHouseEngine(ctx context.Context, log *slog.Logger, addr, database, username, password string) (*ClickHouseEngine, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"readonly":           1,
			"max_execution_time": 10,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	log.Info("ClickHouse preview engine initialized", "addr", addr, "database", database)
	return &ClickHouseEngine{conn: conn, log: log}, nil
}

// Close releases the connection.
func (e *ClickHouseEngine) Close() error {
	return e.conn.Close()
}

// Query executes a parameterized query, reading at most rowCap rows. Rows
// beyond the cap are discarded and reported via Truncated.
func (e *ClickHouseEngine) Query(ctx context.Context, sql string, args []any, rowCap int) (*Sample, error) {
	rows, err := e.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	colTypes := rows.ColumnTypes()
	cols := make([]Column, len(colTypes))
	for i, ct := range colTypes {
		cols[i] = Column{
			Name:         ct.Name(),
			DatabaseType: ct.DatabaseTypeName(),
			Numeric:      isNumericScanType(ct.ScanType()),
		}
	}

	sample := &Sample{Columns: cols}
	for rows.Next() {
		if len(sample.Rows) >= rowCap {
			sample.Truncated = true
			break
		}
		dest := make([]any, len(colTypes))
		for i, ct := range colTypes {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan preview row: %w", err)
		}
		row := make([]any, len(dest))
		for i, v := range dest {
			row[i] = reflect.ValueOf(v).Elem().Interface()
		}
		sample.Rows = append(sample.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err)
	}
	return sample, nil
}

func isNumericScanType(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// translateError maps executor-reported conditions to the preview error
// taxonomy. ClickHouse reports both timeouts and memory/row limits through
// server exceptions.
func translateError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout exceeded"), strings.Contains(msg, "max_execution_time"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case strings.Contains(msg, "memory limit"), strings.Contains(msg, "too many rows"), strings.Contains(msg, "result rows"):
		return fmt.Errorf("%w: %v", ErrTooLarge, err)
	}
	return fmt.Errorf("preview query failed: %w", err)
}
