package workflow

import (
	"context"
	"database/sql"
	"time"

	"gorm.io/gorm"
)

// MySQLLocker uses MySQL advisory locks when redis is not configured.
// GET_LOCK is connection-scoped, so each lock pins one pooled connection
// until release. ttl is ignored: the lock lives as long as the connection.
type MySQLLocker struct {
	DB *gorm.DB
}

func (l *MySQLLocker) Acquire(ctx context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	sqlDB, err := l.DB.DB()
	if err != nil {
		return nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, err
	}

	var ok sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", key).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if !ok.Valid || ok.Int64 != 1 {
		_ = conn.Close()
		return nil, ErrLockNotObtained
	}

	return func(ctx context.Context) error {
		defer conn.Close()
		var released sql.NullInt64
		return conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", key).Scan(&released)
	}, nil
}
