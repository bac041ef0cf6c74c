package reservation

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/lib/pq"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-fairpass/internal/inventory/db"
)

// SQLSTATE codes a retry can get past.
var retryableCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled (statement_timeout)
	"57P01": true, // admin_shutdown
	"57P03": true, // cannot_connect_now
	"53300": true, // too_many_connections
}

func retryableSQLState(code string) bool {
	if retryableCodes[code] {
		return true
	}
	// class 08: connection exception
	return len(code) == 5 && code[:2] == "08"
}

// isRetryableStoreError decides whether a store failure is worth repeating.
// Works for both lib/pq and bun's pgdriver.
func isRetryableStoreError(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return retryableSQLState(string(pqErr.Code))
	}

	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return retryableSQLState(pgErr.Field('C'))
	}

	switch {
	case errors.Is(err, db.ErrTicketStateChanged):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return true
	case errors.Is(err, context.Canceled):
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
