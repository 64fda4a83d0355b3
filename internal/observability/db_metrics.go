package observability

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"go.mongodb.org/mongo-driver/mongo"
)

var pgClasses = map[string]string{
	pgerrcode.UniqueViolation:      "unique_violation",
	pgerrcode.SerializationFailure: "serialization_failure",
	pgerrcode.DeadlockDetected:     "deadlock",
	pgerrcode.QueryCanceled:        "query_canceled",
	pgerrcode.CheckViolation:       "check_violation",
}

// ObserveDB times one logical store operation. Domain answers such as a
// missing user or a taken email count as successful round trips.
func (p *Prom) ObserveDB(op string, fn func() error) error {
	start := time.Now()
	err := fn()

	status := "ok"
	if err != nil && !isDomainOutcome(err) {
		status = "error"
		p.DbErrorsTotal.WithLabelValues(op, classifyDBErr(err)).Inc()
	}
	p.DbQueryDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())

	return err
}

func isDomainOutcome(err error) bool {
	return errors.Is(err, user.ErrNotFound) ||
		errors.Is(err, user.ErrEmailTaken) ||
		errors.Is(err, user.ErrUsernameTaken)
}

func classifyDBErr(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if class, known := pgClasses[pgErr.Code]; known {
			return class
		}
		return "pg_" + pgErr.Code
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), mongo.IsTimeout(err):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case mongo.IsDuplicateKeyError(err):
		return "unique_violation"
	case mongo.IsNetworkError(err), strings.Contains(strings.ToLower(err.Error()), "connection"):
		return "connection"
	default:
		return "unknown"
	}
}
