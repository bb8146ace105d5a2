package health

import (
	"context"
	"database/sql"
	"time"
)

// DefaultCheckTimeout bounds a single dependency check.
const DefaultCheckTimeout = 2 * time.Second

// Ping adapts a ping function (Redis, an HTTP dependency) to a Checker.
func Ping(name string, ping func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, DefaultCheckTimeout)
		defer cancel()
		if err := ping(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// Database checks a SQL pool and reports its connection usage.
func Database(db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, DefaultCheckTimeout)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return Status{Name: "postgres", Healthy: false, Detail: err.Error()}
		}
		st := db.Stats()
		if st.MaxOpenConnections > 0 && st.InUse >= st.MaxOpenConnections && st.WaitCount > 0 {
			return Status{Name: "postgres", Healthy: true, Detail: "connection pool saturated"}
		}
		return Status{Name: "postgres", Healthy: true}
	}
}

// Static reports a fixed status, for subsystems that are on or off by
// configuration (in-memory store, unconfigured providers).
func Static(name string, healthy bool, detail string) Checker {
	return func(ctx context.Context) Status {
		return Status{Name: name, Healthy: healthy, Detail: detail}
	}
}
