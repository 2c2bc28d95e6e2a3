package capability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"slices"

	"github.com/redis/go-redis/v9"
	"github.com/zalando/go-keyring"
)

// Always is a probe that always succeeds.
func Always() Probe {
	return func(context.Context) error { return nil }
}

// Never is a probe that always fails.
func Never(reason string) Probe {
	return func(context.Context) error { return errors.New(reason) }
}

// TCP succeeds when addr accepts a TCP connection.
func TCP(addr string) Probe {
	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// Redis succeeds when a redis server at addr answers PING.
func Redis(addr, password string, db int) Probe {
	return func(ctx context.Context) error {
		client := redis.NewClient(&redis.Options{
			Addr:       addr,
			Password:   password,
			DB:         db,
			MaxRetries: -1,
		})
		defer client.Close()
		return client.Ping(ctx).Err()
	}
}

// Revealer turns a stored credential, possibly an encrypted envelope, into
// plaintext.
type Revealer func(ctx context.Context, raw string) (string, error)

func plainText(_ context.Context, raw string) (string, error) { return raw, nil }

// RedisSecret is Redis with the password revealed when the probe runs, so an
// encrypted REDIS_PASSWORD is never sent as-is.
func RedisSecret(addr, password string, db int, reveal Revealer) Probe {
	if password == "" || reveal == nil {
		return Redis(addr, password, db)
	}
	return func(ctx context.Context) error {
		plain, err := reveal(ctx, password)
		if err != nil {
			return fmt.Errorf("redis password: %w", err)
		}
		return Redis(addr, plain, db)(ctx)
	}
}

// AnyOf succeeds as soon as one probe does, trying them in order.
func AnyOf(probes ...Probe) Probe {
	return func(ctx context.Context) error {
		err := errors.New("no probes")
		for _, p := range probes {
			if err = p(ctx); err == nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		return err
	}
}

// SQLDriver succeeds when a database/sql driver called name is linked in.
func SQLDriver(name string) Probe {
	return func(context.Context) error {
		if slices.Contains(sql.Drivers(), name) {
			return nil
		}
		return fmt.Errorf("sql driver %q is not registered", name)
	}
}

// SQLPing succeeds when the database behind dsn answers a ping.
func SQLPing(driver, dsn string) Probe {
	return func(ctx context.Context) error {
		db, err := sql.Open(driver, dsn)
		if err != nil {
			return err
		}
		defer db.Close()
		return db.PingContext(ctx)
	}
}

// DBPing succeeds when an already open database answers a ping.
func DBPing(db *sql.DB) Probe {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

const keyringProbeService = "bootcfg-capability-probe"

// Keyring succeeds when the OS keyring answers a lookup. A missing entry
// still proves the keyring works.
func Keyring() Probe {
	return func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			_, err := keyring.Get(keyringProbeService, "probe")
			if errors.Is(err, keyring.ErrNotFound) {
				err = nil
			}
			errCh <- err
		}()
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
