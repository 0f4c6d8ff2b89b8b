package doorman

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/doorman-core/doorman/db/clientdb"
	"github.com/doorman-core/doorman/db/clientpg"
	"github.com/doorman-core/doorman/pkg/guard"
	"github.com/doorman-core/doorman/pkg/memstore"
	"github.com/doorman-core/doorman/pkg/netmap"
	"github.com/doorman-core/doorman/pkg/sensor"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Core is the boundary exposed to the host. It owns the scoring engine, the
// netmap lists, the storage backend, and the sensor listeners. All methods
// are safe for concurrent use by arbitrarily many host threads.
type Core struct {
	Log       zerolog.Logger
	Guard     *guard.Guard
	Whitelist *netmap.List
	Proxylist *netmap.List

	storage guard.ClientStorage
	rdb     *redis.Client
	cancel  context.CancelFunc
}

// Open builds a Core from c: parses the netmap lists, opens the configured
// storage, starts the sensor listeners, and clears stale connection counts
// left over from a previous run (retrying once after a second, then
// proceeding regardless).
func Open(c Config, log zerolog.Logger) (*Core, error) {
	wl, err := netmap.ParseList(c.Whitelist, log)
	if err != nil {
		return nil, fmt.Errorf("parse whitelist: %w", err)
	}
	pl, err := netmap.ParseList(c.Proxylist, log)
	if err != nil {
		return nil, fmt.Errorf("parse proxylist: %w", err)
	}

	st := guard.NewState()
	st.T1Epsilon = c.T1Epsilon
	st.T1AttackEpsilon = c.T1AttackEpsilon
	st.T2Epsilon = c.T2Epsilon
	st.T2AttackEpsilon = c.T2AttackEpsilon
	st.T2InitialAccessMultiplier = c.T2InitialAccessMultiplier

	storage, err := configureStorage(c)
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}

	core := &Core{
		Log: log,
		Guard: &guard.Guard{
			Storage: storage,
			State:   st,
			Log:     log,
		},
		Whitelist: wl,
		Proxylist: pl,
		storage:   storage,
	}

	ctx, cancel := context.WithCancel(context.Background())
	core.cancel = cancel

	if c.UnderAttackChannel != "" || c.T1ThresholdChannel != "" || c.T2ThresholdChannel != "" {
		core.rdb = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		(&sensor.Listener{
			Client: core.rdb,
			State:  st,
			Log:    log,
		}).Start(ctx, c.UnderAttackChannel, c.T1ThresholdChannel, c.T2ThresholdChannel)
	}

	if err := storage.ClearConnections(ctx); err != nil {
		log.Warn().Err(err).Msg("first try at clearing connections failed; sleeping one second and trying again")
		time.Sleep(time.Second)
		if err := storage.ClearConnections(ctx); err != nil {
			log.Error().Err(err).Msg("second try at clearing connections failed; getting on with it")
		}
	}
	return core, nil
}

// OpenPath loads the configuration file at path and opens a Core from it.
func OpenPath(path string, log zerolog.Logger) (*Core, error) {
	c, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return Open(c, log)
}

func configureStorage(c Config) (guard.ClientStorage, error) {
	typ, arg, _ := strings.Cut(c.Storage, ":")
	switch typ {
	case "memory":
		return memstore.NewClientStore(), nil
	case "sqlite3":
		if arg == "" {
			return nil, fmt.Errorf("sqlite3 storage: missing filename")
		}
		db, err := clientdb.Open(arg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite3 %q: %w", arg, err)
		}
		cur, tgt, err := db.Version()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("get sqlite3 %q schema version: %w", arg, err)
		}
		if cur > tgt {
			db.Close()
			return nil, fmt.Errorf("sqlite3 %q schema version %d is too new (expected <= %d)", arg, cur, tgt)
		}
		if cur != tgt {
			if err := db.MigrateUp(context.Background(), tgt); err != nil {
				db.Close()
				return nil, fmt.Errorf("migrate sqlite3 %q to schema version %d: %w", arg, tgt, err)
			}
		}
		return db, nil
	case "postgres":
		db, err := clientpg.Open(c.User, c.Password, c.DBName)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.EnsureSchema(context.Background()); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure postgres schema: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", typ)
	}
}

// Close stops the sensor listeners and releases the storage backend.
func (c *Core) Close() error {
	c.cancel()
	if c.rdb != nil {
		c.rdb.Close()
	}
	if cl, ok := c.storage.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// identity converts a raw identity span from the host into a string, cutting
// it at a NUL terminator if one is present.
func identity(id []byte) string {
	if i := bytes.IndexByte(id, 0); i >= 0 {
		id = id[:i]
	}
	return string(id)
}

// GetBin returns the request-phase verdict (0 allow, 1 soft block, 2 hard
// block) for the raw identity span id.
func (c *Core) GetBin(id []byte) int {
	return int(c.Guard.GetBin(context.Background(), identity(id)))
}

// Connecting returns the connection-phase verdict for id. Every admitted
// Connecting must be paired with a Disconnected for the same identity.
func (c *Core) Connecting(id []byte) int {
	return int(c.Guard.Connecting(context.Background(), identity(id)))
}

// Disconnected records the end of a connection for id.
func (c *Core) Disconnected(id []byte) {
	c.Guard.Disconnected(context.Background(), identity(id))
}

// Misbehaved reports misbehavior of the given weight for id. A zero weight is
// a no-op.
func (c *Core) Misbehaved(weight int, id []byte) {
	c.Guard.Misbehaved(context.Background(), identity(id), weight)
}

// IsInWhitelist reports whether the address in the raw span addr is covered
// by the whitelist.
func (c *Core) IsInWhitelist(addr []byte) bool {
	return c.Whitelist.ContainsString(identity(addr))
}

// IsInProxylist reports whether the address in the raw span addr is covered
// by the proxy list.
func (c *Core) IsInProxylist(addr []byte) bool {
	return c.Proxylist.ContainsString(identity(addr))
}
