package store

import (
	"context"
	"log/slog"

	"github.com/hrygo/deskpet/internal/profile"
)

// Store provides access to all persisted state through one KV driver.
type Store struct {
	profile  *profile.Profile
	driver   KV
	degraded bool

	// Typed domain stores
	Sessions  *SessionStore
	Users     *UserProfileStore
	PetConfig *PetConfigStore
}

// New creates a new instance of Store on top of the given driver.
func New(driver KV, profile *profile.Profile) *Store {
	return &Store{
		profile:   profile,
		driver:    driver,
		Sessions:  NewSessionStore(driver),
		Users:     NewUserProfileStore(driver),
		PetConfig: NewPetConfigStore(driver),
	}
}

// Dial connects to Redis, falling back to the in-process driver when the
// server is unreachable. The fallback keeps full operation semantics but
// loses persistence and TTL enforcement across restarts.
func Dial(ctx context.Context, profile *profile.Profile) *Store {
	redisKV := NewRedisKV(profile)
	if err := redisKV.Ping(ctx); err != nil {
		slog.Warn("redis unreachable, falling back to in-memory store; data will not survive restarts",
			"host", profile.RedisHost,
			"port", profile.RedisPort,
			"error", err,
		)
		_ = redisKV.Close()
		s := New(NewMemoryKV(), profile)
		s.degraded = true
		return s
	}
	slog.Info("connected to redis", "host", profile.RedisHost, "port", profile.RedisPort, "db", profile.RedisDB)
	return New(redisKV, profile)
}

// Degraded reports whether the store is running on the in-memory fallback.
func (s *Store) Degraded() bool {
	return s.degraded
}

func (s *Store) GetDriver() KV {
	return s.driver
}

// Ping verifies the underlying driver is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.Ping(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}
