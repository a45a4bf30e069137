package authcore

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/itrimble/securewatch-auth/internal/limiters"
	"github.com/itrimble/securewatch-auth/metrics"
	"github.com/itrimble/securewatch-auth/mfa"
	"github.com/itrimble/securewatch-auth/password"
	"github.com/itrimble/securewatch-auth/ratelimit"
	"github.com/itrimble/securewatch-auth/rbac"
	"github.com/itrimble/securewatch-auth/token"
)

// Builder assembles an [Engine] from its stores and configuration.
// Configure during initialization, call Build once, then treat the engine
// as immutable.
type Builder struct {
	config Config

	redis      redis.UniversalClient
	users      UserStore
	rbacStore  rbac.Store
	mfaStore   mfa.MethodStore
	auditSink  AuditSink
	collectors *metrics.Metrics

	built bool
}

// New returns a Builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

func (b *Builder) WithRBACStore(store rbac.Store) *Builder {
	b.rbacStore = store
	return b
}

func (b *Builder) WithMFAStore(store mfa.MethodStore) *Builder {
	b.mfaStore = store
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetrics attaches pre-registered collectors. Without it the engine
// runs uninstrumented.
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.collectors = m
	return b
}

// Build validates the configuration, constructs the subsystems, and
// returns the engine. A builder can only be used once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.rbacStore == nil {
		return nil, errors.New("rbac store required")
	}
	if b.mfaStore == nil {
		return nil, errors.New("mfa method store required")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(b.config.Password)
	if err != nil {
		return nil, err
	}

	manager, err := token.NewManager(b.config.Token)
	if err != nil {
		return nil, err
	}

	mfaService, err := mfa.NewService(b.config.MFA, b.redis, b.mfaStore)
	if err != nil {
		return nil, err
	}

	resolver, err := rbac.NewResolver(b.rbacStore, b.config.AdminPriority)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     b.config,
		users:      b.users,
		rbac:       resolver,
		mfa:        mfaService,
		hasher:     hasher,
		tokens:     manager,
		sessions:   token.NewStore(b.redis),
		limiter:    ratelimit.New(b.redis, b.config.RateLimit),
		lockout:    limiters.NewLockoutLimiter(b.redis, b.config.Lockout),
		challenges: newChallengeStore(b.redis),
		mfaLogin:   newMFALoginStore(b.redis),
		audit:      newAuditDispatcher(b.config.Audit, b.auditSink),
		metrics:    b.collectors,
	}

	b.built = true
	return engine, nil
}
