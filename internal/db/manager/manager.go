package manager

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/vvka-141/pgwarden/internal/db"
	"github.com/vvka-141/pgwarden/internal/logging"
	"github.com/vvka-141/pgwarden/internal/registry"
	"github.com/vvka-141/pgwarden/internal/retry"
	"github.com/vvka-141/pgwarden/internal/stmtcache"
	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

const (
	optPersistent     = "persistent"
	optConnectTimeout = "connect_timeout"
)

var nativePrepareMin = semver.MustParse(pgwarden.NativePrepareMinVersion)

// Manager holds the connection state of one logical caller.
type Manager struct {
	cfg      *pgwarden.Config
	driver   pgwarden.Driver
	registry *registry.Registry
	cache    *stmtcache.Cache
	logger   pgwarden.Logger
	jitter   *retry.Jitter
	now      func() time.Time
	id       string

	target *pgwarden.Target

	handle      pgwarden.Handle
	connectedAt time.Time
	inTx        bool
	emulated    bool
	schema      string
}

// Option configures a Manager.
type Option func(*Manager)

// WithRegistry shares handles through r instead of registry.Default().
func WithRegistry(r *registry.Registry) Option {
	return func(m *Manager) {
		m.registry = r
	}
}

// WithCache uses c instead of stmtcache.Default().
func WithCache(c *stmtcache.Cache) Option {
	return func(m *Manager) {
		m.cache = c
	}
}

// WithLogger sets the logger.
func WithLogger(l pgwarden.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithClock replaces time.Now for recycle decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithConnectJitter customises the wait between connect attempts.
func WithConnectJitter(opts ...retry.JitterOption) Option {
	return func(m *Manager) {
		m.jitter = retry.NewJitter(pgwarden.ConnectJitterMin, pgwarden.ConnectJitterMax, opts...)
	}
}

// WithID overrides the generated manager id.
func WithID(id string) Option {
	return func(m *Manager) {
		m.id = id
	}
}

// New validates cfg and creates a disconnected Manager.
func New(cfg *pgwarden.Config, driver pgwarden.Driver, opts ...Option) (*Manager, error) {
	if driver == nil {
		return nil, fmt.Errorf("driver is required: %w", pgwarden.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	target, err := ResolveTarget(cfg)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:    cfg,
		driver: driver,
		target: target,
		schema: cfg.Schema,
		now:    time.Now,
		jitter: retry.NewJitter(pgwarden.ConnectJitterMin, pgwarden.ConnectJitterMax),
		id:     uuid.NewString(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = registry.Default()
	}
	if m.cache == nil {
		m.cache = stmtcache.Default()
	}
	if m.logger == nil {
		m.logger = logging.NewNullLogger()
	}
	return m, nil
}

// ResolveTarget turns a Config into a connect request. User options are
// merged over the defaults persistent=false and connect_timeout=<configured>;
// the recognised keys are consumed and the rest become server runtime
// parameters.
func ResolveTarget(cfg *pgwarden.Config) (*pgwarden.Target, error) {
	opts := map[string]string{
		optPersistent:     "false",
		optConnectTimeout: strconv.Itoa(int(cfg.ConnectTimeout / time.Second)),
	}
	for k, v := range cfg.Options {
		opts[k] = v
	}

	persistent, err := strconv.ParseBool(opts[optPersistent])
	if err != nil {
		return nil, fmt.Errorf("option %s=%q: %w", optPersistent, opts[optPersistent], pgwarden.ErrInvalidConfig)
	}
	seconds, err := strconv.Atoi(opts[optConnectTimeout])
	if err != nil || seconds < 0 {
		return nil, fmt.Errorf("option %s=%q: %w", optConnectTimeout, opts[optConnectTimeout], pgwarden.ErrInvalidConfig)
	}
	delete(opts, optPersistent)
	delete(opts, optConnectTimeout)

	t := &pgwarden.Target{
		Identity:       cfg.Identity(),
		Host:           cfg.Host,
		Port:           cfg.Port,
		Username:       cfg.Username,
		Password:       cfg.Password,
		Database:       cfg.Database,
		SSLMode:        cfg.SSLMode,
		Options:        opts,
		Persistent:     persistent,
		ConnectTimeout: time.Duration(seconds) * time.Second,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}

	switch {
	case cfg.Address == "":
	case db.IsConnectionString(cfg.Address):
		t.Address = cfg.Address
	default:
		host, port, err := net.SplitHostPort(cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("address %q: %v: %w", cfg.Address, err, pgwarden.ErrInvalidConfig)
		}
		n, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("address %q: invalid port: %w", cfg.Address, pgwarden.ErrInvalidConfig)
		}
		t.Host, t.Port = host, n
	}

	return t, nil
}

// Connect obtains a handle. It is a no-op when already connected.
func (m *Manager) Connect(ctx context.Context) error {
	if m.handle != nil {
		return nil
	}

	attempts := m.cfg.ConnectRetries
	if attempts < 1 {
		attempts = 1
	}

	var (
		h      pgwarden.Handle
		reused bool
		err    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		h, reused, err = m.obtain(ctx)
		if err == nil {
			break
		}
		m.logger.Verbose("connect attempt %d/%d to %s failed: %v", attempt, attempts, m.target.Identity, err)
		if attempt == attempts {
			break
		}
		if serr := m.jitter.Sleep(ctx); serr != nil {
			err = serr
			attempts = attempt
			break
		}
	}
	if err != nil {
		cerr := &pgwarden.ConnectionError{Identity: m.target.Identity, Attempts: attempts, Err: err}
		m.logger.Error("%v", cerr)
		return cerr
	}

	if m.cfg.EmulatePrepares != nil {
		m.emulated = *m.cfg.EmulatePrepares
	} else {
		m.emulated = emulatedFor(h.ServerVersion())
	}

	if !reused && !m.registry.Store(m.target.Identity, h) {
		m.logger.Verbose("handle for %s is in use elsewhere, keeping a private one", m.target.Identity)
	}

	if !m.target.Persistent && m.schema != "" {
		if err := h.SetSchema(ctx, m.schema); err != nil {
			m.cache.DropHandle(m.target.Identity, h)
			_ = m.registry.Invalidate(ctx, m.target.Identity, h)
			return fmt.Errorf("switch to schema %q: %w", m.schema, err)
		}
	}

	m.handle = h
	m.connectedAt = m.now()
	m.logger.Verbose("connected to %s (reused=%t, emulated prepares=%t)", m.target.Identity, reused, m.emulated)
	return nil
}

func (m *Manager) obtain(ctx context.Context) (pgwarden.Handle, bool, error) {
	if h, ok := m.registry.Checkout(m.target.Identity); ok {
		return h, true, nil
	}
	h, err := m.driver.Open(ctx, m.target)
	if err != nil {
		return nil, false, err
	}
	return h, false, nil
}

// emulatedFor reports whether a server of the given version defaults to
// emulated prepares. Versions that cannot be parsed get native prepares.
func emulatedFor(serverVersion string) bool {
	fields := strings.Fields(serverVersion)
	if len(fields) == 0 {
		return false
	}
	v, err := semver.NewVersion(fields[0])
	if err != nil {
		return false
	}
	return v.LessThan(nativePrepareMin)
}

// Disconnect gives up the handle and clears the transaction flag. A shared
// handle is parked in the registry for the next manager; a handle with an
// open transaction is closed instead, so nobody inherits the transaction.
func (m *Manager) Disconnect(ctx context.Context) error {
	h := m.handle
	inTx := m.inTx
	m.handle = nil
	m.inTx = false
	m.connectedAt = time.Time{}
	if h == nil {
		return nil
	}

	var err error
	if inTx {
		err = m.registry.Invalidate(ctx, m.target.Identity, h)
	} else {
		err = m.registry.Release(ctx, m.target.Identity, h)
	}
	if h.IsClosed() {
		m.cache.DropHandle(m.target.Identity, h)
	}
	return err
}

// Reconnect replaces the physical link: the current handle is closed and
// forgotten, then Connect runs.
func (m *Manager) Reconnect(ctx context.Context) error {
	if h := m.handle; h != nil {
		m.handle = nil
		m.inTx = false
		m.cache.DropHandle(m.target.Identity, h)
		if err := m.registry.Invalidate(ctx, m.target.Identity, h); err != nil {
			m.logger.Verbose("closing stale handle for %s: %v", m.target.Identity, err)
		}
	}
	return m.Connect(ctx)
}

// RecycleIfRequired connects when disconnected and renews a connection that
// is dead or older than the recycle time. Nothing happens while a
// transaction is open.
func (m *Manager) RecycleIfRequired(ctx context.Context) error {
	if m.handle == nil {
		return m.Connect(ctx)
	}
	if m.inTx {
		return nil
	}
	if m.handle.IsClosed() {
		m.logger.Verbose("handle for %s is closed, reconnecting", m.target.Identity)
		return m.Reconnect(ctx)
	}
	if m.cfg.ConnectionRecycleTime <= 0 {
		return nil
	}
	if age := m.now().Sub(m.connectedAt); age >= m.cfg.ConnectionRecycleTime {
		m.logger.Verbose("recycling connection to %s after %s", m.target.Identity, age.Round(time.Millisecond))
		return m.Reconnect(ctx)
	}
	return nil
}

// ApplySchema switches the active schema and remembers it for future
// connects. Rejected while a transaction is open. When disconnected the
// schema is only recorded.
func (m *Manager) ApplySchema(ctx context.Context, schema string) error {
	if m.inTx {
		return &pgwarden.TransactionStateError{Op: "switch schema", Active: true}
	}
	if m.handle != nil && schema != "" {
		if err := m.handle.SetSchema(ctx, schema); err != nil {
			return err
		}
	}
	m.schema = schema
	return nil
}

// SetInTransaction records the transaction state.
func (m *Manager) SetInTransaction(active bool) {
	m.inTx = active
}

// Handle returns the current handle, or nil when disconnected.
func (m *Manager) Handle() pgwarden.Handle {
	return m.handle
}

func (m *Manager) Identity() pgwarden.Identity {
	return m.target.Identity
}

func (m *Manager) Target() *pgwarden.Target {
	return m.target
}

func (m *Manager) ConnectedAt() time.Time {
	return m.connectedAt
}

func (m *Manager) InTransaction() bool {
	return m.inTx
}

func (m *Manager) EmulatedPrepares() bool {
	return m.emulated
}

func (m *Manager) Schema() string {
	return m.schema
}

func (m *Manager) ID() string {
	return m.id
}

func (m *Manager) Config() *pgwarden.Config {
	return m.cfg
}

// Cache returns the statement cache the manager purges on handle loss.
func (m *Manager) Cache() *stmtcache.Cache {
	return m.cache
}

// Policy returns the statement-cache settings of the current connection.
func (m *Manager) Policy() stmtcache.Policy {
	return stmtcache.Policy{
		MaxEntries:      m.cfg.MaxPreparedStatements,
		DelayedPrepares: m.cfg.DelayedPrepares,
		Emulated:        m.emulated,
	}
}

var _ pgwarden.Lifecycle = (*Manager)(nil)
