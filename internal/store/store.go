package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/gray-logic-devicecore/internal/device"
	"github.com/nerrad567/gray-logic-devicecore/internal/liveness"
)

const (
	// defaultScratchSize is the initial capacity of the shared encode buffer.
	defaultScratchSize = 64 * 1024

	// MaxDocumentSize bounds the JSON accepted by ApplyJSON.
	MaxDocumentSize = 1 << 20
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Rebuilder rebuilds the template runtime from a committed device table.
type Rebuilder interface {
	Rebuild(devices []device.Device)
}

// ChangeNotifier is told about every committed configuration.
type ChangeNotifier interface {
	ConfigChanged(ctx context.Context, cfg *device.Config)
}

// Options configures a Store.
type Options struct {
	// Storage holds the main document. Required.
	Storage Storage

	// Profiles holds per-profile device lists. Required.
	Profiles ProfileStorage

	Rebuilder Rebuilder
	Notifier  ChangeNotifier
	Guard     liveness.Guard
	Logger    Logger

	// ScratchSize is the initial capacity of the shared encode buffer.
	// Zero selects the default; a negative value disables the shared buffer
	// and allocates per call.
	ScratchSize int
}

// Store owns the authoritative device configuration.
//
// Committed configurations are published as immutable snapshots. Every
// mutation stages a new snapshot, persists it and only then publishes it,
// so a failed write leaves the previous snapshot and generation in place.
type Store struct {
	storage   Storage
	profiles  ProfileStorage
	rebuilder Rebuilder
	notifier  ChangeNotifier
	guard     liveness.Guard
	logger    Logger

	// lock serialises mutations and all use of scratch.
	lock        *semaphore.Weighted
	scratch     *bytes.Buffer
	scratchSize int

	current      atomic.Pointer[device.Config]
	ready        atomic.Bool
	persistedGen uint32 // guarded by lock
}

// New creates an uninitialised store. Call Init before use.
func New(opts Options) (*Store, error) {
	if opts.Storage == nil || opts.Profiles == nil {
		return nil, fmt.Errorf("%w: store requires main and profile storage", device.ErrInvalidArgument)
	}
	s := &Store{
		storage:     opts.Storage,
		profiles:    opts.Profiles,
		rebuilder:   opts.Rebuilder,
		notifier:    opts.Notifier,
		guard:       opts.Guard,
		logger:      opts.Logger,
		lock:        semaphore.NewWeighted(1),
		scratchSize: opts.ScratchSize,
	}
	if s.guard == nil {
		s.guard = liveness.Nop{}
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.scratchSize == 0 {
		s.scratchSize = defaultScratchSize
	}
	return s, nil
}

// Get returns the current configuration, or nil before Init.
//
// The snapshot is shared and must not be modified; use Clone to edit it.
func (s *Store) Get() *device.Config {
	return s.current.Load()
}

// Generation returns the generation of the current configuration.
func (s *Store) Generation() uint32 {
	if cfg := s.current.Load(); cfg != nil {
		return cfg.Generation
	}
	return 0
}

// Init loads the stored configuration, falling back to defaults (which are
// then persisted) when it is missing or unreadable. Init is idempotent.
func (s *Store) Init(ctx context.Context) error {
	if s.ready.Load() {
		return nil
	}
	if err := s.acquire(ctx, "init"); err != nil {
		return err
	}
	defer s.release("init")

	if s.ready.Load() {
		return nil
	}
	if s.scratchSize > 0 && s.scratch == nil {
		s.scratch = bytes.NewBuffer(make([]byte, 0, s.scratchSize))
	}

	writeCtx := context.WithoutCancel(ctx)
	cfg, err := s.loadMain(ctx)
	fromDefaults := err != nil
	if fromDefaults {
		s.logger.Warn("using default device configuration", "error", err)
		cfg = device.Defaults()
	} else {
		cfg.Generation++
	}

	device.EnsureActiveProfile(cfg)
	if err := s.syncFromActive(ctx, cfg); err != nil {
		s.logger.Warn("keeping main file devices for active profile",
			"profile", cfg.ActiveProfile,
			"error", err,
		)
	}
	syncToActive(cfg)

	if fromDefaults {
		if err := s.persist(writeCtx, cfg); err != nil {
			s.logger.Error("persisting default configuration failed", "error", err)
		}
	}

	s.current.Store(cfg)
	s.ready.Store(true)
	s.rebuild(cfg)

	s.logger.Info("device configuration loaded",
		"generation", cfg.Generation,
		"devices", len(cfg.Devices),
		"profiles", len(cfg.Profiles),
		"active_profile", cfg.ActiveProfile,
		"defaults", fromDefaults,
	)
	return nil
}

// Apply validates next, copies it into the store and persists it.
//
// next is not retained. When next carries no profiles the current profile
// table is kept, and an empty active profile keeps the current one. The
// devices become the active profile's device list.
func (s *Store) Apply(ctx context.Context, next *device.Config) error {
	return s.apply(ctx, next, "")
}

// ApplyJSON decodes data and applies it. A non-empty profileID makes that
// profile active and stores the devices under it.
func (s *Store) ApplyJSON(ctx context.Context, profileID string, data []byte) error {
	if len(data) > MaxDocumentSize {
		return fmt.Errorf("%w: configuration document is %d bytes (max %d)", device.ErrInvalidArgument, len(data), MaxDocumentSize)
	}
	next, err := device.DecodeConfig(data)
	if err != nil {
		return err
	}
	if profileID != "" {
		next.ActiveProfile = profileID
	}
	return s.apply(ctx, next, profileID)
}

func (s *Store) apply(ctx context.Context, next *device.Config, requireProfile string) error {
	if !s.ready.Load() {
		return errNotReady
	}
	if next == nil {
		return fmt.Errorf("%w: nil configuration", device.ErrInvalidArgument)
	}
	if err := device.ValidateConfig(next); err != nil {
		return err
	}

	return s.mutate(ctx, mutation{
		op:      "apply",
		persist: true,
		stage: func(_ context.Context, cur *device.Config) (*device.Config, error) {
			staged := s.copyConfig(next)
			if len(staged.Profiles) == 0 {
				staged.Profiles = cur.CloneHeader().Profiles
			}
			if staged.ActiveProfile == "" {
				staged.ActiveProfile = cur.ActiveProfile
			}
			if requireProfile != "" && staged.Profile(requireProfile) == nil {
				return nil, fmt.Errorf("%w: profile %s", device.ErrNotFound, requireProfile)
			}
			device.Normalize(staged)
			device.EnsureActiveProfile(staged)
			syncToActive(staged)
			return staged, nil
		},
	})
}

// Reload re-reads the main document. On a read or parse failure the current
// configuration is left untouched and the error is returned.
func (s *Store) Reload(ctx context.Context) error {
	if !s.ready.Load() {
		return errNotReady
	}
	loaded, err := s.loadMain(ctx)
	if err != nil {
		return err
	}

	return s.mutate(ctx, mutation{
		op: "reload",
		stage: func(ctx context.Context, _ *device.Config) (*device.Config, error) {
			staged := s.copyConfig(loaded)
			device.EnsureActiveProfile(staged)
			if err := s.syncFromActive(ctx, staged); err != nil {
				s.logger.Warn("keeping main file devices for active profile",
					"profile", staged.ActiveProfile,
					"error", err,
				)
			}
			syncToActive(staged)
			return staged, nil
		},
	})
}

// SaveSnapshot writes the current configuration and the active profile's
// device list, whether or not they changed.
func (s *Store) SaveSnapshot(ctx context.Context) error {
	if !s.ready.Load() {
		return errNotReady
	}
	if err := s.acquire(ctx, "save_snapshot"); err != nil {
		return err
	}
	defer s.release("save_snapshot")

	cfg := s.current.Load()
	if err := s.persist(context.WithoutCancel(ctx), cfg); err != nil {
		return err
	}
	s.logger.Info("device configuration saved", "generation", cfg.Generation)
	return nil
}

// SyncFile writes the current configuration if its generation has not been
// persisted yet, as after Init or Reload. It reports whether it wrote.
func (s *Store) SyncFile(ctx context.Context) (bool, error) {
	if !s.ready.Load() {
		return false, errNotReady
	}
	if err := s.acquire(ctx, "sync_file"); err != nil {
		return false, err
	}
	defer s.release("sync_file")

	cfg := s.current.Load()
	if cfg.Generation == s.persistedGen {
		return false, nil
	}
	if err := s.persist(context.WithoutCancel(ctx), cfg); err != nil {
		return false, err
	}
	s.logger.Debug("device configuration synced", "generation", cfg.Generation)
	return true, nil
}

// Export returns the persisted form of the current configuration. With a
// profileID naming an inactive profile, the document shows that profile as
// active with its stored devices.
func (s *Store) Export(ctx context.Context, profileID string) ([]byte, error) {
	if !s.ready.Load() {
		return nil, errNotReady
	}
	if err := s.acquire(ctx, "export"); err != nil {
		return nil, err
	}
	defer s.release("export")

	view := s.current.Load()
	if profileID != "" && !view.IsActive(profileID) {
		p := view.Profile(profileID)
		if p == nil {
			return nil, fmt.Errorf("%w: profile %s", device.ErrNotFound, profileID)
		}
		other := view.CloneHeader()
		other.ActiveProfile = p.ID
		devices, err := s.loadProfileDevices(ctx, p.ID)
		if err != nil && !errors.Is(err, device.ErrNotFound) {
			return nil, err
		}
		other.Devices = devices
		view = other
	}

	buf := s.buffer()
	if err := device.WriteConfig(buf, view); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

// FindScenario returns a copy of a device's scenario from the current
// configuration.
func (s *Store) FindScenario(deviceID, scenarioID string) (device.Scenario, error) {
	cfg := s.current.Load()
	if cfg == nil {
		return device.Scenario{}, errNotReady
	}
	d := cfg.Device(deviceID)
	if d == nil {
		return device.Scenario{}, fmt.Errorf("%w: device %s", device.ErrNotFound, deviceID)
	}
	sc := d.Scenario(scenarioID)
	if sc == nil {
		return device.Scenario{}, fmt.Errorf("%w: scenario %s on device %s", device.ErrNotFound, scenarioID, deviceID)
	}
	return sc.Clone(), nil
}

var errNotReady = fmt.Errorf("%w: device store not initialised", device.ErrInvalidState)

// mutation describes one committed change.
type mutation struct {
	op string

	// persist writes the staged configuration before publishing it.
	persist bool

	// stage builds the next configuration from the current one. Returning
	// a nil configuration and nil error makes the mutation a no-op.
	stage func(ctx context.Context, cur *device.Config) (*device.Config, error)

	// committed runs under the lock after a successful publish.
	committed func(ctx context.Context, cfg *device.Config)
}

// mutate runs m under the lock. The new snapshot gets the next generation
// and is published only after it has been persisted.
func (s *Store) mutate(ctx context.Context, m mutation) error {
	if !s.ready.Load() {
		return errNotReady
	}
	if err := s.acquire(ctx, m.op); err != nil {
		return err
	}

	writeCtx := context.WithoutCancel(ctx)
	cfg, err := func() (*device.Config, error) {
		defer s.release(m.op)

		cur := s.current.Load()
		staged, err := m.stage(writeCtx, cur)
		if err != nil || staged == nil {
			return nil, err
		}
		staged.Generation = cur.Generation + 1

		if m.persist {
			if err := s.persist(writeCtx, staged); err != nil {
				s.logger.Error("device configuration not committed",
					"operation", m.op,
					"generation", cur.Generation,
					"error", err,
				)
				return nil, err
			}
		}

		s.current.Store(staged)
		s.rebuild(staged)
		if m.committed != nil {
			m.committed(writeCtx, staged)
		}
		return staged, nil
	}()
	if err != nil || cfg == nil {
		return err
	}

	s.logger.Info("device configuration committed",
		"operation", m.op,
		"generation", cfg.Generation,
		"devices", len(cfg.Devices),
		"active_profile", cfg.ActiveProfile,
	)
	if s.notifier != nil {
		s.notifier.ConfigChanged(ctx, cfg)
	}
	return nil
}

// persist writes the active profile's device list, then the main document.
// If the main document cannot be stored the profile document is put back
// the way it was. The caller holds the lock.
func (s *Store) persist(ctx context.Context, cfg *device.Config) error {
	buf := s.buffer()
	if err := device.WriteProfileDevices(buf, cfg.ActiveProfile, cfg.Devices); err != nil {
		return err
	}

	prev, prevErr := s.profiles.LoadProfile(ctx, cfg.ActiveProfile)
	if prevErr != nil && !errors.Is(prevErr, device.ErrNotFound) {
		return fmt.Errorf("%w: reading profile %s: %w", device.ErrStorage, cfg.ActiveProfile, prevErr)
	}

	s.guard.Feed()
	if err := s.profiles.SaveProfile(ctx, cfg.ActiveProfile, buf.Bytes()); err != nil {
		return fmt.Errorf("%w: storing profile %s: %w", device.ErrStorage, cfg.ActiveProfile, err)
	}

	buf.Reset()
	if err := device.WriteConfig(buf, cfg); err != nil {
		s.restoreProfile(ctx, cfg.ActiveProfile, prev, prevErr)
		return err
	}
	s.guard.Feed()
	if err := s.storage.Save(ctx, buf.Bytes()); err != nil {
		s.restoreProfile(ctx, cfg.ActiveProfile, prev, prevErr)
		return fmt.Errorf("%w: storing configuration: %w", device.ErrStorage, err)
	}
	s.persistedGen = cfg.Generation
	return nil
}

// restoreProfile puts back the profile document persist replaced. A profile
// that had no document before has its new one removed.
func (s *Store) restoreProfile(ctx context.Context, id string, prev []byte, prevErr error) {
	var err error
	if prevErr != nil {
		err = s.profiles.DeleteProfile(ctx, id)
	} else {
		err = s.profiles.SaveProfile(ctx, id, prev)
	}
	if err != nil {
		s.logger.Error("profile document not restored",
			"profile", id,
			"error", err,
		)
	}
}

// buffer returns the shared scratch buffer, emptied. The caller holds the
// lock. Without a shared buffer a fresh one is returned.
func (s *Store) buffer() *bytes.Buffer {
	if s.scratch == nil {
		return new(bytes.Buffer)
	}
	s.scratch.Reset()
	return s.scratch
}

func (s *Store) loadMain(ctx context.Context) (*device.Config, error) {
	data, err := s.storage.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loading configuration: %w", device.ErrStorage, err)
	}
	cfg, err := device.DecodeConfig(data)
	if err != nil {
		return nil, err
	}
	device.Normalize(cfg)
	return cfg, nil
}

func (s *Store) loadProfileDevices(ctx context.Context, id string) ([]device.Device, error) {
	data, err := s.profiles.LoadProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	devices, err := device.DecodeProfileDevices(data)
	if err != nil {
		return nil, err
	}
	return device.NormalizeDevices(devices), nil
}

// syncFromActive replaces cfg's devices with the active profile's stored
// list. A profile with nothing stored keeps the current devices.
func (s *Store) syncFromActive(ctx context.Context, cfg *device.Config) error {
	devices, err := s.loadProfileDevices(ctx, cfg.ActiveProfile)
	if errors.Is(err, device.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	cfg.Devices = devices
	return nil
}

// syncToActive records the live device count on the active profile.
func syncToActive(cfg *device.Config) {
	if p := cfg.Profile(cfg.ActiveProfile); p != nil {
		p.DeviceCount = len(cfg.Devices)
	}
}

func (s *Store) rebuild(cfg *device.Config) {
	if s.rebuilder != nil {
		s.rebuilder.Rebuild(cfg.Devices)
	}
}
