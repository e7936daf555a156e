package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-devicecore/internal/device"
)

// memStorage is an in-memory Storage with failure injection.
type memStorage struct {
	mu      sync.Mutex
	data    []byte
	loadErr error
	saveErr error
	saves   int

	// When block is set, Save signals started and then waits on block.
	block   chan struct{}
	started chan struct{}
}

func (m *memStorage) Load(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.data == nil {
		return nil, fmt.Errorf("memory storage: %w", fs.ErrNotExist)
	}
	return append([]byte(nil), m.data...), nil
}

func (m *memStorage) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	block, started := m.block, m.started
	m.mu.Unlock()

	if block != nil {
		started <- struct{}{}
		<-block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data = append([]byte(nil), data...)
	m.saves++
	return nil
}

func (m *memStorage) setSaveErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

func (m *memStorage) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *memStorage) stored(t *testing.T) *device.Config {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, err := device.DecodeConfig(m.data)
	if err != nil {
		t.Fatalf("decoding stored configuration: %v", err)
	}
	return cfg
}

// memProfiles is an in-memory ProfileStorage.
type memProfiles struct {
	mu        sync.Mutex
	data      map[string][]byte
	saveErr   error
	deleteErr error
	deleted   []string
}

func newMemProfiles() *memProfiles {
	return &memProfiles{data: make(map[string][]byte)}
}

func (m *memProfiles) LoadProfile(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[strings.ToLower(id)]
	if !ok {
		return nil, fmt.Errorf("%w: profile %s", device.ErrNotFound, id)
	}
	return append([]byte(nil), data...), nil
}

func (m *memProfiles) SaveProfile(_ context.Context, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data[strings.ToLower(id)] = append([]byte(nil), data...)
	return nil
}

func (m *memProfiles) DeleteProfile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.data, strings.ToLower(id))
	return nil
}

func (m *memProfiles) setSaveErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

func (m *memProfiles) devices(t *testing.T, id string) []device.Device {
	t.Helper()
	data, err := m.LoadProfile(context.Background(), id)
	if err != nil {
		t.Fatalf("loading profile %s: %v", id, err)
	}
	devices, err := device.DecodeProfileDevices(data)
	if err != nil {
		t.Fatalf("decoding profile %s: %v", id, err)
	}
	return devices
}

func (m *memProfiles) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[strings.ToLower(id)]
	return ok
}

// recordingRebuilder captures Rebuild calls.
type recordingRebuilder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recordingRebuilder) Rebuild(devices []device.Device) {
	ids := make([]string, len(devices))
	for i := range devices {
		ids[i] = devices[i].ID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, ids)
}

func (r *recordingRebuilder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// recordingNotifier captures change notifications.
type recordingNotifier struct {
	mu          sync.Mutex
	generations []uint32
}

func (n *recordingNotifier) ConfigChanged(_ context.Context, cfg *device.Config) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.generations = append(n.generations, cfg.Generation)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.generations)
}

// countingGuard counts liveness feeds.
type countingGuard struct {
	mu     sync.Mutex
	feeds  int
	active int
}

func (g *countingGuard) Enter(string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active++
}

func (g *countingGuard) Feed() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.feeds++
}

func (g *countingGuard) Leave(string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active--
}

func (g *countingGuard) snapshot() (feeds, active int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.feeds, g.active
}

type testEnv struct {
	store    *Store
	storage  *memStorage
	profiles *memProfiles
	rebuilds *recordingRebuilder
	notes    *recordingNotifier
	guard    *countingGuard
}

// newTestStore returns an initialised store backed by memory storage.
func newTestStore(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		storage:  &memStorage{},
		profiles: newMemProfiles(),
		rebuilds: &recordingRebuilder{},
		notes:    &recordingNotifier{},
		guard:    &countingGuard{},
	}
	s, err := New(Options{
		Storage:   env.storage,
		Profiles:  env.profiles,
		Rebuilder: env.rebuilds,
		Notifier:  env.notes,
		Guard:     env.guard,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	env.store = s
	return env
}

// reopen starts a second store over env's storage, as after a restart.
func (env *testEnv) reopen(t *testing.T) *Store {
	t.Helper()
	s, err := New(Options{Storage: env.storage, Profiles: env.profiles})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return s
}

func devicesNamed(ids ...string) []device.Device {
	out := make([]device.Device, len(ids))
	for i, id := range ids {
		out[i] = device.Device{
			ID:   id,
			Name: strings.ToUpper(id),
			Scenarios: []device.Scenario{{
				ID:    "uid_success",
				Steps: []device.Step{{Action: device.Publish{Topic: id + "/open", Payload: "1"}}},
			}},
		}
	}
	return out
}

func configWith(ids ...string) *device.Config {
	return &device.Config{Devices: devicesNamed(ids...)}
}

func deviceIDs(cfg *device.Config) []string {
	ids := make([]string, len(cfg.Devices))
	for i := range cfg.Devices {
		ids[i] = cfg.Devices[i].ID
	}
	return ids
}

func assertProfileInvariant(t *testing.T, cfg *device.Config) {
	t.Helper()
	if len(cfg.Profiles) == 0 {
		t.Fatal("no profiles")
	}
	if cfg.Profile(cfg.ActiveProfile) == nil {
		t.Fatalf("active profile %q does not resolve in %+v", cfg.ActiveProfile, cfg.Profiles)
	}
}

var errDiskFull = errors.New("disk full")
