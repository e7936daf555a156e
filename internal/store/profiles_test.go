package store

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/nerrad567/gray-logic-devicecore/internal/device"
)

func TestProfiles_CreateActivatesCopy(t *testing.T) {
	env := newTestStore(t)
	ctx := context.Background()

	if err := env.store.Apply(ctx, configWith("a", "b")); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	gen := env.store.Generation()

	if err := env.store.CreateProfile(ctx, "stage", "", ""); err != nil {
		t.Fatalf("CreateProfile() error = %v", err)
	}

	cfg := env.store.Get()
	if !cfg.IsActive("stage") {
		t.Errorf("ActiveProfile = %q, want stage", cfg.ActiveProfile)
	}
	p := cfg.Profile("stage")
	if p == nil || p.Name != "stage" || p.DeviceCount != 2 {
		t.Errorf("created profile = %+v, want name defaulted to id and 2 devices", p)
	}
	if got := deviceIDs(cfg); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("devices = %v, want copy of the active list", got)
	}
	if got := env.profiles.devices(t, "stage"); len(got) != 2 {
		t.Errorf("stored stage devices = %d, want 2", len(got))
	}
	if env.store.Generation() != gen+1 {
		t.Errorf("generation = %d, want %d", env.store.Generation(), gen+1)
	}
}

func TestProfiles_CreateCloneFrom(t *testing.T) {
	env := newTestStore(t)
	ctx := context.Background()

	if err := env.store.Apply(ctx, configWith("base")); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := env.store.CreateProfile(ctx, "stage", "Stage", ""); err != nil {
		t.Fatalf("CreateProfile() error = %v", err)
	}
	if err := env.store.Apply(ctx, configWith("stage-1", "stage-2")); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	t.Run("from inactive profile", func(t *testing.T) {
		if err := env.store.CreateProfile(ctx, "copy", "Copy", "default"); err != nil {
			t.Fatalf("CreateProfile() error = %v", err)
		}
		if got := deviceIDs(env.store.Get()); !slices.Equal(got, []string{"base"}) {
			t.Errorf("devices = %v, want the default profile's stored list", got)
		}
	})

	t.Run("unknown source uses active", func(t *testing.T) {
		if err := env.store.CreateProfile(ctx, "other", "", "ghost"); err != nil {
			t.Fatalf("CreateProfile() error = %v", err)
		}
		if got := deviceIDs(env.store.Get()); !slices.Equal(got, []string{"base"}) {
			t.Errorf("devices = %v, want the active list", got)
		}
	})
}

func TestProfiles_CreateErrors(t *testing.T) {
	env := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{name: "malformed id", id: "bad id", wantErr: device.ErrInvalidArgument},
		{name: "empty id", id: "", wantErr: device.ErrInvalidArgument},
		{name: "duplicate case-insensitive", id: "DEFAULT", wantErr: device.ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := env.store.Generation()
			err := env.store.CreateProfile(ctx, tt.id, "", "")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateProfile(%q) error = %v, want %v", tt.id, err, tt.wantErr)
			}
			if env.store.Generation() != gen {
				t.Error("generation changed by failed create")
			}
		})
	}

	t.Run("table full", func(t *testing.T) {
		for i := len(env.store.Get().Profiles); i < device.MaxProfiles; i++ {
			if err := env.store.CreateProfile(ctx, string(rune('a'+i)), "", ""); err != nil {
				t.Fatalf("CreateProfile #%d error = %v", i, err)
			}
		}
		err := env.store.CreateProfile(ctx, "overflow", "", "")
		if !errors.Is(err, device.ErrNoMemory) {
			t.Errorf("CreateProfile() error = %v, want ErrNoMemory", err)
		}
	})
}

func TestProfiles_CreateRollsBackOnStorageFailure(t *testing.T) {
	tests := []struct {
		name   string
		inject func(env *testEnv)
	}{
		{name: "main document", inject: func(env *testEnv) { env.storage.setSaveErr(errDiskFull) }},
		{name: "profile document", inject: func(env *testEnv) { env.profiles.setSaveErr(errDiskFull) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestStore(t)
			ctx := context.Background()
			if err := env.store.Apply(ctx, configWith("base")); err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			gen := env.store.Generation()

			tt.inject(env)
			err := env.store.CreateProfile(ctx, "stage", "", "")
			if !errors.Is(err, device.ErrStorage) {
				t.Fatalf("CreateProfile() error = %v, want ErrStorage", err)
			}

			profiles, active := env.store.Profiles()
			if len(profiles) != 1 || active != device.DefaultProfileID {
				t.Errorf("profiles = %+v active = %q after failed create", profiles, active)
			}
			if env.store.Generation() != gen {
				t.Errorf("generation = %d, want %d", env.store.Generation(), gen)
			}
			if env.profiles.has("stage") {
				t.Error("stage profile document left behind")
			}

			restarted := env.reopen(t)
			profiles, active = restarted.Profiles()
			if len(profiles) != 1 || active != device.DefaultProfileID {
				t.Errorf("after restart profiles = %+v active = %q", profiles, active)
			}
			if got := deviceIDs(restarted.Get()); !slices.Equal(got, []string{"base"}) {
				t.Errorf("devices after restart = %v, want [base]", got)
			}
		})
	}
}

func TestProfiles_ActivateFailedPersistLeavesStorage(t *testing.T) {
	tests := []struct {
		name   string
		inject func(env *testEnv)
	}{
		{name: "main document", inject: func(env *testEnv) { env.storage.setSaveErr(errDiskFull) }},
		{name: "profile document", inject: func(env *testEnv) { env.profiles.setSaveErr(errDiskFull) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestStore(t)
			ctx := context.Background()
			if err := env.store.Apply(ctx, configWith("base")); err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if err := env.store.CreateProfile(ctx, "stage", "Stage", ""); err != nil {
				t.Fatalf("CreateProfile() error = %v", err)
			}
			if err := env.store.Apply(ctx, configWith("stage-1")); err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			// The default profile lost its stored list, so activating it
			// starts empty and writes a fresh document.
			if err := env.profiles.DeleteProfile(ctx, device.DefaultProfileID); err != nil {
				t.Fatalf("DeleteProfile() error = %v", err)
			}

			tt.inject(env)
			err := env.store.ActivateProfile(ctx, device.DefaultProfileID)
			if !errors.Is(err, device.ErrStorage) {
				t.Fatalf("ActivateProfile() error = %v, want ErrStorage", err)
			}

			if _, active := env.store.Profiles(); active != "stage" {
				t.Errorf("active = %q after failed activation, want stage", active)
			}
			if env.profiles.has(device.DefaultProfileID) {
				t.Error("default profile document written by failed activation")
			}
			if got := deviceIDs(&device.Config{Devices: env.profiles.devices(t, "stage")}); !slices.Equal(got, []string{"stage-1"}) {
				t.Errorf("stored stage devices = %v, want [stage-1]", got)
			}

			restarted := env.reopen(t)
			if _, active := restarted.Profiles(); active != "stage" {
				t.Errorf("active after restart = %q, want stage", active)
			}
			if got := deviceIDs(restarted.Get()); !slices.Equal(got, []string{"stage-1"}) {
				t.Errorf("devices after restart = %v, want [stage-1]", got)
			}
		})
	}
}

func TestProfiles_Activate(t *testing.T) {
	env := newTestStore(t)
	ctx := context.Background()

	if err := env.store.Apply(ctx, configWith("base")); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := env.store.CreateProfile(ctx, "stage", "", ""); err != nil {
		t.Fatalf("CreateProfile() error = %v", err)
	}
	if err := env.store.Apply(ctx, configWith("stage-only")); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	rebuilds := env.rebuilds.count()

	if err := env.store.ActivateProfile(ctx, "Default"); err != nil {
		t.Fatalf("ActivateProfile() error = %v", err)
	}
	cfg := env.store.Get()
	if !cfg.IsActive("default") {
		t.Errorf("ActiveProfile = %q", cfg.ActiveProfile)
	}
	if got := deviceIDs(cfg); !slices.Equal(got, []string{"base"}) {
		t.Errorf("devices = %v, want the default profile's list", got)
	}
	if env.rebuilds.count() != rebuilds+1 {
		t.Error("registry not rebuilt after activation")
	}

	t.Run("already active is a no-op", func(t *testing.T) {
		gen := env.store.Generation()
		notes := env.notes.count()
		if err := env.store.ActivateProfile(ctx, "default"); err != nil {
			t.Fatalf("ActivateProfile() error = %v", err)
		}
		if env.store.Generation() != gen || env.notes.count() != notes {
			t.Error("no-op activation committed")
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if err := env.store.ActivateProfile(ctx, "ghost"); !errors.Is(err, device.ErrNotFound) {
			t.Errorf("ActivateProfile() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if err := env.store.ActivateProfile(ctx, ""); !errors.Is(err, device.ErrInvalidArgument) {
			t.Errorf("ActivateProfile() error = %v, want ErrInvalidArgument", err)
		}
	})
}

func TestProfiles_Delete(t *testing.T) {
	env := newTestStore(t)
	ctx := context.Background()

	t.Run("last profile", func(t *testing.T) {
		err := env.store.DeleteProfile(ctx, device.DefaultProfileID)
		if !errors.Is(err, device.ErrInvalidState) {
			t.Errorf("DeleteProfile() error = %v, want ErrInvalidState", err)
		}
	})

	if err := env.store.Apply(ctx, configWith("base")); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := env.store.CreateProfile(ctx, "stage", "", ""); err != nil {
		t.Fatalf("CreateProfile() error = %v", err)
	}
	if err := env.store.Apply(ctx, configWith("stage-only")); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	t.Run("unknown", func(t *testing.T) {
		if err := env.store.DeleteProfile(ctx, "ghost"); !errors.Is(err, device.ErrNotFound) {
			t.Errorf("DeleteProfile() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("active profile heals", func(t *testing.T) {
		gen := env.store.Generation()
		if err := env.store.DeleteProfile(ctx, "STAGE"); err != nil {
			t.Fatalf("DeleteProfile() error = %v", err)
		}
		cfg := env.store.Get()
		assertProfileInvariant(t, cfg)
		if !cfg.IsActive("default") {
			t.Errorf("ActiveProfile = %q, want default", cfg.ActiveProfile)
		}
		if got := deviceIDs(cfg); !slices.Equal(got, []string{"base"}) {
			t.Errorf("devices = %v, want the default profile's list", got)
		}
		if env.profiles.has("stage") {
			t.Error("stored profile not removed")
		}
		if env.store.Generation() != gen+1 {
			t.Errorf("generation = %d, want %d", env.store.Generation(), gen+1)
		}
	})

	t.Run("removal failure only warns", func(t *testing.T) {
		if err := env.store.CreateProfile(ctx, "temp", "", ""); err != nil {
			t.Fatalf("CreateProfile() error = %v", err)
		}
		env.profiles.mu.Lock()
		env.profiles.deleteErr = errDiskFull
		env.profiles.mu.Unlock()

		if err := env.store.DeleteProfile(ctx, "temp"); err != nil {
			t.Errorf("DeleteProfile() error = %v, want nil", err)
		}
		if env.store.Get().Profile("temp") != nil {
			t.Error("profile still listed")
		}
	})

	t.Run("empty id", func(t *testing.T) {
		if err := env.store.DeleteProfile(ctx, ""); !errors.Is(err, device.ErrInvalidArgument) {
			t.Errorf("DeleteProfile() error = %v, want ErrInvalidArgument", err)
		}
	})
}

func TestProfiles_Rename(t *testing.T) {
	env := newTestStore(t)
	ctx := context.Background()
	gen := env.store.Generation()

	if err := env.store.RenameProfile(ctx, "DEFAULT", "Main hall"); err != nil {
		t.Fatalf("RenameProfile() error = %v", err)
	}
	if got := env.store.Get().Profile("default").Name; got != "Main hall" {
		t.Errorf("name = %q", got)
	}
	if env.store.Generation() != gen+1 {
		t.Errorf("generation = %d, want %d", env.store.Generation(), gen+1)
	}
	if got := env.storage.stored(t).Profile("default").Name; got != "Main hall" {
		t.Errorf("persisted name = %q", got)
	}

	tests := []struct {
		name    string
		id      string
		newName string
		wantErr error
	}{
		{name: "unknown", id: "ghost", newName: "x", wantErr: device.ErrNotFound},
		{name: "empty id", id: "", newName: "x", wantErr: device.ErrInvalidArgument},
		{name: "empty name", id: "default", newName: "", wantErr: device.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := env.store.RenameProfile(ctx, tt.id, tt.newName); !errors.Is(err, tt.wantErr) {
				t.Errorf("RenameProfile() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestProfiles_InvariantAcrossSequence(t *testing.T) {
	env := newTestStore(t)
	ctx := context.Background()

	type op struct {
		create string
		delete string
	}
	ops := []op{
		{create: "a"}, {create: "b"}, {delete: "a"}, {delete: "default"},
		{delete: "b"}, {create: "c"}, {delete: "b"}, {delete: "c"},
		{create: "d"}, {delete: "ghost"},
	}

	last := env.store.Generation()
	for i, o := range ops {
		var err error
		if o.create != "" {
			err = env.store.CreateProfile(ctx, o.create, "", "")
		} else {
			err = env.store.DeleteProfile(ctx, o.delete)
		}

		cfg := env.store.Get()
		assertProfileInvariant(t, cfg)

		gen := cfg.Generation
		if err == nil && gen <= last {
			t.Fatalf("op %d: successful op did not bump generation (%d -> %d)", i, last, gen)
		}
		if err != nil && gen != last {
			t.Fatalf("op %d: failed op changed generation (%d -> %d): %v", i, last, gen, err)
		}
		last = gen
	}
}

func TestProfiles_ListIsCopy(t *testing.T) {
	env := newTestStore(t)

	profiles, _ := env.store.Profiles()
	profiles[0].Name = "changed"

	if env.store.Get().Profiles[0].Name == "changed" {
		t.Error("Profiles() returned the live table")
	}
}
