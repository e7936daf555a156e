package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/nerrad567/gray-logic-devicecore/internal/device"
)

// Profiles returns a copy of the profile table and the active profile id.
func (s *Store) Profiles() ([]device.Profile, string) {
	cfg := s.current.Load()
	if cfg == nil {
		return nil, ""
	}
	return slices.Clone(cfg.Profiles), cfg.ActiveProfile
}

// CreateProfile adds a profile and makes it active.
//
// The new profile starts with a copy of the active device list, or of
// cloneFrom's stored list when cloneFrom names another profile. An unknown
// cloneFrom falls back to the active list. name defaults to id.
//
// Returns an error wrapping device.ErrInvalidArgument for a malformed id,
// device.ErrInvalidState if the id is taken and device.ErrNoMemory when the
// profile table is full.
func (s *Store) CreateProfile(ctx context.Context, id, name, cloneFrom string) error {
	if !device.ValidProfileID(id) {
		return fmt.Errorf("%w: profile id %q", device.ErrInvalidArgument, id)
	}

	return s.mutate(ctx, mutation{
		op:      "profile_create",
		persist: true,
		stage: func(ctx context.Context, cur *device.Config) (*device.Config, error) {
			staged := shareDevices(cur)
			if staged.Profile(id) != nil {
				return nil, fmt.Errorf("%w: profile %s already exists", device.ErrInvalidState, id)
			}
			if len(staged.Profiles) >= device.MaxProfiles {
				return nil, fmt.Errorf("%w: profile table full (%d)", device.ErrNoMemory, device.MaxProfiles)
			}

			if cloneFrom != "" {
				src := staged.Profile(cloneFrom)
				switch {
				case src == nil:
					s.logger.Warn("clone source profile not found, using active devices",
						"profile", id,
						"clone_from", cloneFrom,
					)
				case !staged.IsActive(src.ID):
					devices, err := s.loadProfileDevices(ctx, src.ID)
					if err != nil {
						return nil, fmt.Errorf("loading clone source %s: %w", src.ID, err)
					}
					staged.Devices = devices
				}
			}

			if name == "" {
				name = id
			}
			staged.Profiles = append(staged.Profiles, device.Profile{ID: id, Name: name})
			staged.ActiveProfile = id
			syncToActive(staged)
			return staged, nil
		},
	})
}

// DeleteProfile removes a profile and its stored device list.
//
// The last remaining profile cannot be deleted. Deleting the active profile
// activates the first remaining one. A failure to remove the stored list is
// logged, not returned.
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty profile id", device.ErrInvalidArgument)
	}

	var removed string
	return s.mutate(ctx, mutation{
		op:      "profile_delete",
		persist: true,
		stage: func(ctx context.Context, cur *device.Config) (*device.Config, error) {
			staged := shareDevices(cur)
			if len(staged.Profiles) <= 1 {
				return nil, fmt.Errorf("%w: cannot delete the last profile", device.ErrInvalidState)
			}
			idx := staged.ProfileIndex(id)
			if idx < 0 {
				return nil, fmt.Errorf("%w: profile %s", device.ErrNotFound, id)
			}
			removed = staged.Profiles[idx].ID

			wasActive := staged.IsActive(removed)
			staged.Profiles = slices.Delete(staged.Profiles, idx, idx+1)
			if wasActive {
				staged.ActiveProfile = ""
				device.EnsureActiveProfile(staged)
				staged.Devices = nil
				if err := s.syncFromActive(ctx, staged); err != nil {
					return nil, fmt.Errorf("loading profile %s: %w", staged.ActiveProfile, err)
				}
				syncToActive(staged)
			}
			return staged, nil
		},
		committed: func(ctx context.Context, _ *device.Config) {
			if err := s.profiles.DeleteProfile(ctx, removed); err != nil {
				s.logger.Warn("failed to remove stored profile", "profile", removed, "error", err)
			}
		},
	})
}

// RenameProfile changes a profile's display name.
func (s *Store) RenameProfile(ctx context.Context, id, newName string) error {
	if id == "" || newName == "" {
		return fmt.Errorf("%w: profile id and name are required", device.ErrInvalidArgument)
	}

	return s.mutate(ctx, mutation{
		op:      "profile_rename",
		persist: true,
		stage: func(_ context.Context, cur *device.Config) (*device.Config, error) {
			staged := shareDevices(cur)
			p := staged.Profile(id)
			if p == nil {
				return nil, fmt.Errorf("%w: profile %s", device.ErrNotFound, id)
			}
			p.Name = newName
			return staged, nil
		},
	})
}

// ActivateProfile makes id the active profile and swaps in its stored
// device list. Activating the active profile is a no-op and does not bump
// the generation.
func (s *Store) ActivateProfile(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty profile id", device.ErrInvalidArgument)
	}

	return s.mutate(ctx, mutation{
		op:      "profile_activate",
		persist: true,
		stage: func(ctx context.Context, cur *device.Config) (*device.Config, error) {
			staged := shareDevices(cur)
			p := staged.Profile(id)
			if p == nil {
				return nil, fmt.Errorf("%w: profile %s", device.ErrNotFound, id)
			}
			if staged.IsActive(p.ID) {
				return nil, nil
			}

			staged.ActiveProfile = p.ID
			devices, err := s.loadProfileDevices(ctx, p.ID)
			switch {
			case errors.Is(err, device.ErrNotFound):
				staged.Devices = nil
			case err != nil:
				return nil, fmt.Errorf("loading profile %s: %w", p.ID, err)
			default:
				staged.Devices = devices
			}
			syncToActive(staged)
			return staged, nil
		},
	})
}

// shareDevices stages a profile mutation. Published snapshots are never
// modified, so the device table is shared rather than copied; only the
// header is cloned. The active pointer is healed before the caller looks at
// it.
func shareDevices(cur *device.Config) *device.Config {
	staged := cur.CloneHeader()
	staged.Devices = cur.Devices
	device.EnsureActiveProfile(staged)
	return staged
}
