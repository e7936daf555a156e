package device

// Defaults returns the compiled-in configuration used when nothing has been
// persisted yet: no devices and a single default profile.
func Defaults() *Config {
	c := &Config{
		SchemaVersion: SchemaVersion,
		Generation:    1,
		TabLimit:      MaxTabs,
	}
	EnsureActiveProfile(c)
	return c
}

// EnsureActiveProfile makes the active profile pointer resolve.
//
// If there are no profiles, one is synthesised from the active id (or the
// default id when the active id is empty or malformed). If profiles exist but
// none matches the active id, the first profile is adopted.
//
// Returns true if the configuration was changed.
func EnsureActiveProfile(c *Config) bool {
	if len(c.Profiles) == 0 {
		id := c.ActiveProfile
		name := id
		if !ValidProfileID(id) {
			id = DefaultProfileID
			name = DefaultProfileName
		}
		c.Profiles = append(c.Profiles, Profile{
			ID:          id,
			Name:        name,
			DeviceCount: len(c.Devices),
		})
		c.ActiveProfile = id
		return true
	}
	if c.Profile(c.ActiveProfile) != nil {
		return false
	}
	c.ActiveProfile = c.Profiles[0].ID
	return true
}
