package device

import (
	"fmt"
	"regexp"
	"strings"
)

// profileIDPattern limits profile ids to file-name safe characters, since
// each profile is stored under its id.
var profileIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,30}$`)

// ValidProfileID reports whether id is a well-formed profile identifier.
func ValidProfileID(id string) bool {
	return profileIDPattern.MatchString(id)
}

// ValidateConfig checks a candidate configuration before it is applied.
//
// It rejects nil input, lists beyond the capacity limits, malformed or
// duplicated profile ids, devices with a missing, overlong or duplicated id,
// and templates that fail their own Validate.
//
// Returns an error wrapping ErrInvalidArgument describing the first failure.
func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("%w: nil configuration", ErrInvalidArgument)
	}
	if len(c.Profiles) > MaxProfiles {
		return fmt.Errorf("%w: %d profiles (max %d)", ErrInvalidArgument, len(c.Profiles), MaxProfiles)
	}
	if len(c.Devices) > MaxDevices {
		return fmt.Errorf("%w: %d devices (max %d)", ErrInvalidArgument, len(c.Devices), MaxDevices)
	}
	if c.TabLimit < 0 || c.TabLimit > MaxTabs {
		return fmt.Errorf("%w: tab_limit %d out of range", ErrInvalidArgument, c.TabLimit)
	}
	if err := validateProfiles(c); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(c.Devices))
	for i := range c.Devices {
		if err := validateDevice(&c.Devices[i]); err != nil {
			return err
		}
		if _, dup := seen[c.Devices[i].ID]; dup {
			return fmt.Errorf("%w: duplicate device id %q", ErrInvalidArgument, c.Devices[i].ID)
		}
		seen[c.Devices[i].ID] = struct{}{}
	}
	return nil
}

// validateProfiles checks profile ids. Ids compare case-insensitively.
func validateProfiles(c *Config) error {
	if c.ActiveProfile != "" && !ValidProfileID(c.ActiveProfile) {
		return fmt.Errorf("%w: active profile id %q", ErrInvalidArgument, c.ActiveProfile)
	}
	seen := make(map[string]struct{}, len(c.Profiles))
	for _, p := range c.Profiles {
		if !ValidProfileID(p.ID) {
			return fmt.Errorf("%w: profile id %q", ErrInvalidArgument, p.ID)
		}
		key := strings.ToLower(p.ID)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate profile id %q", ErrInvalidArgument, p.ID)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func validateDevice(d *Device) error {
	if d.ID == "" || len(d.ID) > MaxIDLength {
		return fmt.Errorf("%w: device id %q", ErrInvalidArgument, d.ID)
	}
	switch {
	case len(d.Tabs) > MaxTabs:
		return fmt.Errorf("%w: device %s has %d tabs (max %d)", ErrInvalidArgument, d.ID, len(d.Tabs), MaxTabs)
	case len(d.Topics) > MaxTopicsPerDevice:
		return fmt.Errorf("%w: device %s has %d topics (max %d)", ErrInvalidArgument, d.ID, len(d.Topics), MaxTopicsPerDevice)
	case len(d.Scenarios) > MaxScenariosPerDevice:
		return fmt.Errorf("%w: device %s has %d scenarios (max %d)", ErrInvalidArgument, d.ID, len(d.Scenarios), MaxScenariosPerDevice)
	}
	for _, sc := range d.Scenarios {
		if len(sc.Steps) > MaxStepsPerScenario {
			return fmt.Errorf("%w: scenario %s/%s has %d steps (max %d)",
				ErrInvalidArgument, d.ID, sc.ID, len(sc.Steps), MaxStepsPerScenario)
		}
		for _, st := range sc.Steps {
			if w, ok := st.Action.(WaitFlags); ok && len(w.Requirements) > MaxWaitRequirements {
				return fmt.Errorf("%w: scenario %s/%s wait has %d requirements (max %d)",
					ErrInvalidArgument, d.ID, sc.ID, len(w.Requirements), MaxWaitRequirements)
			}
		}
	}
	if d.Template != nil {
		if err := d.Template.Validate(); err != nil {
			return fmt.Errorf("device %s template: %w", d.ID, err)
		}
	}
	return nil
}

// Normalize clamps a configuration read from storage into the capacity
// limits. Entries past a limit are dropped, as the firmware always did when
// loading an oversized document.
func Normalize(c *Config) {
	if c.SchemaVersion == 0 {
		c.SchemaVersion = SchemaVersion
	}
	if c.TabLimit <= 0 || c.TabLimit > MaxTabs {
		c.TabLimit = MaxTabs
	}
	if len(c.Profiles) > MaxProfiles {
		c.Profiles = c.Profiles[:MaxProfiles]
	}
	for i := range c.Profiles {
		if c.Profiles[i].DeviceCount > MaxDevices {
			c.Profiles[i].DeviceCount = MaxDevices
		}
	}
	c.Devices = NormalizeDevices(c.Devices)
}

// NormalizeDevices clamps a device list into the capacity limits.
func NormalizeDevices(devices []Device) []Device {
	if len(devices) > MaxDevices {
		devices = devices[:MaxDevices]
	}
	for i := range devices {
		d := &devices[i]
		if len(d.Tabs) > MaxTabs {
			d.Tabs = d.Tabs[:MaxTabs]
		}
		if len(d.Topics) > MaxTopicsPerDevice {
			d.Topics = d.Topics[:MaxTopicsPerDevice]
		}
		if len(d.Scenarios) > MaxScenariosPerDevice {
			d.Scenarios = d.Scenarios[:MaxScenariosPerDevice]
		}
		for s := range d.Scenarios {
			if len(d.Scenarios[s].Steps) > MaxStepsPerScenario {
				d.Scenarios[s].Steps = d.Scenarios[s].Steps[:MaxStepsPerScenario]
			}
		}
	}
	return devices
}
