package device

import "strings"

// Config is the authoritative configuration document.
//
// Devices mirrors the device list of the active profile. Other profiles keep
// their device lists in per-profile storage and are swapped in on activation.
type Config struct {
	SchemaVersion int
	Generation    uint32
	TabLimit      int
	ActiveProfile string
	Profiles      []Profile
	Devices       []Device
}

// Profile is a named, switchable subset of the device table.
type Profile struct {
	ID   string
	Name string

	// DeviceCount is a snapshot taken the last time the profile was active.
	DeviceCount int
}

// TabType identifies what a UI tab presents.
type TabType string

// Tab types.
const (
	TabAudio  TabType = "audio"
	TabCustom TabType = "custom"
)

// Tab is one UI tab of a device.
type Tab struct {
	Type  TabType
	Label string
	Extra string
}

// TopicBinding gives an MQTT topic a device-local name.
type TopicBinding struct {
	Name  string
	Topic string
}

// Scenario is a named script of action steps, triggered by id.
type Scenario struct {
	ID    string
	Name  string
	Steps []Step
}

// Device is one entry of the live device table.
type Device struct {
	ID        string
	Name      string
	Tabs      []Tab
	Topics    []TopicBinding
	Scenarios []Scenario

	// Template is nil when the device has no matcher assigned.
	Template Template
}

// Scenario returns the scenario with the given id, or nil.
func (d *Device) Scenario(id string) *Scenario {
	for i := range d.Scenarios {
		if d.Scenarios[i].ID == id {
			return &d.Scenarios[i]
		}
	}
	return nil
}

// Device returns the device with the given id, or nil.
func (c *Config) Device(id string) *Device {
	for i := range c.Devices {
		if c.Devices[i].ID == id {
			return &c.Devices[i]
		}
	}
	return nil
}

// Profile returns the profile whose id matches case-insensitively, or nil.
func (c *Config) Profile(id string) *Profile {
	if id == "" {
		return nil
	}
	for i := range c.Profiles {
		if strings.EqualFold(c.Profiles[i].ID, id) {
			return &c.Profiles[i]
		}
	}
	return nil
}

// ProfileIndex returns the index of the profile matching id, or -1.
func (c *Config) ProfileIndex(id string) int {
	for i := range c.Profiles {
		if strings.EqualFold(c.Profiles[i].ID, id) {
			return i
		}
	}
	return -1
}

// IsActive reports whether id names the active profile.
func (c *Config) IsActive(id string) bool {
	return c.ActiveProfile != "" && strings.EqualFold(c.ActiveProfile, id)
}

// Clone returns a deep copy of the configuration.
// The copy shares no slices with the receiver.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cpy := c.CloneHeader()
	cpy.Devices = CloneDevices(c.Devices)
	return cpy
}

// CloneHeader copies everything except the device table, which is left nil.
// The store uses it to copy the device table separately in chunks.
func (c *Config) CloneHeader() *Config {
	cpy := *c
	cpy.Devices = nil
	if c.Profiles != nil {
		cpy.Profiles = make([]Profile, len(c.Profiles))
		copy(cpy.Profiles, c.Profiles)
	}
	return &cpy
}

// CloneDevices deep copies a device list.
func CloneDevices(devices []Device) []Device {
	if devices == nil {
		return nil
	}
	out := make([]Device, len(devices))
	for i := range devices {
		out[i] = devices[i].Clone()
	}
	return out
}

// Clone returns a deep copy of the device.
func (d *Device) Clone() Device {
	cpy := *d
	if d.Tabs != nil {
		cpy.Tabs = make([]Tab, len(d.Tabs))
		copy(cpy.Tabs, d.Tabs)
	}
	if d.Topics != nil {
		cpy.Topics = make([]TopicBinding, len(d.Topics))
		copy(cpy.Topics, d.Topics)
	}
	if d.Scenarios != nil {
		cpy.Scenarios = make([]Scenario, len(d.Scenarios))
		for i := range d.Scenarios {
			cpy.Scenarios[i] = d.Scenarios[i].Clone()
		}
	}
	if d.Template != nil {
		cpy.Template = d.Template.Clone()
	}
	return cpy
}

// Clone returns a deep copy of the scenario.
func (s *Scenario) Clone() Scenario {
	cpy := *s
	if s.Steps != nil {
		cpy.Steps = make([]Step, len(s.Steps))
		for i, st := range s.Steps {
			cpy.Steps[i] = st.Clone()
		}
	}
	return cpy
}
