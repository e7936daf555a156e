package device

// Capacity limits of the configuration document.
const (
	// SchemaVersion is the current persisted layout version.
	SchemaVersion = 1

	MaxDevices            = 16
	MaxTabs               = 12
	MaxTopicsPerDevice    = 8
	MaxScenariosPerDevice = 8
	MaxStepsPerScenario   = 16
	MaxProfiles           = 8
	MaxWaitRequirements   = 8

	// MaxUIDSlots and MaxUIDValues bound a UID validation template.
	MaxUIDSlots  = 8
	MaxUIDValues = 8

	// MaxTriggerRules bounds flag and MQTT trigger rule tables.
	MaxTriggerRules = 8

	// MaxIDLength bounds device, profile and scenario identifiers.
	MaxIDLength = 31
)

// DefaultProfileID is synthesised when no profile resolves.
const (
	DefaultProfileID   = "default"
	DefaultProfileName = "Default"
)
