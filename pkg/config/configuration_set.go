package config

import "errors"

// ErrEmptyConfigurationSet is returned when no transport is configured.
var ErrEmptyConfigurationSet = errors.New("configuration set must contain at least one transport")

// ConfigurationSet is the ordered, non-empty list of relay configurations.
// Index 0 is preferred. The set is fixed once built.
type ConfigurationSet struct {
	configs []TransportConfig
}

// NewConfigurationSet copies configs into a new set.
func NewConfigurationSet(configs []TransportConfig) (*ConfigurationSet, error) {
	if len(configs) == 0 {
		return nil, ErrEmptyConfigurationSet
	}
	c := make([]TransportConfig, len(configs))
	copy(c, configs)
	return &ConfigurationSet{configs: c}, nil
}

// Get returns the configuration at index, clamped into the valid range so a
// stale or out-of-range index never panics.
func (s *ConfigurationSet) Get(index int) TransportConfig {
	if index < 0 {
		index = 0
	}
	if index >= len(s.configs) {
		index = len(s.configs) - 1
	}
	return s.configs[index]
}

// Len returns the number of configurations.
func (s *ConfigurationSet) Len() int {
	return len(s.configs)
}

// Names returns the configuration names in preference order.
func (s *ConfigurationSet) Names() []string {
	names := make([]string, len(s.configs))
	for i, c := range s.configs {
		names[i] = c.Name
	}
	return names
}
