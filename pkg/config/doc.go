// Package config handles taskmail configuration loading from YAML files and the
// environment, and builds the ordered Configuration Set of SMTP relay transports
// consumed by the mail dispatcher.
package config
