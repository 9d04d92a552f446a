// Package config loads and validates the coordinator's YAML configuration.
// Values of the form ${VAR_NAME} are expanded from the environment before
// parsing, which keeps secrets like the JWT signing key out of the file
// itself. The coordinator refuses to start without a signing secret.
package config
