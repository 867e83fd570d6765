// Package config loads and validates the armada YAML configuration.
//
// Configuration is layered: compiled defaults, then the config file, then
// ARMADA_* environment variables. The merged result is schema-validated
// before use; nothing downstream ever sees an unvalidated config.
//
// Fingerprint hashes the normalized configuration and participates in
// every cache key, so a config change invalidates cached agent results.
package config
