// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Every field is defaulted; the database section is optional and enables the
// metrics sample writer when its host is set.
package config
