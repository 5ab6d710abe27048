// Package config provides configuration loading and validation for the
// acoustic modem service. Files are YAML and are layered over Default, so a
// file only needs the settings it changes.
package config
