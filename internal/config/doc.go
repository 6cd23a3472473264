// Package config loads the voiceswapd JSON configuration, fills defaults and
// resolves relative paths against the directory of the configuration file.
// Secrets can be supplied through *_env indirections so they stay out of the
// file itself.
package config
