// Package config provides configuration validation
package config

import (
	"fmt"
)

// Validator validates configuration files
type Validator struct {
	errors *ConfigErrorList
	file   string
}

// NewValidator creates a new configuration validator
func NewValidator(file string) *Validator {
	return &Validator{
		errors: &ConfigErrorList{File: file, Valid: true},
		file:   file,
	}
}

// Validate validates a complete configuration
func (v *Validator) Validate(cfg *Config) *ConfigErrorList {
	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	if len(cfg.Ports) == 0 {
		v.addError("ports", "at least one port must be configured")
	}

	seenNetworks := make(map[uint16]bool)
	hasBIP := false
	for i, p := range cfg.Ports {
		prefix := fmt.Sprintf("ports[%d]", i)
		v.validatePort(p, prefix, seenNetworks)
		if p.Kind() == "bip" {
			hasBIP = true
		}
	}

	if cfg.BBMD != nil {
		if !hasBIP {
			v.addError("bbmd", "a BBMD requires at least one BACnet/IP port")
		}
		for i, entry := range cfg.BBMD.BDT {
			if err := ValidateHostPort(entry); err != nil {
				v.addError(fmt.Sprintf("bbmd.bdt[%d]", i), err.Error())
			}
		}
	}

	v.validateTSM(cfg.TSM)

	if cfg.API != nil && cfg.API.ListenAddr != "" {
		if _, _, err := splitHostPortLoose(cfg.API.ListenAddr); err != nil {
			v.addError("api.listen_address", err.Error())
		}
		if cfg.API.Token == "" {
			v.addWarning("api.token", "API server configured without a bearer token; all endpoints are open")
		}
	}

	return v.errors
}

func (v *Validator) validatePort(p Port, prefix string, seenNetworks map[uint16]bool) {
	if seenNetworks[p.Network] {
		v.addError(prefix+".network", fmt.Sprintf("duplicate network number %d", p.Network))
	}
	seenNetworks[p.Network] = true

	switch p.Kind() {
	case "bip":
		if err := ValidateHostPort(p.BIPBindAddress); err != nil {
			v.addError(prefix+".bip_bind_address", err.Error())
		}
		if p.BIPBroadcast != "" {
			if err := ValidateHostPort(p.BIPBroadcast); err != nil {
				v.addError(prefix+".bip_broadcast_address", err.Error())
			}
		}
	case "sc":
		if p.SCListenURL == "" && p.SCDialURL == "" {
			v.addError(prefix, "an SC port needs sc_listen_url and/or sc_dial_url")
		}
	default:
		v.addError(prefix, "a port must set either bip_bind_address or an sc_listen_url/sc_dial_url")
	}
}

func (v *Validator) validateTSM(t TSM) {
	if t.APDURetries < 0 {
		v.addError("tsm.apdu_retries", "must be >= 0")
	}
	if t.SegmentRetries < 0 {
		v.addError("tsm.segment_retries", "must be >= 0")
	}
	if t.MaxSegments == 0 {
		v.addError("tsm.max_segments_accepted", "must be > 0")
	}
}

func (v *Validator) addError(field, message string) {
	v.errors.Add(NewConfigError(v.file, field, message))
}

func (v *Validator) addWarning(field, message string) {
	v.errors.Add(NewConfigWarning(v.file, field, message))
}

// splitHostPortLoose accepts "host:port" without requiring host to
// parse as an IPv4 literal (an API listen address may be "" or ":8080").
func splitHostPortLoose(s string) (string, string, error) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid host:port %q: missing ':'", s)
}
