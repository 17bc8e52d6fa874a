package omnicas

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Capability names.
const (
	CapabilityBlobNaming       = "blobnaming"
	CapabilityClipEnumeration  = "clip-enumeration"
	CapabilityCompliance       = "compliance"
	CapabilityDelete           = "delete"
	CapabilityDeletionLogging  = "deletionlogging"
	CapabilityExist            = "exist"
	CapabilityPrivilegedDelete = "privileged-delete"
	CapabilityRead             = "read"
	CapabilityRetention        = "retention"
	CapabilityRetentionHold    = "retention-hold"
	CapabilityWrite            = "write"
)

// Capability attribute names.
const (
	AttrAllowed              = "allowed"
	AttrPools                = "pools"
	AttrSupported            = "supported"
	AttrSupportedSchemes     = "supported_schemes"
	AttrDefault              = "default"
	AttrPoolMappings         = "poolmappings"
	AttrProfiles             = "profiles"
	AttrMode                 = "mode"
	AttrEventBasedRetention  = "event_based_retention"
	AttrRetentionHold        = "retention_hold"
	AttrRetentionMinMax      = "retention_min_max"
	AttrRetentionDefault     = "default_period"
	AttrFixedRetentionMin    = "fixed_retention_min"
	AttrFixedRetentionMax    = "fixed_retention_max"
	AttrVariableRetentionMin = "variable_retention_min"
	AttrVariableRetentionMax = "variable_retention_max"
)

// Capability values.
const (
	CapabilityTrue      = "true"
	CapabilityFalse     = "false"
	CapabilitySupported = "supported"
)

// Capabilities is a typed snapshot of a pool's capability strings.
type Capabilities struct {
	ReadAllowed             bool
	WriteAllowed            bool
	DeleteAllowed           bool
	PrivilegedDeleteAllowed bool
	ExistAllowed            bool
	ClipEnumerationAllowed  bool
	DeletionsLogged         bool

	BlobNamingSchemes      []string
	DefaultRetentionScheme string
	ComplianceMode         string

	EBRSupported    bool
	HoldSupported   bool
	HoldAllowed     bool
	RetentionMinMax bool

	RetentionDefault     time.Duration
	FixedRetentionMin    time.Duration
	FixedRetentionMax    time.Duration
	VariableRetentionMin time.Duration
	VariableRetentionMax time.Duration
}

// Capabilities reads every known capability of the pool.
func (p *Pool) Capabilities() (Capabilities, error) {
	var (
		c        Capabilities
		firstErr error
	)
	get := func(name, attr string) string {
		if firstErr != nil {
			return ""
		}
		v, err := p.Capability(name, attr)
		if err != nil {
			firstErr = err
		}
		return v
	}
	seconds := func(name, attr string) time.Duration {
		v := get(name, attr)
		if firstErr != nil || v == "" {
			return 0
		}
		d, err := parseSeconds(v)
		if err != nil {
			firstErr = fmt.Errorf("omnicas: capability %s/%s: %w", name, attr, err)
		}
		return d
	}

	c.ReadAllowed = get(CapabilityRead, AttrAllowed) == CapabilityTrue
	c.WriteAllowed = get(CapabilityWrite, AttrAllowed) == CapabilityTrue
	c.DeleteAllowed = get(CapabilityDelete, AttrAllowed) == CapabilityTrue
	c.PrivilegedDeleteAllowed = get(CapabilityPrivilegedDelete, AttrAllowed) == CapabilityTrue
	c.ExistAllowed = get(CapabilityExist, AttrAllowed) == CapabilityTrue
	c.ClipEnumerationAllowed = get(CapabilityClipEnumeration, AttrAllowed) == CapabilityTrue
	c.DeletionsLogged = get(CapabilityDeletionLogging, AttrSupported) == CapabilityTrue

	c.BlobNamingSchemes = splitList(get(CapabilityBlobNaming, AttrSupportedSchemes))
	c.DefaultRetentionScheme = get(CapabilityRetention, AttrDefault)
	c.ComplianceMode = get(CapabilityCompliance, AttrMode)

	c.EBRSupported = get(CapabilityCompliance, AttrEventBasedRetention) == CapabilitySupported
	c.HoldSupported = get(CapabilityCompliance, AttrRetentionHold) == CapabilitySupported
	c.HoldAllowed = c.HoldSupported && get(CapabilityRetentionHold, AttrAllowed) == CapabilityTrue
	c.RetentionMinMax = get(CapabilityCompliance, AttrRetentionMinMax) == CapabilitySupported

	c.RetentionDefault = seconds(CapabilityRetention, AttrRetentionDefault)
	c.FixedRetentionMin = seconds(CapabilityRetention, AttrFixedRetentionMin)
	c.FixedRetentionMax = seconds(CapabilityRetention, AttrFixedRetentionMax)
	c.VariableRetentionMin = seconds(CapabilityRetention, AttrVariableRetentionMin)
	c.VariableRetentionMax = seconds(CapabilityRetention, AttrVariableRetentionMax)

	return c, firstErr
}

// RetentionDefault returns the retention period applied to clips that use
// RetentionDefault.
func (p *Pool) RetentionDefault() (time.Duration, error) {
	v, err := p.Capability(CapabilityRetention, AttrRetentionDefault)
	if err != nil || v == "" {
		return 0, err
	}
	return parseSeconds(v)
}

func parseSeconds(s string) (time.Duration, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	return secondsToPeriod(n), nil
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
