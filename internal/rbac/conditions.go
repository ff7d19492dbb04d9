package rbac

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// ConditionKind tags the closed set of condition variants.
type ConditionKind string

const (
	KindTemporal ConditionKind = "temporal"
	KindNetwork  ConditionKind = "network"
	KindDevice   ConditionKind = "device"
	KindLocation ConditionKind = "location"
	KindCustom   ConditionKind = "custom"
)

// RequestContext carries the request-time attributes conditions evaluate
// against. A condition whose required field is absent fails closed.
type RequestContext struct {
	Timestamp   time.Time         `json:"timestamp,omitempty"`
	Origin      string            `json:"origin,omitempty"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Location    string            `json:"location,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Condition narrows a grant or role permission. The set of implementations
// is closed; unmarshalling an unknown kind is an error, never a skip.
type Condition interface {
	Kind() ConditionKind
	Evaluate(rc RequestContext) bool
}

// TemporalCondition restricts access to a daily clock window. Start and End
// use "15:04" notation; a window with End before Start wraps past midnight.
type TemporalCondition struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (TemporalCondition) Kind() ConditionKind { return KindTemporal }

func (c TemporalCondition) Evaluate(rc RequestContext) bool {
	if rc.Timestamp.IsZero() {
		return false
	}
	start, err1 := parseClock(c.Start)
	end, err2 := parseClock(c.End)
	if err1 != nil || err2 != nil {
		return false
	}
	minute := rc.Timestamp.UTC().Hour()*60 + rc.Timestamp.UTC().Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	// Overnight window, e.g. 22:00-06:00.
	return minute >= start || minute < end
}

// NetworkCondition restricts access to origins inside the listed CIDR
// prefixes (or exact addresses).
type NetworkCondition struct {
	Prefixes []string `json:"prefixes"`
}

func (NetworkCondition) Kind() ConditionKind { return KindNetwork }

func (c NetworkCondition) Evaluate(rc RequestContext) bool {
	addr, err := netip.ParseAddr(rc.Origin)
	if err != nil {
		return false
	}
	for _, raw := range c.Prefixes {
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err == nil && prefix.Contains(addr) {
				return true
			}
			continue
		}
		other, err := netip.ParseAddr(raw)
		if err == nil && other == addr {
			return true
		}
	}
	return false
}

// DeviceCondition restricts access to known device fingerprints.
type DeviceCondition struct {
	Fingerprints []string `json:"fingerprints"`
}

func (DeviceCondition) Kind() ConditionKind { return KindDevice }

func (c DeviceCondition) Evaluate(rc RequestContext) bool {
	if rc.Fingerprint == "" {
		return false
	}
	for _, fp := range c.Fingerprints {
		if fp == rc.Fingerprint {
			return true
		}
	}
	return false
}

// LocationCondition restricts access to the listed location codes.
type LocationCondition struct {
	Locations []string `json:"locations"`
}

func (LocationCondition) Kind() ConditionKind { return KindLocation }

func (c LocationCondition) Evaluate(rc RequestContext) bool {
	if rc.Location == "" {
		return false
	}
	for _, loc := range c.Locations {
		if strings.EqualFold(loc, rc.Location) {
			return true
		}
	}
	return false
}

// CustomCondition compares an arbitrary request attribute against a value.
type CustomCondition struct {
	Key      string `json:"key"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

func (CustomCondition) Kind() ConditionKind { return KindCustom }

func (c CustomCondition) Evaluate(rc RequestContext) bool {
	got, ok := rc.Attributes[c.Key]
	if !ok {
		return false
	}
	switch c.Operator {
	case "eq", "":
		return got == c.Value
	case "ne":
		return got != c.Value
	case "contains":
		return strings.Contains(got, c.Value)
	case "prefix":
		return strings.HasPrefix(got, c.Value)
	default:
		return false
	}
}

// evaluateAll reports whether every condition holds. An empty set holds.
func evaluateAll(conds []Condition, rc RequestContext) bool {
	for _, c := range conds {
		if !c.Evaluate(rc) {
			return false
		}
	}
	return true
}

type conditionEnvelope struct {
	Kind    ConditionKind   `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalConditions encodes conditions with a kind tag for storage.
func MarshalConditions(conds []Condition) ([]byte, error) {
	envelopes := make([]conditionEnvelope, 0, len(conds))
	for _, c := range conds {
		payload, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, conditionEnvelope{Kind: c.Kind(), Payload: payload})
	}
	return json.Marshal(envelopes)
}

// UnmarshalConditions decodes the tagged representation. Unknown kinds are
// rejected so a stale binary cannot silently skip a restriction.
func UnmarshalConditions(data []byte) ([]Condition, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var envelopes []conditionEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, err
	}
	conds := make([]Condition, 0, len(envelopes))
	for _, env := range envelopes {
		var (
			cond Condition
			err  error
		)
		switch env.Kind {
		case KindTemporal:
			var c TemporalCondition
			err = json.Unmarshal(env.Payload, &c)
			cond = c
		case KindNetwork:
			var c NetworkCondition
			err = json.Unmarshal(env.Payload, &c)
			cond = c
		case KindDevice:
			var c DeviceCondition
			err = json.Unmarshal(env.Payload, &c)
			cond = c
		case KindLocation:
			var c LocationCondition
			err = json.Unmarshal(env.Payload, &c)
			cond = c
		case KindCustom:
			var c CustomCondition
			err = json.Unmarshal(env.Payload, &c)
			cond = c
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownConditionKind, env.Kind)
		}
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

func parseClock(raw string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
