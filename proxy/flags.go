package proxy

import (
	"fmt"
	"sort"
	"strings"
)

// FeaturesHeader carries a request's proxy flags from the crawl callbacks
// to the transport. The transport strips it before dispatch.
const FeaturesHeader = "X-Proxy-Features"

// Flags selects optional proxy capabilities for one request.
type Flags struct {
	RenderJS          bool
	Residential       bool
	KeepHeaders       bool
	Country           bool
	JSScenario        bool
	SessionNumber     bool
	FollowRedirects   bool
	InitialStatusCode bool
	FinalStatusCode   bool
	Premium           bool
	OptimizeRequest   bool
	MaxRequestCost    bool
	Bypass            bool
}

// flagFields maps each flag name to its field. Order is stable and used
// for encoding.
var flagFields = []struct {
	name string
	ptr  func(*Flags) *bool
}{
	{"render_js", func(f *Flags) *bool { return &f.RenderJS }},
	{"residential", func(f *Flags) *bool { return &f.Residential }},
	{"keep_headers", func(f *Flags) *bool { return &f.KeepHeaders }},
	{"country", func(f *Flags) *bool { return &f.Country }},
	{"js_scenario", func(f *Flags) *bool { return &f.JSScenario }},
	{"session_number", func(f *Flags) *bool { return &f.SessionNumber }},
	{"follow_redirects", func(f *Flags) *bool { return &f.FollowRedirects }},
	{"initial_status_code", func(f *Flags) *bool { return &f.InitialStatusCode }},
	{"final_status_code", func(f *Flags) *bool { return &f.FinalStatusCode }},
	{"premium", func(f *Flags) *bool { return &f.Premium }},
	{"optimize_request", func(f *Flags) *bool { return &f.OptimizeRequest }},
	{"max_request_cost", func(f *Flags) *bool { return &f.MaxRequestCost }},
	{"bypass", func(f *Flags) *bool { return &f.Bypass }},
}

// FlagNames lists every known flag name.
func FlagNames() []string {
	names := make([]string, len(flagFields))
	for i, field := range flagFields {
		names[i] = field.name
	}
	return names
}

// CoerceBool converts loosely typed metadata to a boolean. Booleans pass
// through, strings are true only when equal to "true" ignoring case, and
// every other value is false.
func CoerceBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

// FlagsFromMeta builds Flags from a metadata map. Keys may carry the
// "sops_" prefix; unknown keys are ignored.
func FlagsFromMeta(meta map[string]any) Flags {
	var flags Flags
	for key, value := range meta {
		name := strings.TrimPrefix(key, "sops_")
		for _, field := range flagFields {
			if field.name == name {
				*field.ptr(&flags) = CoerceBool(value)
				break
			}
		}
	}
	return flags
}

// ParseFlagList parses a comma separated list of enabled flag names.
func ParseFlagList(list string) (Flags, error) {
	var flags Flags
	var unknown []string
	for _, raw := range strings.Split(list, ",") {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		found := false
		for _, field := range flagFields {
			if field.name == name {
				*field.ptr(&flags) = true
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Flags{}, fmt.Errorf("unknown proxy flags: %s", strings.Join(unknown, ", "))
	}
	return flags, nil
}

// Enabled returns the names of the flags set to true.
func (f Flags) Enabled() []string {
	var names []string
	for _, field := range flagFields {
		if *field.ptr(&f) {
			names = append(names, field.name)
		}
	}
	return names
}

// String encodes the flags in the form accepted by ParseFlagList.
func (f Flags) String() string {
	return strings.Join(f.Enabled(), ",")
}

// Merge returns the union of f and other.
func (f Flags) Merge(other Flags) Flags {
	for _, field := range flagFields {
		if *field.ptr(&other) {
			*field.ptr(&f) = true
		}
	}
	return f
}
