package evidence

import "sort"

// Assumption registry refs.
const (
	AssumpSoHIsValidProxy     = "ASSUMP_SOH_IS_VALID_PROXY"
	AssumpLinearFade          = "ASSUMP_LINEAR_FADE"
	AssumpMidpointBoundary    = "ASSUMP_MIDPOINT_BOUNDARY"
	AssumpP95Baseline         = "ASSUMP_P95_BASELINE"
	AssumpDefaultSpikeMargin  = "ASSUMP_DEFAULT_SPIKE_MARGIN"
	AssumpTemporalAssociation = "ASSUMP_TEMPORAL_ASSOCIATION"
	AssumpSyntheticData       = "ASSUMP_SYNTHETIC_DATA"
)

// registry is static; computations may only cite refs listed here.
var registry = map[string]string{
	AssumpSoHIsValidProxy:     "Reported state of health is a valid proxy for usable capacity fade.",
	AssumpLinearFade:          "State of health fades approximately linearly within each half window.",
	AssumpMidpointBoundary:    "The comparison boundary is the window midpoint when none is given.",
	AssumpP95Baseline:         "The window's 95th temperature percentile represents normal operation.",
	AssumpDefaultSpikeMargin:  "A spike margin of 1.0 C above p95 is used when the knowledge base has no threshold.",
	AssumpTemporalAssociation: "Overlap in time between an anomaly and faster fade is an association, not a cause.",
	AssumpSyntheticData:       "Telemetry comes from the synthetic generator, not from field measurements.",
}

// Describe returns the registered description of ref.
func Describe(ref string) (string, bool) {
	d, ok := registry[ref]
	return d, ok
}

// Refs lists every registered ref in lexical order.
func Refs() []string {
	out := make([]string, 0, len(registry))
	for ref := range registry {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}
