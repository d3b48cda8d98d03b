package license

// Feature is a capability tag known to this build. Tags the server sends
// that are not listed here map to FeatureUnrecognized and never enable
// anything.
type Feature string

const (
	FeatureCaseProcessing    Feature = "case_processing"
	FeaturePatientProcessing Feature = "patient_processing"
	FeatureCaptchaSolving    Feature = "captcha_solving"
	FeatureBatchAutomation   Feature = "batch_automation"
	FeatureReports           Feature = "reports"

	FeatureUnrecognized Feature = ""
)

var knownFeatures = map[Feature]struct{}{
	FeatureCaseProcessing:    {},
	FeaturePatientProcessing: {},
	FeatureCaptchaSolving:    {},
	FeatureBatchAutomation:   {},
	FeatureReports:           {},
}

// ParseFeature maps a raw tag to a known Feature
func ParseFeature(tag string) Feature {
	if _, ok := knownFeatures[Feature(tag)]; ok {
		return Feature(tag)
	}
	return FeatureUnrecognized
}

// KnownFeatures lists every recognised feature
func KnownFeatures() []Feature {
	return []Feature{
		FeatureCaseProcessing,
		FeaturePatientProcessing,
		FeatureCaptchaSolving,
		FeatureBatchAutomation,
		FeatureReports,
	}
}

// Known reports whether f is a recognised feature
func (f Feature) Known() bool {
	_, ok := knownFeatures[f]
	return ok
}

func (f Feature) String() string {
	if f == FeatureUnrecognized {
		return "unrecognized"
	}
	return string(f)
}
