package models

// Warning flags a request parameter the provider ignored or degraded.
type Warning struct {
	Type    string `json:"type"`
	Feature string `json:"feature,omitempty"`
	Details string `json:"details,omitempty"`
}

const (
	WarningUnsupportedSetting = "unsupported-setting"
	WarningOther              = "other"
)
