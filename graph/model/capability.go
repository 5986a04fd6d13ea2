package model

// CapabilityDescriptor describes what a provider/model pair supports.
// Callers use it to shape a request before dispatch (see Shape).
type CapabilityDescriptor struct {
	Provider string   `json:"provider"`
	Model    string   `json:"model"`
	Features Features `json:"features"`
	Limits   Limits   `json:"limits"`
}

// Features are boolean capabilities.
type Features struct {
	ToolCalling bool `json:"toolCalling"`
	JSONMode    bool `json:"jsonMode"`
	Vision      bool `json:"vision"`
	Streaming   bool `json:"streaming"`
}

// Limits are numeric capacity bounds. Zero means unknown or unbounded.
type Limits struct {
	MaxInputTokens     int `json:"maxInputTokens"`
	MaxOutputTokens    int `json:"maxOutputTokens"`
	MaxTools           int `json:"maxTools"`
	MaxContextMessages int `json:"maxContextMessages"`
}
