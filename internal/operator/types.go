// Package operator implements the operator-facing protocol: a persistent,
// single-client, bidirectional JSON-over-WebSocket connection that streams
// direction commands in, and telemetry, status, logs and toasts out.
package operator

import "encoding/json"

// Message types, the protocol's fixed surface. Every inbound and outbound
// frame carries one of these as its "type" discriminator.
const (
	TypeDirectionVector             = "directionVector"
	TypeGetConfig                   = "getConfig"
	TypeSetConfig                   = "setConfig"
	TypeConfig                      = "config"
	TypeFlashMicrocontrollerFirmware = "flashMicrocontrollerFirmware"
	TypeStartThrusterTest            = "startThrusterTest"
	TypeCancelThrusterTest           = "cancelThrusterTest"
	TypeStartRegulatorAutoTuning     = "startRegulatorAutoTuning"
	TypeCancelRegulatorAutoTuning    = "cancelRegulatorAutoTuning"
	TypeRegulatorSuggestions         = "regulatorSuggestions"
	TypeShowToast                    = "showToast"
	TypeLogMessage                   = "logMessage"
	TypeStatusUpdate                 = "statusUpdate"
	TypeTelemetry                    = "telemetry"
	TypeFirmwareVersion              = "firmwareVersion"
	TypeCustomAction                 = "customAction"
	TypeToggleAutoStabilization      = "toggleAutoStabilization"
	TypeToggleDepthHold              = "toggleDepthHold"
)

// Envelope is the wire shape of every message in both directions: a
// discriminator plus an opaque payload decoded according to Type.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ToastKind enumerates the transient-notification severities.
type ToastKind string

const (
	ToastSuccess ToastKind = "success"
	ToastInfo    ToastKind = "info"
	ToastWarn    ToastKind = "warn"
	ToastError   ToastKind = "error"
	ToastLoading ToastKind = "loading"
)

// Toast is the payload of a showToast message. ID is non-empty when the
// toast represents progress or replaces an earlier transient notification;
// it is nil (null on the wire) otherwise.
type Toast struct {
	Kind        ToastKind `json:"kind"`
	Message     string    `json:"message"`
	Description string    `json:"description,omitempty"`
	ID          *string   `json:"id"`
}

// LogEntry is the payload of a logMessage message.
type LogEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// TelemetryPayload is the 60 Hz outbound telemetry shape.
type TelemetryPayload struct {
	Pitch                   float64    `json:"pitch"`
	Roll                    float64    `json:"roll"`
	Yaw                     float64    `json:"yaw"`
	Depth                   float64    `json:"depth"`
	DesiredPitch            float64    `json:"desiredPitch"`
	DesiredRoll             float64    `json:"desiredRoll"`
	DesiredYaw              float64    `json:"desiredYaw"`
	DesiredDepth            float64    `json:"desiredDepth"`
	WaterTemperature        float64    `json:"waterTemperature"`
	ElectronicsTemperature  float64    `json:"electronicsTemperature"`
	ThrusterRpms            [8]float64 `json:"thrusterRpms"`
	WorkIndicatorPercentage float64    `json:"workIndicatorPercentage"`
}

// HealthPayload mirrors state.SystemHealth on the wire.
type HealthPayload struct {
	ImuOK             bool `json:"imuOk"`
	PressureSensorOK  bool `json:"pressureSensorOk"`
	MicrocontrollerOK bool `json:"microcontrollerOk"`
}

// StatusPayload is the 2 Hz outbound status shape.
type StatusPayload struct {
	AutoStabilization bool          `json:"autoStabilization"`
	DepthHold         bool          `json:"depthHold"`
	BatteryPercentage float64       `json:"batteryPercentage"`
	Health            HealthPayload `json:"health"`
}

// AxisGainsPayload mirrors config.AxisGains' tunable fields on the wire.
type AxisGainsPayload struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

// SuggestionsPayload is the payload of a regulatorSuggestions message.
type SuggestionsPayload struct {
	Pitch AxisGainsPayload `json:"pitch"`
	Roll  AxisGainsPayload `json:"roll"`
	Depth AxisGainsPayload `json:"depth"`
}

// FirmwareVersionPayload is sent once per connection after the settle grace.
type FirmwareVersionPayload struct {
	Version string `json:"version"`
}

// startThrusterTestPayload is the inbound shape for startThrusterTest.
type startThrusterTestPayload struct {
	Motor int `json:"motor"`
}

// customActionPayload is the inbound shape for customAction: the handler
// name plus an opaque argument bag, dispatch of which is out of scope.
type customActionPayload struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}
