package operator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/arobi/trident/internal/config"
	"github.com/arobi/trident/internal/metrics"
	"github.com/arobi/trident/internal/state"
)

// handle dispatches one decoded inbound message by its type discriminator.
// An unknown type or a type/payload mismatch is logged and dropped: per
// the protocol-fault policy, malformed input never propagates past this
// scope.
func (s *Server) handle(c *connection, env Envelope) {
	metrics.RecordOperatorMessage("in", env.Type)
	switch env.Type {
	case TypeDirectionVector:
		s.handleDirectionVector(c, env.Payload)
	case TypeGetConfig:
		s.handleGetConfig(c)
	case TypeSetConfig:
		s.handleSetConfig(c, env.Payload)
	case TypeFlashMicrocontrollerFirmware:
		s.handleFlashFirmware(c)
	case TypeStartThrusterTest:
		s.handleStartThrusterTest(c, env.Payload)
	case TypeCancelThrusterTest:
		s.handleCancelThrusterTest(c)
	case TypeStartRegulatorAutoTuning:
		s.handleStartAutoTuning(c)
	case TypeCancelRegulatorAutoTuning:
		s.handleCancelAutoTuning(c)
	case TypeToggleAutoStabilization:
		s.handleToggleAutoStabilization(c)
	case TypeToggleDepthHold:
		s.handleToggleDepthHold(c)
	case TypeCustomAction:
		s.handleCustomAction(c, env.Payload)
	default:
		s.log.WithField("type", env.Type).Warn("operator message type unknown, ignoring")
	}
}

func (s *Server) handleDirectionVector(c *connection, payload json.RawMessage) {
	var dv [8]float64
	if err := json.Unmarshal(payload, &dv); err != nil {
		s.log.WithError(err).Warn("directionVector payload malformed, ignoring")
		return
	}
	s.vehicle.SetDirectionVector(dv)
}

func (s *Server) handleGetConfig(c *connection) {
	c.sendJSON(TypeConfig, s.vehicle.Config())
}

func (s *Server) handleSetConfig(c *connection, payload json.RawMessage) {
	var cfg config.RovConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		s.log.WithError(err).Warn("setConfig payload malformed, rejecting")
		c.sendJSON(TypeShowToast, Toast{Kind: ToastError, Message: "Invalid configuration", Description: err.Error()})
		return
	}
	if err := s.vehicle.ConfigManager().Set(&cfg); err != nil {
		s.log.WithError(err).Error("failed to persist configuration")
		c.sendJSON(TypeShowToast, Toast{Kind: ToastError, Message: "Failed to save configuration", Description: err.Error()})
		return
	}
	c.sendJSON(TypeShowToast, Toast{Kind: ToastSuccess, Message: "Configuration saved"})
}

// handleFlashFirmware acknowledges the request: the actual flashing
// procedure is an out-of-scope external collaborator.
func (s *Server) handleFlashFirmware(c *connection) {
	s.log.Info("flashMicrocontrollerFirmware requested (firmware flasher is out of scope)")
	c.sendJSON(TypeShowToast, Toast{Kind: ToastInfo, Message: "Firmware flash requested"})
}

func (s *Server) handleStartThrusterTest(c *connection, payload json.RawMessage) {
	var req startThrusterTestPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		s.log.WithError(err).Warn("startThrusterTest payload malformed, ignoring")
		return
	}
	if req.Motor < 0 || req.Motor >= 8 {
		c.sendJSON(TypeShowToast, Toast{Kind: ToastError, Message: "Invalid thruster index"})
		return
	}
	motor := req.Motor
	s.vehicle.WithLock(func(vv *state.Vehicle) {
		vv.Thrusters.TestThruster = &motor
		vv.Thrusters.TestStartTime = time.Now()
		vv.Thrusters.LastRemaining = 0
	})
	id := "thruster-test"
	c.sendJSON(TypeShowToast, Toast{Kind: ToastLoading, Message: fmt.Sprintf("Testing thruster %d", motor), ID: &id})
}

func (s *Server) handleCancelThrusterTest(c *connection) {
	s.vehicle.WithLock(func(vv *state.Vehicle) {
		vv.Thrusters.TestThruster = nil
	})
	id := "thruster-test"
	c.sendJSON(TypeShowToast, Toast{Kind: ToastInfo, Message: "Thruster test canceled", ID: &id})
}

func (s *Server) handleStartAutoTuning(c *connection) {
	if err := s.tuner.Start(s.vehicle); err != nil {
		var roll float64
		s.vehicle.WithRLock(func(vv *state.Vehicle) { roll = vv.Regulator.Roll })
		s.log.WithError(err).Warn("auto-tune start rejected")
		c.sendJSON(TypeShowToast, Toast{
			Kind:        ToastError,
			Message:     "Auto tuning failed",
			Description: fmt.Sprintf("vehicle not ready (measured roll %.1f deg)", roll),
		})
		return
	}
	id := "auto-tune"
	c.sendJSON(TypeShowToast, Toast{Kind: ToastLoading, Message: "Auto tuning started", ID: &id})
}

func (s *Server) handleCancelAutoTuning(c *connection) {
	s.tuner.Cancel(s.vehicle)
	id := "auto-tune"
	c.sendJSON(TypeShowToast, Toast{Kind: ToastInfo, Message: "Auto tuning canceled", ID: &id})
}

func (s *Server) handleToggleAutoStabilization(c *connection) {
	s.vehicle.WithLock(func(vv *state.Vehicle) {
		enabled := !vv.Status.PitchStabilization
		vv.Status.PitchStabilization = enabled
		vv.Status.RollStabilization = enabled
		if !enabled {
			vv.Regulator.DesiredPitch = 0
			vv.Regulator.DesiredRoll = 0
		}
	})
}

func (s *Server) handleToggleDepthHold(c *connection) {
	s.vehicle.WithLock(func(vv *state.Vehicle) {
		enabled := !vv.Status.DepthHold
		vv.Status.DepthHold = enabled
		if enabled {
			vv.Regulator.DesiredDepth = vv.Pressure.Depth
			vv.Regulator.IntegralDepth = 0
		}
	})
}

// handleCustomAction logs the requested action name: the side-effect
// handlers it would dispatch to are out of scope.
func (s *Server) handleCustomAction(c *connection, payload json.RawMessage) {
	var req customActionPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		s.log.WithError(err).Warn("customAction payload malformed, ignoring")
		return
	}
	s.log.WithField("action", req.Name).Info("customAction requested (dispatch is out of scope)")
}
