package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/PicklesTheWise/Pickle-Reef/errors"
	"github.com/PicklesTheWise/Pickle-Reef/store"
)

// controlProtocol versions the command envelope understood by module firmware.
const controlProtocol = "reef/1"

// atoModeMap translates operator mode names to the firmware enum.
var atoModeMap = map[string]int{
	"auto":   0,
	"manual": 1,
	"paused": 2,
}

// ControlRequest carries operator control inputs. Every field is optional;
// each one present produces its own command frame.
type ControlRequest struct {
	ATOMode *string `json:"ato_mode,omitempty"`

	MotorRunTimeMs *float64 `json:"motor_run_time_ms,omitempty"`
	RollerSpeed    *float64 `json:"roller_speed,omitempty"`
	PumpSpeed      *float64 `json:"pump_speed,omitempty"`
	PumpTimeoutMs  *float64 `json:"pump_timeout_ms,omitempty"`

	SpoolReset    *bool    `json:"spool_reset,omitempty"`
	SpoolLengthMm *float64 `json:"spool_length_mm,omitempty"`

	CalibrateStart    *bool    `json:"spool_calibrate_start,omitempty"`
	FilmThicknessUm   *float64 `json:"film_thickness_um,omitempty"`
	CoreDiameterMm    *float64 `json:"core_diameter_mm,omitempty"`
	CalibrateFinishMm *float64 `json:"spool_calibrate_finish_mm,omitempty"`
	CalibrateCancel   *bool    `json:"spool_calibrate_cancel,omitempty"`

	TankRefill     *bool    `json:"ato_tank_refill,omitempty"`
	TankCapacityMl *float64 `json:"tank_capacity_ml,omitempty"`

	AlarmSnooze   *string  `json:"alarm_snooze,omitempty"`
	SnoozeMinutes *float64 `json:"snooze_minutes,omitempty"`
}

// parameterRange bounds one set_parameter value.
type parameterRange struct {
	min, max float64
}

var parameterRanges = map[string]parameterRange{
	"motor_run_time_ms": {1000, 30000},
	"roller_speed":      {50, 255},
	"pump_speed":        {0, 255},
	"pump_timeout_ms":   {60000, 600000},
	"spool_length_mm":   {10000, 200000},
	"film_thickness_um": {40, 400},
	"core_diameter_mm":  {12, 80},
}

func validateParameter(name string, value float64) error {
	bounds, ok := parameterRanges[name]
	if !ok {
		return nil
	}
	if value < bounds.min || value > bounds.max {
		return errors.WrapInvalid(
			fmt.Errorf("%s %.0f out of range [%.0f, %.0f]", name, value, bounds.min, bounds.max),
			"Server", "handleControl", "parameter validation")
	}
	return nil
}

func commandEnvelope(moduleID, command string, parameters map[string]any) map[string]any {
	if parameters == nil {
		parameters = map[string]any{}
	}
	return map[string]any{
		"protocol":  controlProtocol,
		"module_id": moduleID,
		"type":      "control",
		"payload": map[string]any{
			"command":    command,
			"parameters": parameters,
		},
	}
}

// buildCommands expands a control request into command frames, validating
// every present value. An empty request is an error, not a no-op.
func buildCommands(moduleID string, req ControlRequest) ([]map[string]any, error) {
	var commands []map[string]any

	if req.ATOMode != nil {
		mode, ok := atoModeMap[*req.ATOMode]
		if !ok {
			return nil, errors.WrapInvalid(
				fmt.Errorf("unknown ato mode %q", *req.ATOMode),
				"Server", "handleControl", "ato mode validation")
		}
		commands = append(commands, commandEnvelope(moduleID, "set_ato_mode",
			map[string]any{"mode": mode}))
	}

	numericParams := []struct {
		name  string
		value *float64
	}{
		{"motor_run_time_ms", req.MotorRunTimeMs},
		{"roller_speed", req.RollerSpeed},
		{"pump_speed", req.PumpSpeed},
		{"pump_timeout_ms", req.PumpTimeoutMs},
	}
	for _, param := range numericParams {
		if param.value == nil {
			continue
		}
		if err := validateParameter(param.name, *param.value); err != nil {
			return nil, err
		}
		commands = append(commands, commandEnvelope(moduleID, "set_parameter",
			map[string]any{"name": param.name, "value": *param.value}))
	}

	if req.SpoolReset != nil && *req.SpoolReset {
		parameters := map[string]any{}
		if req.SpoolLengthMm != nil {
			if err := validateParameter("spool_length_mm", *req.SpoolLengthMm); err != nil {
				return nil, err
			}
			parameters["spool_length_mm"] = *req.SpoolLengthMm
		}
		commands = append(commands, commandEnvelope(moduleID, "spool_reset", parameters))
	}

	if req.CalibrateStart != nil && *req.CalibrateStart {
		parameters := map[string]any{}
		if req.FilmThicknessUm != nil {
			if err := validateParameter("film_thickness_um", *req.FilmThicknessUm); err != nil {
				return nil, err
			}
			parameters["film_thickness_um"] = *req.FilmThicknessUm
		}
		if req.CoreDiameterMm != nil {
			if err := validateParameter("core_diameter_mm", *req.CoreDiameterMm); err != nil {
				return nil, err
			}
			parameters["core_diameter_mm"] = *req.CoreDiameterMm
		}
		commands = append(commands, commandEnvelope(moduleID, "spool_calibrate_start", parameters))
	}

	if req.CalibrateFinishMm != nil {
		// Zero aborts the measurement; anything else must be a plausible length.
		measured := *req.CalibrateFinishMm
		if measured != 0 && measured < 10000 {
			return nil, errors.WrapInvalid(
				fmt.Errorf("measured length %.0f must be 0 or at least 10000", measured),
				"Server", "handleControl", "calibration validation")
		}
		commands = append(commands, commandEnvelope(moduleID, "spool_calibrate_finish",
			map[string]any{"measured_length_mm": measured}))
	}

	if req.CalibrateCancel != nil && *req.CalibrateCancel {
		commands = append(commands, commandEnvelope(moduleID, "spool_calibrate_cancel", nil))
	}

	if req.TankRefill != nil && *req.TankRefill {
		parameters := map[string]any{}
		if req.TankCapacityMl != nil {
			parameters["tank_capacity_ml"] = *req.TankCapacityMl
		}
		commands = append(commands, commandEnvelope(moduleID, "ato_tank_refill", parameters))
	}

	if req.AlarmSnooze != nil {
		parameters := map[string]any{"code": *req.AlarmSnooze}
		if req.SnoozeMinutes != nil {
			parameters["minutes"] = *req.SnoozeMinutes
		}
		commands = append(commands, commandEnvelope(moduleID, "alarm_snooze", parameters))
	}

	if len(commands) == 0 {
		return nil, errors.WrapInvalid(errors.ErrNoControlValues,
			"Server", "handleControl", "empty control request")
	}
	return commands, nil
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	moduleID := r.PathValue("id")

	if !s.registry.IsConnected(moduleID) {
		s.writeError(w, http.StatusNotFound, "module not connected")
		return
	}

	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	commands, err := buildCommands(moduleID, req)
	if err != nil {
		s.writeError(w, errorStatus(err), err.Error())
		return
	}

	delivered := 0
	for _, command := range commands {
		if err := s.registry.Send(moduleID, command); err != nil {
			s.logger.Warn("command delivery failed", "module_id", moduleID, "err", err)
			if s.metrics != nil {
				s.metrics.CommandsUndelivered.Inc()
			}
			continue
		}
		delivered++
		if s.metrics != nil {
			s.metrics.CommandsSent.Inc()
		}
		if s.trace != nil {
			s.trace.Record(r.Context(), store.DirectionTx, moduleID, command, false)
		}
	}

	if delivered == 0 {
		s.writeError(w, http.StatusServiceUnavailable, "no commands could be delivered")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"module_id":     moduleID,
		"commands_sent": delivered,
	})
}
