package ws

// buildConfigReply answers a config_request with the factory defaults. The
// module overlays its own stored settings on top; the reply only has to be a
// complete tree.
func buildConfigReply(moduleID string) map[string]any {
	return map[string]any{
		"module": moduleID,
		"type":   "config",
		"motor": map[string]any{
			"max_speed":    255,
			"run_time_ms":  5000,
			"ramp_up_ms":   1000,
			"ramp_down_ms": 1000,
		},
		"ato": map[string]any{
			"mode":          0,
			"timeout_ms":    300000,
			"pump_running":  false,
			"pump_speed":    255,
			"timeout_alarm": false,
		},
		"system": map[string]any{
			"chirp_enabled":    true,
			"pump_timeout_ms":  120000,
			"startup_delay_ms": 5000,
		},
	}
}
