// Copyright (c) 2025 The labsync developers. All rights reserved.
// Project site: https://github.com/hqe-lab/labsync
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labsync

// Device identifiers used by the profiles, the configuration and presets.
const (
	StageID     = "EcoVario"
	Laser1ID    = "Laser1"
	Laser2ID    = "Laser2"
	GeneratorID = "TGA1244"
	AnalyzerID  = "FSV3000"
)

// GeneratorChannels is the number of TGA1244 output channels.
const GeneratorChannels = 4

// StageProfile describes the EcoVario linear stage.
func StageProfile() *DeviceProfile {
	return NewProfile(
		Parameter{Key: "target_pos", Method: "set_position", Min: Bound(0), Max: Bound(1500), Unit: "mm", Type: TypeFloat},
		Parameter{Key: "speed", Method: "set_speed", Min: Bound(0), Max: Bound(100), Unit: "mm/s", Type: TypeFloat},
		Parameter{Key: "accel", Method: "set_acceleration", Min: Bound(0), Max: Bound(2000), Unit: "mm/s²", Type: TypeFloat},
		Parameter{Key: "deaccel", Method: "set_deacceleration", Min: Bound(0), Max: Bound(2000), Unit: "mm/s²", Type: TypeFloat},
		Parameter{Key: "control_word", Method: "set_control_word", Min: Bound(0), Max: Bound(0xFFFF), Type: TypeInt},
		Parameter{Key: "START", Method: "start"},
		Parameter{Key: "STOP", Method: "stop"},
		Parameter{Key: "HOME", Method: "home_stage"},
		Parameter{Key: "RESET_ERROR", Method: "reset_current_error"},
		Parameter{Key: "current_pos", Getter: "get_current_position", Unit: "mm", Type: TypeFloat},
		Parameter{Key: "status_word", Getter: "get_status_word", Type: TypeString},
		Parameter{Key: "error_code", Getter: "get_current_error", Type: TypeString},
	)
}

// LaserProfile describes an Omicron LuxX+ diode laser.
func LaserProfile() *DeviceProfile {
	return NewProfile(
		Parameter{Key: "temp_power", Method: "set_temp_power", Getter: "get_temp_power", Min: Bound(0), Max: Bound(100), Unit: "%", Type: TypeFloat},
		Parameter{Key: "power", Method: "set_power", Getter: "get_power", Min: Bound(0), Unit: "mW", Type: TypeFloat},
		Parameter{Key: "op_mode", Method: "set_op_mode", Getter: "get_op_mode", Min: Bound(0), Max: Bound(5), Type: TypeInt},
		Parameter{Key: "emission", Method: "set_emission", Type: TypeBool},
		Parameter{Key: "RESET", Method: "reset_controller"},
		Parameter{Key: "firmware", Getter: "get_firmware", Type: TypeString},
		Parameter{Key: "specs", Getter: "get_specs", Type: TypeString},
		Parameter{Key: "max_power", Getter: "get_max_power", Unit: "mW", Type: TypeFloat},
		Parameter{Key: "error_code", Getter: "get_error_code", Type: TypeString},
	)
}

// GeneratorProfile describes the TTi TGA1244 four-channel generator. Every
// setter takes a ChannelValue.
func GeneratorProfile() *DeviceProfile {
	ch := GeneratorChannels
	return NewProfile(
		Parameter{Key: "waveform", Method: "set_waveform", Type: TypeString, Channels: ch},
		Parameter{Key: "frequency", Method: "set_frequency", Min: Bound(0), Max: Bound(16e6), Unit: "Hz", Type: TypeFloat, Channels: ch},
		Parameter{Key: "amplitude", Method: "set_amplitude", Min: Bound(0), Max: Bound(20), Unit: "V", Type: TypeFloat, Channels: ch},
		Parameter{Key: "offset", Method: "set_offset", Min: Bound(-10), Max: Bound(10), Unit: "V", Type: TypeFloat, Channels: ch},
		Parameter{Key: "phase", Method: "set_phase", Min: Bound(-360), Max: Bound(360), Unit: "°", Type: TypeFloat, Channels: ch},
		Parameter{Key: "lockmode", Method: "set_lockmode", Type: TypeString, Channels: ch},
		Parameter{Key: "output", Method: "set_output", Type: TypeBool, Channels: ch},
		// Resolved by the caller before amplitude and offset are sent.
		Parameter{Key: "input_mode", Type: TypeString, Channels: ch},
	)
}

// AnalyzerProfile describes the R&S FSV3000 spectrum analyzer.
func AnalyzerProfile() *DeviceProfile {
	return NewProfile(
		Parameter{Key: "center_frequency", Method: "set_center_frequency", Min: Bound(0), Max: Bound(44e9), Unit: "Hz", Type: TypeFloat},
		Parameter{Key: "span", Method: "set_span", Min: Bound(0), Max: Bound(44e9), Unit: "Hz", Type: TypeFloat},
		Parameter{Key: "bandwidth", Method: "set_bandwidth", Min: Bound(1), Max: Bound(10e6), Unit: "Hz", Type: TypeFloat},
		Parameter{Key: "sweep_type", Method: "set_sweep_type", Type: TypeString},
		Parameter{Key: "unit", Method: "set_unit", Type: TypeString},
		Parameter{Key: "sweep_points", Method: "set_sweep_points", Min: Bound(101), Max: Bound(100001), Type: TypeInt},
		Parameter{Key: "avg_count", Method: "set_avg_count", Min: Bound(0), Max: Bound(32767), Type: TypeInt},
		Parameter{Key: "single_trace", Getter: "start_single_measurement"},
		Parameter{Key: "avg_trace", Getter: "start_avg_measurement"},
		Parameter{Key: "identity", Getter: "get_identity", Type: TypeString},
	)
}

// Profiles returns the profile of every known device keyed by device id.
func Profiles() map[string]*DeviceProfile {
	return map[string]*DeviceProfile{
		StageID:     StageProfile(),
		Laser1ID:    LaserProfile(),
		Laser2ID:    LaserProfile(),
		GeneratorID: GeneratorProfile(),
		AnalyzerID:  AnalyzerProfile(),
	}
}
