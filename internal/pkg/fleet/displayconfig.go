package fleet

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"
)

//Color is an RGB triple as understood by the gauge firmware
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

//DisplayConfig is the settings block pushed to a gauge. Every field is optional on input;
//fields that are left out keep the value from DefaultDisplayConfig.
//
//	field                      default            allowed
//	speed_unit                 0 (km/h)           0 km/h, 1 mph
//	speed_number_color         255,255,255
//	speed_unit_color           150,150,150
//	speed_grid_color           0,60,140
//	speed_car_color            255,255,255
//	speed_shadow_color         120,120,120
//	tilt_angle_color           255,80,80
//	tilt_unit_color            130,130,130
//	tilt_warning_deg           25                 0..90
//	danger_color               200,0,0
//	tilt_speed                 1.0                (0, 10]
//	data_circle_color          0,212,255
//	data_circle_dim_color      0,100,120
//	data_circle_inner_color    0,60,140
//	data_bar_color             0,212,255
//	data_center_color          0,212,255
//	volt_gauge_color           255,149,0
//	volt_warning_color         255,0,0
//	volt_warning_low           11.7               0..30, below volt_warning_high
//	volt_warning_high          13.5               0..30
//	volt_sim_enabled           true
//	volt_sim_value             12.8               0..30
//	rpm_sim_enabled            true
//	rpm_sim_value              3500               0..20000
//	imu_filter_tau             0.35               (0, 5]
//	speed_sim_enabled          true
//	speed_sim_max              200                1..400
//	speed_sim_accel            40                 1..500
//	speed_sim_decel            50                 1..500
//	language                   0 (fr)             0 fr, 1 en
//	brightness                 80                 0..100
//	welcome_word               "utilisateurs"     at most 32 characters
//	wifi_ssid                  "GaugeCluster"     1..32 characters
//	wifi_password              "12345678"         8..63 characters
//	wifi_channel               1                  1..13
type DisplayConfig struct {
	SpeedUnit            int     `json:"speed_unit"`
	SpeedNumberColor     Color   `json:"speed_number_color"`
	SpeedUnitColor       Color   `json:"speed_unit_color"`
	SpeedGridColor       Color   `json:"speed_grid_color"`
	SpeedCarColor        Color   `json:"speed_car_color"`
	SpeedShadowColor     Color   `json:"speed_shadow_color"`
	TiltAngleColor       Color   `json:"tilt_angle_color"`
	TiltUnitColor        Color   `json:"tilt_unit_color"`
	TiltWarningDeg       int     `json:"tilt_warning_deg"`
	DangerColor          Color   `json:"danger_color"`
	TiltSpeed            float64 `json:"tilt_speed"`
	DataCircleColor      Color   `json:"data_circle_color"`
	DataCircleDimColor   Color   `json:"data_circle_dim_color"`
	DataCircleInnerColor Color   `json:"data_circle_inner_color"`
	DataBarColor         Color   `json:"data_bar_color"`
	DataCenterColor      Color   `json:"data_center_color"`
	VoltGaugeColor       Color   `json:"volt_gauge_color"`
	VoltWarningColor     Color   `json:"volt_warning_color"`
	VoltWarningLow       float64 `json:"volt_warning_low"`
	VoltWarningHigh      float64 `json:"volt_warning_high"`
	VoltSimEnabled       bool    `json:"volt_sim_enabled"`
	VoltSimValue         float64 `json:"volt_sim_value"`
	RPMSimEnabled        bool    `json:"rpm_sim_enabled"`
	RPMSimValue          float64 `json:"rpm_sim_value"`
	IMUFilterTau         float64 `json:"imu_filter_tau"`
	SpeedSimEnabled      bool    `json:"speed_sim_enabled"`
	SpeedSimMax          int     `json:"speed_sim_max"`
	SpeedSimAccel        int     `json:"speed_sim_accel"`
	SpeedSimDecel        int     `json:"speed_sim_decel"`
	Language             int     `json:"language"`
	Brightness           int     `json:"brightness"`
	WelcomeWord          string  `json:"welcome_word"`
	WifiSSID             string  `json:"wifi_ssid"`
	WifiPassword         string  `json:"wifi_password"`
	WifiChannel          int     `json:"wifi_channel"`
}

//DefaultDisplayConfig matches the defaults compiled into the gauge firmware
func DefaultDisplayConfig() DisplayConfig {
	return DisplayConfig{
		SpeedUnit:            0,
		SpeedNumberColor:     Color{255, 255, 255},
		SpeedUnitColor:       Color{150, 150, 150},
		SpeedGridColor:       Color{0, 60, 140},
		SpeedCarColor:        Color{255, 255, 255},
		SpeedShadowColor:     Color{120, 120, 120},
		TiltAngleColor:       Color{255, 80, 80},
		TiltUnitColor:        Color{130, 130, 130},
		TiltWarningDeg:       25,
		DangerColor:          Color{200, 0, 0},
		TiltSpeed:            1.0,
		DataCircleColor:      Color{0, 212, 255},
		DataCircleDimColor:   Color{0, 100, 120},
		DataCircleInnerColor: Color{0, 60, 140},
		DataBarColor:         Color{0, 212, 255},
		DataCenterColor:      Color{0, 212, 255},
		VoltGaugeColor:       Color{255, 149, 0},
		VoltWarningColor:     Color{255, 0, 0},
		VoltWarningLow:       11.7,
		VoltWarningHigh:      13.5,
		VoltSimEnabled:       true,
		VoltSimValue:         12.8,
		RPMSimEnabled:        true,
		RPMSimValue:          3500.0,
		IMUFilterTau:         0.35,
		SpeedSimEnabled:      true,
		SpeedSimMax:          200,
		SpeedSimAccel:        40,
		SpeedSimDecel:        50,
		Language:             0,
		Brightness:           80,
		WelcomeWord:          "utilisateurs",
		WifiSSID:             "GaugeCluster",
		WifiPassword:         "12345678",
		WifiChannel:          1,
	}
}

//ParseDisplayConfig decodes a (possibly partial) settings object on top of the defaults.
//Unknown keys and out of range values are rejected.
func ParseDisplayConfig(raw []byte) (DisplayConfig, error) {
	cfg := DefaultDisplayConfig()

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return cfg, validationError("config must be a JSON object")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return DefaultDisplayConfig(), validationError("invalid config: %s", err.Error())
	}

	if err := cfg.Validate(); err != nil {
		return DefaultDisplayConfig(), err
	}

	return cfg, nil
}

//Validate checks every field against the allowed ranges of the firmware
func (c DisplayConfig) Validate() error {
	checks := []struct {
		ok    bool
		field string
	}{
		{inRange(c.SpeedUnit, 0, 1), "speed_unit"},
		{inRange(c.TiltWarningDeg, 0, 90), "tilt_warning_deg"},
		{c.TiltSpeed > 0 && c.TiltSpeed <= 10, "tilt_speed"},
		{c.VoltWarningLow >= 0 && c.VoltWarningLow <= 30, "volt_warning_low"},
		{c.VoltWarningHigh >= 0 && c.VoltWarningHigh <= 30, "volt_warning_high"},
		{c.VoltWarningLow < c.VoltWarningHigh, "volt_warning_low"},
		{c.VoltSimValue >= 0 && c.VoltSimValue <= 30, "volt_sim_value"},
		{c.RPMSimValue >= 0 && c.RPMSimValue <= 20000, "rpm_sim_value"},
		{c.IMUFilterTau > 0 && c.IMUFilterTau <= 5, "imu_filter_tau"},
		{inRange(c.SpeedSimMax, 1, 400), "speed_sim_max"},
		{inRange(c.SpeedSimAccel, 1, 500), "speed_sim_accel"},
		{inRange(c.SpeedSimDecel, 1, 500), "speed_sim_decel"},
		{inRange(c.Language, 0, 1), "language"},
		{inRange(c.Brightness, 0, 100), "brightness"},
		{utf8.RuneCountInString(c.WelcomeWord) <= 32, "welcome_word"},
		{inRange(utf8.RuneCountInString(c.WifiSSID), 1, 32), "wifi_ssid"},
		{inRange(len(c.WifiPassword), 8, 63), "wifi_password"},
		{inRange(c.WifiChannel, 1, 13), "wifi_channel"},
	}

	for _, chk := range checks {
		if !chk.ok {
			return validationError("%s is out of range", chk.field)
		}
	}
	return nil
}

func inRange(v, min, max int) bool {
	return v >= min && v <= max
}

//decodeStoredConfig is lenient: stored blobs that no longer decode fall back to the defaults
func decodeStoredConfig(raw []byte) (DisplayConfig, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return DefaultDisplayConfig(), false
	}

	cfg := DefaultDisplayConfig()
	if err := json.Unmarshal(trimmed, &cfg); err != nil {
		return DefaultDisplayConfig(), false
	}
	return cfg, true
}
