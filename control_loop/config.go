package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"drivetrain-core/drive"
	"drivetrain-core/robot"
)

const envPrefix = "DRIVECORE"

// Config is everything the control loop reads at startup.
type Config struct {
	Loop      LoopConfig            `mapstructure:"loop" yaml:"loop"`
	CAN       CANConfig             `mapstructure:"can" yaml:"can"`
	Collision drive.CollisionConfig `mapstructure:"collision" yaml:"collision"`
	Robot     robot.Config          `mapstructure:"robot" yaml:"robot"`
	Auto      AutoConfig            `mapstructure:"auto" yaml:"auto"`
	Station   StationConfig         `mapstructure:"station" yaml:"station"`
	Log       LogConfig             `mapstructure:"log" yaml:"log"`
}

type LoopConfig struct {
	PeriodMS int `mapstructure:"period_ms" yaml:"period_ms"`
}

func (l LoopConfig) Period() time.Duration {
	return time.Duration(l.PeriodMS) * time.Millisecond
}

type CANConfig struct {
	Enable bool   `mapstructure:"enable" yaml:"enable"`
	Iface  string `mapstructure:"iface" yaml:"iface"`
	Map    string `mapstructure:"map" yaml:"map"`
}

type AutoConfig struct {
	// Selection names the routine on the autonomous menu; empty picks the first.
	Selection string `mapstructure:"selection" yaml:"selection"`
}

type StationConfig struct {
	Listen    string `mapstructure:"listen" yaml:"listen"`
	PublishMS int    `mapstructure:"publish_ms" yaml:"publish_ms"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	File   string `mapstructure:"file" yaml:"file"`
	JSON   bool   `mapstructure:"json" yaml:"json"`
	Stdout bool   `mapstructure:"stdout" yaml:"stdout"`
}

func defaultConfig() Config {
	return Config{
		Loop: LoopConfig{PeriodMS: 20},
		CAN: CANConfig{
			Enable: false,
			Iface:  "vcan0",
			Map:    "config/can/drivetrain_map.csv",
		},
		Collision: drive.CollisionConfig{
			CurrentLimit: 60,
			VelocityDrop: 0.6,
			MinVelocity:  500,
		},
		Robot: robot.DefaultConfig(),
		Station: StationConfig{
			Listen:    ":5810",
			PublishMS: 100,
		},
		Log: LogConfig{
			Level:  "info",
			File:   "control_loop.log",
			Stdout: true,
		},
	}
}

// newViper registers defaults for the scalar keys so each can be overridden
// from the environment, e.g. DRIVECORE_CAN_IFACE=can0.
func newViper() *viper.Viper {
	v := viper.New()
	d := defaultConfig()

	v.SetDefault("loop.period_ms", d.Loop.PeriodMS)
	v.SetDefault("can.enable", d.CAN.Enable)
	v.SetDefault("can.iface", d.CAN.Iface)
	v.SetDefault("can.map", d.CAN.Map)
	v.SetDefault("collision.current_limit", d.Collision.CurrentLimit)
	v.SetDefault("collision.velocity_drop", d.Collision.VelocityDrop)
	v.SetDefault("collision.min_velocity", d.Collision.MinVelocity)
	v.SetDefault("auto.selection", d.Auto.Selection)
	v.SetDefault("station.listen", d.Station.Listen)
	v.SetDefault("station.publish_ms", d.Station.PublishMS)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.json", d.Log.JSON)
	v.SetDefault("log.stdout", d.Log.Stdout)
	v.SetDefault("robot.turn_scale", d.Robot.TurnScale)
	v.SetDefault("robot.forward_scale", d.Robot.ForwardScale)
	v.SetDefault("robot.transit_speed", d.Robot.TransitSpeed)
	v.SetDefault("robot.step_timeout", d.Robot.StepTimeout)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig reads path when it exists. A missing file is only an error when
// the path was given explicitly.
func loadConfig(v *viper.Viper, path string, explicit bool) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
			if explicit || !missing {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	// Robot tunables that are not scalar keys keep their defaults unless the
	// file sets them, since Unmarshal only overwrites what it finds. A menu in
	// the file replaces the default one rather than merging by index.
	if v.IsSet("robot.autos") {
		cfg.Robot.Autos = nil
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Robot.Period = cfg.Loop.Period()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Loop.PeriodMS <= 0 {
		return fmt.Errorf("loop.period_ms must be positive, got %d", c.Loop.PeriodMS)
	}
	if c.Station.PublishMS <= 0 {
		return fmt.Errorf("station.publish_ms must be positive, got %d", c.Station.PublishMS)
	}
	if c.CAN.Enable && c.CAN.Iface == "" {
		return errors.New("can.iface is required when can.enable is set")
	}
	return c.Robot.Validate()
}

// dumpConfig writes the effective configuration as YAML.
func dumpConfig(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
