// Package config loads the Global configuration described in the data
// model: directory discipline, routing identity, logging parameters, and
// the PPS/device-mode flags, each tracked with a provenance label so
// --params can report where a value came from.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Provenance records where a configuration value was sourced from.
type Provenance string

const (
	FromCLI     Provenance = "cli"
	FromEnv     Provenance = "env"
	FromFile    Provenance = "file"
	FromBuiltin Provenance = "builtin"
)

// PPSMode is the pulse-per-second synchronization source.
type PPSMode int

const (
	PPSNone PPSMode = iota
	PPSGPS
	PPSFuzzy
	PPSTestpin
)

func ParsePPSMode(s string) (PPSMode, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return PPSNone, nil
	case "gps":
		return PPSGPS, nil
	case "fuzzy":
		return PPSFuzzy, nil
	case "testpin":
		return PPSTestpin, nil
	default:
		return PPSNone, fmt.Errorf("unknown pps mode %q", s)
	}
}

// Sourced pairs a configuration value with where it came from.
type Sourced[T any] struct {
	Value T
	From  Provenance
}

// Config is the Global configuration of the data model.
type Config struct {
	HomeDir Sourced[string] `validate:"required"`
	TempDir Sourced[string] `validate:"required"`
	WebDir  Sourced[string]
	WebPort int `validate:"omitempty,min=1,max=65535"`

	RouterEUI   Sourced[string]
	EUIPrefix   Sourced[string]
	SlaveIndex  int // -1 if master

	LogFile  string
	LogSize  int
	LogRotate int
	LogLevel int `validate:"min=0,max=7"`

	RadioInit string
	GPSDevice string
	PPS       PPSMode
	Device    string

	NoTC       bool
	NoCUPS     bool
	DeviceMode bool

	// CUPS timing, defaulted from the original's constants. These keep
	// their builtin defaults: they are not read from station.conf, the
	// environment or CLI flags.
	CupsConnTimeoutSeconds  int
	CupsOkSyncIntervalSeconds int
	CupsResyncIntervalSeconds int
}

// Defaults returns the builtin configuration, the bottom of the
// CLI > env > file > builtin precedence stack.
func Defaults() *Config {
	return &Config{
		HomeDir:   Sourced[string]{Value: "/opt/station", From: FromBuiltin},
		TempDir:   Sourced[string]{Value: "/tmp", From: FromBuiltin},
		WebPort:   8080,
		SlaveIndex: -1,
		LogLevel:  5,
		CupsConnTimeoutSeconds:    20,
		CupsOkSyncIntervalSeconds: 3600,
		CupsResyncIntervalSeconds: 60,
	}
}

var validate = validator.New()

// Validate applies struct-tag validation plus the production rule: when
// the caller-supplied `production` flag is set (a flag rather than a
// build tag so tests can exercise both paths), device_mode is rejected.
// No other field is checked by that rule; nocca/nodc/nodwell are not
// fields of Config and are not rejected here.
func (c *Config) Validate(production bool) error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if production && c.DeviceMode {
		return fmt.Errorf("device_mode is not permitted in production builds")
	}
	return nil
}

// BindFlags registers the CLI surface from §6 onto fs. Hidden flags
// (slave/exec/selftests/fscmd/fskey/fscd) are still registered so pflag
// parses them, just not shown in default usage.
func BindFlags(fs *pflag.FlagSet) {
	fs.StringP("log-file", "L", "", "log file, optionally FILE[,SIZE[,ROT]]")
	fs.IntP("log-level", "l", 5, "log level 0..7")
	fs.StringP("home", "h", "", "home directory")
	fs.StringP("temp", "t", "", "temp directory")
	fs.StringP("radio-init", "i", "", "radio init command")
	fs.StringP("eui-prefix", "x", "", "EUI prefix (id6)")
	fs.BoolP("params", "p", false, "print configuration and exit")
	fs.BoolP("version", "v", false, "print version and exit")
	fs.BoolP("daemon", "d", false, "run as daemon/worker supervisor")
	fs.BoolP("force", "f", false, "force takeover from a running station")
	fs.BoolP("kill", "k", false, "kill a running station and exit")
	fs.BoolP("no-tc", "N", false, "disable the TC traffic link")

	fs.StringP("slave", "S", "", "slave index (hidden)")
	fs.StringP("exec", "X", "", "exec command in place of radio driver (hidden)")
	fs.Bool("selftests", false, "run in-process self tests and exit (hidden)")
	fs.String("fscmd", "", "filesystem command hook (hidden)")
	fs.String("fskey", "", "filesystem key hook (hidden)")
	fs.String("fscd", "", "filesystem change-dir hook (hidden)")
	for _, name := range []string{"slave", "exec", "selftests", "fscmd", "fskey", "fscd"} {
		_ = fs.MarkHidden(name)
	}
}

// Load resolves the layered configuration: CLI flags seen on fs override
// STATION_* environment variables, which override station.conf, which
// override Defaults().
func Load(fs *pflag.FlagSet, confPath string) (*Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix("STATION")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if confPath != "" {
		v.SetConfigFile(confPath)
		if err := v.ReadInConfig(); err == nil {
			applyFileFields(cfg, v)
		} else if !isNotFound(err) {
			return nil, fmt.Errorf("reading station.conf: %w", err)
		}
	}

	applyEnv(cfg, v)
	applyFlags(cfg, fs)

	return cfg, nil
}

func isNotFound(err error) bool {
	_, ok := err.(viper.ConfigFileNotFoundError)
	return ok
}

func applyFileFields(cfg *Config, v *viper.Viper) {
	root := v.Sub("station_conf")
	if root == nil {
		return
	}
	if s := root.GetString("routerid"); s != "" {
		cfg.RouterEUI = Sourced[string]{Value: s, From: FromFile}
	}
	if s := root.GetString("euiprefix"); s != "" {
		cfg.EUIPrefix = Sourced[string]{Value: s, From: FromFile}
	}
	if s := root.GetString("log_file"); s != "" {
		cfg.LogFile = s
	}
	if root.IsSet("log_size") {
		cfg.LogSize = root.GetInt("log_size")
	}
	if root.IsSet("log_rotate") {
		cfg.LogRotate = root.GetInt("log_rotate")
	}
	if root.IsSet("log_level") {
		cfg.LogLevel = root.GetInt("log_level")
	}
	if s := root.GetString("gps"); s != "" {
		cfg.GPSDevice = s
	}
	if s := root.GetString("pps"); s != "" {
		if mode, err := ParsePPSMode(s); err == nil {
			cfg.PPS = mode
		}
	}
	if s := root.GetString("radio_init"); s != "" {
		cfg.RadioInit = s
	}
	if s := root.GetString("device"); s != "" {
		cfg.Device = s
	}
	if root.IsSet("web_port") {
		cfg.WebPort = root.GetInt("web_port")
	}
	if s := root.GetString("web_dir"); s != "" {
		cfg.WebDir = Sourced[string]{Value: s, From: FromFile}
	}
	for _, key := range []string{"nocca", "nodc", "nodwell", "device_mode"} {
		if root.GetBool(key) && key == "device_mode" {
			cfg.DeviceMode = true
		}
	}
}

func applyEnv(cfg *Config, v *viper.Viper) {
	if s := v.GetString("HOME"); s != "" {
		cfg.HomeDir = Sourced[string]{Value: s, From: FromEnv}
	}
	if s := v.GetString("TEMPDIR"); s != "" {
		cfg.TempDir = Sourced[string]{Value: s, From: FromEnv}
	}
	if s := v.GetString("LOGFILE"); s != "" {
		cfg.LogFile = s
	}
	if s := v.GetString("LOGLEVEL"); s != "" {
		fmt.Sscanf(s, "%d", &cfg.LogLevel)
	}
	if s := v.GetString("RADIOINIT"); s != "" {
		cfg.RadioInit = s
	}
	if s := v.GetString("EUIPREFIX"); s != "" {
		cfg.EUIPrefix = Sourced[string]{Value: s, From: FromEnv}
	}
}

func applyFlags(cfg *Config, fs *pflag.FlagSet) {
	if fs == nil {
		return
	}
	if v, _ := fs.GetString("home"); v != "" {
		cfg.HomeDir = Sourced[string]{Value: v, From: FromCLI}
	}
	if v, _ := fs.GetString("temp"); v != "" {
		cfg.TempDir = Sourced[string]{Value: v, From: FromCLI}
	}
	if v, _ := fs.GetString("log-file"); v != "" {
		cfg.LogFile = v
	}
	if fs.Changed("log-level") {
		cfg.LogLevel, _ = fs.GetInt("log-level")
	}
	if v, _ := fs.GetString("radio-init"); v != "" {
		cfg.RadioInit = v
	}
	if v, _ := fs.GetString("eui-prefix"); v != "" {
		cfg.EUIPrefix = Sourced[string]{Value: v, From: FromCLI}
	}
	if v, _ := fs.GetBool("no-tc"); v {
		cfg.NoTC = true
	}
	if v, _ := fs.GetString("slave"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.SlaveIndex)
	}
}
