// Package config builds the immutable configuration threaded through the
// scanner, planner, device monitor and deploy orchestrator.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

const (
	// EnvPrefix scopes environment overrides, e.g. APKDEPLOY_APP_ID.
	EnvPrefix = "APKDEPLOY_"
	// FileName is the optional per-project configuration file.
	FileName = "apkdeploy.toml"
)

// Config is constructed once at startup and passed explicitly to every
// component. Nothing downstream reads the process environment.
type Config struct {
	ProjectDir string `koanf:"project"`
	SDKDir     string `koanf:"sdk"`
	SupportDir string `koanf:"support-dir"`
	AppID      string `koanf:"app-id"`
	Name       string `koanf:"name"`
	StateDB    string `koanf:"state-db"`
	LogLevel   string `koanf:"log-level"`
	AndroidAPI string `koanf:"android-api"`

	PollInterval    time.Duration `koanf:"poll-interval"`
	MaxPolls        int           `koanf:"max-polls"`
	MaxEmptyPolls   int           `koanf:"max-empty-polls"`
	SettleThreshold time.Duration `koanf:"settle-threshold"`
	SettleDelay     time.Duration `koanf:"settle-delay"`
	InstallAttempts int           `koanf:"install-attempts"`
	InstallBackoff  time.Duration `koanf:"install-backoff"`
	EmulatorPort    int           `koanf:"emulator-port"`

	Keystore  string `koanf:"keystore"`
	StorePass string `koanf:"storepass"`
	KeyAlias  string `koanf:"alias"`
	DistDir   string `koanf:"dist-dir"`

	AVDID      string `koanf:"avd-id"`
	AVDSkin    string `koanf:"avd-skin"`
	GoogleAPIs bool   `koanf:"google-apis"`
	Force      bool   `koanf:"force"`

	Tools Tools `koanf:"-"`
}

// Tools holds every external command path, resolved once in Load.
type Tools struct {
	ADB        string
	AAPT       string
	DX         string
	ApkBuilder string
	Zipalign   string
	Emulator   string
	Android    string
	MkSDCard   string
	AndroidJar string
	Java       string
	Javac      string
	Jarsigner  string
}

// Defaults: 30 polls of 5s, six empty polls before giving up, 20s settle and
// five install attempts.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"project":          ".",
		"sdk":              "",
		"support-dir":      "",
		"app-id":           "",
		"name":             "",
		"state-db":         "",
		"log-level":        "info",
		"android-api":      "4",
		"poll-interval":    "5s",
		"max-polls":        30,
		"max-empty-polls":  6,
		"settle-threshold": "1s",
		"settle-delay":     "20s",
		"install-attempts": 5,
		"install-backoff":  "3s",
		"emulator-port":    5560,
		"keystore":         "",
		"storepass":        "tirocks",
		"alias":            "tidev",
		"dist-dir":         "",
		"avd-id":           "",
		"avd-skin":         "HVGA",
		"google-apis":      false,
		"force":            false,
	}
}

// Load layers defaults, <project>/apkdeploy.toml, APKDEPLOY_* environment
// variables and changed flags, in increasing priority.
func Load(f *pflag.FlagSet) (*Config, error) {
	// first pass only locates the project so its config file can be read
	first := koanf.New(".")
	if err := loadLayers(first, f, ""); err != nil {
		return nil, err
	}
	project := strings.TrimSpace(first.String("project"))
	if project == "" {
		project = "."
	}

	k := koanf.New(".")
	if err := loadLayers(k, f, filepath.Join(project, FileName)); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadLayers(k *koanf.Koanf, f *pflag.FlagSet, configFile string) error {
	if err := k.Load(mapProvider(Defaults()), nil); err != nil {
		return errors.Wrap(err, "load config defaults")
	}
	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			if err := k.Load(file.Provider(configFile), toml.Parser()); err != nil {
				return errors.Wrapf(err, "load %s", configFile)
			}
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return errors.Wrap(err, "load env config")
	}
	if f != nil {
		if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
			return errors.Wrap(err, "load flag config")
		}
	}
	return nil
}

// envKey maps APKDEPLOY_SETTLE_DELAY to settle-delay.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", "-")
}

func (c *Config) normalize() error {
	project, err := filepath.Abs(expandHome(c.ProjectDir))
	if err != nil {
		return errors.Wrap(err, "resolve project dir")
	}
	c.ProjectDir = project
	if c.SDKDir != "" {
		sdk, err := filepath.Abs(expandHome(c.SDKDir))
		if err != nil {
			return errors.Wrap(err, "resolve sdk dir")
		}
		c.SDKDir = sdk
	}
	if c.SupportDir == "" {
		c.SupportDir = filepath.Join(c.ProjectDir, "build", "support")
	}
	c.SupportDir = expandHome(c.SupportDir)
	if c.StateDB == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "locate user home")
		}
		c.StateDB = filepath.Join(home, ".apkdeploy", "deltafy.sqlite")
	}
	c.StateDB = expandHome(c.StateDB)
	if c.Keystore != "" {
		c.Keystore = expandHome(c.Keystore)
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = 30
	}
	if c.MaxEmptyPolls <= 0 {
		c.MaxEmptyPolls = 6
	}
	if c.InstallAttempts <= 0 {
		c.InstallAttempts = 5
	}
	c.Tools = resolveTools(c.SDKDir, c.AndroidAPI, os.Getenv("JAVA_HOME"))
	return nil
}

// Validate reports missing settings required to build and deploy.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.ProjectDir) == "" {
		missing = append(missing, "project")
	}
	if strings.TrimSpace(c.SDKDir) == "" {
		missing = append(missing, "sdk")
	}
	if strings.TrimSpace(c.AppID) == "" {
		missing = append(missing, "app-id")
	}
	if len(missing) > 0 {
		return errors.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

// BuildDir is the generated Android project directory.
func (c *Config) BuildDir() string {
	return filepath.Join(c.ProjectDir, "build", "android")
}

// ResourcesDir is the shared application resources root.
func (c *Config) ResourcesDir() string {
	return filepath.Join(c.ProjectDir, "Resources")
}

// DescriptorPath is the project descriptor whose change forces a full rebuild.
func (c *Config) DescriptorPath() string {
	return filepath.Join(c.ProjectDir, "tiapp.xml")
}

func resolveTools(sdk, api, javaHome string) Tools {
	exe := ""
	bat := ""
	if runtime.GOOS == "windows" {
		exe = ".exe"
		bat = ".bat"
	}
	platformTools := filepath.Join(sdk, "platform-tools")
	sdkTools := filepath.Join(sdk, "tools")
	t := Tools{
		ADB:        filepath.Join(platformTools, "adb"+exe),
		AAPT:       filepath.Join(platformTools, "aapt"+exe),
		DX:         filepath.Join(platformTools, "dx"+bat),
		ApkBuilder: filepath.Join(sdkTools, "apkbuilder"+bat),
		Zipalign:   filepath.Join(sdkTools, "zipalign"+exe),
		Emulator:   filepath.Join(sdkTools, "emulator"+exe),
		Android:    filepath.Join(sdkTools, "android"+bat),
		MkSDCard:   filepath.Join(sdkTools, "mksdcard"+exe),
		AndroidJar: filepath.Join(sdk, "platforms", "android-"+api, "android.jar"),
		Java:       "java",
		Javac:      "javac",
		Jarsigner:  "jarsigner",
	}
	if javaHome = strings.TrimSpace(javaHome); javaHome != "" {
		bin := filepath.Join(javaHome, "bin")
		t.Java = filepath.Join(bin, "java"+exe)
		t.Javac = filepath.Join(bin, "javac"+exe)
		t.Jarsigner = filepath.Join(bin, "jarsigner"+exe)
	}
	return t
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

type mapProvider map[string]interface{}

func (p mapProvider) Read() (map[string]interface{}, error) {
	return p, nil
}

func (p mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("map provider does not support ReadBytes")
}
