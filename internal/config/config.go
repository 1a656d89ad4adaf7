// Package config loads the bot's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/ingress-farmbot/internal/game"
	"github.com/roman-kulish/ingress-farmbot/internal/geo"
)

var ErrInvalidAccount = errors.New("invalid account")

type Config struct {
	Account     Account     `yaml:"account"`
	AccountsDir string      `yaml:"accounts_dir"`
	Location    *geo.LatLng `yaml:"location,omitempty"`
	MinLevel    int         `yaml:"min_level"`
	Faction     string      `yaml:"faction"`

	Store  StoreSpec  `yaml:"store"`
	Server ServerSpec `yaml:"server"`
	Policy PolicySpec `yaml:"policy"`

	JournalDir   string `yaml:"journal_dir"`
	TelemetryDir string `yaml:"telemetry_dir"`
}

type Account struct {
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	AppInfo    string `yaml:"app_info"`
	DeviceInfo string `yaml:"device_info"`
}

// StoreSpec locates the cache. Each account gets <dir>/<username>.db unless
// path names a file explicitly.
type StoreSpec struct {
	Dir    string `yaml:"dir"`
	Path   string `yaml:"path"`
	Schema string `yaml:"schema"`
}

type ServerSpec struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PolicySpec tunes the farming loop. Zero values fall back to defaults.
type PolicySpec struct {
	MinEnergy       int           `yaml:"min_energy"`
	StepMinM        float64       `yaml:"step_min_m"`
	StepMaxM        float64       `yaml:"step_max_m"`
	ScannerAreaM    int           `yaml:"scanner_area_m"`
	PortalsRangeM   int           `yaml:"portals_range_m"`
	HackInterval    time.Duration `yaml:"hack_interval"`
	BurnoutInterval time.Duration `yaml:"burnout_interval"`
	Pace            time.Duration `yaml:"pace"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	cfg.Normalize()
	return cfg, nil
}

// LoadAccount reads <dir>/<username>.yaml into the account section.
func (c *Config) LoadAccount(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("%w: empty username", ErrInvalidAccount)
	}
	path := filepath.Join(c.AccountsDir, username+".yaml")
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	var a Account
	if err := yaml.Unmarshal(b, &a); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidAccount, filepath.Base(path), err)
	}
	if a.Username == "" {
		a.Username = username
	}
	c.Account = a
	return nil
}

func defaults() Config {
	return Config{
		AccountsDir: "accounts",
		Faction:     "any",
		Store: StoreSpec{
			Dir:    "data",
			Schema: "db/schema.sql",
		},
		Server: ServerSpec{
			Timeout: 30 * time.Second,
		},
		Policy: PolicySpec{
			MinEnergy:       500,
			StepMinM:        1,
			StepMaxM:        4,
			ScannerAreaM:    40,
			PortalsRangeM:   500,
			HackInterval:    300 * time.Second,
			BurnoutInterval: 28800 * time.Second,
			Pace:            time.Second,
		},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	d := defaults()
	if c.MinLevel < 0 {
		c.MinLevel = 0
	}
	c.Faction = strings.ToLower(strings.TrimSpace(c.Faction))
	if c.Faction == "" {
		c.Faction = d.Faction
	}
	c.Account.Username = strings.TrimSpace(c.Account.Username)
	c.Store.Path = strings.TrimSpace(c.Store.Path)
	if strings.TrimSpace(c.Store.Dir) == "" {
		c.Store.Dir = d.Store.Dir
	}
	if strings.TrimSpace(c.Store.Schema) == "" {
		c.Store.Schema = d.Store.Schema
	}
	if c.Server.Timeout <= 0 {
		c.Server.Timeout = d.Server.Timeout
	}

	p := &c.Policy
	if p.MinEnergy <= 0 {
		p.MinEnergy = d.Policy.MinEnergy
	}
	if p.StepMinM <= 0 {
		p.StepMinM = d.Policy.StepMinM
	}
	if p.StepMaxM <= 0 {
		p.StepMaxM = d.Policy.StepMaxM
	}
	if p.ScannerAreaM <= 0 {
		p.ScannerAreaM = d.Policy.ScannerAreaM
	}
	if p.PortalsRangeM <= 0 {
		p.PortalsRangeM = d.Policy.PortalsRangeM
	}
	if p.HackInterval <= 0 {
		p.HackInterval = d.Policy.HackInterval
	}
	if p.BurnoutInterval <= 0 {
		p.BurnoutInterval = d.Policy.BurnoutInterval
	}
	if p.Pace < 0 {
		p.Pace = 0
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if c.Account.Username == "" || c.Account.Password == "" {
		return fmt.Errorf("%w: username and password are required", ErrInvalidAccount)
	}
	if c.Location != nil {
		if c.Location.Lat < -90 || c.Location.Lat > 90 {
			return fmt.Errorf("location lat %v out of range", c.Location.Lat)
		}
		if c.Location.Lng < -180 || c.Location.Lng > 180 {
			return fmt.Errorf("location lng %v out of range", c.Location.Lng)
		}
	}
	if _, err := game.ParseFactionFilter(c.Faction); err != nil {
		return err
	}
	if strings.TrimSpace(c.Server.URL) == "" {
		return fmt.Errorf("server url must not be empty")
	}
	if c.Policy.StepMinM > c.Policy.StepMaxM {
		return fmt.Errorf("policy step_min_m must be <= step_max_m")
	}
	if c.Policy.ScannerAreaM <= 5 {
		return fmt.Errorf("policy scanner_area_m must be > 5")
	}
	return nil
}

// StorePath is the cache file of the configured account.
func (c Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.Store.Dir, c.Account.Username+".db")
}

// FactionFilter is the parsed faction setting.
func (c Config) FactionFilter() game.Faction {
	f, _ := game.ParseFactionFilter(c.Faction)
	return f
}
