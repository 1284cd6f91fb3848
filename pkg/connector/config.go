// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/template"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/mattermost-modmail/pkg/relay"
)

//go:embed example-config.yaml
var ExampleConfig string

// ErrConfigCreated is returned by Load when no config file existed and the
// example was written in its place.
var ErrConfigCreated = errors.New("example config written")

// Config is the full modmail configuration file.
type Config struct {
	Mattermost    MattermostConfig    `yaml:"mattermost"`
	Modmail       ModmailConfig       `yaml:"modmail"`
	Database      DatabaseConfig      `yaml:"database"`
	ReactionRoles ReactionRolesConfig `yaml:"reaction_roles"`
	AdminAPI      AdminAPIConfig      `yaml:"admin_api"`
	Logging       zeroconfig.Config   `yaml:"logging"`
	LogWebhook    LogWebhookConfig    `yaml:"log_webhook"`

	displaynameTemplate *template.Template `yaml:"-"`
}

// MattermostConfig holds the server connection settings.
type MattermostConfig struct {
	ServerURL  string `yaml:"server_url"`
	Token      string `yaml:"token"`
	TeamID     string `yaml:"team_id"`
	CategoryID string `yaml:"category_id"`
}

// ModmailConfig holds the relay and command settings.
type ModmailConfig struct {
	CommandPrefix       string `yaml:"command_prefix"`
	MaxMessageLength    int    `yaml:"max_message_length"`
	Greeting            string `yaml:"greeting"`
	DisplaynameTemplate string `yaml:"displayname_template"`
	// BotPrefix is a username prefix for echo prevention. Posts from any
	// username starting with it are never relayed. Empty disables the check.
	BotPrefix              string   `yaml:"bot_prefix"`
	StaffChannelID         string   `yaml:"staff_channel_id"`
	AttachmentWorkers      int      `yaml:"attachment_workers"`
	IgnoredCommandChannels []string `yaml:"ignored_command_channels"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ReactionRolesConfig struct {
	Path string `yaml:"path"`
}

type AdminAPIConfig struct {
	Addr string `yaml:"addr"`
}

// LogWebhookConfig configures the log mirror webhook.
type LogWebhookConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	IconURL  string `yaml:"icon_url"`
	MinLevel string `yaml:"min_level"`
}

// DisplaynameParams holds the parameters for rendering the displayname template.
type DisplaynameParams struct {
	Username  string
	Nickname  string
	FirstName string
	LastName  string
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess applies environment overrides and defaults and compiles the
// display name template.
func (c *Config) PostProcess() error {
	if token := os.Getenv("MODMAIL_TOKEN"); token != "" {
		c.Mattermost.Token = token
	}
	c.Mattermost.ServerURL = strings.TrimSuffix(c.Mattermost.ServerURL, "/")
	if c.Modmail.CommandPrefix == "" {
		c.Modmail.CommandPrefix = "!"
	}
	if c.Modmail.MaxMessageLength <= 0 {
		c.Modmail.MaxMessageLength = 2000
	}
	if c.Modmail.AttachmentWorkers <= 0 {
		c.Modmail.AttachmentWorkers = 4
	}
	var err error
	c.displaynameTemplate, err = template.New("displayname").Parse(c.Modmail.DisplaynameTemplate)
	if err != nil {
		return fmt.Errorf("invalid displayname_template: %w", err)
	}
	return nil
}

// Validate checks that the settings required to connect are present.
func (c *Config) Validate() error {
	var errs []error
	if c.Mattermost.ServerURL == "" {
		errs = append(errs, errors.New("mattermost.server_url is required"))
	}
	if c.Mattermost.Token == "" {
		errs = append(errs, errors.New("mattermost.token is required"))
	}
	if c.Mattermost.TeamID == "" {
		errs = append(errs, errors.New("mattermost.team_id is required"))
	}
	if c.Mattermost.CategoryID == "" {
		errs = append(errs, errors.New("mattermost.category_id is required"))
	}
	return errors.Join(errs...)
}

// RelayConfig returns the settings of the relay engine.
func (c *Config) RelayConfig() relay.Config {
	return relay.Config{
		CommandPrefix:     c.Modmail.CommandPrefix,
		MaxMessageLength:  c.Modmail.MaxMessageLength,
		Greeting:          c.Modmail.Greeting,
		AttachmentWorkers: c.Modmail.AttachmentWorkers,
	}
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "mattermost", "server_url")
	helper.Copy(up.Str, "mattermost", "token")
	helper.Copy(up.Str, "mattermost", "team_id")
	helper.Copy(up.Str, "mattermost", "category_id")

	helper.Copy(up.Str, "modmail", "command_prefix")
	helper.Copy(up.Int, "modmail", "max_message_length")
	helper.Copy(up.Str, "modmail", "greeting")
	helper.Copy(up.Str, "modmail", "displayname_template")
	helper.Copy(up.Str, "modmail", "bot_prefix")
	helper.Copy(up.Str, "modmail", "staff_channel_id")
	helper.Copy(up.Int, "modmail", "attachment_workers")
	helper.Copy(up.List, "modmail", "ignored_command_channels")

	helper.Copy(up.Str, "database", "path")
	helper.Copy(up.Str, "reaction_roles", "path")
	helper.Copy(up.Str, "admin_api", "addr")
	helper.Copy(up.Map, "logging")

	helper.Copy(up.Str, "log_webhook", "url")
	helper.Copy(up.Str, "log_webhook", "username")
	helper.Copy(up.Str, "log_webhook", "icon_url")
	helper.Copy(up.Str, "log_webhook", "min_level")
}

// Upgrader returns the upgrader that brings an existing config file in line
// with the embedded example.
func Upgrader() up.BaseUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks: [][]string{
			{"modmail"},
			{"database"},
			{"reaction_roles"},
			{"admin_api"},
			{"logging"},
			{"log_webhook"},
		},
		Base: ExampleConfig,
	}
}

// Load reads, upgrades and post-processes the config file at path. With save
// set, the upgraded file is written back. A missing file is replaced with
// the example and ErrConfigCreated is returned.
func Load(path string, save bool) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err = os.WriteFile(path, []byte(ExampleConfig), 0o600); err != nil {
			return nil, fmt.Errorf("failed to write example config: %w", err)
		}
		return nil, fmt.Errorf("%w to %s", ErrConfigCreated, path)
	}
	data, _, err := up.Do(path, save, Upgrader())
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and post-processes a config document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FormatDisplayname generates a display name from the template and params.
func (c *Config) FormatDisplayname(params DisplaynameParams) string {
	if c.displaynameTemplate == nil {
		return params.Username
	}
	var buf []byte
	err := c.displaynameTemplate.Execute(
		(*templateBuffer)(&buf),
		params,
	)
	if err != nil || len(buf) == 0 {
		return params.Username
	}
	return string(buf)
}

// templateBuffer is a simple io.Writer that appends to a byte slice.
type templateBuffer []byte

func (b *templateBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}
