package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"slackdigest/internal/classify"
	"slackdigest/internal/digest"
	"slackdigest/internal/domain"
)

const (
	defaultExternalHTTPTimeout        = 90 * time.Second
	defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

	DefaultDigestSchedule = "0 7 * * 1"
	DefaultTimezone       = "America/New_York"
)

type Config struct {
	SlackBotToken     string `yaml:"slack_bot_token"`
	SlackAppToken     string `yaml:"slack_app_token"`
	SlackWorkspaceURL string `yaml:"slack_workspace_url"`

	ChannelIDs      []string `yaml:"channel_ids"`
	RecipientEmails []string `yaml:"recipient_emails"`

	SendGridAPIKey  string   `yaml:"sendgrid_api_key"`
	EmailFrom       string   `yaml:"email_from"`
	EmailRecipients []string `yaml:"email_recipients"`

	JiraBaseURL string `yaml:"jira_base_url"`

	DaysBack            int      `yaml:"days_back"`
	DigestSchedule      string   `yaml:"digest_schedule"`
	Timezone            string   `yaml:"timezone"`
	DigestTitle         string   `yaml:"digest_title"`
	WorkflowFilter      []string `yaml:"workflow_filter"`
	KeywordGlossaryPath string   `yaml:"keyword_glossary_path"`

	DBPath                     string `yaml:"db_path"`
	ReportOutputDir            string `yaml:"report_output_dir"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`
	NameCacheSize              int    `yaml:"name_cache_size"`
	SlackRequestsPerMinute     int    `yaml:"slack_requests_per_minute"`
	MaxParallelChannels        int    `yaml:"max_parallel_channels"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// LoadConfig is Load for process startup: any error is fatal.
func LoadConfig() Config {
	cfg, err := Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	return cfg
}

// Load reads .env, then config.yaml (or CONFIG_PATH), then environment
// overrides, applies defaults and validates the result.
func Load() (Config, error) {
	var cfg Config

	if err := godotenv.Load(); err == nil {
		log.Info().Msg("loaded .env")
	}

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", configPath, err)
		}
		log.Info().Str("path", configPath).Msg("loaded config")
	}

	var errs []error
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	envOverride(&cfg.SlackWorkspaceURL, "SLACK_WORKSPACE_URL")
	envOverrideList(&cfg.ChannelIDs, "CHANNEL_IDS")
	envOverrideList(&cfg.RecipientEmails, "RECIPIENT_EMAILS")
	envOverride(&cfg.SendGridAPIKey, "SENDGRID_API_KEY")
	envOverride(&cfg.EmailFrom, "EMAIL_FROM")
	envOverrideList(&cfg.EmailRecipients, "EMAIL_RECIPIENTS")
	envOverrideAllowEmpty(&cfg.JiraBaseURL, "JIRA_BASE_URL")
	errs = append(errs, envOverrideInt(&cfg.DaysBack, "DAYS_BACK"))
	envOverride(&cfg.DigestSchedule, "DIGEST_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverride(&cfg.DigestTitle, "DIGEST_TITLE")
	envOverrideList(&cfg.WorkflowFilter, "WORKFLOW_FILTER")
	envOverride(&cfg.KeywordGlossaryPath, "KEYWORD_GLOSSARY_PATH")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.ReportOutputDir, "REPORT_OUTPUT_DIR")
	errs = append(errs,
		envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"),
		envOverrideInt(&cfg.NameCacheSize, "NAME_CACHE_SIZE"),
		envOverrideInt(&cfg.SlackRequestsPerMinute, "SLACK_REQUESTS_PER_MINUTE"),
		envOverrideInt(&cfg.MaxParallelChannels, "MAX_PARALLEL_CHANNELS"),
	)
	envOverrideAllowEmpty(&cfg.MetricsAddr, "METRICS_ADDR")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DaysBack == 0 {
		c.DaysBack = 7
	}
	if c.DigestSchedule == "" {
		c.DigestSchedule = DefaultDigestSchedule
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.DBPath == "" {
		c.DBPath = "./slackdigest.db"
	}
	if c.ReportOutputDir == "" {
		c.ReportOutputDir = "./digests"
	}
	if c.ExternalHTTPTimeoutSeconds == 0 {
		c.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if c.NameCacheSize == 0 {
		c.NameCacheSize = 1000
	}
	if c.SlackRequestsPerMinute == 0 {
		c.SlackRequestsPerMinute = 50
	}
	if c.MaxParallelChannels == 0 {
		c.MaxParallelChannels = 2
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	if c.SlackBotToken == "" {
		return errors.New("required config 'slack_bot_token' is not set (via config.yaml or env var)")
	}

	if strings.EqualFold(c.Timezone, "Local") {
		c.Location = time.Local
	} else {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
		}
		c.Location = loc
	}

	if _, err := digest.ParseSchedule(c.DigestSchedule); err != nil {
		return fmt.Errorf("invalid digest_schedule '%s': %w", c.DigestSchedule, err)
	}
	if c.DaysBack < 1 {
		return fmt.Errorf("invalid days_back '%d': must be >= 1", c.DaysBack)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if c.NameCacheSize < 1 {
		return fmt.Errorf("invalid name_cache_size '%d': must be >= 1", c.NameCacheSize)
	}
	if c.SlackRequestsPerMinute < 1 {
		return fmt.Errorf("invalid slack_requests_per_minute '%d': must be >= 1", c.SlackRequestsPerMinute)
	}
	if c.MaxParallelChannels < 1 {
		return fmt.Errorf("invalid max_parallel_channels '%d': must be >= 1", c.MaxParallelChannels)
	}
	for _, w := range c.WorkflowFilter {
		if _, ok := domain.ParseWorkflow(w); !ok {
			return fmt.Errorf("invalid workflow_filter entry '%s'", w)
		}
	}
	if c.SendGridAPIKey != "" && (c.EmailFrom == "" || len(c.EmailRecipients) == 0) {
		return errors.New("sendgrid_api_key is set but email_from or email_recipients is missing")
	}
	if c.KeywordGlossaryPath != "" {
		if _, err := classify.LoadGlossary(c.KeywordGlossaryPath); err != nil {
			return fmt.Errorf("invalid keyword_glossary_path '%s': %w", c.KeywordGlossaryPath, err)
		}
	}
	return nil
}

// RequireSocketMode checks the extra settings the long-running bot needs.
func (c Config) RequireSocketMode() error {
	if c.SlackAppToken == "" {
		return errors.New("required config 'slack_app_token' is not set (via config.yaml or env var)")
	}
	return nil
}

func (c Config) EmailConfigured() bool {
	return c.SendGridAPIKey != "" && c.EmailFrom != "" && len(c.EmailRecipients) > 0
}

// Workflows returns the parsed workflow filter. Load has already rejected
// unknown names.
func (c Config) Workflows() []domain.Workflow {
	var out []domain.Workflow
	for _, name := range c.WorkflowFilter {
		if w, ok := domain.ParseWorkflow(name); ok {
			out = append(out, w)
		}
	}
	return out
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideList(field *[]string, envKey string) {
	val := os.Getenv(envKey)
	if val == "" {
		return
	}
	*field = nil
	for _, item := range strings.Split(val, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			*field = append(*field, item)
		}
	}
}
