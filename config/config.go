package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type SystemConfig struct {
	Appid    string `yaml:"appid" json:"appid"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

type WebConfig struct {
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	Secret string `yaml:"secret" json:"secret"`
}

type DBConfig struct {
	Type     string `yaml:"type" json:"type"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Name     string `yaml:"name" json:"name"`
	User     string `yaml:"user" json:"user"`
	Passwd   string `yaml:"passwd" json:"passwd"`
	MaxConn  int    `yaml:"max_conn" json:"max_conn"`
	IdleConn int    `yaml:"idle_conn" json:"idle_conn"`
}

type LoggerConfig struct {
	Mode       string `yaml:"mode" json:"mode"`
	FileEnable bool   `yaml:"file_enable" json:"file_enable"`
	Filename   string `yaml:"filename" json:"filename"`
}

// SessionConfig bounds the per-session connection machinery.
type SessionConfig struct {
	CommandTimeout      time.Duration `yaml:"command_timeout" json:"command_timeout"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	QRTTL               time.Duration `yaml:"qr_ttl" json:"qr_ttl"`
	ReconnectEnable     bool          `yaml:"reconnect_enable" json:"reconnect_enable"`
	ReconnectBaseDelay  time.Duration `yaml:"reconnect_base_delay" json:"reconnect_base_delay"`
	ReconnectMaxDelay   time.Duration `yaml:"reconnect_max_delay" json:"reconnect_max_delay"`
	ReconnectMaxRetries int           `yaml:"reconnect_max_retries" json:"reconnect_max_retries"`
}

// WebhookConfig bounds outbound webhook delivery.
type WebhookConfig struct {
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
	QueueSize   int           `yaml:"queue_size" json:"queue_size"`
}

// UnmarshalYAML reads durations as strings ("30s", "2m") since the yaml
// decoder has no native duration support. Omitted keys keep their defaults.
func (s *SessionConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		CommandTimeout      string `yaml:"command_timeout"`
		ConnectTimeout      string `yaml:"connect_timeout"`
		QRTTL               string `yaml:"qr_ttl"`
		ReconnectEnable     *bool  `yaml:"reconnect_enable"`
		ReconnectBaseDelay  string `yaml:"reconnect_base_delay"`
		ReconnectMaxDelay   string `yaml:"reconnect_max_delay"`
		ReconnectMaxRetries *int   `yaml:"reconnect_max_retries"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	setDuration(&s.CommandTimeout, raw.CommandTimeout)
	setDuration(&s.ConnectTimeout, raw.ConnectTimeout)
	setDuration(&s.QRTTL, raw.QRTTL)
	setDuration(&s.ReconnectBaseDelay, raw.ReconnectBaseDelay)
	setDuration(&s.ReconnectMaxDelay, raw.ReconnectMaxDelay)
	if raw.ReconnectEnable != nil {
		s.ReconnectEnable = *raw.ReconnectEnable
	}
	if raw.ReconnectMaxRetries != nil {
		s.ReconnectMaxRetries = *raw.ReconnectMaxRetries
	}
	return nil
}

func (w *WebhookConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		Timeout     string `yaml:"timeout"`
		MaxAttempts *int   `yaml:"max_attempts"`
		BaseDelay   string `yaml:"base_delay"`
		MaxDelay    string `yaml:"max_delay"`
		QueueSize   *int   `yaml:"queue_size"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	setDuration(&w.Timeout, raw.Timeout)
	setDuration(&w.BaseDelay, raw.BaseDelay)
	setDuration(&w.MaxDelay, raw.MaxDelay)
	if raw.MaxAttempts != nil {
		w.MaxAttempts = *raw.MaxAttempts
	}
	if raw.QueueSize != nil {
		w.QueueSize = *raw.QueueSize
	}
	return nil
}

func setDuration(dst *time.Duration, val string) {
	if val == "" {
		return
	}
	if d, err := time.ParseDuration(val); err == nil {
		*dst = d
	}
}

type AppConfig struct {
	System   SystemConfig  `yaml:"system" json:"system"`
	Web      WebConfig     `yaml:"web" json:"web"`
	Database DBConfig      `yaml:"database" json:"database"`
	Logger   LoggerConfig  `yaml:"logger" json:"logger"`
	Session  SessionConfig `yaml:"session" json:"session"`
	Webhook  WebhookConfig `yaml:"webhook" json:"webhook"`
}

func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		System: SystemConfig{
			Appid:    "wagate",
			Location: "Asia/Shanghai",
			Workdir:  "/var/wagate",
		},
		Web: WebConfig{
			Host:   "0.0.0.0",
			Port:   1816,
			Secret: "9b6d0f6f9d6b4c3a",
		},
		Database: DBConfig{
			Type:     "postgres",
			Host:     "127.0.0.1",
			Port:     5432,
			Name:     "wagate",
			User:     "postgres",
			MaxConn:  100,
			IdleConn: 10,
		},
		Logger: LoggerConfig{
			Mode:     "development",
			Filename: "/var/wagate/wagate.log",
		},
		Session: SessionConfig{
			CommandTimeout:      30 * time.Second,
			ConnectTimeout:      60 * time.Second,
			QRTTL:               60 * time.Second,
			ReconnectEnable:     true,
			ReconnectBaseDelay:  2 * time.Second,
			ReconnectMaxDelay:   60 * time.Second,
			ReconnectMaxRetries: 6,
		},
		Webhook: WebhookConfig{
			Timeout:     10 * time.Second,
			MaxAttempts: 5,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    30 * time.Second,
			QueueSize:   1024,
		},
	}
}

// LoadConfig reads the yaml config file, falling back to defaults for any
// section the file omits. Environment overrides cover deploy-time secrets.
func LoadConfig(cfile string) *AppConfig {
	cfg := DefaultAppConfig()
	if cfile != "" {
		data, err := os.ReadFile(cfile)
		if err == nil {
			_ = yaml.Unmarshal(data, cfg)
		}
	}
	setEnvValue("WAGATE_WEB_SECRET", &cfg.Web.Secret)
	setEnvValue("WAGATE_DB_HOST", &cfg.Database.Host)
	setEnvValue("WAGATE_DB_NAME", &cfg.Database.Name)
	setEnvValue("WAGATE_DB_USER", &cfg.Database.User)
	setEnvValue("WAGATE_DB_PWD", &cfg.Database.Passwd)
	setEnvValue("WAGATE_WORKDIR", &cfg.System.Workdir)
	return cfg
}

func setEnvValue(name string, val *string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*val = v
	}
}
