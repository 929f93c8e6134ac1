package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"SERVER"`
	Database  DatabaseConfig  `mapstructure:"DATABASE"`
	Training  TrainingConfig  `mapstructure:"TRAINING"`
	Telemetry TelemetryConfig `mapstructure:"TELEMETRY"`
}

type ServerConfig struct {
	Host      string          `mapstructure:"HOST"`
	Port      string          `mapstructure:"PORT"`
	Endpoint  string          `mapstructure:"ENDPOINT"`
	Websocket WebsocketConfig `mapstructure:"WEBSOCKET"`
}

type WebsocketConfig struct {
	WriteWait      time.Duration `mapstructure:"WRITE_WAIT"`
	PongWait       time.Duration `mapstructure:"PONG_WAIT"`
	MaxMessageSize int64         `mapstructure:"MAX_MESSAGE_SIZE"`
}

// DatabaseConfig points at the optional session store. An empty URL means
// the engine runs memory-only and sessions do not survive a restart.
type DatabaseConfig struct {
	URL string `mapstructure:"URL"`
}

type TrainingConfig struct {
	StallThreshold     time.Duration `mapstructure:"STALL_THRESHOLD"`
	StallCheckInterval time.Duration `mapstructure:"STALL_CHECK_INTERVAL"`
	ProgressBuffer     int           `mapstructure:"PROGRESS_BUFFER"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"ENABLED"`
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	ServiceName  string `mapstructure:"SERVICE_NAME"`
}

type ConfigManager struct {
	config     *Config
	configPath string
	mutex      sync.RWMutex
}

var (
	instance *ConfigManager
	once     sync.Once
)

func GetConfigManager() *ConfigManager {
	once.Do(func() {
		instance = &ConfigManager{
			configPath: ".env",
		}
	})
	return instance
}

func (cm *ConfigManager) SetConfigPath(path string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.configPath = path
	cm.config = nil
}

func (cm *ConfigManager) GetConfig() (*Config, error) {
	cm.mutex.RLock()
	if cm.config != nil {
		defer cm.mutex.RUnlock()
		return cm.config, nil
	}
	cm.mutex.RUnlock()

	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.config != nil {
		return cm.config, nil
	}

	var err error
	cm.config, err = loadConfigFile(cm.configPath)
	return cm.config, err
}

func loadConfigFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing .env is fine; environment variables and defaults apply.
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetDefault("SERVER", map[string]interface{}{
		"HOST":     v.GetString("SERVER_HOST"),
		"PORT":     v.GetString("SERVER_PORT"),
		"ENDPOINT": v.GetString("SERVER_ENDPOINT"),
		"WEBSOCKET": map[string]interface{}{
			"WRITE_WAIT":       v.GetDuration("SERVER_WEBSOCKET_WRITE_WAIT"),
			"PONG_WAIT":        v.GetDuration("SERVER_WEBSOCKET_PONG_WAIT"),
			"MAX_MESSAGE_SIZE": v.GetInt64("SERVER_WEBSOCKET_MAX_MESSAGE_SIZE"),
		},
	})

	v.SetDefault("DATABASE", map[string]interface{}{
		"URL": v.GetString("DATABASE_URL"),
	})

	v.SetDefault("TRAINING", map[string]interface{}{
		"STALL_THRESHOLD":      v.GetDuration("TRAINING_STALL_THRESHOLD"),
		"STALL_CHECK_INTERVAL": v.GetDuration("TRAINING_STALL_CHECK_INTERVAL"),
		"PROGRESS_BUFFER":      v.GetInt("TRAINING_PROGRESS_BUFFER"),
	})

	v.SetDefault("TELEMETRY", map[string]interface{}{
		"ENABLED":       v.GetBool("TELEMETRY_ENABLED"),
		"OTLP_ENDPOINT": v.GetString("TELEMETRY_OTLP_ENDPOINT"),
		"SERVICE_NAME":  v.GetString("TELEMETRY_SERVICE_NAME"),
	})

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if config.Server.Port == "" {
		config.Server.Port = "8090"
	}
	if config.Server.Endpoint == "" {
		config.Server.Endpoint = "/api"
	}
	if config.Server.Websocket.WriteWait == 0 {
		config.Server.Websocket.WriteWait = 10 * time.Second
	}
	if config.Server.Websocket.PongWait == 0 {
		config.Server.Websocket.PongWait = 60 * time.Second
	}
	if config.Server.Websocket.MaxMessageSize == 0 {
		config.Server.Websocket.MaxMessageSize = 512 * 1024
	}
	if config.Training.StallThreshold == 0 {
		config.Training.StallThreshold = 90 * time.Second
	}
	if config.Training.StallCheckInterval == 0 {
		config.Training.StallCheckInterval = 15 * time.Second
	}
	if config.Training.ProgressBuffer == 0 {
		config.Training.ProgressBuffer = 64
	}
	if config.Telemetry.ServiceName == "" {
		config.Telemetry.ServiceName = "exchron-engine"
	}

	return &config, nil
}

func (cm *ConfigManager) GetConfigPath() string {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return cm.configPath
}
