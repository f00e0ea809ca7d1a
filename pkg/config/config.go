package config

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	config       = viper.New()
	configHolder atomic.Value
	backend      = "consul"
	backendAddr  = "127.0.0.1:8500"
	backendPath  = "trackpoints/development"
	configType   = "yaml"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Enable   bool   `mapstructure:"ENABLE"`
		Protocol string `mapstructure:"PROTOCOL"` // grpc | http
		Addr     string `mapstructure:"ADDR"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Enable bool   `mapstructure:"ENABLE"`
		Addr   string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Flagsmith struct {
		ApiKey string `mapstructure:"API_KEY"`
		Addr   string `mapstructure:"ADDR"`
	} `mapstructure:"FLAGSMITH"`
	Consul struct {
		Enable bool   `mapstructure:"ENABLE"`
		Addr   string `mapstructure:"ADDR"`
		Host   string `mapstructure:"SERVICE_HOST"`
	} `mapstructure:"CONSUL"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Worker struct {
		Concurrency int    `mapstructure:"CONCURRENCY"`
		SettleQueue string `mapstructure:"SETTLE_QUEUE"`
		MaxRetry    int    `mapstructure:"MAX_RETRY"`
	} `mapstructure:"WORKER"`
	Marker struct {
		Endpoint  string        `mapstructure:"ENDPOINT"`
		Timeout   time.Duration `mapstructure:"TIMEOUT"`
		RateLimit float64       `mapstructure:"RATE_LIMIT"`
		Burst     int           `mapstructure:"BURST"`
	} `mapstructure:"MARKER"`
	Leaderboard struct {
		CacheTTL     time.Duration `mapstructure:"CACHE_TTL"`
		DefaultLimit int           `mapstructure:"DEFAULT_LIMIT"`
		MaxLimit     int           `mapstructure:"MAX_LIMIT"`
	} `mapstructure:"LEADERBOARD"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))
var RemoteModule = fx.Module("remote.config", fx.Provide(LoadRemote))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "trackpoints")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("WORKER.CONCURRENCY", 10)
	v.SetDefault("WORKER.SETTLE_QUEUE", "settlement")
	v.SetDefault("WORKER.MAX_RETRY", 8)
	v.SetDefault("MARKER.TIMEOUT", 3*time.Second)
	v.SetDefault("MARKER.RATE_LIMIT", 5)
	v.SetDefault("MARKER.BURST", 10)
	v.SetDefault("LEADERBOARD.DEFAULT_LIMIT", 20)
	v.SetDefault("LEADERBOARD.MAX_LIMIT", 100)
}

func LoadConfig(p Params) *Config {
	config.SetConfigName("config")
	config.SetConfigType(configType)
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()
	setDefaults(config)

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Warn("config file not found, using defaults and environment")
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to decode config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		applySecrets(p.Vault, &cfg)
	}

	configHolder.Store(&cfg)
	return &cfg
}

func LoadRemote(p Params) *Config {
	if p.Vault == nil {
		zap.L().Error("vault can't provide")
		os.Exit(1)
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		backend = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_ADDR"); ok {
		backendAddr = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PATH"); ok {
		backendPath = v
	}

	config.SetConfigType(configType)
	setDefaults(config)
	if err := config.AddRemoteProvider(backend, backendAddr, backendPath); err != nil {
		zap.L().Error("failed to add remote config provider", zap.Error(err))
		os.Exit(1)
	}

	if err := config.ReadRemoteConfig(); err != nil {
		zap.L().Error("failed to read remote config", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}
	applySecrets(p.Vault, &cfg)
	configHolder.Store(&cfg)

	go func() {
		for {
			time.Sleep(time.Second * 5)

			if err := config.WatchRemoteConfig(); err != nil {
				zap.L().Error("unable to read remote config", zap.Error(err))
				continue
			}

			var newcfg Config
			if err := config.Unmarshal(&newcfg); err != nil {
				zap.L().Error("unable to decode remote config", zap.Error(err))
				continue
			}
			applySecrets(p.Vault, &newcfg)
			configHolder.Store(&newcfg)
		}
	}()

	return &cfg
}

// Current returns the most recently loaded configuration, including remote reloads.
func Current() *Config {
	if cfg, ok := configHolder.Load().(*Config); ok {
		return cfg
	}
	return nil
}

func applySecrets(client *vault.Client, cfg *Config) {
	ctx := context.Background()

	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		os.Exit(1)
	}
	zap.L().Info("Success Get Secret")

	get := func(key string) string {
		if val, ok := secret.Data.Data[key].(string); ok {
			return val
		}
		return ""
	}

	cfg.Database.User = get("postgres_user")
	cfg.Database.Password = get("postgres_password")
	cfg.Redis.Password = get("redis_password")
}
