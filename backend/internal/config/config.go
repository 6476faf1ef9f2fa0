package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port  int  `mapstructure:"port"`
		Debug bool `mapstructure:"debug"`
	} `mapstructure:"running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Auth struct {
		// VerifyURL delegates token checks to the identity service.
		// When empty, Secret enables local HMAC verification.
		VerifyURL string `mapstructure:"verifyUrl"`
		Secret    string `mapstructure:"secret"`
	} `mapstructure:"auth"`
	Session struct {
		HeartbeatInterval  time.Duration `mapstructure:"heartbeatInterval"`
		IdleAfterMissed    int           `mapstructure:"idleAfterMissed"`
		OfflineAfterMissed int           `mapstructure:"offlineAfterMissed"`
		ParticipantGrace   time.Duration `mapstructure:"participantGrace"`
		TeardownGrace      time.Duration `mapstructure:"teardownGrace"`
		InboundQueueSize   int           `mapstructure:"inboundQueueSize"`
		OutboundQueueSize  int           `mapstructure:"outboundQueueSize"`
		CursorRatePerSec   int           `mapstructure:"cursorRatePerSec"`
		StoreBufferLimit   int           `mapstructure:"storeBufferLimit"`
	} `mapstructure:"session"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	v := viper.New()
	v.SetConfigName("collabConfig")
	v.SetConfigType("yaml")
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetDefault("running.port", 3003)
	v.SetDefault("kafka.topic", "board-ops")
	v.SetDefault("session.heartbeatInterval", 15*time.Second)
	v.SetDefault("session.idleAfterMissed", 2)
	v.SetDefault("session.offlineAfterMissed", 4)
	v.SetDefault("session.participantGrace", 120*time.Second)
	v.SetDefault("session.teardownGrace", 30*time.Second)
	v.SetDefault("session.inboundQueueSize", 256)
	v.SetDefault("session.outboundQueueSize", 64)
	v.SetDefault("session.cursorRatePerSec", 20)
	v.SetDefault("session.storeBufferLimit", 128)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
