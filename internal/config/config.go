// Package config loads the base station's runtime settings with
// github.com/spf13/viper, grounded on keskad-loco's two-viper.New()
// pattern: one for the base YAML file (with environment variable
// overrides), with SetDefault calls providing the §6 defaults so a
// config file is optional.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/lss-lora/basestation/alerting"
)

// Radio mirrors radio.Params plus the transport details needed to open it.
type Radio struct {
	DevicePath      string
	BaudRate        int
	FrequencyMHz    float64
	SpreadingFactor uint8
	BandwidthHz     uint32
	CodingRate      uint8
	TXPowerDBm      uint8
	PreambleLen     uint8
	NetworkID       uint16
}

// Store mirrors store.Config's tunables.
type Store struct {
	MaxNodes        int
	HistoryCap      int
	OfflineTimeoutS int
	WatchdogPeriodS int
}

// Queue mirrors queue.Config's retry tunables.
type Queue struct {
	RetryCount    int
	RetryTimeoutS int
}

// Gateway mirrors gateway.Config's loop-timing tunables.
type Gateway struct {
	ReceiveTimeoutMS  int
	TXIntervalMS      int
	TimeSyncIntervalS int
}

// Database configures the durable timeseries store.
type Database struct {
	Path string
}

// MQTT configures the optional mqttpub.Publisher.
type MQTT struct {
	Enabled     bool
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Alerting configures the optional alerting.Alerter.
type Alerting struct {
	TeamsWebhookURL string
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	SMTPTo          []string
	RateLimitS      int
	Thresholds      alerting.Thresholds
}

// API configures the optional admin HTTP surface.
type API struct {
	Enabled    bool
	ListenAddr string
}

// Config is the fully loaded configuration tree.
type Config struct {
	Radio    Radio
	Store    Store
	Queue    Queue
	Gateway  Gateway
	Database Database
	MQTT     MQTT
	Alerting Alerting
	API      API
}

// Load reads basestation.yaml from the given search paths (falling back
// to "." if none are given), applies LSS_-prefixed environment overrides,
// and unmarshals into a Config seeded with the §6 defaults. A missing
// config file is not an error — the defaults (plus any env overrides)
// stand on their own.
func Load(searchPaths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("basestation")
	if len(searchPaths) == 0 {
		searchPaths = []string{"."}
	}
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("LSS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: cannot read basestation.yaml: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("radio.devicepath", "/dev/ttyUSB0")
	v.SetDefault("radio.baudrate", 57600)
	v.SetDefault("radio.frequencymhz", 915.0)
	v.SetDefault("radio.spreadingfactor", 10)
	v.SetDefault("radio.bandwidthhz", 125000)
	v.SetDefault("radio.codingrate", 5)
	v.SetDefault("radio.txpowerdbm", 20)
	v.SetDefault("radio.preamblelen", 8)
	v.SetDefault("radio.networkid", 1)

	v.SetDefault("store.maxnodes", 10)
	v.SetDefault("store.historycap", 120)
	v.SetDefault("store.offlinetimeouts", 300)
	v.SetDefault("store.watchdogperiods", 30)

	v.SetDefault("queue.retrycount", 3)
	v.SetDefault("queue.retrytimeouts", 12)

	v.SetDefault("gateway.receivetimeoutms", 500)
	v.SetDefault("gateway.txintervalms", 50)
	v.SetDefault("gateway.timesyncintervals", 10800)

	v.SetDefault("database.path", "data/sensors.db")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.topicprefix", "lss")

	v.SetDefault("alerting.smtpport", 587)
	v.SetDefault("alerting.ratelimits", 300)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listenaddr", ":8080")
}
