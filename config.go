package main

import (
	"encoding/json"
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Region carries the per-market parameters the Ford endpoints expect.
type Region struct {
	ApplicationID string
	Locale        string
	LocaleShort   string
	CountryCode   string
}

var Regions = map[string]Region{
	"USA":       {ApplicationID: "71A3AD0A-CF46-4CCF-B473-FC7FE5BC4592", Locale: "en-US", LocaleShort: "USA", CountryCode: "USA"},
	"Canada":    {ApplicationID: "71A3AD0A-CF46-4CCF-B473-FC7FE5BC4592", Locale: "en-CA", LocaleShort: "CAN", CountryCode: "CAN"},
	"UK&Europe": {ApplicationID: "1E8C7794-FF5F-49BC-9596-A1E0C86C5B19", Locale: "en-GB", LocaleShort: "GB", CountryCode: "GBR"},
	"Australia": {ApplicationID: "5C80A6BB-CF0D-4A30-BDBF-FC804B5C1A98", Locale: "en-AU", LocaleShort: "AUS", CountryCode: "AUS"},
}

type Config struct {
	Username            string
	Password            string `json:"-"`
	VIN                 string
	Region              string
	SaveToken           bool
	TokenStore          string
	TokenLocation       string
	DBFile              string
	CryptKey            string `json:"-"`
	Port                int
	UseTelemetryAPI     bool
	BaseURL             string
	GuardURL            string
	FeaturesURL         string
	SSOURL              string
	AutonomicURL        string
	AutonomicAccountURL string
	MqttURL             string
	MqttUser            string
	MqttPassword        string `json:"-"`
}

var _configInstance *Config
var _configOnce sync.Once

func GetConfig() *Config {
	_configOnce.Do(func() {
		_configInstance = &Config{}
		_configInstance.ReadConfig()
	})
	return _configInstance
}

func (c *Config) ReadConfig() {
	godotenv.Load()
	c.Username = c.getEnv("FORDPASS_USERNAME", "")
	c.Password = c.getEnv("FORDPASS_PASSWORD", "")
	c.VIN = c.getEnv("FORDPASS_VIN", "")
	c.Region = c.getEnv("FORDPASS_REGION", "USA")
	if _, ok := Regions[c.Region]; !ok {
		log.Panicf("unknown region %s", c.Region)
	}
	c.SaveToken = (c.getEnv("SAVE_TOKEN", "1") == "1")
	c.TokenStore = c.getEnv("TOKEN_STORE", "file")
	c.TokenLocation = c.getEnv("TOKEN_LOCATION", "")
	if c.TokenLocation == "" && c.Username != "" {
		c.TokenLocation = c.Username + "_fordpass_token.txt"
	}
	c.DBFile = c.getEnv("DB_FILE", "/tmp/fordpass.db")
	c.CryptKey = c.getEnv("CRYPT_KEY", "")
	port, err := strconv.Atoi(c.getEnv("PORT", "8080"))
	if err != nil {
		log.Panicln("PORT must be numeric")
	}
	c.Port = port
	c.UseTelemetryAPI = (c.getEnv("USE_TELEMETRY_API", "1") == "1")
	c.BaseURL = c.getEnv("BASE_URL", "https://usapi.cv.ford.com/api")
	c.GuardURL = c.getEnv("GUARD_URL", "https://api.mps.ford.com/api")
	c.FeaturesURL = c.getEnv("FEATURES_URL", "https://api.mps.ford.com")
	c.SSOURL = c.getEnv("SSO_URL", "https://sso.ci.ford.com")
	c.AutonomicURL = c.getEnv("AUTONOMIC_URL", "https://api.autonomic.ai/v1")
	c.AutonomicAccountURL = c.getEnv("AUTONOMIC_ACCOUNT_URL", "https://accounts.autonomic.ai/v1")
	c.MqttURL = c.getEnv("MQTT_URL", "")
	c.MqttUser = c.getEnv("MQTT_USER", "")
	c.MqttPassword = c.getEnv("MQTT_PASSWORD", "")
}

func (c *Config) GetRegion() Region {
	return Regions[c.Region]
}

func (c *Config) Print() {
	s, _ := json.MarshalIndent(c, "", "\t")
	log.Println("Using config:\n" + string(s))
}

func (c *Config) getEnv(key, defaultValue string) string {
	res := os.Getenv(key)
	if res == "" {
		return defaultValue
	}
	return res
}
