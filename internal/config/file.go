package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	DatabaseURL    string `yaml:"database_url"`
	RedisURL       string `yaml:"redis_url"`
	ServerPort     string `yaml:"server_port"`
	UserAgent      string `yaml:"user_agent"`
	FetchTimeout   string `yaml:"fetch_timeout"`
	MatchThreshold string `yaml:"match_threshold"`
	AttemptTimeout string `yaml:"attempt_timeout"`
	StreamDeadline string `yaml:"stream_deadline"`
	UpgradeWindow  string `yaml:"upgrade_window"`
	VoyageAPIKey   string `yaml:"voyage_api_key"`
	VoyageModel    string `yaml:"voyage_model"`
}

// LoadFromFile loads config from a YAML file. database_url is required.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	c := defaults()
	c.DatabaseURL = f.DatabaseURL
	c.RedisURL = f.RedisURL
	if f.ServerPort != "" {
		c.ServerPort = f.ServerPort
	}
	if f.UserAgent != "" {
		c.UserAgent = f.UserAgent
	}
	setDuration(&c.FetchTimeout, f.FetchTimeout)
	setDuration(&c.AttemptTimeout, f.AttemptTimeout)
	setDuration(&c.StreamDeadline, f.StreamDeadline)
	setDuration(&c.UpgradeWindow, f.UpgradeWindow)
	if f.MatchThreshold != "" {
		if v, err := strconv.ParseFloat(f.MatchThreshold, 64); err == nil && v > 0 && v <= 1 {
			c.MatchThreshold = v
		}
	}
	c.VoyageAPIKey = f.VoyageAPIKey
	c.VoyageModel = f.VoyageModel
	return c, nil
}
