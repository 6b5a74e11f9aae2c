// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Server  Server  `yaml:"server" json:"server"` // configuration of the public REST server
	Name    string  `yaml:"name" json:"name" env:"APP_NAME" env-default:"zenengine"` // used for OTEL as an application identifier
	Tracing Tracing `yaml:"tracing" json:"tracing"`
	Engine  Engine  `yaml:"engine" json:"engine"`
	Log     Log     `yaml:"log" json:"log"`
}

type Server struct {
	Addr string `yaml:"addr" json:"addr" env:"REST_API_ADDR" env-default:":8080"`
}

type Tracing struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" env:"OTEL_ENABLED"`
	Endpoint string `yaml:"endpoint" json:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Name     string `yaml:"name" json:"name" env:"OTEL_SERVICE_NAME"`
	// TransferHeaders are copied from requests into span attributes.
	TransferHeaders []string `yaml:"transferHeaders" json:"transferHeaders" env:"OTEL_TRANSFER_HEADERS"`
}

type Engine struct {
	MultiConnection    bool   `yaml:"multiConnection" json:"multiConnection" env:"ENGINE_MULTI_CONNECTION"`
	StrictVariables    bool   `yaml:"strictVariables" json:"strictVariables" env:"ENGINE_STRICT_VARIABLES"`
	RuleFireLimit      int    `yaml:"ruleFireLimit" json:"ruleFireLimit" env:"ENGINE_RULE_FIRE_LIMIT" env-default:"10000"`
	CompletedCacheSize int    `yaml:"completedCacheSize" json:"completedCacheSize" env:"ENGINE_COMPLETED_CACHE_SIZE" env-default:"1000"`
	DefinitionsDir     string `yaml:"definitionsDir" json:"definitionsDir" env:"ENGINE_DEFINITIONS_DIR"`
}

type Log struct {
	Level string `yaml:"level" json:"level" env:"LOG_LEVEL" env-default:"INFO"`
	Json  bool   `yaml:"json" json:"json" env:"LOG_JSON"`
}

func (c Config) defaults() Config {
	if c.Tracing.Name == "" {
		c.Tracing.Name = c.Name
	}
	return c
}

// InitConfig reads conf.yaml from the working directory, or the file named by CONFIG_FILE.
// Without a file the configuration comes from the environment.
func InitConfig() (Config, error) {
	fileName := os.Getenv("CONFIG_FILE")
	if fileName == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, err
		}
		fileName = fmt.Sprintf("%s/conf.yaml", wd)
	}
	return ReadConfig(fileName)
}

func ReadConfig(fileName string) (Config, error) {
	c := Config{}
	var err error
	if _, perr := os.Stat(fileName); errors.Is(perr, os.ErrNotExist) {
		err = cleanenv.ReadEnv(&c)
	} else {
		err = cleanenv.ReadConfig(fileName, &c)
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read configuration: %w", err)
	}
	return c.defaults(), nil
}
