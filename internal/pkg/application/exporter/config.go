package exporter

import (
	"fmt"
	"io"
	"strconv"
	"time"

	yaml "gopkg.in/yaml.v2"
)

const (
	DefaultAddress   string = "http://localhost:8000"
	DefaultUsername  string = "admin"
	DefaultPassword  string = "password"
	DefaultDatabase  string = "sample_app"
	DefaultOutputDir string = "."
)

type TypeDBConfig struct {
	Address            string `yaml:"address"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	TransactionTimeout string `yaml:"transactionTimeout"`
	AnswerCountLimit   string `yaml:"answerCountLimit"`
}

// Timeout parses the transaction timeout, zero meaning the server default
func (c TypeDBConfig) Timeout() (time.Duration, error) {
	if c.TransactionTimeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.TransactionTimeout)
}

// AnswerLimit parses the answer count limit, zero meaning the client default
func (c TypeDBConfig) AnswerLimit() (int, error) {
	if c.AnswerCountLimit == "" {
		return 0, nil
	}

	limit, err := strconv.Atoi(c.AnswerCountLimit)
	if err != nil {
		return 0, err
	}

	if limit < 1 {
		return 0, fmt.Errorf("answer count limit must be positive, got %d", limit)
	}

	return limit, nil
}

type ExportConfig struct {
	Database  string `yaml:"database"`
	OutputDir string `yaml:"outputDir"`
}

type Config struct {
	TypeDB TypeDBConfig `yaml:"typedb"`
	Export ExportConfig `yaml:"export"`
}

func LoadConfiguration(data io.Reader) (*Config, error) {

	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	err = yaml.Unmarshal(buf, &cfg)

	return cfg, err
}

// Override replaces the settings of cfg with every non empty setting in other
func (cfg *Config) Override(other Config) *Config {
	set := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}

	set(&cfg.TypeDB.Address, other.TypeDB.Address)
	set(&cfg.TypeDB.Username, other.TypeDB.Username)
	set(&cfg.TypeDB.Password, other.TypeDB.Password)
	set(&cfg.TypeDB.TransactionTimeout, other.TypeDB.TransactionTimeout)
	set(&cfg.TypeDB.AnswerCountLimit, other.TypeDB.AnswerCountLimit)
	set(&cfg.Export.Database, other.Export.Database)
	set(&cfg.Export.OutputDir, other.Export.OutputDir)

	return cfg
}

// WithDefaults fills in every setting that is still empty
func (cfg *Config) WithDefaults() *Config {
	defaults := &Config{
		TypeDB: TypeDBConfig{
			Address:  DefaultAddress,
			Username: DefaultUsername,
			Password: DefaultPassword,
		},
		Export: ExportConfig{
			Database:  DefaultDatabase,
			OutputDir: DefaultOutputDir,
		},
	}

	*cfg = *defaults.Override(*cfg)

	return cfg
}
