package exporter

import (
	"bytes"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestLoadConfig(t *testing.T) {
	is, config := setupConfigTest(t)

	is.Equal(config.TypeDB.Address, "http://typedb:8000")
	is.Equal(config.TypeDB.Username, "exporter")
	is.Equal(config.Export.Database, "social_network")
	is.Equal(config.Export.OutputDir, "") // not set in file
}

func TestLoadTransactionTimeout(t *testing.T) {
	is, config := setupConfigTest(t)

	timeout, err := config.TypeDB.Timeout()
	is.NoErr(err)
	is.Equal(timeout, 10*time.Minute)
}

func TestMissingTransactionTimeoutMeansServerDefault(t *testing.T) {
	is := is.New(t)

	timeout, err := TypeDBConfig{}.Timeout()
	is.NoErr(err)
	is.Equal(timeout, time.Duration(0))
}

func TestLoadAnswerCountLimit(t *testing.T) {
	is, config := setupConfigTest(t)

	limit, err := config.TypeDB.AnswerLimit()
	is.NoErr(err)
	is.Equal(limit, 50000)
}

func TestAnswerCountLimitMustBePositive(t *testing.T) {
	is := is.New(t)

	_, err := TypeDBConfig{AnswerCountLimit: "0"}.AnswerLimit()
	is.True(err != nil)

	_, err = TypeDBConfig{AnswerCountLimit: "many"}.AnswerLimit()
	is.True(err != nil)

	limit, err := TypeDBConfig{}.AnswerLimit()
	is.NoErr(err)
	is.Equal(limit, 0) // the client default applies
}

func TestOverrideKeepsSettingsThatAreNotSet(t *testing.T) {
	is, config := setupConfigTest(t)

	config.Override(Config{Export: ExportConfig{Database: "other"}})

	is.Equal(config.Export.Database, "other")
	is.Equal(config.TypeDB.Address, "http://typedb:8000") // should not be replaced by an empty value
}

func TestWithDefaultsOnlyFillsEmptySettings(t *testing.T) {
	is, config := setupConfigTest(t)

	config.WithDefaults()

	is.Equal(config.TypeDB.Address, "http://typedb:8000")
	is.Equal(config.TypeDB.Password, DefaultPassword)
	is.Equal(config.Export.OutputDir, DefaultOutputDir)
}

func TestDefaults(t *testing.T) {
	is := is.New(t)

	config := (&Config{}).WithDefaults()

	is.Equal(config.TypeDB.Address, DefaultAddress)
	is.Equal(config.TypeDB.Username, DefaultUsername)
	is.Equal(config.Export.Database, DefaultDatabase)
}

func setupConfigTest(t *testing.T) (*is.I, *Config) {
	is := is.New(t)
	cfgData := bytes.NewBuffer([]byte(configFile))
	config, err := LoadConfiguration(cfgData)
	is.NoErr(err)

	return is, config
}

var configFile string = `
typedb:
  address: http://typedb:8000
  username: exporter
  transactionTimeout: 10m
  answerCountLimit: 50000
export:
  database: social_network
`
