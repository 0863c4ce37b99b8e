package main

import (
	"context"
	"flag"

	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/spf13/afero"

	"github.com/diwise/typedb-exporter/internal/pkg/application/exporter"
)

type FlagType int
type FlagMap map[FlagType]string

const (
	typedbAddress FlagType = iota
	typedbUsername
	typedbPassword
	transactionTimeout
	answerCountLimit

	databaseName
	outputDir

	configPath
	logFormat
	debug
)

func defaultFlags() FlagMap {
	return FlagMap{
		logFormat: "json",
		debug:     "false",
	}
}

// parseExternalConfig lets environment variables override the defaults in flags, and
// command line arguments override both
func parseExternalConfig(ctx context.Context, flags FlagMap, args []string) (context.Context, FlagMap, error) {
	envOrDef := env.GetVariableOrDefault

	flags[typedbAddress] = envOrDef(ctx, "TYPEDB_ADDRESS", flags[typedbAddress])
	flags[typedbUsername] = envOrDef(ctx, "TYPEDB_USERNAME", flags[typedbUsername])
	flags[typedbPassword] = envOrDef(ctx, "TYPEDB_PASSWORD", flags[typedbPassword])
	flags[transactionTimeout] = envOrDef(ctx, "TYPEDB_TX_TIMEOUT", flags[transactionTimeout])
	flags[answerCountLimit] = envOrDef(ctx, "TYPEDB_ANSWER_COUNT_LIMIT", flags[answerCountLimit])
	flags[databaseName] = envOrDef(ctx, "TYPEDB_DATABASE", flags[databaseName])
	flags[outputDir] = envOrDef(ctx, "EXPORT_DIR", flags[outputDir])
	flags[configPath] = envOrDef(ctx, "EXPORTER_CONFIG_PATH", flags[configPath])
	flags[logFormat] = envOrDef(ctx, "LOG_FORMAT", flags[logFormat])
	flags[debug] = envOrDef(ctx, "TYPEDB_CLIENT_DEBUG", flags[debug])

	apply := func(f FlagType) func(string) error {
		return func(value string) error {
			flags[f] = value
			return nil
		}
	}

	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)

	fs.Func("address", "TypeDB HTTP endpoint (default "+exporter.DefaultAddress+")", apply(typedbAddress))
	fs.Func("username", "TypeDB user name", apply(typedbUsername))
	fs.Func("password", "TypeDB password", apply(typedbPassword))
	fs.Func("tx-timeout", "read transaction timeout, e.g. 30m", apply(transactionTimeout))
	fs.Func("answer-limit", "maximum number of answers to a single query", apply(answerCountLimit))
	fs.Func("database", "database to export (default "+exporter.DefaultDatabase+")", apply(databaseName))
	fs.Func("output", "directory in which the export folder is created", apply(outputDir))
	fs.Func("config", "path to a yaml configuration file", apply(configPath))
	fs.Func("log-format", "log format, json or text", apply(logFormat))
	fs.Func("debug", "dump failed requests to the log (true/false)", apply(debug))

	err := fs.Parse(args)

	return ctx, flags, err
}

// loadConfiguration reads the optional configuration file and lets every setting
// given as a flag or environment variable override it
func loadConfiguration(fs afero.Fs, flags FlagMap) (*exporter.Config, error) {
	cfg := &exporter.Config{}

	if flags[configPath] != "" {
		f, err := fs.Open(flags[configPath])
		if err != nil {
			return nil, err
		}
		defer f.Close()

		cfg, err = exporter.LoadConfiguration(f)
		if err != nil {
			return nil, err
		}
	}

	cfg.Override(exporter.Config{
		TypeDB: exporter.TypeDBConfig{
			Address:            flags[typedbAddress],
			Username:           flags[typedbUsername],
			Password:           flags[typedbPassword],
			TransactionTimeout: flags[transactionTimeout],
			AnswerCountLimit:   flags[answerCountLimit],
		},
		Export: exporter.ExportConfig{
			Database:  flags[databaseName],
			OutputDir: flags[outputDir],
		},
	})

	return cfg.WithDefaults(), nil
}
