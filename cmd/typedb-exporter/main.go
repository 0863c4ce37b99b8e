package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/spf13/afero"

	"github.com/diwise/typedb-exporter/internal/pkg/application/exporter"
	"github.com/diwise/typedb-exporter/pkg/typedb/client"
)

const serviceName string = "typedb-exporter"

func main() {
	serviceVersion := buildinfo.SourceVersion()

	ctx, flags, err := parseExternalConfig(context.Background(), defaultFlags(), os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	} else if err != nil {
		os.Exit(2)
	}

	ctx, log, cleanup := o11y.Init(ctx, serviceName, serviceVersion, flags[logFormat])

	result, err := run(ctx, afero.NewOsFs(), flags)
	if err != nil {
		log.Error("export aborted", "err", err.Error())
		cleanup()
		os.Exit(1)
	}

	log.Info("export complete",
		"export_id", result.ExportID,
		"folder", result.Folder,
		"entity_types", result.EntityTypes,
		"relation_types", result.RelationTypes,
		"rows", result.Rows,
		"role_players", result.RolePlayers,
	)

	cleanup()
}

func run(ctx context.Context, fs afero.Fs, flags FlagMap) (*exporter.Result, error) {
	cfg, err := loadConfiguration(fs, flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	timeout, err := cfg.TypeDB.Timeout()
	if err != nil {
		return nil, fmt.Errorf("invalid transaction timeout: %w", err)
	}

	answerLimit, err := cfg.TypeDB.AnswerLimit()
	if err != nil {
		return nil, fmt.Errorf("invalid answer count limit: %w", err)
	}

	log := logging.GetFromContext(ctx)
	log.Debug("connecting to typedb", "address", cfg.TypeDB.Address, "database", cfg.Export.Database)

	conn, err := client.Connect(ctx, cfg.TypeDB.Address,
		client.Credentials(cfg.TypeDB.Username, cfg.TypeDB.Password),
		client.TransactionTimeout(timeout),
		client.AnswerCountLimit(answerLimit),
		client.Debug(flags[debug]),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.TypeDB.Address, err)
	}
	defer conn.Close(ctx)

	return exporter.New(fs, cfg.Export.OutputDir).Export(ctx, conn, cfg.Export.Database)
}
