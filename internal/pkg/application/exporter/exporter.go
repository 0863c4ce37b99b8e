package exporter

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/diwise/typedb-exporter/pkg/graph"
)

const (
	TraceAttributeDatabase  string = "database"
	TraceAttributeExportID  string = "export-id"
	TraceAttributeTypeLabel string = "type-label"
	TraceAttributeTypeKind  string = "type-kind"
)

var tracer = otel.Tracer("typedb-exporter/exporter")

type Exporter interface {
	// Export writes the schema and every entity and relation of database into a new
	// folder below the output directory. All reads happen in a single transaction.
	Export(ctx context.Context, conn graph.Connection, database string) (*Result, error)
}

type Result struct {
	ExportID      string
	Folder        string
	EntityTypes   int
	RelationTypes int
	Rows          int
	RolePlayers   int
}

type exporterApp struct {
	fs        afero.Fs
	outputDir string
}

func New(fs afero.Fs, outputDir string) Exporter {
	return &exporterApp{
		fs:        fs,
		outputDir: outputDir,
	}
}

func (app *exporterApp) Export(ctx context.Context, conn graph.Connection, database string) (result *Result, err error) {
	result = &Result{ExportID: uuid.NewString()}

	ctx, span := tracer.Start(ctx, "export",
		trace.WithAttributes(attribute.String(TraceAttributeDatabase, database)),
		trace.WithAttributes(attribute.String(TraceAttributeExportID, result.ExportID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	ctx = logging.NewContextWithLogger(ctx, logging.GetFromContext(ctx), "export_id", result.ExportID, "database", database)
	log := logging.GetFromContext(ctx)

	schema, err := conn.Schema(ctx, database)
	if err != nil {
		return result, fmt.Errorf("failed to retrieve schema: %w", err)
	}

	result.Folder, err = createFolder(ctx, app.fs, app.outputDir, database, schema)
	if err != nil {
		return result, err
	}

	tx, err := conn.Transaction(ctx, database)
	if err != nil {
		return result, fmt.Errorf("failed to open transaction: %w", err)
	}
	defer func() {
		// the transaction is released on the server even when the run was cancelled
		if closeErr := tx.Close(context.WithoutCancel(ctx)); closeErr != nil {
			log.Warn("failed to close transaction", "err", closeErr.Error())
			if err == nil {
				err = fmt.Errorf("failed to close transaction: %w", closeErr)
			}
		}
	}()

	entityTypes, err := tx.EntityTypes(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to get entity types: %w", err)
	}

	for _, t := range entityTypes {
		log.Debug("exporting entity type", "type", t.Label)

		if err = app.exportInto(ctx, tx, filepath.Join(result.Folder, EntitiesFolder), t, result); err != nil {
			return
		}
		result.EntityTypes++
	}

	relationTypes, err := tx.RelationTypes(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to get relation types: %w", err)
	}

	for _, t := range relationTypes {
		log.Debug("exporting relation type", "type", t.Label)

		if err = app.exportInto(ctx, tx, filepath.Join(result.Folder, RelationsFolder), t, result); err != nil {
			return
		}
		result.RelationTypes++
	}

	return result, nil
}

func (app *exporterApp) exportInto(ctx context.Context, tx graph.Transaction, folder string, t graph.Type, result *Result) error {
	tr, err := exportType(ctx, tx, app.fs, folder, t)
	if err != nil {
		return fmt.Errorf("failed to export %s %s: %w", t.Kind, t.Label, err)
	}

	result.Rows += tr.rows
	result.RolePlayers += tr.rolePlayers

	return nil
}
