package exporter

import (
	"context"
	"encoding/csv"
	"fmt"
	"path/filepath"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/diwise/typedb-exporter/pkg/graph"
	"github.com/diwise/typedb-exporter/pkg/graph/errors"
)

const (
	RolesSuffix string = "__roles"

	RelationColumn string = "Relation"
	RoleColumn     string = "Role"
	PlayerColumn   string = "Player"
)

type typeResult struct {
	rows        int
	rolePlayers int
}

// exportType writes the explicit instances of t into folder/<label>.csv, and for
// relation types their role players into folder/<label>__roles.csv
func exportType(ctx context.Context, tx graph.Transaction, fs afero.Fs, folder string, t graph.Type) (result typeResult, err error) {
	ctx, span := tracer.Start(ctx, "export-type",
		trace.WithAttributes(attribute.String(TraceAttributeTypeLabel, t.Label)),
		trace.WithAttributes(attribute.String(TraceAttributeTypeKind, t.Kind.String())),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	ctx = logging.NewContextWithLogger(ctx, logging.GetFromContext(ctx), "type", t.Label)

	switch t.Kind {
	case graph.EntityKind:
		result, err = exportEntities(ctx, tx, fs, folder, t)
	case graph.RelationKind:
		result, err = exportRelations(ctx, tx, fs, folder, t)
	default:
		err = fmt.Errorf("unable to export %s of unknown kind %d", t.Label, t.Kind)
	}

	return
}

func exportEntities(ctx context.Context, tx graph.Transaction, fs afero.Fs, folder string, t graph.Type) (result typeResult, err error) {
	cols, err := columnsOf(ctx, tx, t)
	if err != nil {
		return
	}

	rows, err := createTable(fs, filepath.Join(folder, t.Label+".csv"), cols.names)
	if err != nil {
		return
	}
	defer func() { err = rows.close(err) }()

	instances, err := tx.Instances(ctx, t)
	if err != nil {
		return result, fmt.Errorf("failed to get instances of %s: %w", t.Label, err)
	}

	for _, i := range instances {
		if err = writeRow(ctx, tx, rows, cols, i); err != nil {
			return
		}
		result.rows++
	}

	logging.GetFromContext(ctx).Debug("exported entities", "rows", result.rows)

	return
}

func exportRelations(ctx context.Context, tx graph.Transaction, fs afero.Fs, folder string, t graph.Type) (result typeResult, err error) {
	cols, err := columnsOf(ctx, tx, t)
	if err != nil {
		return
	}

	roles, err := tx.Relates(ctx, t)
	if err != nil {
		return result, fmt.Errorf("failed to get roles of %s: %w", t.Label, err)
	}

	rows, err := createTable(fs, filepath.Join(folder, t.Label+".csv"), cols.names)
	if err != nil {
		return
	}
	defer func() { err = rows.close(err) }()

	rolePlayers, err := createTable(fs, filepath.Join(folder, t.Label+RolesSuffix+".csv"), []string{RelationColumn, RoleColumn, PlayerColumn})
	if err != nil {
		return
	}
	defer func() { err = rolePlayers.close(err) }()

	instances, err := tx.Instances(ctx, t)
	if err != nil {
		return result, fmt.Errorf("failed to get instances of %s: %w", t.Label, err)
	}

	for _, i := range instances {
		if err = writeRow(ctx, tx, rows, cols, i); err != nil {
			return
		}
		result.rows++

		for _, role := range roles {
			players, err := tx.Players(ctx, i, role)
			if err != nil {
				return result, fmt.Errorf("failed to get players of %s in %s: %w", role.Label(), i.IID, err)
			}

			for _, p := range players {
				if err := rolePlayers.write([]string{i.IID, role.Name, p.IID}); err != nil {
					return result, err
				}
				result.rolePlayers++
			}
		}
	}

	logging.GetFromContext(ctx).Debug("exported relations", "rows", result.rows, "role_players", result.rolePlayers)

	return
}

func columnsOf(ctx context.Context, tx graph.Transaction, t graph.Type) (columns, error) {
	owns, err := tx.Owns(ctx, t)
	if err != nil {
		return columns{}, fmt.Errorf("failed to get attribute types owned by %s: %w", t.Label, err)
	}

	return newColumns(owns), nil
}

func writeRow(ctx context.Context, tx graph.Transaction, tbl *table, cols columns, i graph.Instance) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	row, err := cols.buildRow(ctx, tx, i)
	if err != nil {
		return err
	}

	return tbl.write(row.Values(cols.names))
}

// table is a csv file that has been created with a header row
type table struct {
	path string
	file afero.File
	w    *csv.Writer
}

func createTable(fs afero.Fs, path string, header []string) (*table, error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, errors.NewFilesystemError("create", path, err)
	}

	t := &table{path: path, file: f, w: csv.NewWriter(f)}

	if err := t.write(header); err != nil {
		f.Close()
		return nil, err
	}

	return t, nil
}

func (t *table) write(record []string) error {
	if err := t.w.Write(record); err != nil {
		return errors.NewFilesystemError("write", t.path, err)
	}
	return nil
}

// close flushes and closes the file, returning err or, if err is nil, the first
// error encountered while flushing or closing
func (t *table) close(err error) error {
	t.w.Flush()
	flushErr := t.w.Error()
	closeErr := t.file.Close()

	if err != nil {
		return err
	}

	if flushErr != nil {
		return errors.NewFilesystemError("write", t.path, flushErr)
	}

	if closeErr != nil {
		return errors.NewFilesystemError("close", t.path, closeErr)
	}

	return nil
}
