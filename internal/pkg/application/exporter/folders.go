package exporter

import (
	"context"
	"math/big"
	"path/filepath"
	"regexp"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/spf13/afero"

	"github.com/diwise/typedb-exporter/pkg/graph/errors"
)

const (
	EntitiesFolder  string = "entities"
	RelationsFolder string = "relations"
	SchemaFile      string = "schema.tql"
)

var numberedFolder = regexp.MustCompile(`^(.*)_(\d+)$`)

// generateFolderName returns base/folder if no such directory exists. Otherwise the
// trailing _<n> of folder is incremented (or _2 appended) until a free name is found.
func generateFolderName(ctx context.Context, fs afero.Fs, base, folder string) (string, error) {
	log := logging.GetFromContext(ctx)

	for {
		path := filepath.Join(base, folder)

		exists, err := afero.DirExists(fs, path)
		if err != nil {
			return "", errors.NewFilesystemError("stat", path, err)
		}

		if !exists {
			return path, nil
		}

		folder = nextFolderName(folder)
		log.Debug("folder already exists", "path", path, "next", folder)
	}
}

func nextFolderName(folder string) string {
	m := numberedFolder.FindStringSubmatch(folder)
	if m == nil {
		return folder + "_2"
	}

	n, _ := new(big.Int).SetString(m[2], 10)
	return m[1] + "_" + n.Add(n, big.NewInt(1)).String()
}

// createFolder allocates a fresh export folder below base and stores the schema in it
func createFolder(ctx context.Context, fs afero.Fs, base, name, schema string) (string, error) {
	path, err := generateFolderName(ctx, fs, base, name)
	if err != nil {
		return "", err
	}

	for _, dir := range []string{path, filepath.Join(path, EntitiesFolder), filepath.Join(path, RelationsFolder)} {
		if err := fs.Mkdir(dir, 0755); err != nil {
			return "", errors.NewFilesystemError("create directory", dir, err)
		}
	}

	schemaPath := filepath.Join(path, SchemaFile)
	if err := afero.WriteFile(fs, schemaPath, []byte(schema), 0644); err != nil {
		return "", errors.NewFilesystemError("write", schemaPath, err)
	}

	logging.GetFromContext(ctx).Debug("created export folder", "path", path)

	return path, nil
}
