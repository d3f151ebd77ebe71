// Package results persists the artefacts of a finished run.
package results

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type file interface {
	io.Writer
	Sync() error
	Close() error
}

var createFile = func(path string) (file, error) { return os.Create(path) }

// Store writes rows under the given column names to dir/<datasetName>.csv
// and returns the file path.
func Store(dir, datasetName string, columns []string, rows [][]float64) (_ string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create result dir %s", dir)
	}
	path := filepath.Join(dir, datasetName+".csv")
	f, err := createFile(path)
	if err != nil {
		return "", errors.Wrap(err, "create results file")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close results")
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return "", errors.Wrap(err, "write header")
	}
	record := make([]string, len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", errors.Errorf("row %d has %d values, want %d", i, len(row), len(columns))
		}
		for j, v := range row {
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return "", errors.Wrapf(err, "write row %d", i)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", errors.Wrap(err, "flush results")
	}
	if err := f.Sync(); err != nil {
		return "", errors.Wrap(err, "sync results")
	}
	return path, nil
}

// ArgsFile is the file SaveArgs writes inside the run directory.
const ArgsFile = "args.yaml"

// SaveArgs dumps the resolved run arguments as YAML into dir.
func SaveArgs(dir string, args any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create run dir %s", dir)
	}
	data, err := yaml.Marshal(args)
	if err != nil {
		return errors.Wrap(err, "encode args")
	}
	return errors.Wrap(os.WriteFile(filepath.Join(dir, ArgsFile), data, 0o644), "write args")
}
