// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm

import (
	"os"
	"path/filepath"

	"github.com/juju/errors"
)

// Dir encapsulates access to an unpacked charm directory.
type Dir struct {
	Path   string
	Meta   *Meta
	Config *Config
}

// ReadDir returns a Dir representing the charm unpacked at path.
// A charm without a config.yaml has no options.
func ReadDir(path string) (*Dir, error) {
	dir := &Dir{Path: path}

	file, err := os.Open(dir.join("metadata.yaml"))
	if os.IsNotExist(err) {
		return nil, errors.NotFoundf("metadata.yaml in %q", path)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	dir.Meta, err = ReadMeta(file)
	_ = file.Close()
	if err != nil {
		return nil, errors.Annotatef(err, "reading charm in %q", path)
	}

	file, err = os.Open(dir.join("config.yaml"))
	if os.IsNotExist(err) {
		dir.Config = &Config{Options: map[string]Option{}}
		return dir, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	dir.Config, err = ReadConfig(file)
	_ = file.Close()
	if err != nil {
		return nil, errors.Annotatef(err, "reading charm in %q", path)
	}
	return dir, nil
}

func (dir *Dir) join(parts ...string) string {
	return filepath.Join(append([]string{dir.Path}, parts...)...)
}
