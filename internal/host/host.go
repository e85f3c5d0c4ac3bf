// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package host holds the filesystem and package operations charms
// perform on the machine they are deployed to.
package host

import (
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/utils/v4"
)

var logger = loggo.GetLogger("kpi.host")

// Mkdir creates path and any missing parents, then sets its permissions
// and, if owner is not empty, its ownership.
func Mkdir(path, owner string, perms os.FileMode) error {
	logger.Debugf("making dir %s %s:%s", path, owner, perms)
	if err := os.MkdirAll(path, perms); err != nil {
		return errors.Annotatef(err, "creating %s", path)
	}
	if err := os.Chmod(path, perms); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(Chown(path, owner))
}

// WriteFile atomically writes data to path with the given permissions and
// ownership. The parent directory must exist.
func WriteFile(path string, data []byte, owner string, perms os.FileMode) error {
	logger.Debugf("writing file %s %s:%s", path, owner, perms)
	if err := utils.AtomicWriteFile(path, data, perms); err != nil {
		return errors.Annotatef(err, "writing %s", path)
	}
	return errors.Trace(Chown(path, owner))
}

// Chown changes the owner and group of path to those of the named user.
// An empty owner leaves the path untouched.
func Chown(path, owner string) error {
	if owner == "" {
		return nil
	}
	uid, gid, err := lookupUser(owner)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(os.Chown(path, uid, gid), "changing owner of %s to %s", path, owner)
}

func lookupUser(name string) (int, int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return -1, -1, errors.NotFoundf("user %q", name)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return -1, -1, errors.Trace(err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return -1, -1, errors.Trace(err)
	}
	return uid, gid, nil
}

// SyncDir copies every entry of src into dst, overwriting existing files
// and preserving permissions. Entries in dst that are not in src are left
// alone.
func SyncDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return errors.Annotatef(err, "reading %s", src)
	}
	for _, entry := range entries {
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())
		info, err := entry.Info()
		if err != nil {
			return errors.Trace(err)
		}
		if info.IsDir() {
			if err := os.MkdirAll(to, info.Mode().Perm()); err != nil {
				return errors.Trace(err)
			}
			if err := SyncDir(from, to); err != nil {
				return errors.Trace(err)
			}
			continue
		}
		if !info.Mode().IsRegular() {
			logger.Warningf("skipping %s: not a regular file", from)
			continue
		}
		if err := utils.CopyFile(to, from); err != nil {
			return errors.Annotatef(err, "copying %s to %s", from, to)
		}
		if err := os.Chmod(to, info.Mode().Perm()); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

var scriptName = regexp.MustCompile(`^[-_A-Za-z]+$`)

// ListScripts returns the sorted names of the entries in dir that look
// like KPI scripts: letters, dashes and underscores only, so helper
// modules and data files are left out.
func ListScripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Annotatef(err, "listing %s", dir)
	}
	var scripts []string
	for _, entry := range entries {
		if scriptName.MatchString(entry.Name()) {
			scripts = append(scripts, entry.Name())
		}
	}
	sort.Strings(scripts)
	return scripts, nil
}

// Remove removes path. A missing path is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Annotatef(err, "removing %s", path)
	}
	return nil
}
