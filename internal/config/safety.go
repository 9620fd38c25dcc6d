// safety.go -- safety checks on files and dirs named in the config
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package config

import (
	"fmt"
	"os"
	"path"
)

// SafeOpenFile opens a file named in the config, rejecting anything
// that isn't a regular file with safe permissions.
func (c *Conf) SafeOpenFile(fn string) (*os.File, error) {
	fn = c.Path(fn)
	fd, err := os.Open(fn)
	if err != nil {
		return nil, err
	}

	fi, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, err
	}

	if !fi.Mode().IsRegular() {
		fd.Close()
		return nil, fmt.Errorf("%s: not a regular file", fn)
	}

	if err = checkStat(fi, fn); err != nil {
		fd.Close()
		return nil, err
	}
	return fd, nil
}

// IsFileSafe reports whether nm is a regular file with group/world
// read and write bits clear, all the way up its parent chain.
func (c *Conf) IsFileSafe(nm string) error {
	fn := c.Path(nm)
	fi, err := os.Stat(fn)
	if err != nil {
		return err
	}

	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%s: not a file", fn)
	}
	return checkStat(fi, fn)
}

// SafeOpen opens either a single safe file or every safe regular file
// in a directory, rejecting any group/world readable or writable entry
// it finds.
func (c *Conf) SafeOpen(dn string) ([]*os.File, error) {
	fn := c.Path(dn)
	fd, err := os.Open(fn)
	if err != nil {
		return nil, err
	}

	fi, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, err
	}

	if err = checkStat(fi, fn); err != nil {
		fd.Close()
		return nil, err
	}

	if fi.Mode().IsRegular() {
		return []*os.File{fd}, nil
	}
	defer fd.Close()

	if !fi.Mode().IsDir() {
		return nil, fmt.Errorf("%s: not a file or directory", dn)
	}

	var files []*os.File
	fail := func(err error) ([]*os.File, error) {
		for _, f := range files {
			f.Close()
		}
		return nil, err
	}

	fiv, err := fd.Readdir(-1)
	if err != nil {
		return nil, err
	}

	for _, entry := range fiv {
		if !entry.Mode().IsRegular() {
			continue
		}

		nm := path.Join(fn, entry.Name())
		fx, err := os.Open(nm)
		if err != nil {
			return fail(err)
		}
		files = append(files, fx)

		efi, err := fx.Stat()
		if err != nil {
			return fail(err)
		}
		if (efi.Mode() & 0066) != 0 {
			return fail(fmt.Errorf("%s: insecure perms (group/world read/write)", nm))
		}
	}
	return files, nil
}

// checkStat rejects group/world read or write access on nm and every
// directory above it.
func checkStat(fi os.FileInfo, nm string) error {
	if (fi.Mode() & 0066) != 0 {
		return fmt.Errorf("insecure perms on %s (group/world read/write)", nm)
	}

	for {
		dir := path.Dir(nm)
		if dir == nm {
			break
		}
		dfi, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if (dfi.Mode() & 0066) != 0 {
			return fmt.Errorf("insecure perms on %s (group/world read/write)", dir)
		}
		nm = dir
	}
	return nil
}
