// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"os"
	"time"

	"github.com/maruel/interrupt"
	"github.com/pkg/errors"
	fsnotify "gopkg.in/fsnotify.v1"
)

// watchFiles returns the path of the first file modified among paths, or an
// empty string on Ctrl-C.
func watchFiles(paths ...string) (string, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return "", err
	}
	defer w.Close()
	mtimes := make(map[string]time.Time, len(paths))
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return "", err
		}
		mtimes[p] = fi.ModTime()
		if err := w.Add(p); err != nil {
			return "", errors.Wrapf(err, "watching %s", p)
		}
	}
	for {
		select {
		case <-interrupt.Channel:
			return "", nil
		case err := <-w.Errors:
			return "", err
		case e := <-w.Events:
			t, ok := mtimes[e.Name]
			if !ok {
				continue
			}
			// A removed or renamed file counts as modified.
			if fi, err := os.Stat(e.Name); err != nil || !fi.ModTime().Equal(t) {
				return e.Name, nil
			}
		}
	}
}
