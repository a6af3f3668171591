// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package configfile

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch reloads path whenever it changes and passes each successfully loaded
// File to apply. Load and apply failures are logged and the previous
// configuration stays in effect. Watch blocks until ctx is done.
//
// The containing directory is watched rather than the file so that editors
// replacing the file by rename are picked up.
func Watch(ctx context.Context, path string, log logrus.FieldLogger, apply func(*File) error) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("path", path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			reload(path, log, apply)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("config watcher error")

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func reload(path string, log logrus.FieldLogger, apply func(*File) error) {
	f, err := Load(path)
	if err != nil {
		log.WithError(err).Warn("config reload failed")
		return
	}
	if err := apply(f); err != nil {
		log.WithError(err).Warn("config apply failed")
		return
	}
	log.Info("config reloaded")
}
