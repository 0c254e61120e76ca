// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Watch reloads the configuration every time the file changes and calls
// onChange with each valid result. Invalid content is logged and ignored.
//
// The directory is watched instead of the file so that editors replacing the
// file are handled. It returns when ctx is canceled.
func (l *Loader) Watch(ctx context.Context, log *zap.SugaredLogger, onChange func(c *Config)) error {
	if l.Path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create watcher")
	}
	defer watcher.Close()
	name := filepath.Clean(l.Path)
	if err = watcher.Add(filepath.Dir(name)); err != nil {
		return errors.Wrapf(err, "failed to watch %s", l.Path)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watcher.Errors:
			return errors.Wrap(err, "watch failed")
		case ev := <-watcher.Events:
			if filepath.Clean(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			c, err := l.Load()
			if err != nil {
				log.Warnw("ignoring configuration change", zap.Error(err))
				continue
			}
			log.Infow("configuration reloaded", "path", l.Path)
			onChange(c)
		}
	}
}
