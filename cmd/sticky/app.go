package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tilesticker/sticky/internal/config"
	"github.com/tilesticker/sticky/internal/db"
	"github.com/tilesticker/sticky/internal/logging"
	"github.com/tilesticker/sticky/internal/remote"
	"github.com/tilesticker/sticky/internal/schema"
	"github.com/tilesticker/sticky/internal/store"
	cloudsync "github.com/tilesticker/sticky/internal/sync"
)

// app is everything a command needs, opened from the loaded config.
type app struct {
	cfg    *config.Config
	out    *logging.Output
	db     *db.DB
	client remote.Client
	engine *cloudsync.Engine
	store  *store.Store
}

func logOptions(c *config.Config) logging.Options {
	return logging.Options{
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		Quiet:      c.Log.Quiet,
	}
}

// openApp opens the local database and loads the store. With sync.enabled
// set, cloud mode is switched on first; a failure there is logged and the
// board stays local-only.
func openApp(ctx context.Context) (*app, error) {
	a := &app{cfg: cfg, out: logging.Open(logOptions(cfg))}

	database, err := db.Open(cfg.DB.Path)
	if err != nil {
		_ = a.out.Close()
		return nil, err
	}
	a.db = database
	if err := database.InitSchema(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	engineConfig := cloudsync.Config{
		DB:       database,
		Interval: cfg.Sync.Interval,
		Logger:   a.out.Logger("sync"),
	}
	if cfg.HasRemote() {
		client, err := remote.NewHTTPClient(remote.Config{
			BaseURL: cfg.Remote.URL,
			Token:   cfg.Remote.Token,
			Timeout: cfg.Remote.Timeout,
			Logger:  a.out.Logger("remote"),
		})
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.client = client
		engineConfig.Client = client
	}
	a.engine, err = cloudsync.New(engineConfig)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.store, err = store.New(store.Config{
		DB:     database,
		Engine: a.engine,
		Logger: a.out.Logger("store"),
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.store.Load(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	if cfg.Sync.Enabled {
		if _, err := a.store.EnableCloud(ctx, cfg.Remote.User); err != nil {
			a.out.Logger("sticky").Printf("WARNING: cloud sync unavailable, working locally: %v", err)
		}
	}
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	errs = append(errs, a.out.Close())
	return errors.Join(errs...)
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// resolve finds the item named by ref: an exact id or a unique id prefix.
func (a *app) resolve(ref string) (schema.Item, error) {
	if item, ok := a.store.Get(ref); ok {
		return item, nil
	}
	var matches []schema.Item
	for _, item := range a.store.State().Items {
		if strings.HasPrefix(item.ID, ref) {
			matches = append(matches, item)
		}
	}
	switch len(matches) {
	case 0:
		return schema.Item{}, fmt.Errorf("%w: %s", store.ErrNotFound, ref)
	case 1:
		return matches[0], nil
	}
	return schema.Item{}, fmt.Errorf("id prefix %q matches %d items", ref, len(matches))
}
