package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kjk/despacho/api"
	"github.com/kjk/despacho/config"
	"github.com/kjk/despacho/ghcommit"
	"github.com/kjk/despacho/index"
	"github.com/kjk/despacho/kv"
	"github.com/kjk/despacho/log"
	"github.com/kjk/despacho/records"
	"github.com/kjk/despacho/server"
)

// app holds everything a running server needs
type app struct {
	cfg    *config.Config
	svc    *records.Service
	commit *api.CommitHandler
	assets http.Handler

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	var gh *ghcommit.Repository
	a.commit, gh = newCommitHandler(cfg)

	var repo records.Repository
	switch cfg.Backend {
	case config.BackendGitHub:
		if gh == nil {
			return nil, a.commit.ConfigErr
		}
		repo = gh
	default:
		kvRepo, err := a.openKVRepository(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		repo = kvRepo
	}
	a.svc = records.NewService(repo)
	a.svc.DefaultLimit = cfg.ListLimit

	if cfg.PublicDir != "" {
		srv, err := server.NewDirServer(cfg.PublicDir)
		if err != nil {
			log.Logf("not serving static files: %s\n", err)
		} else {
			a.assets = srv
		}
	}
	return a, nil
}

func (a *app) Handler() http.Handler {
	return api.NewHandler(&api.Options{
		Service: a.svc,
		Commit:  a.commit,
		Assets:  a.assets,
	})
}

func (a *app) Close() {
	for _, fn := range a.closers {
		log.IfErrf(fn())
	}
	a.closers = nil
}

func (a *app) openKVRepository(ctx context.Context) (*records.KVRepository, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	idx, err := openIndex(a.cfg, store)
	if err != nil {
		return nil, err
	}
	repo := records.NewKVRepository(store, idx)
	repo.OnSkip = logSkipped
	return repo, nil
}

func logSkipped(e index.Entry, err error) {
	log.Event("record.skipped", "id", e.ID, "ts", e.Ts, "error", err.Error())
}

func (a *app) openStore(ctx context.Context) (kv.Store, error) {
	cfg := a.cfg
	switch cfg.KVDriver {
	case config.KVDriverMemory:
		return kv.NewMemory(), nil
	case config.KVDriverDir:
		s, err := kv.NewDir(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.KVDriverRedis:
		s, err := kv.NewRedis(ctx, &kv.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.KVDriverMinio:
		s, err := kv.NewMinio(ctx, &kv.MinioConfig{
			Endpoint: cfg.MinioEndpoint,
			Access:   cfg.MinioAccess,
			Secret:   cfg.MinioSecret,
			Bucket:   cfg.MinioBucket,
			Region:   cfg.MinioRegion,
			Prefix:   cfg.MinioPrefix,
			Insecure: cfg.MinioInsecure,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.KVDriverDynamoDB:
		s, err := kv.NewDynamoDB(&kv.DynamoDBConfig{
			Region:   cfg.DynamoDBRegion,
			Table:    cfg.DynamoDBTable,
			Endpoint: cfg.DynamoDBEndpoint,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown KV_DRIVER '%s'", cfg.KVDriver)
}

func openIndex(cfg *config.Config, store kv.Store) (index.Index, error) {
	switch cfg.IndexDriver {
	case config.IndexDriverKV:
		return index.NewKVIndex(store), nil
	case config.IndexDriverLog:
		x, err := index.OpenLog(cfg.DataDir, "")
		if err != nil {
			return nil, err
		}
		return x, nil
	}
	return nil, fmt.Errorf("unknown INDEX_DRIVER '%s'", cfg.IndexDriver)
}

// newCommitHandler always returns a handler. If GitHub isn't configured the
// handler answers valid requests with the configuration error and the
// returned repository is nil.
func newCommitHandler(cfg *config.Config) (*api.CommitHandler, *ghcommit.Repository) {
	client, err := ghcommit.NewClient(ghcommit.Config{
		Owner:  cfg.GitHubOwner,
		Repo:   cfg.GitHubRepo,
		Branch: cfg.GitHubBranch,
		Path:   cfg.GitHubPath,
		Token:  cfg.GitHubToken,
		APIURL: cfg.GitHubAPIURL,
	})
	if err != nil {
		return &api.CommitHandler{ConfigErr: err}, nil
	}
	repo := ghcommit.NewRepository(client)
	return &api.CommitHandler{Repo: repo}, repo
}
