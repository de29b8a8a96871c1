package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/segeval/internal/api"
	"github.com/samcharles93/segeval/internal/logger"
	"github.com/samcharles93/segeval/internal/vallog"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve validation history over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.StringFlag{
				Name:        "log-db",
				Usage:       "sqlite database written by validate --log-db",
				Destination: &logDB,
			},
			&cli.StringFlag{
				Name:        "dir-root",
				Usage:       "checkpoint root holding rendered visualizations",
				Destination: &dirRoot,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, loaded, &addr)
			if logDB == "" {
				return errors.New("--log-db is required")
			}

			db, err := vallog.OpenSQLite(logDB)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			server := api.NewServer(db, dirRoot)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "db", logDB)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
