package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wirelabco/wagate/config"
	"github.com/wirelabco/wagate/internal/adminapi"
	"github.com/wirelabco/wagate/internal/app"
	"github.com/wirelabco/wagate/internal/webserver"
)

var (
	h        = flag.Bool("h", false, "help usage")
	showVer  = flag.Bool("v", false, "show version")
	conffile = flag.String("c", "/etc/wagate.yml", "config file")
	initdb   = flag.Bool("initdb", false, "drop and recreate the schema")
)

var version = "dev"

func main() {
	flag.Parse()
	if *h {
		flag.Usage()
		os.Exit(0)
	}
	if *showVer {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg := config.LoadConfig(*conffile)

	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initdb {
		application.InitDb()
		zap.L().Info("database initialized")
		return
	}

	webserver.Init()
	adminapi.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		zap.L().Error("session restore failed", zap.Error(err))
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return webserver.Listen()
	})

	g.Go(func() error {
		<-ctx.Done()
		return webserver.Engine().Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		zap.L().Error("server exited", zap.Error(err))
	}
}
