package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"waitroom/config"
	"waitroom/global"
	"waitroom/logger"
	mid "waitroom/middleware"
	"waitroom/module/waitroom"
	"waitroom/service/api"
	"waitroom/service/gateway"
	"waitroom/service/kafka"
	"waitroom/service/metrics"
	"waitroom/service/natsx"
	"waitroom/service/storage"
	redisx "waitroom/service/storage/redis"
	"waitroom/tools/ids"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	path := flag.String("config", os.Getenv("WAITROOM_CONFIG"), "path to the YAML config file")
	flag.Parse()

	conf, err := global.LoadConfig(*path)
	if err != nil {
		logger.Error("[main] load config", zap.Error(err))
		os.Exit(1)
	}
	if err := logger.SetLevel(conf.LogLevel); err != nil {
		logger.Warn("[main] bad log level, keeping default", zap.String("level", conf.LogLevel))
	}
	defer logger.Sync()
	ids.SetNodeID(conf.SnowNode)

	if err := run(conf); err != nil {
		logger.Error("[main] exit", zap.Error(err))
		os.Exit(1)
	}
}

func run(conf global.AppConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1) stores
	var rdb goredis.UniversalClient
	if conf.Store.Driver != storage.DriverMemory {
		if err := redisx.InitRedis(conf.Store.Redis); err != nil {
			return err
		}
		defer func() { _ = redisx.CloseRedis() }()
		cli, err := redisx.GetRedis()
		if err != nil {
			return err
		}
		rdb = cli
	}
	stores, err := storage.InitStores(conf.StoreConfig(), rdb)
	if err != nil {
		return err
	}

	obs := metrics.New()
	hub := gateway.NewHub(gateway.HubConf{}, conf.NodeID)
	defer hub.Close()

	// 2) cross-instance relay, only with NATS configured
	var (
		relay  gateway.Relayer
		owners gateway.OwnerLookup
		pres   gateway.PresenceWriter
		nats   *natsx.NatsManager
	)
	if stores.Presence != nil {
		owners, pres = stores.Presence, stores.Presence
	}
	if len(conf.Nats.Servers) > 0 {
		nc := conf.Nats.NatsxConfig
		if nc.Name == "" {
			nc.Name = conf.NodeID
		}
		nats, err = natsx.NewNatsManager(nc, natsx.Recover(), natsx.LogErrors(100*time.Millisecond))
		if err != nil {
			return err
		}
		defer func() { _ = nats.Close() }()
		relay = natsx.NewRelay(nats, conf.Nats.Subject, conf.NodeID)
	}
	transport := gateway.NewTransport(hub, relay, owners)
	if r, ok := relay.(*natsx.Relay); ok {
		if err := r.Listen(transport.HandleEnvelope); err != nil {
			return err
		}
	}

	// 3) lifecycle events
	var events waitroom.EventSink
	if len(conf.Kafka.Brokers) > 0 {
		p, err := kafka.Dial(conf.Kafka, conf.NodeID)
		if err != nil {
			return err
		}
		defer func() { _ = p.Close() }()
		events = p
	}

	settings := waitroom.NewSettings(conf.Capacity, conf.Timeout)
	ctrl, err := waitroom.NewController(waitroom.ControllerConf{
		Registry:   stores.Registry,
		Heartbeats: stores.Heartbeats,
		DebugLog:   stores.DebugLog,
		Transport:  transport,
		Settings:   settings,
		Events:     events,
		Observer:   obs,
	})
	if err != nil {
		return err
	}

	sweeper := waitroom.NewSweeper(stores.Heartbeats, ctrl, settings, waitroom.SweeperConf{
		Interval: conf.SweepInterval,
		Observer: obs,
	})
	sweeper.Start()
	defer sweeper.Stop()

	// 4) live tunables
	if len(conf.Nacos.Servers) > 0 {
		w, err := config.StartNacosWatcher(conf.Nacos, ctrl)
		if err != nil {
			logger.Warn("[main] nacos watcher disabled", zap.Error(err))
		} else {
			defer w.Close()
		}
	}

	// 5) HTTP + WebSocket
	origins := mid.NewOriginChecker(conf.AllowedOrigins)
	filters := mid.NewManager()
	filters.Add("origin", mid.Origin(origins))

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(mid.Recovery(), mid.AccessLog(), filters.Use())

	ws := gateway.NewServer(hub, ctrl, pres, gateway.ServerConf{CheckOrigin: origins.Check})
	r.GET("/ws", ws.HandleWS)
	r.GET("/metrics", gin.WrapH(obs.Handler()))

	var ping api.Pinger
	if rdb != nil {
		ping = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	api.NewServer(ctrl, conf.NodeID, ping).Register(r)

	srv := &http.Server{Addr: conf.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("[HTTP] listening", zap.String("addr", conf.HTTPAddr), zap.String("node", conf.NodeID),
			zap.String("store", conf.Store.Driver), zap.Bool("relay", nats != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("[main] shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
