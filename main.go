package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"fellowchat/config"
	"fellowchat/data/database/mgo/mongoutil"
	"fellowchat/logger"
	"fellowchat/module/chat/api"
	"fellowchat/module/chat/burn"
	"fellowchat/module/chat/composer"
	"fellowchat/module/chat/mention"
	"fellowchat/module/chat/seq"
	"fellowchat/module/chat/store"
	"fellowchat/service/blob"
	svcchat "fellowchat/service/chat"
	"fellowchat/service/natsx"
	"fellowchat/service/notify"
	"fellowchat/service/social"
	"fellowchat/service/storage"
	redisx "fellowchat/service/storage/redis"
	"fellowchat/tools/ids"

	"github.com/gin-gonic/gin"
)

func main() {
	confPath := flag.String("conf", "config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*confPath)
	if err != nil {
		logger.Errorf("load config: %v", err)
		os.Exit(1)
	}
	ids.SetNodeID(cfg.Gateway.NodeID)
	origin := "gw-" + strconv.FormatInt(cfg.Gateway.NodeID, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// ---- 存储 ----
	mongoCli, err := mongoutil.NewMongoDB(ctx, &mongoutil.Config{
		Uri:         cfg.Mongo.URI,
		Address:     cfg.Mongo.Addresses,
		Database:    cfg.Mongo.Database,
		Username:    cfg.Mongo.Username,
		Password:    cfg.Mongo.Password,
		AuthSource:  cfg.Mongo.AuthSource,
		MaxPoolSize: cfg.Mongo.MaxPoolSize,
	})
	if err != nil {
		logger.Errorf("mongo: %v", err)
		os.Exit(1)
	}
	if err := store.EnsureIndexes(ctx, mongoCli.GetDB()); err != nil {
		logger.Errorf("mongo indexes: %v", err)
		os.Exit(1)
	}
	db := store.NewMongoDB(mongoCli.GetDB())

	if err := redisx.Init(redisx.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}); err != nil {
		logger.Errorf("redis: %v", err)
		os.Exit(1)
	}
	allocator := seq.NewRedisAllocator(redisx.Client(), seq.NewMongoSegmentDAO(mongoCli.GetDB()))
	presence := storage.NewPresence(redisx.Client(), 2*time.Minute)

	// ---- 集群事件镜像 ----
	var mirror svcchat.Mirror
	var natsCli *natsx.NatsxClient
	if cfg.Nats.Enabled {
		natsCli, err = natsx.NewNatsxClient(natsx.NatsxConfig{
			Servers: []string{cfg.Nats.URL},
			Name:    origin,
		})
		if err != nil {
			logger.Errorf("nats: %v", err)
			os.Exit(1)
		}
		mirror = natsx.NewNatsxProducer(natsCli, cfg.Nats.Subject)
	}

	// ---- 离线通知 ----
	var notifier composer.Notifier = notify.Noop{}
	var kafkaNotifier *notify.KafkaNotifier
	if cfg.Kafka.Enabled {
		kafkaNotifier, err = notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.Errorf("kafka: %v", err)
			os.Exit(1)
		}
		notifier = kafkaNotifier
	}

	// ---- 外部服务 ----
	socialCli := social.NewClient(cfg.Social.BaseURL, time.Duration(cfg.Social.TimeoutSec)*time.Second)
	var blobCli *blob.Client
	if cfg.Blob.BaseURL != "" {
		blobCli = blob.NewClient(cfg.Blob.BaseURL, time.Duration(cfg.Blob.TimeoutSec)*time.Second)
	}
	previews := mention.NewPreviewResolver(cfg.Preview.Timeout(), int64(cfg.Preview.MaxBodyKB)*1024)

	// ---- 网关与编排 ----
	mgr := svcchat.NewConnManager(svcchat.ManagerConf{
		MaxPerUser:  cfg.Gateway.MaxPerUser,
		EvictOldest: true,
	})
	fanout := svcchat.NewFanout(cfg.Gateway.FanoutWorkers, cfg.Gateway.FanoutQueue)
	engine := svcchat.NewSyncEngine(origin, mgr, fanout, mirror)

	comp := composer.New(composer.Options{
		DB:       db,
		Seq:      allocator,
		Oracle:   socialCli,
		Lookup:   socialCli,
		Previews: previews,
		Pub:      engine,
		Notifier: notifier,
		Presence: presence,
		Origin:   origin,
	})

	if natsCli != nil {
		consumer := natsx.NewNatsxConsumer(natsCli)
		// 镜像订阅不走队列组：每个节点都要收到全部事件
		if err := consumer.Subscribe(cfg.Nats.Subject, "", engine.HandleRemote); err != nil {
			logger.Errorf("nats subscribe: %v", err)
			os.Exit(1)
		}
	}

	sweeper := burn.NewSweeper(db, engine, cfg.Sweeper.Every(), cfg.Sweeper.Batch)
	sweeper.Start()

	tokens := svcchat.NewTokenParser(cfg.Server.JWTSecret)
	wsServer := svcchat.NewServer(svcchat.ServerConf{
		SendQueue: cfg.Gateway.SendQueue,
		Heartbeat: time.Duration(cfg.Gateway.HeartbeatSec) * time.Second,
	}, tokens, mgr, comp, presence)

	// ---- HTTP ----
	r := gin.New()
	r.Use(gin.Recovery())
	api.New(comp, blobCli).Register(r, tokens.Parse, wsServer.HandleWS)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}
	go func() {
		logger.Infof("gateway %s listening on %s", origin, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http server: %v", err)
			os.Exit(1)
		}
	}()

	// ---- 优雅退出 ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	sweeper.Stop()
	mgr.Close()
	fanout.Close()
	if natsCli != nil {
		_ = natsCli.Close()
	}
	if kafkaNotifier != nil {
		_ = kafkaNotifier.Close()
	}
	_ = redisx.Close()
	_ = mongoCli.Disconnect(shutCtx)
	logger.Sync()
}
