package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"aetherBoard/backend/internal/cache"
	"aetherBoard/backend/internal/httpapi/handlers"
	"aetherBoard/backend/internal/httpapi/middleware"
	"aetherBoard/backend/internal/relay"
	"aetherBoard/backend/internal/store"
	"aetherBoard/backend/internal/ws"
)

type BoardConfig struct {
	Running struct {
		Port int `mapstructure:"Port"`
	} `mapstructure:"Running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"Mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"Redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"Kafka"`
	Auth struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"Auth"`
}

func initConfig() (*BoardConfig, error) {
	cfg := &BoardConfig{}
	v := viper.New()
	v.SetConfigName("boardConfig")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: %+v", cfg)

	// === Redis（presence 缓存；未配置则跳过，presence 只在内存房间里转发）===
	var presenceCache cache.PresenceCache
	if len(cfg.Redis.Addrs) > 0 {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		presenceCache = cache.NewRedisPresence(rdb)
	} else {
		log.Printf("redis not configured, presence cache disabled")
	}

	// === MySQL（事件日志；未配置则进入纯内存演示模式）===
	// 注意必须保持接口变量为真 nil，不能塞一个 nil 指针进去
	var eventLog relay.EventLog
	if cfg.Mysql.DSN != "" {
		db, err := sql.Open("mysql", cfg.Mysql.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		eventLog = store.NewEventStore(db)
	} else {
		log.Printf("mysql not configured, running with in-memory state only")
	}

	// === Kafka Producer（事件旁路；未配置则跳过）===
	var dispatcher *relay.KafkaDispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("Failed to connect kafka: %v", err)
		}
		defer producer.Close()

		// 本地队列 + worker 重试发送
		dispatcher = relay.NewKafkaDispatcher(producer, cfg.Kafka.Topic, relay.KafkaDispatcherOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  1 * time.Second,
		})
	} else {
		log.Printf("kafka not configured, event fanout disabled")
	}

	svc := relay.NewService(eventLog, dispatcher)
	hub := ws.NewHub()
	manager := ws.NewManager(hub, presenceCache)
	api := handlers.New(svc, hub)

	r := gin.New()
	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// 路由：鉴权中间件会从 Authorization 或 ?token= 提取 token 并写入 actorId
	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.Auth.Path))
	api.Register(v1)

	boardGroup := r.Group("/board")
	boardGroup.Use(middleware.AuthMiddleware(cfg.Auth.Path))
	boardGroup.GET("/ws", manager.WebSocketConnect)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok"})
	})

	port := cfg.Running.Port
	_ = r.Run(fmt.Sprintf(":%d", port))
}
