package main

import (
	"context"
	"log"
	"time"

	"github.com/spf13/viper"

	"aetherBoard/backend/internal/collab"
	"aetherBoard/backend/internal/ws"
)

type ClientConfig struct {
	Server struct {
		HTTPBase   string `mapstructure:"httpBase"`
		WSEndpoint string `mapstructure:"wsEndpoint"`
	} `mapstructure:"Server"`
	Auth struct {
		Token string `mapstructure:"token"`
	} `mapstructure:"Auth"`
	Actor struct {
		ID string `mapstructure:"id"`
	} `mapstructure:"Actor"`
	Board struct {
		ID string `mapstructure:"id"`
	} `mapstructure:"Board"`
}

func initConfig() (*ClientConfig, error) {
	cfg := &ClientConfig{}
	v := viper.New()
	v.SetConfigName("clientConfig")
	v.SetConfigType("yaml")
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

// 演示客户端：连上中继服务，加入看板，持续打印本地工作集与在场者。
// 它跑的就是真实的同步核心：乐观变更、回滚、事件和解全在里面。
func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	exec := collab.NewHTTPExecutor(cfg.Server.HTTPBase, cfg.Auth.Token)

	var client *ws.Client
	syncer := collab.NewSyncer(cfg.Actor.ID, exec, func(msg ws.WebSocketMessage) error {
		return client.Send(msg)
	})
	client = ws.NewClient(cfg.Server.WSEndpoint, cfg.Auth.Token, syncer)

	boardID := cfg.Board.ID
	client.OnReconnect = func() {
		// （重）连成功：重新 join + 补拉追平，之后实时流接管
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := syncer.JoinBoard(ctx, boardID); err != nil {
			log.Printf("join board failed: %v", err)
			return
		}
		if err := syncer.Backfill(ctx, boardID); err != nil {
			log.Printf("backfill failed: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := client.Run(ctx); err != nil {
			log.Printf("ws client stopped: %v", err)
		}
	}()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		// 标脏的看板兜底重拉
		for _, dirty := range syncer.NeedsResync() {
			resyncCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := syncer.Resync(resyncCtx, dirty); err != nil {
				log.Printf("resync board=%s failed: %v", dirty, err)
			}
			cancel()
		}

		for _, list := range syncer.Lists(boardID) {
			log.Printf("list %s (%v): %d cards", list.ID, list.Attrs["title"], len(syncer.Cards(list.ID)))
		}
		for _, viewer := range syncer.ActiveViewers(boardID) {
			log.Printf("viewer online: %s", viewer.ActorID)
		}
	}
}
