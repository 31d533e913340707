package taskbuks

import (
	"os"
	"os/signal"

	"github.com/taskbuks/taskbuks/internal/pkg/logger"
	"github.com/taskbuks/taskbuks/internal/taskbuks/config"
	"github.com/taskbuks/taskbuks/internal/taskbuks/controller"
	"github.com/taskbuks/taskbuks/internal/taskbuks/database"
	"github.com/taskbuks/taskbuks/internal/taskbuks/offerwall"
	"github.com/taskbuks/taskbuks/internal/taskbuks/postback"
	"github.com/taskbuks/taskbuks/internal/taskbuks/router"
	"go.uber.org/zap"
)

type App struct {
	router     *router.HttpRouter
	offerCache *offerwall.Cache
	logger     *zap.Logger
	refresh    func() error
}

func (a *App) Run() error {
	if err := a.refresh(); err != nil {
		a.logger.Error("offerCache.Start failed: ", zap.Error(err))
	}
	sisChan := make(chan os.Signal, 1)
	go func() {
		if err := a.router.Run(); err != nil {
			a.logger.Error("router.Run failed: ", zap.Error(err))
			sisChan <- os.Interrupt
		}
	}()
	return a.gracefulShutdown(sisChan)
}

func (a *App) gracefulShutdown(sisChan chan os.Signal) error {
	signal.Notify(sisChan, os.Interrupt)
	<-sisChan
	if err := a.offerCache.Stop(); err != nil {
		a.logger.Error("offerCache.Stop failed: ", zap.Error(err))
	}
	err := a.router.Close()
	if err != nil {
		a.logger.Error("router.Close failed: ", zap.Error(err))
	}
	return a.logger.Sync()
}

func NewApp(cfg *config.Config) *App {
	log, err := logger.InitLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	db, err := database.NewDB(cfg, log)
	if err != nil {
		panic(err)
	}
	offerClient := offerwall.NewClient(cfg.Offerwall, log)
	offerCache := offerwall.NewCache(offerClient, log)
	c := controller.NewController(cfg, db, db, db, db, offerCache, offerClient, func() error {
		db.Conn.Close()
		return nil
	})
	verifier := postback.NewVerifier(cfg.Postback)
	r := router.CreateRouter(c, verifier, cfg, log)
	return &App{
		router:     r,
		offerCache: offerCache,
		logger:     log,
		refresh:    func() error { return offerCache.Start(cfg.Offerwall.RefreshInterval) },
	}
}
