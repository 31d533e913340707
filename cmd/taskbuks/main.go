package main

import (
	"github.com/taskbuks/taskbuks/internal/taskbuks"
	"github.com/taskbuks/taskbuks/internal/taskbuks/config"
)

func main() {
	// "./config/config.yaml"
	cfg := config.MustLoad()
	a := taskbuks.NewApp(cfg)
	a.Run()
}
