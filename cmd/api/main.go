package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"soljack/internal/server"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func gracefulShutdown(fiberServer *server.FiberServer, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	logrus.Info("[API] Shutting down gracefully, press Ctrl+C again to force")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fiberServer.ShutdownWithContext(ctx); err != nil {
		logrus.Errorf("[API] Server forced to shutdown: %v", err)
	}
	if err := fiberServer.Shutdown(); err != nil {
		logrus.Errorf("[API] Cleanup error: %v", err)
	}

	logrus.Info("[API] Server exiting")
	done <- true
}

func main() {
	s := server.New()
	s.RegisterFiberRoutes()

	done := make(chan bool, 1)

	go func() {
		port, _ := strconv.Atoi(os.Getenv("SOLJACK_PORT"))
		if port == 0 {
			port = 8000
		}
		if err := s.Listen(fmt.Sprintf(":%d", port)); err != nil {
			panic(fmt.Sprintf("http server error: %s", err))
		}
	}()

	go gracefulShutdown(s, done)

	<-done
	logrus.Info("[API] Graceful shutdown complete")
}
