package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/breatheaudio/elevate"
	"github.com/breatheaudio/elevate/api"
	"github.com/breatheaudio/elevate/internal/logger"
)

func main() {
	loadConfig()
	log := logger.New(viper.GetString("log_level"))

	ctrl := elevate.New(elevate.Config{
		Port:         viper.GetString("serial_port"),
		Zones:        viper.GetInt("zones"),
		PollInterval: viper.GetDuration("poll_interval"),
	}, elevate.WithLogger(log))

	if err := ctrl.Start(); err != nil {
		log.Fatalw("failed to start controller", "err", err)
	}

	srv := &http.Server{
		Addr:    viper.GetString("listen"),
		Handler: api.New(ctrl, log),
		// no WriteTimeout: /ws holds connections open
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infow("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("http server failed", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnw("http shutdown", "err", err)
	}
	ctrl.Stop()
}

func loadConfig() {
	viper.SetDefault("serial_port", "/dev/ttyUSB0")
	viper.SetDefault("zones", 12)
	viper.SetDefault("poll_interval", "30s")
	viper.SetDefault("listen", "127.0.0.1:8000")
	viper.SetDefault("log_level", "info")

	viper.SetEnvPrefix("elevate")
	viper.AutomaticEnv()

	viper.AddConfigPath("configs")
	viper.SetConfigName("config")
	_ = viper.ReadInConfig() // defaults and env carry a missing file
}
