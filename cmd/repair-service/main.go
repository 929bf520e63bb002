package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/Cal9233/genthrust-repairs/internal/app"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(parseLevel(level))
}

// parseLevel возвращает info для пустого или неизвестного уровня.
func parseLevel(level string) log.Level {
	parsed, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return log.InfoLevel
	}
	return parsed
}

// readConfig собирает конфигурацию из файла и переменных окружения.
func readConfig(args []string, lookup app.LookupFunc) (app.Config, []string, error) {
	fs := flag.NewFlagSet("repair-service", flag.ContinueOnError)
	path := fs.String("config", "", "путь к YAML-конфигурации (по умолчанию REPAIRS_CONFIG)")
	if err := fs.Parse(args); err != nil {
		return app.Config{}, nil, err
	}
	return app.Load(*path, lookup)
}

func main() {
	cfg, warnings, err := readConfig(os.Args[1:], os.LookupEnv)
	setupLogger(cfg.LogLevel)
	for _, warning := range warnings {
		log.Warn(warning)
	}
	if err != nil {
		log.WithError(err).Fatal("некорректная конфигурация")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"relational":   cfg.Relational.BaseURL,
		"workbook":     cfg.Workbook.BaseURL,
	}).Info("запускаем RepairService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("RepairService остановлен")
}
