// Command widget-consumer drains a request bucket into a widget store and
// exits once the bucket has stayed empty for the idle timeout.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file found, using system environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(run).ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("widget consumer failed")
		stop()
		os.Exit(1)
	}
}
