package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Setup builds the service logger. Local runs log debug to stdout; dev and
// prod append to a dated file under logDir and mirror to stdout.
func Setup(env string, logDir string) (*logrus.Entry, error) {
	log := logrus.New()

	switch env {
	case EnvLocal:
		log.SetLevel(logrus.DebugLevel)
		log.SetOutput(os.Stdout)
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return logrus.NewEntry(log), nil
	case EnvDev:
		log.SetLevel(logrus.InfoLevel)
	case EnvProd:
		log.SetLevel(logrus.WarnLevel)
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}
	logPath := filepath.Join(logDir, fmt.Sprintf("taskpilot_%s.log", time.Now().Format("2006-01-02")))
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.SetFormatter(&logrus.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	})
	return logrus.NewEntry(log), nil
}
