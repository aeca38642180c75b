// Package logging handles log setup including rotation and system info.
package logging

import (
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"git.uuxo.net/uuxo/cpuprobe/internal/config"
	"git.uuxo.net/uuxo/cpuprobe/internal/cpufeatures"
)

// SetupLogging configures the logger based on config.
func SetupLogging(cfg *config.Config, log *logrus.Logger) {
	switch cfg.Logging.Level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	if cfg.Logging.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Logging.File != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSize,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAge,
			Compress:   cfg.Logging.Compress,
		})
	} else {
		// stdout carries the probe report
		log.SetOutput(os.Stderr)
	}

	log.Debugf("Logging initialized at level: %s", cfg.Logging.Level)
}

// LogSystemInfo logs system information at startup.
func LogSystemInfo(log *logrus.Logger, version string) {
	hostname, _ := os.Hostname()
	log.WithFields(logrus.Fields{
		"hostname":   hostname,
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"go_version": runtime.Version(),
		"cpus":       runtime.NumCPU(),
		"cpuid":      cpufeatures.HardwareAvailable(),
		"version":    version,
	}).Info("System information")
}

// LogSnapshot logs a probe result with one field per feature.
func LogSnapshot(log *logrus.Logger, s *cpufeatures.Snapshot) {
	fields := logrus.Fields{
		"vendor":           s.Identity.Vendor,
		"brand":            s.Identity.BrandName,
		"family":           s.Identity.Family,
		"model":            s.Identity.Model,
		"stepping":         s.Identity.Stepping,
		"intel_compatible": s.IntelCompatible,
	}
	for _, f := range cpufeatures.AllFeatures() {
		fields[f.CPUInfoFlag()] = s.Has(f)
	}
	log.WithFields(fields).Infof("CPU features: %s", s.Summary())
}
