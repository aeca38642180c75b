package logging

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.uuxo.net/uuxo/cpuprobe/internal/config"
	"git.uuxo.net/uuxo/cpuprobe/internal/cpufeatures"
)

func TestSetupLoggingLevels(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"info":    logrus.InfoLevel,
		"warn":    logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"unknown": logrus.InfoLevel,
	}
	for level, want := range cases {
		t.Run(level, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Logging.Level = level
			log := logrus.New()
			SetupLogging(cfg, log)
			assert.Equal(t, want, log.GetLevel())
		})
	}
}

func TestSetupLoggingFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Logging.File = filepath.Join(t.TempDir(), "cpuprobe.log")
	cfg.Logging.Format = "json"
	log := logrus.New()
	SetupLogging(cfg, log)
	_, ok := log.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}

func TestLogSnapshot(t *testing.T) {
	log, hook := test.NewNullLogger()
	s := &cpufeatures.Snapshot{
		Arch:            "amd64",
		Identity:        cpufeatures.Identity{Vendor: "GenuineIntel", Family: 6},
		IntelCompatible: true,
		Features:        map[cpufeatures.Feature]bool{cpufeatures.CLWB: true},
	}
	LogSnapshot(log, s)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "CPU features: CLWB (GenuineIntel)", entry.Message)
	assert.Equal(t, true, entry.Data["clwb"])
	assert.Equal(t, false, entry.Data["rdrand"])
	assert.Equal(t, "GenuineIntel", entry.Data["vendor"])
}

func TestLogSystemInfoJSON(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})
	LogSystemInfo(log, "1.2.3")

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "1.2.3", out["version"])
	assert.Contains(t, out, "cpuid")
}
