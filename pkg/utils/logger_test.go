package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestInitLogger(t *testing.T) {
	// 测试控制台日志
	err := InitLogger(LogLevelNormal, "")
	assert.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, Log.GetLevel())

	// 测试文件日志，目录不存在时自动创建
	tempLogFile := filepath.Join(t.TempDir(), "logs", "test.log")

	err = InitLogger(LogLevelVerbose, tempLogFile)
	assert.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, Log.GetLevel())

	// 验证日志文件是否创建
	_, err = os.Stat(tempLogFile)
	assert.NoError(t, err)

	InitLogger(LogLevelNormal, "")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, parseLevel("VERBOSE"))
	assert.Equal(t, logrus.DebugLevel, parseLevel("debug"))
	assert.Equal(t, logrus.InfoLevel, parseLevel("info"))
	assert.Equal(t, logrus.WarnLevel, parseLevel("WARN"))
	assert.Equal(t, logrus.WarnLevel, parseLevel("warning"))
	assert.Equal(t, logrus.ErrorLevel, parseLevel("error"))
	// 无法识别的级别回落到INFO
	assert.Equal(t, logrus.InfoLevel, parseLevel("loud"))
}

func TestLogLevels(t *testing.T) {
	tempLogFile := filepath.Join(t.TempDir(), "level_test.log")

	err := InitLogger(LogLevelVerbose, tempLogFile)
	assert.NoError(t, err)

	Debug("Debug message")
	Info("Info message %d", 1)
	Warn("Warning message")
	Error("Error message")

	data, err := os.ReadFile(tempLogFile)
	assert.NoError(t, err)
	assert.Contains(t, string(data), "Debug message")
	assert.Contains(t, string(data), "Info message 1")

	InitLogger(LogLevelNormal, "")
}

func TestWithFieldLogging(t *testing.T) {
	err := InitLogger(LogLevelNormal, "")
	assert.NoError(t, err)

	// 这里只测试是否能正常执行，不验证输出内容
	WithField("key", "value").Info("Test with field")
	WithFields(logrus.Fields{
		"key1": "value1",
		"key2": "value2",
	}).Info("Test with fields")
}
