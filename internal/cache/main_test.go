package cache

import (
	"testing"

	"github.com/sirupsen/logrus"
	"go.uber.org/goleak"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
