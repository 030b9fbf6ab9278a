// Package testutil provides helpers shared by package tests: quiet loggers
// and an in-memory Redis for the run lock.
package testutil

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a logger that only prints when the test fails or -v is set
func NewLogger(t *testing.T) *logrus.Logger {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	if testing.Verbose() {
		log.SetOutput(testWriter{t: t})
		log.SetLevel(logrus.DebugLevel)
	}

	return log
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))

	return len(p), nil
}
