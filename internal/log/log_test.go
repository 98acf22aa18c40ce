package log

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestU_GetLogger_Default(t *testing.T) {
	if GetLogger(context.Background()) != Discard {
		t.Error("GetLogger() without logger is not Discard")
	}
	// Discard must be callable.
	Discard.Infof("nothing %d", 1)
}

func TestU_WithLogger_Logrus(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	ctx := WithLogger(context.Background(), logger)
	GetLogger(ctx).Debugf("posting %d bytes", 42)
	GetLogger(ctx).Warn("slow TSA")

	out := buf.String()
	if !strings.Contains(out, "posting 42 bytes") || !strings.Contains(out, "slow TSA") {
		t.Errorf("unexpected log output %q", out)
	}

	entryCtx := WithLogger(context.Background(), logger.WithField("url", "http://tsa"))
	GetLogger(entryCtx).Info("sent")
	if !strings.Contains(buf.String(), "url=\"http://tsa\"") {
		t.Errorf("entry fields missing from %q", buf.String())
	}
}
