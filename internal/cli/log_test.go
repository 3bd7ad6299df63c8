package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/apm/internal/registrytest"
)

func TestProgressDone(t *testing.T) {
	var buf bytes.Buffer
	p := newProgress(newLogger(&buf, log.InfoLevel))
	p.done("Installed 3 packages")

	if !strings.Contains(buf.String(), "Installed 3 packages (") {
		t.Errorf("progress output = %q", buf.String())
	}
}

func TestLogHooks(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		call func(h *logHooks)
		want string
	}{
		{"resolve", func(h *logHooks) { h.OnResolveStart(ctx, "index") }, "resolving root=index"},
		{"resolve failed", func(h *logHooks) {
			h.OnResolveComplete(ctx, "index", 0, time.Second, errors.New("boom"))
		}, "resolve failed"},
		{"conflict", func(h *logHooks) { h.OnConflict(ctx, "bar", "1.1.0", "1.0.0") }, "conflict name=bar kept=1.1.0 rejected=1.0.0"},
		{"fetch", func(h *logHooks) { h.OnFetch(ctx, "bar", "1.0.0", true) }, "fetched name=bar version=1.0.0 cached=true"},
		{"cache miss", func(h *logHooks) { h.OnCacheMiss(ctx, "meta") }, "cache miss type=meta"},
		{"request", func(h *logHooks) { h.OnRequest(ctx, "GET", "registry.test", "/bar") }, "http method=GET host=registry.test path=/bar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.call(&logHooks{logger: newLogger(&buf, log.InfoLevel)})
			if buf.Len() != 0 {
				t.Errorf("hook logged above debug level: %q", buf.String())
			}

			buf.Reset()
			tt.call(&logHooks{logger: newLogger(&buf, log.DebugLevel)})
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestInstallLogsSummary(t *testing.T) {
	h := newHarness(t, map[string]string{"coo": "1.0.0"})
	h.reg.Publish(t, registrytest.Package{Name: "bar", Version: "1.0.0"})
	h.reg.Publish(t, registrytest.Package{Name: "coo", Version: "1.0.0", Dependencies: map[string]string{"bar": "^1.0.0"}})

	var logs bytes.Buffer
	if _, err := h.runLogged(t, &logs, "install"); err != nil {
		t.Fatal(err)
	}
	out := logs.String()
	assertLines(t, out, "Installed 2 packages")
	if strings.Contains(out, "resolving") {
		t.Errorf("debug hooks logged without -v:\n%s", out)
	}
}

func TestVerboseInstallLogsHooks(t *testing.T) {
	h := newHarness(t, map[string]string{"bar": "^1.0.0"})
	h.reg.Publish(t, registrytest.Package{Name: "bar", Version: "1.0.0"})

	var logs bytes.Buffer
	if _, err := h.runLogged(t, &logs, "-v", "install"); err != nil {
		t.Fatal(err)
	}
	assertLines(t, logs.String(),
		"resolving root=index",
		"http method=GET",
		"fetched name=bar version=1.0.0",
		"Installed 1 packages",
	)
}

func TestLoggerFromContext(t *testing.T) {
	if loggerFromContext(context.Background()) != log.Default() {
		t.Error("empty context should yield the default logger")
	}
	l := newLogger(&bytes.Buffer{}, log.InfoLevel)
	if loggerFromContext(withLogger(context.Background(), l)) != l {
		t.Error("loggerFromContext lost the stored logger")
	}
}
