package main

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	cp := &recordingHandler{
		mu:      h.mu,
		records: h.records,
	}
	if len(h.attrs) > 0 {
		cp.attrs = append([]slog.Attr(nil), h.attrs...)
	}
	if len(h.groups) > 0 {
		cp.groups = append([]string(nil), h.groups...)
	}
	return cp
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return stringsJoin(h.groups, ".") + "." + k
}

func stringsJoin(parts []string, sep string) string {
	// Small local helper to avoid pulling in strings for tests that don't need it.
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += sep + p
	}
	return out
}

func warningCodes(records []recordedLog) map[string]recordedLog {
	out := map[string]recordedLog{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

func TestStartupSecurityWarnings_DefaultDevConfigIsQuiet(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:                          config.ModeDev,
		ListenAddr:                    config.DefaultListenAddr,
		MaxSignalingMessageBytes:      config.DefaultMaxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: config.DefaultMaxSignalingMessagesPerSecond,
	}

	logStartupSecurityWarnings(logger, cfg)

	if codes := warningCodes(records()); len(codes) != 0 {
		t.Fatalf("expected no warnings, got %#v", codes)
	}
}

func TestStartupSecurityWarnings_AllowedOriginsWildcard(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:           config.ModeDev,
		ListenAddr:     "127.0.0.1:8000",
		AllowedOrigins: []string{"*"},
	}

	logStartupSecurityWarnings(logger, cfg)

	if _, ok := warningCodes(records())["allowed_origins_wildcard"]; !ok {
		t.Fatalf("expected warning_code=allowed_origins_wildcard, got %#v", records())
	}
}

func TestStartupSecurityWarnings_ProdRateLimitDisabled(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:                          config.ModeProd,
		ListenAddr:                    "0.0.0.0:8000",
		MaxSignalingMessagesPerSecond: 0,
	}

	logStartupSecurityWarnings(logger, cfg)

	codes := warningCodes(records())
	r, ok := codes["signaling_rate_limit_disabled_in_prod"]
	if !ok {
		t.Fatalf("expected warning_code=signaling_rate_limit_disabled_in_prod, got %#v", records())
	}
	if r.attrs["mode"] != config.ModeProd {
		t.Fatalf("mode attr = %#v, want %q", r.attrs["mode"], config.ModeProd)
	}
	if _, ok := codes["client_ids_unauthenticated"]; !ok {
		t.Fatalf("expected warning_code=client_ids_unauthenticated, got %#v", records())
	}
	if _, ok := codes["dev_mode_non_loopback_listen"]; ok {
		t.Fatalf("unexpected dev_mode_non_loopback_listen warning in prod")
	}
}

func TestStartupSecurityWarnings_LargeMessageLimit(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:                     config.ModeDev,
		ListenAddr:               "localhost:8000",
		MaxSignalingMessageBytes: 8 << 20,
	}

	logStartupSecurityWarnings(logger, cfg)

	r, ok := warningCodes(records())["max_signaling_message_large"]
	if !ok {
		t.Fatalf("expected warning_code=max_signaling_message_large, got %#v", records())
	}
	if r.attrs["max_signaling_message_bytes"] != int64(8<<20) {
		t.Fatalf("max_signaling_message_bytes attr = %#v", r.attrs["max_signaling_message_bytes"])
	}
}

func TestStartupSecurityWarnings_DevModeNonLoopback(t *testing.T) {
	for _, addr := range []string{"0.0.0.0:8000", ":8000", "192.168.1.10:8000"} {
		logger, records := newRecordingLogger()
		logStartupSecurityWarnings(logger, config.Config{Mode: config.ModeDev, ListenAddr: addr})
		if _, ok := warningCodes(records())["dev_mode_non_loopback_listen"]; !ok {
			t.Fatalf("%s: expected warning_code=dev_mode_non_loopback_listen, got %#v", addr, records())
		}
	}
	for _, addr := range []string{"127.0.0.1:8000", "[::1]:8000", "localhost:8000"} {
		logger, records := newRecordingLogger()
		logStartupSecurityWarnings(logger, config.Config{Mode: config.ModeDev, ListenAddr: addr})
		if _, ok := warningCodes(records())["dev_mode_non_loopback_listen"]; ok {
			t.Fatalf("%s: unexpected dev_mode_non_loopback_listen warning", addr)
		}
	}
}
