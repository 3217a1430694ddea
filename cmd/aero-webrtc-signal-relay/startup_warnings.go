package main

import (
	"log/slog"
	"net"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/config"
)

// largeSignalingMessageBytes is the size above which a single signaling frame
// is no longer "small". SDP offers with many candidates stay well below it.
const largeSignalingMessageBytes = 1 << 20

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: "+config.EnvAllowedOrigins+" contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd {
		logger.Warn("startup security warning: client ids are not authenticated; any client can register under any id and displace its holder",
			"warning_code", "client_ids_unauthenticated",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxSignalingMessagesPerSecond <= 0 {
		logger.Warn("startup security warning: "+config.EnvMaxSignalingMessagesPerSecond+" is 0 (unlimited) while --mode=prod",
			"warning_code", "signaling_rate_limit_disabled_in_prod",
			"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > largeSignalingMessageBytes {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (every frame is buffered in memory before routing)",
			"warning_code", "max_signaling_message_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeDev && !isLoopbackListenAddr(cfg.ListenAddr) {
		logger.Warn("startup security warning: dev mode is listening on a non-loopback address",
			"warning_code", "dev_mode_non_loopback_listen",
			"listen_addr", cfg.ListenAddr,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}

func isLoopbackListenAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
