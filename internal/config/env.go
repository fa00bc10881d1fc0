package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads <root>/.env into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(root string) error {
	err := godotenv.Load(filepath.Join(root, ".env"))
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overlays EASEL_* variables from lookup onto cfg.
func ApplyEnv(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var firstErr error
	num := func(name string, dst *int) {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
			}
			return
		}
		*dst = n
	}
	flag := func(name string, dst *bool) {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
			}
			return
		}
		*dst = b
	}

	str("EASEL_MJ_API_KEY", &cfg.Midjourney.APIKey)
	str("EASEL_MJ_API_BASE_URL", &cfg.Midjourney.APIBaseURL)
	str("EASEL_MJ_MODE", &cfg.Midjourney.Mode)
	num("EASEL_MJ_POLL_INTERVAL_MS", &cfg.Midjourney.PollIntervalMS)
	num("EASEL_MJ_MAX_POLLS", &cfg.Midjourney.MaxPolls)
	str("EASEL_MJ_TRANSLATION_KEY", &cfg.Midjourney.Translation.APIKey)
	str("EASEL_MJ_TRANSLATION_BASE_URL", &cfg.Midjourney.Translation.BaseURL)
	flag("EASEL_MJ_TRANSLATION_ENABLED", &cfg.Midjourney.Translation.Enabled)

	str("EASEL_SF_BASE_URL", &cfg.SiliconFlow.BaseURL)
	if v, ok := lookup("EASEL_SF_KEYS"); ok && strings.TrimSpace(v) != "" {
		cfg.SiliconFlow.Keys = nil
		for _, k := range SplitList(v) {
			cfg.SiliconFlow.Keys = append(cfg.SiliconFlow.Keys, Credential{Key: k})
		}
	}

	str("EASEL_GG_BASE_URL", &cfg.Gemini.BaseURL)
	str("EASEL_GG_KEYS", &cfg.Gemini.Keys)
	str("EASEL_GG_MODEL", &cfg.Gemini.Model)

	str("EASEL_BOT_WS_URL", &cfg.Bot.WSURL)
	str("EASEL_BOT_ACCESS_TOKEN", &cfg.Bot.AccessToken)

	str("EASEL_SERVER_HOST", &cfg.Server.Host)
	num("EASEL_SERVER_PORT", &cfg.Server.Port)

	str("EASEL_CACHE_BACKEND", &cfg.Cache.Backend)
	str("EASEL_REDIS_ADDR", &cfg.Cache.RedisAddr)

	flag("EASEL_TELEMETRY_ENABLED", &cfg.Telemetry.Enabled)
	str("EASEL_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)

	str("EASEL_LOG_LEVEL", &cfg.Logging.Level)
	str("EASEL_LOG_FORMAT", &cfg.Logging.Format)

	return cfg, firstErr
}

// SplitList splits a comma separated list, accepting both ASCII and
// full-width commas, and drops blank entries.
func SplitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '，' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
