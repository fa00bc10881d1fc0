package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Midjourney  MidjourneyConfig  `toml:"midjourney"`
	SiliconFlow SiliconFlowConfig `toml:"siliconflow"`
	Gemini      GeminiConfig      `toml:"gemini"`
	Bot         BotConfig         `toml:"bot"`
	Server      ServerConfig      `toml:"server"`
	Cache       CacheConfig       `toml:"cache"`
	Jobs        JobsConfig        `toml:"jobs"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
	Logging     LoggingConfig     `toml:"logging"`
}

type MidjourneyConfig struct {
	APIKey         string            `toml:"api_key"`
	APIBaseURL     string            `toml:"api_base_url"`
	Mode           string            `toml:"mode"`
	PollIntervalMS int               `toml:"poll_interval_ms"`
	MaxPolls       int               `toml:"max_polls"`
	Translation    TranslationConfig `toml:"translation"`
}

type TranslationConfig struct {
	Enabled bool   `toml:"enabled"`
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
}

type Credential struct {
	Key      string `toml:"key"`
	Disabled bool   `toml:"disabled"`
}

type SiliconFlowConfig struct {
	BaseURL           string       `toml:"base_url"`
	Keys              []Credential `toml:"keys"`
	TranslateModel    string       `toml:"translate_model"`
	GeneratePrompt    bool         `toml:"generate_prompt"`
	ImageModel        string       `toml:"image_model"`
	InferenceSteps    int          `toml:"inference_steps"`
	Width             int          `toml:"width"`
	Height            int          `toml:"height"`
	SimpleMode        bool         `toml:"simple_mode"`
	TextToPaintPrompt string       `toml:"text_to_paint_prompt"`
	Chat              ChatConfig   `toml:"chat"`
}

// ChatConfig overrides the endpoint used by #ss. An empty BaseURL means
// the SiliconFlow base and rotated keys are used.
type ChatConfig struct {
	BaseURL    string `toml:"base_url"`
	APIKey     string `toml:"api_key"`
	Model      string `toml:"model"`
	Prompt     string `toml:"prompt"`
	UseForward bool   `toml:"use_forward"`
}

type GeminiConfig struct {
	BaseURL            string `toml:"base_url"`
	Keys               string `toml:"keys"`
	Model              string `toml:"model"`
	Prompt             string `toml:"prompt"`
	UseForward         bool   `toml:"use_forward"`
	SourceRedirectHost string `toml:"source_redirect_host"`
}

type BotConfig struct {
	WSURL               string  `toml:"ws_url"`
	AccessToken         string  `toml:"access_token"`
	Masters             []int64 `toml:"masters"`
	ReconnectIntervalMS int     `toml:"reconnect_interval_ms"`
	Nickname            string  `toml:"nickname"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type CacheConfig struct {
	Backend   string `toml:"backend"`
	RedisAddr string `toml:"redis_addr"`
	RedisDB   int    `toml:"redis_db"`
}

type JobsConfig struct {
	DeadlineMS int `toml:"deadline_ms"`
}

type TelemetryConfig struct {
	Enabled      bool   `toml:"enabled"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	Insecure     bool   `toml:"insecure"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

const (
	ModeFast = "fast"
	ModeSlow = "slow"

	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
)

const (
	DefaultGeminiBaseURL = "https://bright-donkey-63.deno.dev"
	DefaultGeminiKey     = "sk-xuanku"
	DefaultGeminiModel   = "gemini-2.0-flash-exp"
	DefaultGeminiPrompt  = "你是一个有用的助手，你更喜欢说中文。你会根据用户的问题，通过搜索引擎获取最新的信息来回答问题。你的回答会尽可能准确、客观。"
	DefaultChatPrompt    = "You are a helpful assistant, you prefer to speak Chinese"
	DefaultChatModel     = "gpt-4"
)

func Default() Config {
	return Config{
		Midjourney: MidjourneyConfig{
			Mode:           ModeFast,
			PollIntervalMS: 5000,
			MaxPolls:       120,
			Translation:    TranslationConfig{Model: "gpt-4o-mini"},
		},
		SiliconFlow: SiliconFlowConfig{
			BaseURL:           "https://api.siliconflow.cn/v1",
			TranslateModel:    "Qwen/Qwen2.5-7B-Instruct",
			ImageModel:        "black-forest-labs/FLUX.1-schnell",
			InferenceSteps:    20,
			Width:             1024,
			Height:            1024,
			TextToPaintPrompt: "请按照我的提供的要求，用一句话英文生成一组绘图提示词，直接给出提示词，不要有多余的说明。",
		},
		Gemini: GeminiConfig{
			BaseURL: DefaultGeminiBaseURL,
			Model:   DefaultGeminiModel,
			Prompt:  DefaultGeminiPrompt,
		},
		Bot:       BotConfig{ReconnectIntervalMS: 5000, Nickname: "easel"},
		Server:    ServerConfig{Host: "127.0.0.1", Port: 8719},
		Cache:     CacheConfig{Backend: CacheSQLite, RedisAddr: "127.0.0.1:6379"},
		Jobs:      JobsConfig{DeadlineMS: 15 * 60 * 1000},
		Telemetry: TelemetryConfig{OTLPEndpoint: "localhost:4318"},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

var (
	ErrInvalid = errors.New("invalid config")
)

type LoadResult struct {
	Config     Config
	Found      bool
	Path       string
	ParseError error
}

// Path returns the config file location under root.
func Path(root string) string {
	return filepath.Join(root, ".easel", "config.toml")
}

func Load(root string) LoadResult {
	res := LoadResult{Config: Default()}
	path := Path(root)
	res.Path = path

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return res
		}
		res.ParseError = err
		return res
	}

	res.Found = true
	var parsed Config
	if err := toml.Unmarshal(b, &parsed); err != nil {
		res.ParseError = fmt.Errorf("%w: %v", ErrInvalid, err)
		return res
	}
	if parsed.Midjourney.Mode != "" && parsed.Midjourney.Mode != ModeFast && parsed.Midjourney.Mode != ModeSlow {
		res.ParseError = fmt.Errorf("%w: midjourney.mode must be %q or %q", ErrInvalid, ModeFast, ModeSlow)
		return res
	}
	if parsed.Cache.Backend != "" && parsed.Cache.Backend != CacheSQLite && parsed.Cache.Backend != CacheRedis {
		res.ParseError = fmt.Errorf("%w: cache.backend must be %q or %q", ErrInvalid, CacheSQLite, CacheRedis)
		return res
	}

	res.Config = merge(Default(), parsed)
	return res
}

// Save writes cfg to the config file under root, creating the directory.
func Save(root string, cfg Config) error {
	path := Path(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func merge(def Config, cfg Config) Config {
	// Midjourney
	if cfg.Midjourney.APIKey != "" {
		def.Midjourney.APIKey = cfg.Midjourney.APIKey
	}
	if cfg.Midjourney.APIBaseURL != "" {
		def.Midjourney.APIBaseURL = cfg.Midjourney.APIBaseURL
	}
	if cfg.Midjourney.Mode != "" {
		def.Midjourney.Mode = cfg.Midjourney.Mode
	}
	if cfg.Midjourney.PollIntervalMS != 0 {
		def.Midjourney.PollIntervalMS = cfg.Midjourney.PollIntervalMS
	}
	if cfg.Midjourney.MaxPolls != 0 {
		def.Midjourney.MaxPolls = cfg.Midjourney.MaxPolls
	}
	def.Midjourney.Translation.Enabled = cfg.Midjourney.Translation.Enabled
	if cfg.Midjourney.Translation.APIKey != "" {
		def.Midjourney.Translation.APIKey = cfg.Midjourney.Translation.APIKey
	}
	if cfg.Midjourney.Translation.BaseURL != "" {
		def.Midjourney.Translation.BaseURL = cfg.Midjourney.Translation.BaseURL
	}
	if cfg.Midjourney.Translation.Model != "" {
		def.Midjourney.Translation.Model = cfg.Midjourney.Translation.Model
	}
	// SiliconFlow
	if cfg.SiliconFlow.BaseURL != "" {
		def.SiliconFlow.BaseURL = cfg.SiliconFlow.BaseURL
	}
	if len(cfg.SiliconFlow.Keys) != 0 {
		def.SiliconFlow.Keys = cfg.SiliconFlow.Keys
	}
	if cfg.SiliconFlow.TranslateModel != "" {
		def.SiliconFlow.TranslateModel = cfg.SiliconFlow.TranslateModel
	}
	def.SiliconFlow.GeneratePrompt = cfg.SiliconFlow.GeneratePrompt
	if cfg.SiliconFlow.ImageModel != "" {
		def.SiliconFlow.ImageModel = cfg.SiliconFlow.ImageModel
	}
	if cfg.SiliconFlow.InferenceSteps != 0 {
		def.SiliconFlow.InferenceSteps = cfg.SiliconFlow.InferenceSteps
	}
	if cfg.SiliconFlow.Width != 0 {
		def.SiliconFlow.Width = cfg.SiliconFlow.Width
	}
	if cfg.SiliconFlow.Height != 0 {
		def.SiliconFlow.Height = cfg.SiliconFlow.Height
	}
	def.SiliconFlow.SimpleMode = cfg.SiliconFlow.SimpleMode
	if cfg.SiliconFlow.TextToPaintPrompt != "" {
		def.SiliconFlow.TextToPaintPrompt = cfg.SiliconFlow.TextToPaintPrompt
	}
	if cfg.SiliconFlow.Chat.BaseURL != "" {
		def.SiliconFlow.Chat.BaseURL = cfg.SiliconFlow.Chat.BaseURL
	}
	if cfg.SiliconFlow.Chat.APIKey != "" {
		def.SiliconFlow.Chat.APIKey = cfg.SiliconFlow.Chat.APIKey
	}
	if cfg.SiliconFlow.Chat.Model != "" {
		def.SiliconFlow.Chat.Model = cfg.SiliconFlow.Chat.Model
	}
	if cfg.SiliconFlow.Chat.Prompt != "" {
		def.SiliconFlow.Chat.Prompt = cfg.SiliconFlow.Chat.Prompt
	}
	def.SiliconFlow.Chat.UseForward = cfg.SiliconFlow.Chat.UseForward
	// Gemini
	if cfg.Gemini.BaseURL != "" {
		def.Gemini.BaseURL = cfg.Gemini.BaseURL
	}
	if cfg.Gemini.Keys != "" {
		def.Gemini.Keys = cfg.Gemini.Keys
	}
	if cfg.Gemini.Model != "" {
		def.Gemini.Model = cfg.Gemini.Model
	}
	if cfg.Gemini.Prompt != "" {
		def.Gemini.Prompt = cfg.Gemini.Prompt
	}
	def.Gemini.UseForward = cfg.Gemini.UseForward
	if cfg.Gemini.SourceRedirectHost != "" {
		def.Gemini.SourceRedirectHost = cfg.Gemini.SourceRedirectHost
	}
	// Bot
	if cfg.Bot.WSURL != "" {
		def.Bot.WSURL = cfg.Bot.WSURL
	}
	if cfg.Bot.AccessToken != "" {
		def.Bot.AccessToken = cfg.Bot.AccessToken
	}
	if len(cfg.Bot.Masters) != 0 {
		def.Bot.Masters = cfg.Bot.Masters
	}
	if cfg.Bot.ReconnectIntervalMS != 0 {
		def.Bot.ReconnectIntervalMS = cfg.Bot.ReconnectIntervalMS
	}
	if cfg.Bot.Nickname != "" {
		def.Bot.Nickname = cfg.Bot.Nickname
	}
	// Server
	if cfg.Server.Host != "" {
		def.Server.Host = cfg.Server.Host
	}
	if cfg.Server.Port != 0 {
		def.Server.Port = cfg.Server.Port
	}
	// Cache
	if cfg.Cache.Backend != "" {
		def.Cache.Backend = cfg.Cache.Backend
	}
	if cfg.Cache.RedisAddr != "" {
		def.Cache.RedisAddr = cfg.Cache.RedisAddr
	}
	if cfg.Cache.RedisDB != 0 {
		def.Cache.RedisDB = cfg.Cache.RedisDB
	}
	// Jobs
	if cfg.Jobs.DeadlineMS != 0 {
		def.Jobs.DeadlineMS = cfg.Jobs.DeadlineMS
	}
	// Telemetry
	def.Telemetry.Enabled = cfg.Telemetry.Enabled
	if cfg.Telemetry.OTLPEndpoint != "" {
		def.Telemetry.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	def.Telemetry.Insecure = cfg.Telemetry.Insecure
	// Logging
	if cfg.Logging.Level != "" {
		def.Logging.Level = cfg.Logging.Level
	}
	if cfg.Logging.Format != "" {
		def.Logging.Format = cfg.Logging.Format
	}
	return def
}
