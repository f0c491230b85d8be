package main

import (
	"fmt"
	"strings"
	"time"

	ini "gopkg.in/ini.v1"
)

// Settings holds application configuration loaded from settings.ini.
type Settings struct {
	listen    string
	publicURL string
	streamURL string

	routingRefresh int

	ringTimeout int
	record      bool

	pingInterval int
	maxMissed    int

	tombstoneTTL int
	answeredBy   string

	flushChunks  int
	sampleRate   int
	flushTimeout int

	transcriber    string
	openAIKey      string
	openAIModel    string
	openAIBaseURL  string
	openAILanguage string

	storeDir      string
	storeInMemory bool
	seedFile      string

	tokenTTL int

	declineMessage string
	declineVoice   string
}

// LoadSettings reads configuration from ini file and validates required fields.
func LoadSettings(cfg *ini.File) (*Settings, error) {
	s := &Settings{}

	sec := cfg.Section("http")
	s.listen = sec.Key("listen").MustString(":8080")
	s.publicURL = strings.TrimRight(sec.Key("public_url").String(), "/")
	s.streamURL = sec.Key("stream_url").String()

	sec = cfg.Section("routing")
	s.routingRefresh = sec.Key("refresh_interval").MustInt(300)

	sec = cfg.Section("dial")
	s.ringTimeout = sec.Key("ring_timeout").MustInt(30)
	s.record = sec.Key("record").MustBool(false)

	sec = cfg.Section("clients")
	s.pingInterval = sec.Key("ping_interval").MustInt(30)
	s.maxMissed = sec.Key("max_missed").MustInt(2)

	sec = cfg.Section("calls")
	s.tombstoneTTL = sec.Key("tombstone_ttl").MustInt(600)
	s.answeredBy = sec.Key("answered_by").In("provider", []string{"provider", "client"})

	sec = cfg.Section("media")
	s.flushChunks = sec.Key("flush_chunks").MustInt(250)
	s.sampleRate = sec.Key("sample_rate").MustInt(8000)
	s.flushTimeout = sec.Key("flush_timeout").MustInt(30)

	sec = cfg.Section("transcription")
	s.transcriber = sec.Key("provider").In("none", []string{"none", "openai"})
	s.openAIKey = sec.Key("api_key").String()
	s.openAIModel = sec.Key("model").MustString("whisper-1")
	s.openAIBaseURL = sec.Key("base_url").String()
	s.openAILanguage = sec.Key("language").String()

	sec = cfg.Section("store")
	s.storeDir = sec.Key("dir").MustString("data")
	s.storeInMemory = sec.Key("in_memory").MustBool(false)
	s.seedFile = sec.Key("seed").String()

	sec = cfg.Section("token")
	s.tokenTTL = sec.Key("ttl").MustInt(3600)

	sec = cfg.Section("messages")
	s.declineMessage = sec.Key("decline").MustString("We're sorry, this number is not in service. Goodbye.")
	s.declineVoice = sec.Key("voice").MustString("alice")

	if s.transcriber == "openai" && s.openAIKey == "" {
		return nil, fmt.Errorf("transcription api_key must be set for the openai provider")
	}
	if s.ringTimeout <= 0 || s.flushChunks <= 0 || s.pingInterval <= 0 {
		return nil, fmt.Errorf("ring_timeout, flush_chunks and ping_interval must be positive")
	}
	if s.publicURL != "" && !strings.HasPrefix(s.publicURL, "http://") && !strings.HasPrefix(s.publicURL, "https://") {
		return nil, fmt.Errorf("public_url must be an http(s) URL: %q", s.publicURL)
	}

	return s, nil
}

func (s *Settings) Listen() string    { return s.listen }
func (s *Settings) PublicURL() string { return s.publicURL }
func (s *Settings) StreamURL() string { return s.streamURL }

func (s *Settings) RoutingRefresh() time.Duration {
	return time.Duration(s.routingRefresh) * time.Second
}

func (s *Settings) RingTimeout() time.Duration {
	return time.Duration(s.ringTimeout) * time.Second
}
func (s *Settings) Record() bool { return s.record }

func (s *Settings) PingInterval() time.Duration {
	return time.Duration(s.pingInterval) * time.Second
}
func (s *Settings) MaxMissed() int { return s.maxMissed }

func (s *Settings) TombstoneTTL() time.Duration {
	return time.Duration(s.tombstoneTTL) * time.Second
}
func (s *Settings) AnsweredBy() string { return s.answeredBy }

func (s *Settings) FlushChunks() int { return s.flushChunks }
func (s *Settings) SampleRate() int  { return s.sampleRate }

func (s *Settings) FlushTimeout() time.Duration {
	return time.Duration(s.flushTimeout) * time.Second
}

func (s *Settings) Transcriber() string    { return s.transcriber }
func (s *Settings) OpenAIKey() string      { return s.openAIKey }
func (s *Settings) OpenAIModel() string    { return s.openAIModel }
func (s *Settings) OpenAIBaseURL() string  { return s.openAIBaseURL }
func (s *Settings) OpenAILanguage() string { return s.openAILanguage }

func (s *Settings) StoreDir() string    { return s.storeDir }
func (s *Settings) StoreInMemory() bool { return s.storeInMemory }
func (s *Settings) SeedFile() string    { return s.seedFile }

func (s *Settings) TokenTTL() time.Duration {
	return time.Duration(s.tokenTTL) * time.Second
}

func (s *Settings) DeclineMessage() string { return s.declineMessage }
func (s *Settings) DeclineVoice() string   { return s.declineVoice }
