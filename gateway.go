package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callrelay/broadcast"
	"callrelay/callstate"
	"callrelay/clients"
	"callrelay/mediastream"
	"callrelay/provider"
	"callrelay/routing"
	"callrelay/tenant"
	"callrelay/transcribe"
	"callrelay/webhook"
	"callrelay/wsstream"
)

// Gateway connects provider webhooks, media streams and operator consoles.
type Gateway struct {
	settings *Settings
	routes   *routing.Table
	calls    *callstate.Registry
	consoles *clients.Registry
	media    *mediastream.Manager
	streams  *wsstream.Server
	server   *http.Server
}

// NewGateway wires every component on top of the tenant store.
func NewGateway(s *Settings, store tenant.Store) (*Gateway, error) {
	base, err := publicBaseURL(s.PublicURL(), s.Listen(), detectHostIP)
	if err != nil {
		return nil, fmt.Errorf("public url: %w", err)
	}
	streamURL := s.StreamURL()
	if streamURL == "" {
		if streamURL, err = streamURLFor(base, webhook.PathStream); err != nil {
			return nil, fmt.Errorf("stream url: %w", err)
		}
	}
	coreLog.Infof("public url %s, media stream url %s", base, streamURL)

	tr, err := newTranscriber(s)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		settings: s,
		routes:   routing.NewTable(store, coreLog),
		calls:    callstate.NewRegistry(webhookLog, s.TombstoneTTL()),
		consoles: clients.NewRegistry(clientsLog, s.MaxMissed()),
	}
	svc := webhook.NewService(webhook.Config{
		PublicURL:      base,
		StreamURL:      streamURL,
		RingTimeout:    s.RingTimeout(),
		Record:         s.Record(),
		DeclineMessage: s.DeclineMessage(),
		DeclineVoice:   s.DeclineVoice(),
		AnsweredBy:     webhook.ParseAnsweredBySource(s.AnsweredBy()),
		TokenTTL:       s.TokenTTL(),
	}, webhook.Deps{
		Routes:   g.routes,
		Calls:    g.calls,
		Consoles: g.consoles,
		Events:   broadcast.New(g.consoles, clientsLog),
		Tenants:  store,
		Control:  provider.NewTwilioDirectory(store, webhookLog),
	}, webhookLog)

	g.media = mediastream.New(mediastream.Config{
		FlushChunks:  s.FlushChunks(),
		SampleRate:   s.SampleRate(),
		FlushTimeout: s.FlushTimeout(),
	}, tr, mediastream.Hooks{
		OnTranscript: svc.Transcript,
		OnStop:       svc.StreamStopped,
	}, mediaLog)
	g.streams = wsstream.NewServer(g.media, g.consoles, wsstream.Options{}, mediaLog)

	g.server = &http.Server{
		Addr:              s.Listen(),
		Handler:           webhook.NewRouter(svc, g.streams),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

func newTranscriber(s *Settings) (transcribe.Transcriber, error) {
	switch s.Transcriber() {
	case "openai":
		tr, err := transcribe.NewOpenAI(transcribe.OpenAIConfig{
			APIKey:   s.OpenAIKey(),
			BaseURL:  s.OpenAIBaseURL(),
			Model:    s.OpenAIModel(),
			Language: s.OpenAILanguage(),
			Timeout:  s.FlushTimeout(),
		})
		if err != nil {
			return nil, err
		}
		coreLog.Infof("transcribing with %s", s.OpenAIModel())
		return tr, nil
	default:
		coreLog.Info("transcription disabled")
		return transcribe.Noop{}, nil
	}
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.routes.Refresh(ctx); err != nil {
		coreLog.Warnf("initial routing load failed: %v", err)
	}
	coreLog.Infof("routing %d numbers", g.routes.Len())

	loops, stopLoops := context.WithCancel(ctx)
	defer stopLoops()
	go g.routes.Run(loops, g.settings.RoutingRefresh())
	go g.consoles.Run(loops, g.settings.PingInterval())

	errc := make(chan error, 1)
	go func() {
		coreLog.Infof("listening on %s", g.server.Addr)
		errc <- g.server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	coreLog.Info("performing a graceful shutdown...")
	stopLoops()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.server.Shutdown(shutdownCtx); err != nil {
		coreLog.Warnf("http shutdown: %v", err)
	}
	g.consoles.CloseAll()
	coreLog.Infof("stopping with %d live calls and %d open streams", g.calls.Len(), g.media.Len())
	g.media.Close()
	return nil
}

// startGateway runs the gateway until SIGINT or SIGTERM.
func startGateway(s *Settings, store tenant.Store) error {
	coreLog.Info("starting gateway")
	gw, err := NewGateway(s, store)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return gw.Start(ctx)
}
