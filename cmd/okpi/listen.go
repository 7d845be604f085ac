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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/normanking/okpi/internal/assistant"
	"github.com/normanking/okpi/internal/audio"
	"github.com/normanking/okpi/internal/config"
	"github.com/normanking/okpi/internal/decoder/remote"
	"github.com/normanking/okpi/internal/journal"
	"github.com/normanking/okpi/internal/listener"
	"github.com/normanking/okpi/internal/metrics"
	"github.com/normanking/okpi/internal/output"
	"github.com/normanking/okpi/internal/skills"
	"github.com/normanking/okpi/pkg/skill"
)

// drainGrace is how long a replay keeps listening after the file ended.
const drainGrace = 2 * time.Second

func listenCmd() *cobra.Command {
	var trigger string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Listen on the default microphone",
		Long: `Captures audio from the default input device and streams it to the
recognition server configured under decoder.endpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if trigger != "" {
				cfg.Listener.TriggerPhrase = trigger
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mic := audio.NewMic(audio.MicConfig{
				SampleRate:      cfg.Audio.SampleRate,
				FramesPerBuffer: cfg.Audio.FramesPerBuffer,
			})
			if err := run(ctx, cfg, mic, nil); err != nil {
				return err
			}
			return mic.Err()
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", "", "trigger phrase (overrides listener.trigger_phrase)")
	return cmd
}

func replayCmd() *cobra.Command {
	var trigger string

	cmd := &cobra.Command{
		Use:   "replay [file.wav]",
		Short: "Feed a WAV recording through the assistant",
		Long: `Plays a WAV file into the recognizer as if it were heard on the
microphone. Only the first channel is used; the file should match
audio.sample_rate.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if trigger != "" {
				cfg.Listener.TriggerPhrase = trigger
			}

			wav := audio.NewWAVFile(audio.WAVConfig{
				Path:            args[0],
				FramesPerBuffer: cfg.Audio.FramesPerBuffer,
				Realtime:        cfg.Audio.Realtime,
				TrailingSilence: cfg.Audio.TrailingSilence,
			})
			rate, err := wav.Load()
			if err != nil {
				return err
			}
			if rate != cfg.Audio.SampleRate {
				log.Warn().Int("file_rate", rate).Int("expected_rate", cfg.Audio.SampleRate).Msg("sample rate mismatch, recognition may suffer")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Done is only valid after Start, so resolve it lazily.
			return run(ctx, cfg, wav, wav.Done)
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", "", "trigger phrase (overrides listener.trigger_phrase)")
	return cmd
}

// run wires the assistant around in and blocks until ctx is cancelled, the
// listener fails, or finished (when set) reports that the input ran dry.
func run(ctx context.Context, cfg *config.Config, in listener.Input, finished func() <-chan struct{}) error {
	if cfg.Decoder.Kind != "remote" {
		return fmt.Errorf("audio input needs the remote decoder, decoder.kind is %q", cfg.Decoder.Kind)
	}

	dec := remote.New(remote.Config{
		Endpoint:         cfg.Decoder.Endpoint,
		HandshakeTimeout: cfg.Decoder.HandshakeTimeout,
		WriteTimeout:     cfg.Decoder.WriteTimeout,
		PingInterval:     cfg.Decoder.PingInterval,
		CommandSearch:    cfg.Listener.CommandSearch,
	})
	if err := dec.Connect(ctx); err != nil {
		return err
	}
	defer dec.Close()

	sinks, closeSinks, err := buildSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	var j *journal.Journal
	if cfg.Journal.Enabled {
		if j, err = journal.Open(cfg.Journal.Path); err != nil {
			return err
		}
		defer j.Close()
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New(nil)
		stopMetrics := serveMetrics(cfg.Metrics.Addr, collector)
		defer stopMetrics()
	}

	opts := assistant.Options{
		Decoder: dec,
		Input:   in,
		Sinks:   sinks,
		Journal: j,
		Metrics: collector,
	}
	opts.FromConfig(listenerSettings(cfg))

	a, err := assistant.New(opts)
	if err != nil {
		return err
	}

	timer := skills.NewTimer()
	defer timer.Stop()
	if err := a.RegisterSkills(skills.NewClock(), timer, skills.Echo{}); err != nil {
		return err
	}

	if w, err := config.Watch(getConfigPath(), func(c *config.Config) {
		if err := a.Apply(listenerSettings(c)); err != nil {
			log.Warn().Err(err).Msg("could not apply reloaded config")
		}
	}); err != nil {
		log.Warn().Err(err).Msg("config hot reload disabled")
	} else {
		defer w.Close()
	}

	if err := a.Launch(ctx); err != nil {
		_ = a.Shutdown()
		return err
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("Listening for %q", a.TriggerPhrase())) + dimStyle.Render("  (Ctrl+C to stop)"))

	var drained <-chan struct{}
	if finished != nil {
		drained = finished()
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	case <-drained:
		// let the recognizer deliver the last hypothesis
		select {
		case <-ctx.Done():
		case <-a.Done():
		case <-time.After(drainGrace):
		}
	}

	stopErr := a.Shutdown()
	if err := a.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("listening failed: "+err.Error()))
		return err
	}
	return stopErr
}

// listenerSettings returns cfg.Listener with the per-word mute filled in
// when replies are spoken by an external process behind the redis sink.
func listenerSettings(cfg *config.Config) config.ListenerConfig {
	lc := cfg.Listener
	if cfg.Output.Redis.Enabled && lc.EchoPerWord == 0 {
		lc.EchoPerWord = listener.DefaultSpeechPerWord
	}
	return lc
}

// buildSinks returns the configured output sinks and a function releasing
// them.
func buildSinks(ctx context.Context, cfg *config.Config) ([]skill.Sink, func(), error) {
	var (
		sinks   []skill.Sink
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	if cfg.Output.Console.Enabled {
		sinks = append(sinks, output.NewConsole(os.Stdout, output.ConsoleOptions{Name: cfg.Output.Console.Name}))
	}

	if rc := cfg.Output.Redis; rc.Enabled {
		r, err := output.DialRedis(ctx, output.RedisConfig{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
			Channel:  rc.Channel,
			Timeout:  rc.Timeout,
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, r)
		closers = append(closers, r.Close)
	}

	if len(sinks) == 0 {
		closeAll()
		return nil, nil, errors.New("no output enabled, enable output.console or output.redis")
	}
	return sinks, closeAll, nil
}

// serveMetrics exposes the collector on addr and returns a shutdown func.
func serveMetrics(addr string, c *metrics.Collector) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics on /metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
