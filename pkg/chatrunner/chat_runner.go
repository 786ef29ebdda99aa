package chatrunner

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/DeadAVA/CHATBOT/pkg/chatclient"
	"github.com/DeadAVA/CHATBOT/pkg/conversation"
	"github.com/DeadAVA/CHATBOT/pkg/events"
	"github.com/DeadAVA/CHATBOT/pkg/markup"
	"github.com/DeadAVA/CHATBOT/pkg/persistence/turnlog"
	"github.com/DeadAVA/CHATBOT/pkg/recording"
	"github.com/DeadAVA/CHATBOT/pkg/redisstream"
	"github.com/DeadAVA/CHATBOT/pkg/ui"
	"github.com/DeadAVA/CHATBOT/pkg/view"
)

// RunMode defines the execution mode for the chat session.
type RunMode string

const (
	// RunModeChat runs the terminal UI.
	RunModeChat RunMode = "chat"
	// RunModeInteractive runs one text turn, then offers to continue in the UI.
	RunModeInteractive RunMode = "interactive"
	// RunModeBlocking runs one text turn and prints the reply.
	RunModeBlocking RunMode = "blocking"
	// RunModeVoice runs one recording turn and prints the reply.
	RunModeVoice RunMode = "voice"
)

// ErrTurnFailed is returned by one-shot runs when the backend did not answer.
var ErrTurnFailed = errors.New("the backend did not answer")

// Backend is everything the sessions need from the assistant backend.
type Backend interface {
	conversation.ChatAPI
	recording.Uploader
	ui.Downloader
}

var _ Backend = &chatclient.Client{}

// Reply is what one-shot runs print.
type Reply struct {
	Transcription string               `json:"transcription,omitempty" yaml:"transcription,omitempty"`
	Duplicate     bool                 `json:"duplicate,omitempty" yaml:"duplicate,omitempty"`
	Message       conversation.Message `json:"message" yaml:"message"`
}

// OutputFunc writes the reply of a one-shot run.
type OutputFunc func(w io.Writer, r Reply) error

// Waiter is implemented by players that can block until playback ends.
type Waiter interface {
	Wait(ctx context.Context) error
}

// ChatSession holds the validated configuration and executes the chat logic.
// It's typically created and run by the ChatBuilder.
type ChatSession struct {
	ctx            context.Context
	backend        Backend
	session        *conversation.Session
	recorder       *recording.Session
	player         conversation.Player
	sink           *events.RelaySink
	renderer       *markup.Renderer
	appOptions     ui.Options
	programOptions []tea.ProgramOption
	mode           RunMode
	prompt         string
	recordFor      time.Duration
	outputWriter   io.Writer
	output         OutputFunc
	router         *events.EventRouter
	turnLog        turnlog.Store
	redis          redisstream.Settings
	closeOnce      sync.Once
}

func (cs *ChatSession) Session() *conversation.Session {
	return cs.session
}

func (cs *ChatSession) Recorder() *recording.Session {
	return cs.recorder
}

// Run executes the chat session based on its configured mode.
func (cs *ChatSession) Run() error {
	defer cs.release()
	switch cs.mode {
	case RunModeChat:
		return cs.runChatInternal()
	case RunModeInteractive:
		return cs.runInteractiveInternal()
	case RunModeBlocking:
		return cs.runBlockingInternal()
	case RunModeVoice:
		return cs.runVoiceInternal()
	default:
		return errors.Errorf("unknown run mode: %v", cs.mode)
	}
}

func (cs *ChatSession) release() {
	if cs.recorder != nil {
		cs.recorder.Close()
	}
	if s, ok := cs.player.(interface{ Stop() }); ok && cs.mode != RunModeBlocking && cs.mode != RunModeVoice {
		s.Stop()
	}
}

func (cs *ChatSession) closeRouter() {
	cs.closeOnce.Do(func() {
		log.Debug().Str("component", "chatrunner").Msg("Closing router")
		if err := cs.router.Close(); err != nil {
			log.Debug().Err(err).Str("component", "chatrunner").Msg("Router close failed")
		}
	})
}

// addHandler consumes the UI topic. With Redis every handler gets its own
// consumer group, created at the tail of the stream so that earlier sessions
// are not replayed.
func (cs *ChatSession) addHandler(ctx context.Context, name string, f func(msg *message.Message) error) error {
	if !cs.redis.Enabled {
		cs.router.AddHandler(name, events.TopicUI, f)
		return nil
	}
	group := cs.redis.Group + "-" + name
	if err := redisstream.EnsureGroupAtTail(ctx, cs.redis.Addr, events.TopicUI, group); err != nil {
		return errors.Wrapf(err, "create consumer group %s", group)
	}
	sub, err := redisstream.BuildGroupSubscriber(cs.redis.Addr, group, cs.redis.ConsumerName())
	if err != nil {
		return errors.Wrapf(err, "subscribe consumer group %s", group)
	}
	cs.router.AddHandlerWithSubscriber(name, events.TopicUI, sub, f)
	return nil
}

// runChatInternal handles the pure chat UI mode.
func (cs *ChatSession) runChatInternal() error {
	router := cs.router
	cs.sink.Set(router.Sink())
	defer cs.sink.Set(nil)

	eg, childCtx := errgroup.WithContext(cs.ctx)
	childCtx, cancel := context.WithCancel(childCtx)
	defer cancel()

	f := func() {
		cancel()
		cs.closeRouter()
	}

	if cs.turnLog != nil {
		if err := cs.addHandler(childCtx, "turnlog", ui.StepTurnLogFunc(cs.turnLog)); err != nil {
			f()
			return err
		}
	}

	if !router.IsRunning() {
		eg.Go(func() error {
			defer f()
			return router.Run(childCtx)
		})
	}

	// UI Goroutine
	eg.Go(func() error {
		log.Debug().Str("component", "chatrunner").Msg("Starting UI goroutine")
		defer f()

		select {
		case <-router.Running():
		case <-childCtx.Done():
			return nil
		}

		opts := cs.appOptions
		opts.Session = cs.session
		opts.Recorder = cs.recorder
		opts.Renderer = cs.renderer
		opts.Downloader = cs.backend
		app := ui.NewApp(childCtx, opts)
		p := tea.NewProgram(app, cs.programOptions...)

		log.Debug().Str("component", "chatrunner").Msg("Adding UI event handler")
		if err := cs.addHandler(childCtx, "ui", ui.StepUIForwardFunc(p)); err != nil {
			return err
		}
		if err := router.RunHandlers(childCtx); err != nil {
			if errors.Is(err, context.Canceled) && childCtx.Err() == context.Canceled {
				return nil
			}
			return errors.Wrap(err, "failed to run router handlers")
		}

		log.Debug().Str("component", "chatrunner").Msg("Starting Bubble Tea program")
		_, runErr := p.Run()
		log.Debug().Err(runErr).Str("component", "chatrunner").Msg("Bubble Tea program finished")

		if errors.Is(runErr, context.Canceled) && childCtx.Err() == context.Canceled {
			return nil
		}
		return runErr
	})

	err := eg.Wait()
	log.Debug().Err(err).Str("component", "chatrunner").Msg("Errgroup finished")

	if errors.Is(err, context.Canceled) && cs.ctx.Err() == context.Canceled {
		return nil
	}
	return err
}

// directSink hands the events of one-shot runs to the turn log without a
// router.
func (cs *ChatSession) directSink() events.Sink {
	if cs.turnLog == nil {
		return events.NopSink{}
	}
	return events.NewHandlerSink(ui.StepTurnLogFunc(cs.turnLog))
}

// runBlockingInternal sends the prompt as a single text turn.
func (cs *ChatSession) runBlockingInternal() error {
	cs.sink.Set(cs.directSink())
	defer cs.sink.Set(nil)

	msg, err := cs.session.SendMessage(cs.ctx, cs.prompt, false)
	if err != nil {
		return errors.Wrap(err, "send message")
	}
	if err := cs.output(cs.outputWriter, Reply{Message: msg}); err != nil {
		return errors.Wrap(err, "failed to write output")
	}
	cs.waitPlayback()
	if msg.Content == conversation.ServerErrorText {
		return ErrTurnFailed
	}
	return nil
}

// runVoiceInternal records for recordFor, or until the capture source ends
// when recordFor is zero, then uploads the recording.
func (cs *ChatSession) runVoiceInternal() error {
	cs.sink.Set(cs.directSink())
	defer cs.sink.Set(nil)

	cs.recorder.OpenModal()
	if err := cs.recorder.Start(cs.ctx); err != nil {
		return err
	}
	if cs.recordFor > 0 {
		log.Info().Str("component", "chatrunner").Dur("duration", cs.recordFor).Msg("recording")
		select {
		case <-time.After(cs.recordFor):
		case <-cs.ctx.Done():
			return cs.ctx.Err()
		}
	}

	res, err := cs.recorder.Stop(cs.ctx)
	if err != nil {
		return err
	}
	reply := Reply{Transcription: res.Transcription, Duplicate: res.Duplicate, Message: res.Bot}
	if err := cs.output(cs.outputWriter, reply); err != nil {
		return errors.Wrap(err, "failed to write output")
	}
	if res.Bot.AudioURL != "" && cs.player != nil {
		if err := cs.player.Play(cs.ctx, res.Bot.AudioURL); err != nil {
			log.Warn().Err(err).Str("component", "chatrunner").Msg("audio playback failed")
		} else {
			cs.waitPlayback()
		}
	}
	return nil
}

func (cs *ChatSession) waitPlayback() {
	if w, ok := cs.player.(Waiter); ok {
		_ = w.Wait(cs.ctx)
	}
}

// runInteractiveInternal handles initial blocking run + optional chat transition.
func (cs *ChatSession) runInteractiveInternal() error {
	err := cs.runBlockingInternal()
	if err != nil && !errors.Is(err, ErrTurnFailed) {
		if errors.Is(err, context.Canceled) && cs.ctx.Err() == context.Canceled {
			return nil
		}
		return errors.Wrap(err, "error during initial blocking step")
	}

	// Use Stderr for the prompt, Stdout might be redirected.
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		log.Debug().Str("component", "chatrunner").Msg("Stderr is not a TTY, skipping chat continuation prompt")
		return err
	}

	continueInChat, askErr := AskYesNo(os.Stderr, "¿Deseas continuar en el chat?", true)
	if askErr != nil {
		return errors.Wrap(askErr, "failed to ask for chat continuation")
	}
	if !continueInChat {
		return err
	}
	return cs.runChatInternal()
}

// --- ChatBuilder ---

// ChatBuilder provides a fluent API for configuring and running a chat session.
type ChatBuilder struct {
	err            error
	ctx            context.Context
	backend        Backend
	player         conversation.Player
	capturer       recording.Capturer
	voiceMode      bool
	duplicateGuard bool
	renderer       *markup.Renderer
	appOptions     ui.Options
	programOptions []tea.ProgramOption
	mode           RunMode
	prompt         string
	recordFor      time.Duration
	outputWriter   io.Writer
	output         OutputFunc
	router         *events.EventRouter
	turnLog        turnlog.Store
	redis          redisstream.Settings
}

// NewChatBuilder creates a new builder with default settings.
func NewChatBuilder() *ChatBuilder {
	return &ChatBuilder{
		ctx:            context.Background(),
		duplicateGuard: true,
		programOptions: []tea.ProgramOption{tea.WithMouseCellMotion(), tea.WithAltScreen()},
		appOptions:     ui.Options{Breakpoint: view.DefaultMobileBreakpoint},
		outputWriter:   os.Stdout,
		mode:           RunModeChat,
	}
}

func (b *ChatBuilder) WithContext(ctx context.Context) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if ctx == nil {
		b.err = errors.New("context cannot be nil")
		return b
	}
	b.ctx = ctx
	return b
}

// WithBackend sets the backend client. (Required)
func (b *ChatBuilder) WithBackend(backend Backend) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if backend == nil {
		b.err = errors.New("backend cannot be nil")
		return b
	}
	b.backend = backend
	return b
}

func (b *ChatBuilder) WithPlayer(p conversation.Player) *ChatBuilder {
	b.player = p
	return b
}

// WithCapturer enables the recording session.
func (b *ChatBuilder) WithCapturer(c recording.Capturer) *ChatBuilder {
	b.capturer = c
	return b
}

func (b *ChatBuilder) WithVoiceMode(on bool) *ChatBuilder {
	b.voiceMode = on
	return b
}

func (b *ChatBuilder) WithDuplicateGuard(on bool) *ChatBuilder {
	b.duplicateGuard = on
	return b
}

func (b *ChatBuilder) WithRenderer(r *markup.Renderer) *ChatBuilder {
	b.renderer = r
	return b
}

// WithLayout forces a layout when variant is set. Otherwise the layout follows
// the terminal width.
func (b *ChatBuilder) WithLayout(variant view.Variant, breakpoint int) *ChatBuilder {
	b.appOptions.Variant = variant
	if breakpoint > 0 {
		b.appOptions.Breakpoint = breakpoint
	}
	return b
}

func (b *ChatBuilder) WithDownloadDir(dir string) *ChatBuilder {
	b.appOptions.DownloadDir = dir
	return b
}

// WithProgramOptions adds options for configuring the bubbletea program.
func (b *ChatBuilder) WithProgramOptions(opts ...tea.ProgramOption) *ChatBuilder {
	b.programOptions = append(b.programOptions, opts...)
	return b
}

// WithMode sets the execution mode.
func (b *ChatBuilder) WithMode(mode RunMode) *ChatBuilder {
	if b.err != nil {
		return b
	}
	switch mode {
	case RunModeChat, RunModeInteractive, RunModeBlocking, RunModeVoice:
		b.mode = mode
	default:
		b.err = errors.Errorf("invalid run mode: %s", mode)
	}
	return b
}

// WithPrompt sets the message of blocking and interactive runs.
func (b *ChatBuilder) WithPrompt(prompt string) *ChatBuilder {
	b.prompt = prompt
	return b
}

// WithRecordFor bounds the recording of voice runs. Zero records until the
// capture source ends.
func (b *ChatBuilder) WithRecordFor(d time.Duration) *ChatBuilder {
	b.recordFor = d
	return b
}

// WithOutputWriter sets the writer for one-shot modes. Defaults to os.Stdout.
func (b *ChatBuilder) WithOutputWriter(w io.Writer) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if w == nil {
		b.err = errors.New("output writer cannot be nil")
		return b
	}
	b.outputWriter = w
	return b
}

func (b *ChatBuilder) WithOutput(f OutputFunc) *ChatBuilder {
	b.output = f
	return b
}

// WithExternalRouter provides an existing EventRouter instance to use.
// If not provided, an in-memory router is created.
func (b *ChatBuilder) WithExternalRouter(router *events.EventRouter) *ChatBuilder {
	b.router = router
	return b
}

// WithTurnLog records every bubble in store.
func (b *ChatBuilder) WithTurnLog(store turnlog.Store) *ChatBuilder {
	b.turnLog = store
	return b
}

// WithRedis gives every UI topic handler its own consumer group.
func (b *ChatBuilder) WithRedis(s redisstream.Settings) *ChatBuilder {
	b.redis = s
	return b
}

func (b *ChatBuilder) Build() (*ChatSession, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.backend == nil {
		return nil, errors.New("backend is required (use WithBackend)")
	}
	if b.mode == RunModeVoice && b.capturer == nil {
		return nil, errors.New("voice mode requires a capturer (use WithCapturer)")
	}
	if (b.mode == RunModeBlocking || b.mode == RunModeInteractive) && strings.TrimSpace(b.prompt) == "" {
		return nil, errors.New("a prompt is required for blocking or interactive mode (use WithPrompt)")
	}

	router := b.router
	if router == nil && (b.mode == RunModeChat || b.mode == RunModeInteractive) {
		var err error
		router, err = events.NewEventRouter()
		if err != nil {
			return nil, errors.Wrap(err, "failed to create event router")
		}
	}

	renderer := b.renderer
	if renderer == nil {
		renderer = markup.NewRenderer(markup.DetectStyle(isatty.IsTerminal(os.Stdout.Fd())))
	}
	output := b.output
	if output == nil {
		output = TextOutput(renderer, 80)
	}

	sink := events.NewRelaySink(nil)
	opts := []conversation.SessionOption{
		conversation.WithSink(sink),
		conversation.WithVoiceMode(b.voiceMode),
	}
	if b.player != nil {
		opts = append(opts, conversation.WithPlayer(b.player))
	}
	session := conversation.NewSession(conversation.NewConversation(), b.backend, opts...)

	var recorder *recording.Session
	if b.capturer != nil {
		recorder = recording.NewSession(b.capturer, b.backend, session,
			recording.WithSink(sink),
			recording.WithDuplicateGuard(b.duplicateGuard),
		)
	}

	return &ChatSession{
		ctx:            b.ctx,
		backend:        b.backend,
		session:        session,
		recorder:       recorder,
		player:         b.player,
		sink:           sink,
		renderer:       renderer,
		appOptions:     b.appOptions,
		programOptions: b.programOptions,
		mode:           b.mode,
		prompt:         b.prompt,
		recordFor:      b.recordFor,
		outputWriter:   b.outputWriter,
		output:         output,
		router:         router,
		turnLog:        b.turnLog,
		redis:          b.redis,
	}, nil
}
