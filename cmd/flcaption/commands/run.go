package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/xkeyC/fl-caption/pkg/asr/sensevoice"
	"github.com/xkeyC/fl-caption/pkg/buffer"
	"github.com/xkeyC/fl-caption/pkg/cli"
	"github.com/xkeyC/fl-caption/pkg/emitter"
	"github.com/xkeyC/fl-caption/pkg/engine"
	"github.com/xkeyC/fl-caption/pkg/scope"
	"github.com/xkeyC/fl-caption/pkg/transcript"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"google.golang.org/api/iterator"
)

var (
	runFlags    engineFlags
	runDuration time.Duration
	runTUI      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Caption live audio",
	Long: `Capture audio and print captions until interrupted.

Captions are printed one per line as they change. With --json every segment,
including lifecycle markers, is written as one JSON document per line. With
--tui the terminal shows a live caption frame with the log underneath.

Examples:
  flcaption run
  flcaption run --engine whisper.yaml --direction output --language ja
  flcaption run --json --duration 30s -o captions.jsonl`,
	RunE: runCaptions,
}

func init() {
	runFlags.register(runCmd)
	runCmd.Flags().DurationVar(&runDuration, "duration", 0, "stop after this long (0 runs until interrupted)")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "show a live caption frame")
}

// captionView renders the segments of one run.
type captionView interface {
	segment(seg transcript.Segment) error
	close()
}

func runCaptions(cmd *cobra.Command, args []string) error {
	cfg, err := loadEngineConfig(runFlags)
	if err != nil {
		return err
	}
	host, release, err := openHost(hostName)
	if err != nil {
		return err
	}
	defer release()

	out := io.Writer(os.Stdout)
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	logger := slog.Default()
	var view captionView
	switch {
	case outputJSON:
		view = &jsonView{w: out}
	case runTUI:
		tv := newTUIView(out)
		logger = newLogger(tv.logs)
		view = tv
	default:
		view = &plainView{w: out, status: os.Stderr}
	}
	defer view.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runDuration)
		defer cancel()
	}

	sc := scope.NewRoot()
	defer sc.Cancel()
	go func() {
		select {
		case <-ctx.Done():
			sc.Cancel()
		case <-sc.Done():
		}
	}()

	stream := emitter.NewStream(64)
	inst, err := engine.Launch(sc, cfg, engine.Env{Host: host, Logger: logger}, stream)
	if err != nil {
		return err
	}
	printVerbose("capturing from %s (%s, %d channels)",
		inst.Info().DeviceName, cli.FormatSampleRate(inst.Info().SampleRate), inst.Info().Channels)

	for {
		seg, err := stream.Next(context.Background())
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return err
		}
		if err := view.segment(seg); err != nil {
			sc.Cancel()
			inst.Wait()
			return err
		}
	}
	inst.Wait()
	if n := stream.Dropped(); n > 0 {
		slog.Warn("caption batches dropped", "count", n)
	}
	return nil
}

// captionText returns the display form of a transcript segment.
func captionText(seg transcript.Segment) string {
	var sb strings.Builder
	if seg.Language != "" && seg.Language != "auto" {
		fmt.Fprintf(&sb, "[%s] ", seg.Language)
	}
	sb.WriteString(seg.Text)
	if e := sensevoice.Emoji(seg.Emotion, seg.Event); e != "" {
		sb.WriteString(" ")
		sb.WriteString(e)
	}
	return sb.String()
}

func statusText(seg transcript.Segment) string {
	switch seg.Status {
	case transcript.Loading:
		return "loading model"
	case transcript.Ready:
		return "listening"
	case transcript.Error:
		return "error: " + seg.Text
	case transcript.Exit:
		return "stopped"
	}
	return seg.Status.String()
}

type jsonView struct {
	w io.Writer
}

func (v *jsonView) segment(seg transcript.Segment) error {
	return cli.WriteJSONLine(v.w, seg)
}

func (v *jsonView) close() {}

// plainView prints each caption once. Consecutive windows that transcribe
// to the same text are printed once.
type plainView struct {
	w      io.Writer
	status io.Writer
	last   string
}

func (v *plainView) segment(seg transcript.Segment) error {
	if seg.IsLifecycle() {
		_, err := fmt.Fprintf(v.status, "• %s\n", statusText(seg))
		return err
	}
	text := captionText(seg)
	if text == v.last {
		return nil
	}
	v.last = text
	_, err := fmt.Fprintln(v.w, text)
	return err
}

func (v *plainView) close() {}

// tuiView redraws a lipgloss frame on every caption and log line.
type tuiView struct {
	w        io.Writer
	logs     *cli.LogWriter
	captions *buffer.Ring[string]
	styles   cli.Styles

	mu     sync.Mutex
	status string
	timing string

	drawMu sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

func newTUIView(w io.Writer) *tuiView {
	v := &tuiView{
		w:        w,
		logs:     cli.NewLogWriter(200),
		captions: buffer.RingN[string](50),
		styles:   cli.NewStyles(cli.DefaultTheme),
		status:   "starting",
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go v.watchLogs()
	return v
}

func (v *tuiView) watchLogs() {
	defer close(v.done)
	for {
		select {
		case <-v.logs.Channel():
			v.draw()
		case <-v.stop:
			return
		}
	}
}

func (v *tuiView) segment(seg transcript.Segment) error {
	v.mu.Lock()
	if seg.IsLifecycle() {
		v.status = statusText(seg)
	} else {
		v.captions.Add(captionText(seg))
		if seg.ReasoningDuration != nil && seg.AudioDuration != nil {
			v.timing = fmt.Sprintf("%s for %s (%s)",
				cli.FormatDuration(*seg.ReasoningDuration),
				cli.FormatDuration(*seg.AudioDuration),
				cli.FormatRealtime(*seg.ReasoningDuration, *seg.AudioDuration))
		}
	}
	v.mu.Unlock()
	v.draw()
	return nil
}

func (v *tuiView) frame(width int) cli.Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	captions := v.captions.Items()
	status := v.status
	if v.timing != "" {
		status += " · " + v.timing
	}
	return cli.Frame{
		Styles: v.styles,
		Title:  "flcaption",
		Status: status,
		Sections: []cli.Section{
			{Label: "Captions", Weight: 3, Content: func() []string {
				var lines []string
				for i, c := range captions {
					style := v.styles.Past
					if i == len(captions)-1 {
						style = v.styles.Caption
					}
					for _, l := range cli.Wrap(c, width-4) {
						lines = append(lines, style.Render(l))
					}
				}
				return lines
			}},
			{Label: "Log", Content: v.logs.Lines},
		},
		Help: "ctrl+c to stop",
	}
}

func (v *tuiView) draw() {
	width, height := 80, 24
	if w, h, err := term.GetSize(os.Stdout.Fd()); err == nil && w > 0 && h > 0 {
		width, height = w, h
	}
	frame := v.frame(width).Render(width, height)
	v.drawMu.Lock()
	defer v.drawMu.Unlock()
	fmt.Fprint(v.w, "\x1b[H\x1b[2J"+frame)
}

func (v *tuiView) close() {
	close(v.stop)
	<-v.done
	fmt.Fprintln(v.w)
}
