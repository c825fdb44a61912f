package observability

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeTurn        EventType = "turn"
	EventTypePlan        EventType = "plan"
	EventTypeStep        EventType = "step"
	EventTypeCapability  EventType = "capability"
	EventTypeToolCall    EventType = "tool_call"
	EventTypePolicyCheck EventType = "policy_check"
	EventTypeMemory      EventType = "memory"
	EventTypeHeartbeat   EventType = "heartbeat"
	EventTypeLLM         EventType = "llm"
)

// Logger handles structured logging. Events go to the main writer as JSON
// lines; llm events are additionally appended to a rotating file.
type Logger struct {
	zl         zerolog.Logger
	llmLogPath string
	maxSize    int64
	fileMu     *sync.Mutex
}

// NewLogger writes events to stdout and llm transcripts to logs/llm.jsonl.
func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout, filepath.Join("logs", "llm.jsonl"))
}

// NewLoggerTo writes events to w. An empty llmLogPath disables the transcript file.
func NewLoggerTo(w io.Writer, llmLogPath string) *Logger {
	return &Logger{
		zl:         zerolog.New(w).With().Timestamp().Logger(),
		llmLogPath: llmLogPath,
		maxSize:    10 * 1024 * 1024, // 10MB
		fileMu:     &sync.Mutex{},
	}
}

// NewNopLogger discards everything.
func NewNopLogger() *Logger {
	return &Logger{zl: zerolog.Nop(), fileMu: &sync.Mutex{}}
}

// With returns a child logger tagged with a component name.
func (l *Logger) With(component string) *Logger {
	child := *l
	child.zl = l.zl.With().Str("component", component).Logger()
	return &child
}

func (l *Logger) event(t EventType, userID string) *zerolog.Event {
	e := l.zl.Info().Str("type", string(t))
	if userID != "" {
		e = e.Str("user_id", userID)
	}
	return e
}

func (l *Logger) Info(msg string)  { l.zl.Info().Msg(msg) }
func (l *Logger) Debug(msg string) { l.zl.Debug().Msg(msg) }

func (l *Logger) Warn(msg string, err error) {
	l.zl.Warn().Err(err).Msg(msg)
}

func (l *Logger) Error(msg string, err error) {
	l.zl.Error().Err(err).Msg(msg)
}

// Helper methods for common events

func (l *Logger) LogTurn(userID, turnID, phase string) {
	l.event(EventTypeTurn, userID).Str("turn_id", turnID).Str("phase", phase).Send()
}

func (l *Logger) LogPlan(userID, turnID, intent, complexity string, steps int, confidence float64) {
	l.event(EventTypePlan, userID).
		Str("turn_id", turnID).
		Str("intent", intent).
		Str("complexity", complexity).
		Int("steps", steps).
		Float64("confidence", confidence).
		Send()
}

func (l *Logger) LogStep(userID string, stepID int, capability, tool string, success bool, errText string) {
	e := l.event(EventTypeStep, userID).
		Int("step", stepID).
		Str("capability", capability).
		Bool("success", success)
	if tool != "" {
		e = e.Str("tool", tool)
	}
	if errText != "" {
		e = e.Str("error", errText)
	}
	e.Send()
}

func (l *Logger) LogCapability(capability, action string, elapsed time.Duration, err error) {
	e := l.event(EventTypeCapability, "").
		Str("capability", capability).
		Str("action", action).
		Dur("elapsed", elapsed)
	if err != nil {
		e = e.Err(err)
	}
	e.Send()
}

func (l *Logger) LogToolCall(userID, tool, args string) {
	l.event(EventTypeToolCall, userID).Str("tool", tool).Str("args", args).Send()
}

func (l *Logger) LogPolicy(userID, tool, effect, reason string) {
	l.event(EventTypePolicyCheck, userID).
		Str("tool", tool).
		Str("effect", effect).
		Str("reason", reason).
		Send()
}

func (l *Logger) LogMemory(userID, op string, err error) {
	e := l.event(EventTypeMemory, userID).Str("op", op)
	if err != nil {
		e = e.Err(err)
	}
	e.Send()
}

func (l *Logger) LogHeartbeat() {
	l.event(EventTypeHeartbeat, "").Str("status", "alive").Send()
}

func (l *Logger) LogLLM(purpose, prompt, response string, err error) {
	e := l.event(EventTypeLLM, "").
		Str("purpose", purpose).
		Int("prompt_chars", len(prompt)).
		Int("response_chars", len(response))
	if err != nil {
		e = e.Err(err)
	}
	e.Send()

	if l.llmLogPath == "" {
		return
	}
	l.writeTranscript(purpose, prompt, response, err)
}

func (l *Logger) writeTranscript(purpose, prompt, response string, err error) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if mkErr := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); mkErr != nil {
		l.zl.Warn().Err(mkErr).Msg("failed to create log directory")
		return
	}

	// Check size before writing
	info, statErr := os.Stat(l.llmLogPath)
	if statErr == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, openErr := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if openErr != nil {
		l.zl.Warn().Err(openErr).Msg("failed to open log file")
		return
	}
	defer f.Close()

	fl := zerolog.New(f)
	e := fl.Info().
		Time("timestamp", time.Now()).
		Str("purpose", purpose).
		Str("prompt", prompt).
		Str("response", response)
	if err != nil {
		e = e.Err(err)
	}
	e.Send()
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}
