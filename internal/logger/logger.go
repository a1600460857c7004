package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a component-scoped zerolog wrapper. Job code derives child
// loggers with With so every line carries the job id and username.
type Logger struct {
	zl        zerolog.Logger
	component string
}

var levels = map[string]zerolog.Level{
	"development": zerolog.DebugLevel,
	"test":        zerolog.WarnLevel,
	"staging":     zerolog.InfoLevel,
	"production":  zerolog.InfoLevel,
}

// Config controls output format and level.
type Config struct {
	AppEnv string
	Out    io.Writer
}

// New creates a logger for a component using APP_ENV.
func New(component string) *Logger {
	return NewWithConfig(component, Config{AppEnv: os.Getenv("APP_ENV")})
}

// NewWithConfig creates a logger with explicit configuration. Production
// writes JSON lines, everything else a coloured console format.
func NewWithConfig(component string, cfg Config) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	var zl zerolog.Logger
	if cfg.AppEnv == "production" {
		zl = zerolog.New(out).With().Timestamp().Str("component", component).Logger()
	} else {
		zl = zerolog.New(consoleWriter(out, component)).With().Timestamp().Logger()
	}
	zl = zl.Level(levelFor(cfg.AppEnv))
	return &Logger{zl: zl, component: component}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), component: "nop"}
}

func consoleWriter(out io.Writer, component string) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("[%s] %v", component, i)
		},
		FormatLevel: func(i interface{}) string {
			level, ok := i.(string)
			if !ok {
				return "???"
			}
			switch level {
			case "debug":
				return "\033[36m[DEBUG]\033[0m"
			case "info":
				return "\033[34m[INFO]\033[0m"
			case "warn":
				return "\033[33m[WARN]\033[0m"
			case "error":
				return "\033[31m[ERROR]\033[0m"
			case "fatal":
				return "\033[35m[FATAL]\033[0m"
			default:
				return fmt.Sprintf("[%s]", level)
			}
		},
	}
}

func levelFor(env string) zerolog.Level {
	if level, ok := levels[env]; ok {
		return level
	}
	return zerolog.DebugLevel
}

// With returns a child logger carrying an extra field on every line.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger(), component: l.component}
}

func (l *Logger) Component() string { return l.component }

func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// Success logs at info level tagged as a success outcome.
func (l *Logger) Success() *zerolog.Event { return l.zl.Info().Bool("success", true) }

func (l *Logger) LogDebug(msg string)   { l.Debug().Msg(msg) }
func (l *Logger) LogInfo(msg string)    { l.Info().Msg(msg) }
func (l *Logger) LogSuccess(msg string) { l.Success().Msg(msg) }
func (l *Logger) LogWarn(msg string)    { l.Warn().Msg(msg) }

func (l *Logger) LogError(msg string, err error) {
	if err != nil {
		l.Error().Err(err).Msg(msg)
		return
	}
	l.Error().Msg(msg)
}

func (l *Logger) LogFatal(msg string, err error) {
	l.zl.Fatal().Err(err).Msg(msg)
}

func (l *Logger) LogDebugf(format string, v ...interface{})   { l.Debug().Msgf(format, v...) }
func (l *Logger) LogInfof(format string, v ...interface{})    { l.Info().Msgf(format, v...) }
func (l *Logger) LogSuccessf(format string, v ...interface{}) { l.Success().Msgf(format, v...) }
func (l *Logger) LogWarnf(format string, v ...interface{})    { l.Warn().Msgf(format, v...) }
func (l *Logger) LogErrorf(format string, v ...interface{})   { l.Error().Msgf(format, v...) }
