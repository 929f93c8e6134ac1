package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogMode selects the output format and verbosity of the global logger.
type LogMode string

const (
	LogModePretty LogMode = "pretty"
	LogModeDebug  LogMode = "debug"
	LogModeInfo   LogMode = "info"
	LogModeProd   LogMode = "prod"
	LogModeTest   LogMode = "test"
)

var log zerolog.Logger

// Init configures the global logger with the pretty console writer.
func Init() {
	InitWithMode(LogModePretty)
}

// InitWithMode configures the global logger for the given mode. Pretty and
// debug modes write colorized console output; prod writes raw JSON; test
// discards everything below the error level.
func InitWithMode(mode LogMode) {
	switch mode {
	case LogModeProd:
		zerolog.TimeFieldFormat = time.RFC3339
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log = zerolog.New(os.Stdout).With().Timestamp().Logger()
	case LogModeTest:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	case LogModeDebug:
		initConsole(zerolog.DebugLevel)
	case LogModeInfo:
		initConsole(zerolog.InfoLevel)
	default:
		initConsole(zerolog.DebugLevel)
	}
	zerolog.DefaultContextLogger = &log
}

func initConsole(level zerolog.Level) {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    false,
		FormatLevel: func(i interface{}) string {
			return colorizeLevel(i.(string))
		},
		FormatMessage: func(i interface{}) string {
			return colorize(fmt.Sprint(i), cyan)
		},
		FormatFieldName: func(i interface{}) string {
			return colorize(fmt.Sprint(i)+":", gray)
		},
		FormatFieldValue: func(i interface{}) string {
			switch v := i.(type) {
			case string:
				return colorize(v, blue)
			case json.Number:
				return colorize(v.String(), blue)
			default:
				return colorize(fmt.Sprint(v), blue)
			}
		},
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(level)
	log = zerolog.New(output).With().Timestamp().Logger()
}

// ANSI color codes
const (
	gray  = "\x1b[37m"
	blue  = "\x1b[34m"
	cyan  = "\x1b[36m"
	red   = "\x1b[31m"
	reset = "\x1b[0m"
)

func colorize(s, color string) string {
	return color + s + reset
}

func colorizeLevel(level string) string {
	switch level {
	case "debug":
		return colorize("DBG", gray)
	case "info":
		return colorize("INF", blue)
	case "warn":
		return colorize("WRN", cyan)
	case "error":
		return colorize("ERR", red)
	default:
		return colorize(level, blue)
	}
}

// Get returns the global logger instance.
func Get() zerolog.Logger {
	return log
}

// WithComponent returns a sub-logger tagged with the given component name.
func WithComponent(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
