package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New создаёт zerolog.Logger для окружения appEnv.
// В development включается уровень debug и читаемый консольный вывод.
func New(appEnv string) zerolog.Logger {
	return NewWithWriter(appEnv, os.Stdout)
}

// NewWithWriter: то же, что New, но с произвольным приёмником вывода
func NewWithWriter(appEnv string, w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	l := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()

	if appEnv == "development" {
		l = l.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true})
	}
	return l
}
