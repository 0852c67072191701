package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"avatar-sync/server/logging"
)

const (
	ansiReset  = "\x1b[0m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiGray   = "\x1b[90m"
)

// ConsoleSink writes one line per event.
type ConsoleSink struct {
	logger *log.Logger
	color  bool
}

func NewConsoleSink(w io.Writer, cfg logging.ConsoleConfig) *ConsoleSink {
	return &ConsoleSink{logger: log.New(w, "", log.LstdFlags|log.Lmicroseconds), color: cfg.UseColor}
}

func (s *ConsoleSink) Write(event logging.Event) error {
	if s.logger == nil {
		return nil
	}
	line := fmt.Sprintf("[%s] tick=%d actor=%s severity=%s%s%s%s",
		event.Type, event.Tick, formatEntity(event.Actor), event.Severity,
		formatTrace(event.TraceID), formatPayload(event.Payload), formatExtra(event.Extra))
	if s.color {
		line = colorize(event.Severity, line)
	}
	s.logger.Print(line)
	return nil
}

func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

func colorize(sev logging.Severity, line string) string {
	switch sev {
	case logging.SeverityDebug:
		return ansiGray + line + ansiReset
	case logging.SeverityWarn:
		return ansiYellow + line + ansiReset
	case logging.SeverityError:
		return ansiRed + line + ansiReset
	default:
		return line
	}
}

func formatEntity(ref logging.EntityRef) string {
	if ref.ID == "" {
		return string(ref.Kind)
	}
	if ref.Kind == "" {
		return ref.ID
	}
	return fmt.Sprintf("%s:%s", ref.Kind, ref.ID)
}

func formatTrace(traceID string) string {
	if traceID == "" {
		return ""
	}
	return " trace=" + traceID
}

func formatPayload(payload any) string {
	if payload == nil {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(" payload=%v", payload)
	}
	return fmt.Sprintf(" payload=%s", data)
}

func formatExtra(extra map[string]any) string {
	if len(extra) == 0 {
		return ""
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return fmt.Sprintf(" extra=%v", extra)
	}
	return fmt.Sprintf(" extra=%s", data)
}
