package internal

import (
	"os"
	"sync"

	"github.com/Monkeyattack/fxtrueup-sub003/utils"
)

// Tipos de registro del event log.
const (
	LogEventDetected = "detected"
	LogEventSized    = "sized"
	LogEventCopied   = "copied"
	LogEventRejected = "rejected"
	LogEventClosed   = "closed"
	LogEventError    = "error"
)

// LogRecord es un registro inmutable del event log, una línea JSON por
// registro. Lo consumen el monitoreo en vivo y el replay offline de
// backtests, así que el formato no se cambia a la ligera.
type LogRecord struct {
	TS            int64    `json:"ts"` // Unix millis
	Event         string   `json:"event"`
	RouteID       string   `json:"route_id,omitempty"`
	SourceTradeID string   `json:"source_trade_id"`
	Symbol        string   `json:"symbol"`
	SourceVolume  float64  `json:"source_volume"`
	Reasons       []string `json:"reasons,omitempty"`
	DestVolume    float64  `json:"dest_volume,omitempty"`
	OrderID       string   `json:"order_id,omitempty"`
	Profit        float64  `json:"profit,omitempty"`
	ErrorCode     string   `json:"error_code,omitempty"`
}

// EventLog es el log append-only del relay. Nunca se reescribe in
// place; solo appends con O_APPEND.
type EventLog struct {
	mu   sync.Mutex
	file *os.File
}

// NewEventLog abre (o crea) el archivo de log en modo append.
func NewEventLog(path string) (*EventLog, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &EventLog{file: file}, nil
}

// Append serializa y escribe un registro. Completa el timestamp si el
// caller no lo puso.
func (l *EventLog) Append(record *LogRecord) error {
	if record.TS == 0 {
		record.TS = utils.NowUnixMilli()
	}

	data, err := utils.MarshalJSON(record)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.file.Write(utils.EnsureNewlineBytes(data))
	return err
}

// Close sincroniza y cierra el archivo.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}
