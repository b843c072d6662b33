package domain

import (
	"fmt"
	"math"
	"regexp"
	"time"
)

// PositionMapping es la correlación durable entre una posición fuente y
// la posición destino que produjo.
//
// Invariante: a lo sumo un mapping vivo por triple
// (SourceAccountID, SourcePositionID, DestAccountID). Es la guarda de
// deduplicación contra doble copiado. Nunca se borra, solo se marca
// cerrado (el chequeo de "cerrado reciente" suprime reprocesamiento de
// notificaciones viejas).
type PositionMapping struct {
	SourceAccountID  string     `json:"source_account_id"`
	SourcePositionID string     `json:"source_position_id"`
	DestAccountID    string     `json:"dest_account_id"`
	DestPositionID   string     `json:"dest_position_id"`
	SourceSymbol     string     `json:"source_symbol"`
	DestSymbol       string     `json:"dest_symbol"`
	SourceVolume     float64    `json:"source_volume"`
	DestVolume       float64    `json:"dest_volume"`
	OpenTime         time.Time  `json:"open_time"`
	SourceOpenPrice  float64    `json:"source_open_price"`
	DestOpenPrice    float64    `json:"dest_open_price"`
	Comment          string     `json:"comment"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	CloseReason      string     `json:"close_reason,omitempty"`
}

// IsLive indica si el mapping sigue abierto.
func (m *PositionMapping) IsLive() bool {
	return m.ClosedAt == nil
}

// Key retorna la clave única del mapping.
func (m *PositionMapping) Key() string {
	return MappingKey(m.SourceAccountID, m.SourcePositionID, m.DestAccountID)
}

// MappingKey construye la clave (sourceAccountId, sourcePositionId, destAccountId).
func MappingKey(sourceAccountID, sourcePositionID, destAccountID string) string {
	return sourceAccountID + "::" + sourcePositionID + "::" + destAccountID
}

// copyCommentPattern es el formato del comentario de correlación que el
// dispatcher incrusta en cada orden destino. Permite re-asociar la
// posición destino con su fuente incluso tras un crash entre fill y
// persistencia del mapping.
var copyCommentPattern = regexp.MustCompile(`^Copy_([A-Za-z0-9-]+)_L(\d+)$`)

// FormatCopyComment construye el comentario de correlación
// Copy_{sourcePositionId}_L{volume*100}.
func FormatCopyComment(sourcePositionID string, volume float64) string {
	return fmt.Sprintf("Copy_%s_L%d", sourcePositionID, int64(math.Round(volume*100)))
}

// ParseCopyComment extrae el sourcePositionId de un comentario de
// correlación. Retorna ok=false si el comentario no matchea el formato;
// en ese caso la reconciliación NO debe asociar la posición.
func ParseCopyComment(comment string) (sourcePositionID string, ok bool) {
	matches := copyCommentPattern.FindStringSubmatch(comment)
	if matches == nil {
		return "", false
	}
	return matches[1], true
}
