package domain

import (
	"errors"
	"fmt"
)

// ErrorCode representa un código de error del dominio de trading.
type ErrorCode string

// Códigos de error estándar
const (
	// ErrNoError indica éxito (sin error)
	ErrNoError ErrorCode = "NO_ERROR"

	// Errores de validación
	ErrInvalidVolume  ErrorCode = "INVALID_VOLUME"
	ErrInvalidSymbol  ErrorCode = "INVALID_SYMBOL"
	ErrInvalidRoute   ErrorCode = "INVALID_ROUTE"
	ErrSpecMissing    ErrorCode = "SPEC_MISSING"
	ErrRuleSetMissing ErrorCode = "RULESET_MISSING"
	ErrUnknownAccount ErrorCode = "UNKNOWN_ACCOUNT"

	// Errores de mercado/broker transitorios
	ErrTimeout         ErrorCode = "TIMEOUT"
	ErrBrokerBusy      ErrorCode = "BROKER_BUSY"
	ErrTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
	ErrConnectionLost  ErrorCode = "CONNECTION_LOST"

	// Errores de mercado/broker permanentes
	ErrMarketClosed  ErrorCode = "MARKET_CLOSED"
	ErrNoMoney       ErrorCode = "NO_MONEY"
	ErrTradeDisabled ErrorCode = "TRADE_DISABLED"

	// Errores de sistema
	ErrUnknown          ErrorCode = "UNKNOWN"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrDuplicateMapping ErrorCode = "DUPLICATE_MAPPING"
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
)

// TradingError representa un error del dominio de trading con contexto.
type TradingError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

// Error implementa la interfaz error.
func (e *TradingError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implementa la interfaz errors.Unwrap.
func (e *TradingError) Unwrap() error {
	return e.Wrapped
}

// WithDetail agrega un detalle al error.
func (e *TradingError) WithDetail(key string, value interface{}) *TradingError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewError crea un nuevo TradingError.
//
// Example:
//
//	err := domain.NewError(domain.ErrInvalidVolume, "volume below broker minimum")
func NewError(code ErrorCode, message string) *TradingError {
	return &TradingError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// NewValidationError crea un TradingError de validación con el campo y
// valor ofensivo como detalles.
func NewValidationError(field string, value interface{}, message string) *TradingError {
	err := NewError(ErrInvalidVolume, message)
	err.Details["field"] = field
	err.Details["value"] = value
	return err
}

// WrapError envuelve un error existente con contexto de trading.
//
// Example:
//
//	err := domain.WrapError(domain.ErrConnectionLost, "broker stream dropped", originalErr)
func WrapError(code ErrorCode, message string, wrapped error) *TradingError {
	return &TradingError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Wrapped: wrapped,
	}
}

// CodeOf extrae el ErrorCode de un error arbitrario.
//
// Errores que no son TradingError se clasifican como ErrUnknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrNoError
	}
	var te *TradingError
	if errors.As(err, &te) {
		return te.Code
	}
	return ErrUnknown
}

// IsRetryable indica si un error es transitorio y puede reintentarse
// con backoff (taxonomía TransientBrokerError).
func IsRetryable(code ErrorCode) bool {
	switch code {
	case ErrTimeout, ErrBrokerBusy, ErrTooManyRequests, ErrConnectionLost, ErrStoreUnavailable:
		return true
	default:
		return false
	}
}

// IsPermanent indica si un error de broker es permanente y no debe
// reintentarse (taxonomía PermanentBrokerError).
func IsPermanent(code ErrorCode) bool {
	switch code {
	case ErrInvalidVolume, ErrInvalidSymbol, ErrMarketClosed, ErrNoMoney, ErrTradeDisabled:
		return true
	default:
		return false
	}
}
