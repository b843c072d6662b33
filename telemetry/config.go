// Package telemetry provee el cliente unificado de logs, trazas y
// métricas del relay (slog + OpenTelemetry con exporters OTLP).
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Config configuración del cliente de telemetría.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// OTLPEndpoint destino gRPC para trazas (host:port). Vacío
	// desactiva trazas.
	OTLPEndpoint string

	// MetricsEndpoint destino gRPC para métricas; si está vacío se usa
	// OTLPEndpoint.
	MetricsEndpoint string

	EnableLogs    bool
	EnableTraces  bool
	EnableMetrics bool

	// CommonAttributes se adjuntan al resource OTel.
	CommonAttributes []attribute.KeyValue
}

// DefaultConfig retorna configuración por defecto: logs siempre,
// trazas/métricas solo si hay endpoint.
func DefaultConfig(serviceName, environment string) Config {
	return Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.0.0",
		Environment:    environment,
		EnableLogs:     true,
	}
}

// Option modifica la Config.
type Option func(*Config)

// WithVersion fija la versión del servicio.
func WithVersion(version string) Option {
	return func(c *Config) {
		c.ServiceVersion = version
	}
}

// WithOTLPEndpoint habilita trazas y métricas hacia el endpoint dado.
func WithOTLPEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.OTLPEndpoint = endpoint
		c.EnableTraces = true
		c.EnableMetrics = true
	}
}

// WithMetricsEndpoint fija un endpoint específico para métricas cuando
// el collector usa puerto distinto.
func WithMetricsEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.MetricsEndpoint = endpoint
		c.EnableMetrics = true
	}
}

// WithCommonAttributes agrega atributos al resource.
func WithCommonAttributes(attrs ...attribute.KeyValue) Option {
	return func(c *Config) {
		c.CommonAttributes = append(c.CommonAttributes, attrs...)
	}
}
