package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GetOrCreateCounter retorna un contador, creándolo si no existe.
func (c *Client) GetOrCreateCounter(name, description string) (metric.Int64Counter, error) {
	if c.meter == nil {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if counter, ok := c.counters[name]; ok {
		return counter, nil
	}

	counter, err := c.meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return nil, err
	}
	c.counters[name] = counter
	return counter, nil
}

// GetOrCreateHistogram retorna un histograma, creándolo si no existe.
func (c *Client) GetOrCreateHistogram(name, description string) (metric.Float64Histogram, error) {
	if c.meter == nil {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if histogram, ok := c.histograms[name]; ok {
		return histogram, nil
	}

	histogram, err := c.meter.Float64Histogram(name, metric.WithDescription(description))
	if err != nil {
		return nil, err
	}
	c.histograms[name] = histogram
	return histogram, nil
}

// RecordCounter incrementa un contador.
func (c *Client) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	counter, err := c.GetOrCreateCounter(name, "")
	if err != nil {
		c.Error(ctx, "failed to get counter", err, attribute.String("counter_name", name))
		return
	}
	if counter == nil {
		return
	}

	counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

// RecordHistogram registra un valor en un histograma.
func (c *Client) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	histogram, err := c.GetOrCreateHistogram(name, "")
	if err != nil {
		c.Error(ctx, "failed to get histogram", err, attribute.String("histogram_name", name))
		return
	}
	if histogram == nil {
		return
	}

	histogram.Record(ctx, value, metric.WithAttributes(attrs...))
}

// RecordLatency es un helper para registrar latencias en milisegundos.
func (c *Client) RecordLatency(ctx context.Context, operation string, latencyMs float64, attrs ...attribute.KeyValue) {
	metricName := operation + ".latency_ms"
	c.RecordHistogram(ctx, metricName, latencyMs, attrs...)
}
