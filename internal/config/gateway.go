package config

import "time"

// GatewayConfig tunes the mock payment gateway used by the payment worker.
type GatewayConfig struct {
    FailureRate float64       // probability in [0,1] that an authorization is declined
    Latency     time.Duration // simulated round trip
    MetricsPort string        // worker /metrics listener; empty disables it
}

func LoadGatewayConfig() GatewayConfig {
    cfg := GatewayConfig{
        FailureRate: envFloat("PAYMENT_FAILURE_RATE", 0),
        Latency:     envDur("PAYMENT_LATENCY", 0),
        MetricsPort: envStr("PAYMENT_METRICS_PORT", ""),
    }
    if cfg.FailureRate < 0 { cfg.FailureRate = 0 }
    if cfg.FailureRate > 1 { cfg.FailureRate = 1 }
    return cfg
}
