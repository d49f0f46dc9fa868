package httpserver

import "time"

// Config is the operational HTTP server configuration.
type Config struct {
	Addr            string        `env:"OPS_HTTP_ADDR" envDefault:":9090"`          // Addr is the address the server listens on.
	ReadTimeout     time.Duration `env:"OPS_HTTP_READ_TIMEOUT" envDefault:"10s"`    // ReadTimeout bounds reading a whole request.
	WriteTimeout    time.Duration `env:"OPS_HTTP_WRITE_TIMEOUT" envDefault:"30s"`   // WriteTimeout bounds writing the response.
	ShutdownTimeout time.Duration `env:"OPS_HTTP_SHUTDOWN_TIMEOUT" envDefault:"5s"` // ShutdownTimeout is the time allowed for graceful shutdown.
}

// NewFromConfig creates a Server from cfg. Zero values keep the defaults.
func NewFromConfig(cfg Config, opts ...Option) *Server {
	configOpts := make([]Option, 0, 4+len(opts))
	if cfg.Addr != "" {
		configOpts = append(configOpts, WithAddr(cfg.Addr))
	}
	if cfg.ReadTimeout > 0 {
		configOpts = append(configOpts, WithReadTimeout(cfg.ReadTimeout))
	}
	if cfg.WriteTimeout > 0 {
		configOpts = append(configOpts, WithWriteTimeout(cfg.WriteTimeout))
	}
	if cfg.ShutdownTimeout > 0 {
		configOpts = append(configOpts, WithShutdownTimeout(cfg.ShutdownTimeout))
	}
	return New(append(configOpts, opts...)...)
}
