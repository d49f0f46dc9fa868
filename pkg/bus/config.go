package bus

import "time"

// Config holds the bus settings.
type Config struct {
	Stream       string        `env:"BUS_STREAM" envDefault:"entitlement-events"`
	MaxLen       int64         `env:"BUS_STREAM_MAX_LEN" envDefault:"100000"` // approximate cap, 0 disables trimming
	BatchSize    int64         `env:"BUS_BATCH_SIZE" envDefault:"100"`
	BlockTimeout time.Duration `env:"BUS_BLOCK_TIMEOUT" envDefault:"5s"`
	BufferSize   int           `env:"BUS_BUFFER_SIZE" envDefault:"64"` // per MemoryBus subscriber
}
