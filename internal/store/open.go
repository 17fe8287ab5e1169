package store

import "fmt"

// Config selects and parameterizes a session backend.
type Config struct {
	Backend     string `json:"backend"` // "memory", "file", "sqlite", "postgres"
	Dir         string `json:"dir,omitempty"`
	SQLitePath  string `json:"sqlitePath,omitempty"`
	PostgresDSN string `json:"postgresDsn,omitempty"`
}

// Open constructs the configured backend. An empty backend means memory.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("file store requires dir")
		}
		return NewFileStore(cfg.Dir)
	case "sqlite":
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite store requires sqlitePath")
		}
		return NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres store requires postgresDsn")
		}
		return NewPostgresStore(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
