package app

import (
	"fmt"
	"strings"

	"scorewatch/internal/config"
	"scorewatch/internal/snapshot"
)

func mapStorageConfig(cfg *config.Config) (snapshot.Config, error) {
	sc := cfg.Storage
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = config.DefaultStoragePath
	}

	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "file":
		return snapshot.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		return snapshot.Config{Driver: "sqlite", Path: path, BusyTimeout: sc.Busy()}, nil
	default:
		return snapshot.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
