package seed

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildSourceFromDSN picks a seed source by DSN scheme. An empty DSN yields
// an empty in-memory source.
func BuildSourceFromDSN(dsn string) (Source, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemorySource(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupSourceFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemorySource(), nil
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileSource(path), nil
	case "yaml", "yml":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		source, err := NewYAMLSource(path)
		if err != nil {
			return nil, err
		}
		return source, nil
	case "postgres", "postgresql":
		source, err := NewPostgresSource(dsn)
		if err != nil {
			return nil, err
		}
		return source, nil
	case "sqlite", "sqlite3":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		source, err := NewSQLiteSource(path, parsed.Query().Get("table"))
		if err != nil {
			return nil, err
		}
		return source, nil
	case "redis", "rediss":
		source, err := NewRedisSource(dsn)
		if err != nil {
			return nil, err
		}
		return source, nil
	default:
		return nil, fmt.Errorf("unsupported seed source scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
