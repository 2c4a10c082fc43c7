package datastore

import (
	"log/slog"

	"schemaless/internal/storeerr"
)

// Options configures a datastore Engine. It mirrors spec.md §6's engine
// constructor options.
type Options struct {
	// Hosts is the list of MySQL hosts to connect to. Exactly one is
	// supported today; Engine.Open fails with NotImplemented on a longer
	// list (and with BadArgument on an empty one), mirroring the original's
	// single-shard restriction.
	Hosts    []string
	User     string
	Password string
	Database string

	// UseZlib enables body compression. Named after spec.md's historical
	// flag name; the actual codec is zstd (see internal/entitycodec).
	UseZlib *bool

	// CreateEntities creates the entities table on Open if it doesn't exist.
	CreateEntities *bool

	Logger *slog.Logger
}

func (o Options) useZlib() bool {
	if o.UseZlib == nil {
		return true
	}
	return *o.UseZlib
}

func (o Options) createEntities() bool {
	if o.CreateEntities == nil {
		return true
	}
	return *o.CreateEntities
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o Options) singleHost() (string, error) {
	switch len(o.Hosts) {
	case 0:
		return "", storeerr.New(storeerr.BadArgument, "datastore.Options", nil)
	case 1:
		return o.Hosts[0], nil
	default:
		return "", storeerr.New(storeerr.NotImplemented, "datastore.Options", nil)
	}
}
