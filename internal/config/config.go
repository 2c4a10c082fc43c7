// Package config loads an optional TOML file into datastore.Options. It is
// strictly sugar over constructing Options programmatically (spec.md §6's
// primary path); nothing in this package is required to use the engine.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"schemaless/internal/datastore"
	"schemaless/internal/storeerr"
)

// File is the top-level shape of the TOML config file.
type File struct {
	Datastore Datastore `toml:"datastore"`
}

// Datastore mirrors the [datastore] table: a single host (spec.md §6's
// "currently exactly one" constraint means there is no hosts list here),
// plus the engine's other constructor options. UseZlib/CreateEntities are
// pointers so an omitted key decodes to nil, not false: the engine's own
// Options default both to true when left nil (see options.go), and a config
// file that simply doesn't mention use_zlib/create_entities must get that
// same default rather than silently disabling compression/table creation.
type Datastore struct {
	Host           string `toml:"host"`
	User           string `toml:"user"`
	Password       string `toml:"password"`
	Database       string `toml:"database"`
	UseZlib        *bool  `toml:"use_zlib"`
	CreateEntities *bool  `toml:"create_entities"`
}

// Load parses the TOML file at path into datastore.Options.
func Load(path string) (datastore.Options, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return datastore.Options{}, storeerr.New(storeerr.BadArgument, "config.Load", fmt.Errorf("decode %s: %w", path, err))
	}
	return f.Datastore.toOptions(), nil
}

func (d Datastore) toOptions() datastore.Options {
	opts := datastore.Options{
		User:           d.User,
		Password:       d.Password,
		Database:       d.Database,
		UseZlib:        d.UseZlib,
		CreateEntities: d.CreateEntities,
	}
	if d.Host != "" {
		opts.Hosts = []string{d.Host}
	}
	return opts
}
