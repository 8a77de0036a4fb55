// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/exprprior/pkg/logging"
	"github.com/AleutianAI/exprprior/pkg/validation"
	"github.com/AleutianAI/exprprior/services/prior"
	"github.com/AleutianAI/exprprior/services/prior/library"
	"github.com/AleutianAI/exprprior/services/prior/storage"
)

// app carries the state shared by every subcommand: the flags of the root
// command and what PersistentPreRunE builds from them.
type app struct {
	configPath string
	logLevel   string
	jsonLogs   bool

	cfg    prior.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "exprprior",
		Short: "Structural priors and validation for expression generation",
		Long: `exprprior computes the token masks that keep a generator inside the space
of well-formed expression trees, validates finished trees, and serves both
over HTTP.`,
		Version:            version,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("EXPRPRIOR_CONFIG"),
		"YAML or JSON configuration file (env EXPRPRIOR_CONFIG)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&a.jsonLogs, "json", false, "write JSON logs to stderr")

	root.AddCommand(
		newServeCmd(a),
		newSampleCmd(a),
		newMaskCmd(a),
		newValidateCmd(a),
		newConfigCmd(a),
	)
	return root
}

// setup loads the configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.configPath != "" {
		if _, err := os.Stat(a.configPath); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
	}
	cfg, err := prior.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.jsonLogs {
		cfg.Logging.JSON = true
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.LogDir,
		Service: cmd.Name(),
		JSON:    cfg.Logging.JSON,
		Output:  cmd.ErrOrStderr(),
	})
	slog.SetDefault(a.logger.Slog())
	a.logger.Debug("configuration loaded",
		slog.String("path", a.configPath),
		slog.Any("constraints", constraintTypes(cfg)),
	)
	return nil
}

func (a *app) teardown(*cobra.Command, []string) error {
	if a.logger == nil {
		return nil
	}
	return a.logger.Close()
}

func (a *app) slog() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger.Slog()
}

// openStore opens the population database described by cfg.Storage. The
// caller closes the returned DB.
func (a *app) openStore() (*storage.DB, *storage.Store, error) {
	var sc storage.Config
	if a.cfg.Storage.InMemory {
		sc = storage.InMemoryConfig()
	} else {
		sc = storage.DefaultConfig(a.cfg.Storage.Path)
	}
	sc.Logger = a.slog()
	db, err := storage.OpenDB(sc)
	if err != nil {
		return nil, nil, err
	}
	return db, storage.NewStore(db, a.slog()), nil
}

// rng returns a PCG source keyed by seed, or a randomly keyed one for 0.
func rng(seed uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, 0))
}

// splitNames turns "add,x1 x1" style arguments into token names. Every name
// must be a well-formed identifier; lookup against the library comes later.
func splitNames(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		out = append(out, strings.FieldsFunc(arg, func(r rune) bool {
			return r == ',' || unicode.IsSpace(r)
		})...)
	}
	if err := validation.ValidateTokenNames(out); err != nil {
		return nil, fmt.Errorf("%w: %w", library.ErrUnknownToken, err)
	}
	return out, nil
}

func constraintTypes(cfg prior.Config) []string {
	out := make([]string, len(cfg.Constraints))
	for i, c := range cfg.Constraints {
		out[i] = c.Type
	}
	return out
}

func tokenName(lib *library.Library, id int) string {
	if id < 0 {
		return "-"
	}
	return lib.Name(id)
}
