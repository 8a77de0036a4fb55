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
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/exprprior/pkg/ux"
	"github.com/AleutianAI/exprprior/services/prior"
	"github.com/AleutianAI/exprprior/services/prior/constraints"
	"github.com/AleutianAI/exprprior/services/prior/library"
	"github.com/AleutianAI/exprprior/services/prior/mask"
	"github.com/AleutianAI/exprprior/services/prior/program"
)

var maskHeaders = []string{"step", "parent", "sibling", "dangling", "admissible", "forbidden", "chosen"}

func newMaskCmd(a *app) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "mask [token...]",
		Short: "Show the joint mask at every step of a prefix",
		Long: `mask walks a prefix-order token sequence and prints, for every step, the
slot being filled and the tokens the joint prior forbids there. The chosen
column marks tokens the prior would not have allowed.

Tokens may be separated by spaces or commas:

  exprprior mask sin exp x1
  exprprior mask add,x1,sin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := ux.NewPrinter(cmd.OutOrStdout())
			if plain {
				p = ux.NewPlainPrinter(cmd.OutOrStdout())
			}
			names, err := splitNames(args)
			if err != nil {
				return err
			}
			return a.runMask(p, names)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "tab-separated output")
	return cmd
}

func (a *app) runMask(p *ux.Printer, names []string) error {
	lib, jp, err := a.cfg.Build(prior.WithLogger(a.slog()))
	if err != nil {
		return err
	}
	rows, violations, err := maskTable(lib, jp, names)
	if err != nil {
		return err
	}

	p.Title(fmt.Sprintf("%s  (%s)", strings.Join(names, " "), strings.Join(jp.Names(), ", ")))
	p.Table(maskHeaders, rows)
	switch {
	case violations > 0:
		p.Warning(fmt.Sprintf("%d chosen token(s) forbidden by the prior", violations))
	case len(names) > 0:
		p.Success("every chosen token is admissible")
	}
	return nil
}

// maskTable computes one row per step of names, plus a trailing row for the
// next slot when names is an unfinished prefix.
func maskTable(lib *library.Library, jp *prior.JointPrior, names []string) ([][]string, int, error) {
	ids, err := lib.Actionize(names)
	if err != nil {
		return nil, 0, err
	}

	state := program.NewRowState(lib)
	var rows [][]string
	violations := 0
	for i := 0; i <= len(ids); i++ {
		if i > 0 && state.Done() {
			if i < len(ids) {
				return nil, 0, fmt.Errorf("%w: expression is complete after %d tokens", program.ErrInvariant, i)
			}
			break
		}

		var v mask.Vector
		if i == 0 {
			v, err = jp.InitialMask()
		} else {
			v, err = jp.StepRow(constraints.Step{
				Actions:  state.Actions(),
				Parent:   state.AdjustedParent(),
				Sibling:  state.SiblingInput(),
				Dangling: state.Dangling(),
			})
		}
		if err != nil {
			return nil, 0, fmt.Errorf("step %d: %w", i, err)
		}

		forbidden := v.Forbidden()
		chosen := "-"
		if i < len(ids) {
			chosen = lib.Name(ids[i])
			if slices.Contains(forbidden, ids[i]) {
				chosen += " (forbidden)"
				violations++
			}
		}
		rows = append(rows, []string{
			strconv.Itoa(i),
			tokenName(lib, state.Parent()),
			tokenName(lib, state.Sibling()),
			strconv.Itoa(state.Dangling()),
			strconv.Itoa(len(v.Admissible())),
			strings.Join(lib.Names(forbidden), " "),
			chosen,
		})

		if i < len(ids) {
			if err := state.Append(ids[i]); err != nil {
				return nil, 0, err
			}
		}
	}
	return rows, violations, nil
}
