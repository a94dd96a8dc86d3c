package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jellynash/bingo/internal/fileutil"
)

// VerifyCmd re-derives a game's deck and checks every stored draw and card.
type VerifyCmd struct {
	Game string `required:"" help:"Game id"`
	Out  string `help:"Write the JSON report to this file instead of stdout" type:"path"`
}

func (c *VerifyCmd) Run(g *Globals) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx, g)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	report, err := rt.service.Verify(ctx, c.Game)
	if err != nil {
		return err
	}
	if c.Out != "" {
		if err := fileutil.WriteJSON(c.Out, report, 0o644); err != nil {
			return err
		}
		rt.logger.Info("Wrote verification report", "path", c.Out)
	} else {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	}

	if !report.OK() {
		return fmt.Errorf("game %s failed verification with %d mismatches", c.Game, len(report.Mismatches))
	}
	rt.logger.Info("Game verified", "game", c.Game, "draws", report.Draws, "cards", report.Cards)
	return nil
}
