package system

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/julianstephens/streakly/internal/cli"
	"github.com/julianstephens/streakly/internal/storage/sqlite"
)

type InitCmd struct {
	Force  bool   `help:"Force reset by deleting the existing local store before initialization."`
	Source string `help:"Path of another streakly database to import local data from." type:"path"`
}

func (c *InitCmd) Run(ctx *cli.Context) error {
	dbPath := ctx.Local.GetConfigPath()

	if c.Source != "" && samePath(c.Source, dbPath) {
		return fmt.Errorf("source and destination are the same: %s", dbPath)
	}

	if c.Force {
		if _, err := os.Stat(dbPath); err == nil {
			if err := ctx.Local.Close(); err != nil {
				return fmt.Errorf("failed to close existing database: %w", err)
			}
			if err := os.Remove(dbPath); err != nil {
				return fmt.Errorf("failed to delete existing database: %w", err)
			}
			ctx.Printf("Deleted existing database at: %s\n", dbPath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to access existing database: %w", err)
		}
	}

	if err := ctx.Local.Init(ctx.Ctx); err != nil {
		return err
	}
	ctx.Printf("Initialized streakly storage at: %s\n", dbPath)

	if c.Source != "" {
		ctx.Printf("Importing data from: %s\n", c.Source)
		n, err := c.importFrom(ctx)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		ctx.Printf("Imported %d keys\n", n)
	}

	return ctx.Start()
}

// importFrom copies every key of the source store verbatim.
func (c *InitCmd) importFrom(ctx *cli.Context) (int, error) {
	source := sqlite.NewStore(c.Source)
	if err := source.Load(ctx.Ctx); err != nil {
		return 0, fmt.Errorf("failed to load source database: %w", err)
	}
	defer source.Close()

	keys, err := source.Keys(ctx.Ctx, "")
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		var raw json.RawMessage
		if _, err := source.Get(ctx.Ctx, key, &raw); err != nil {
			return 0, fmt.Errorf("failed to read %s: %w", key, err)
		}
		if err := ctx.Local.Set(ctx.Ctx, key, raw); err != nil {
			return 0, fmt.Errorf("failed to write %s: %w", key, err)
		}
	}
	return len(keys), nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
