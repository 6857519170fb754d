package db

import (
	"errors"

	"github.com/urfave/cli/v2"

	dbpkg "github.com/dtnitsch/kanstar-preload/pkg/db"
)

// OpenFromFlag opens the --db path, or the default database next to the binary.
func OpenFromFlag(c *cli.Context) (*dbpkg.DB, error) {
	if path := c.String("db"); path != "" {
		return dbpkg.OpenPath(path)
	}
	return dbpkg.Open()
}

// GetRunIDOrLatest returns the run ID from args, or the latest run if not provided
func GetRunIDOrLatest(c *cli.Context, database *dbpkg.DB) (string, error) {
	if c.NArg() > 0 {
		return c.Args().First(), nil
	}

	id, err := database.LatestRunID()
	if errors.Is(err, dbpkg.ErrRunNotFound) {
		return "", errors.New("no runs found. Run 'kanstar preload --manifest assets.yaml' first")
	}
	return id, err
}
