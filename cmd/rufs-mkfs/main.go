// Command rufs-mkfs creates and formats a new rufs disk image.
package main

import (
	_ "embed"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/urfave/cli/v2"

	"github.com/rufs-go/rufs/block"
	"github.com/rufs-go/rufs/fs"
)

// Profile is one named disk-size preset a new image can be created with,
// loaded from the embedded profiles.csv.
type Profile struct {
	Name        string `csv:"name"`
	Slug        string `csv:"slug"`
	Description string `csv:"description"`
	TotalBlocks uint32 `csv:"total_blocks"`
}

//go:embed profiles.csv
var profilesCSV string

var profiles map[string]Profile

func init() {
	profiles = make(map[string]Profile)
	reader := strings.NewReader(profilesCSV)
	err := gocsv.UnmarshalToCallback(reader, func(p Profile) error {
		if _, exists := profiles[p.Slug]; exists {
			return fmt.Errorf("duplicate profile slug %q", p.Slug)
		}
		profiles[p.Slug] = p
		return nil
	})
	if err != nil && err != io.EOF {
		panic(err)
	}
}

func lookupProfile(slug string) (Profile, error) {
	p, ok := profiles[slug]
	if !ok {
		return Profile{}, fmt.Errorf("no predefined disk profile exists with slug %q", slug)
	}
	return p, nil
}

func main() {
	app := &cli.App{
		Name:      "rufs-mkfs",
		Usage:     "Create and format a new rufs disk image",
		ArgsUsage: "DISKFILE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "profile",
				Value: "default",
				Usage: "named disk size preset (see profiles.csv)",
			},
		},
		Action: formatImage,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("rufs-mkfs: %s", err)
	}
}

func formatImage(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return cli.Exit("expected exactly one DISKFILE argument", 1)
	}
	path := ctx.Args().Get(0)

	profile, err := lookupProfile(ctx.String("profile"))
	if err != nil {
		return err
	}

	dev, err := block.Create(path, profile.TotalBlocks)
	if err != nil {
		return err
	}

	fsys, err := fs.Format(dev)
	if err != nil {
		return err
	}
	defer fsys.Close()

	log.Printf("formatted %s with profile %q (%d blocks)", path, profile.Slug, profile.TotalBlocks)
	return nil
}
