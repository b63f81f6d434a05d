// Command camelstore-tool is a small administration utility over a store
// database: list folders and messages, run a search expression, and
// inspect/convert vCards.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/camelmail/camelstore/framework/log"
	"github.com/camelmail/camelstore/search"
	"github.com/camelmail/camelstore/store"
	"github.com/camelmail/camelstore/vcard"
)

// toolErrOut counts errors logged during a batch command (e.g. "folders"
// skipping an unreadable folder record and continuing) so main can return
// a non-zero exit status even when the command itself returns nil.
var toolErrOut = log.NewCountingOutput(log.WriterOutput(os.Stderr, false))

var toolLogger = log.Logger{Out: toolErrOut, Name: "camelstore-tool"}

func openStore(ctx *cli.Context) (*store.Store, error) {
	path := ctx.String("db")
	if path == "" {
		return nil, cli.Exit("Error: --db is required", 2)
	}
	return store.Open(path, store.Config{Log: toolLogger})
}

func main() {
	app := cli.NewApp()
	app.Name = "camelstore-tool"
	app.Usage = "camelstore database inspection utility"
	app.Flags = []cli.Flag{
		&cli.PathFlag{
			Name:    "db",
			Usage:   "Path to the store database file",
			EnvVars: []string{"CAMELSTORE_DB"},
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:  "folders",
			Usage: "List folders in the store",
			Action: func(ctx *cli.Context) error {
				st, err := openStore(ctx)
				if err != nil {
					return err
				}
				defer st.Close()
				return foldersList(ctx.Context, st)
			},
		},
		{
			Name:      "messages",
			Usage:     "List messages in a folder",
			ArgsUsage: "FOLDER",
			Action: func(ctx *cli.Context) error {
				st, err := openStore(ctx)
				if err != nil {
					return err
				}
				defer st.Close()
				if ctx.NArg() < 1 {
					return cli.Exit("Error: FOLDER is required", 2)
				}
				return messagesList(ctx.Context, st, ctx.Args().Get(0))
			},
		},
		{
			Name:      "search",
			Usage:     "Evaluate a search expression against one or more folders",
			ArgsUsage: "EXPR FOLDER...",
			Action: func(ctx *cli.Context) error {
				st, err := openStore(ctx)
				if err != nil {
					return err
				}
				defer st.Close()
				if ctx.NArg() < 2 {
					return cli.Exit("Error: EXPR and at least one FOLDER are required", 2)
				}
				return searchRun(ctx.Context, st, ctx.Args().Get(0), ctx.Args().Slice()[1:])
			},
		},
		{
			Name:  "vcard",
			Usage: "vCard inspection and conversion",
			Subcommands: []*cli.Command{
				{
					Name:      "dump",
					Usage:     "Parse a vCard file and print its attributes",
					ArgsUsage: "FILE",
					Action: func(ctx *cli.Context) error {
						if ctx.NArg() < 1 {
							return cli.Exit("Error: FILE is required", 2)
						}
						return vcardDump(ctx.Args().Get(0))
					},
				},
				{
					Name:      "convert",
					Usage:     "Convert a vCard file to a target version",
					ArgsUsage: "FILE VERSION",
					Description: "VERSION is one of 2.1, 3.0, 4.0",
					Action: func(ctx *cli.Context) error {
						if ctx.NArg() < 2 {
							return cli.Exit("Error: FILE and VERSION are required", 2)
						}
						return vcardConvert(ctx.Args().Get(0), ctx.Args().Get(1))
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if toolErrOut.Count() > 0 {
		os.Exit(1)
	}
}

func foldersList(ctx context.Context, st *store.Store) error {
	names, err := st.ListFolders(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		rec, err := st.ReadFolder(ctx, name)
		if err != nil {
			toolLogger.Error("read folder", err, "folder", name)
			continue
		}
		fmt.Printf("%s\t%d messages\t%d unread\n", rec.Name, rec.SavedCount, rec.UnreadCount)
	}
	return nil
}

func messagesList(ctx context.Context, st *store.Store, folder string) error {
	return st.ReadMessages(ctx, folder, func(m store.MessageRecord) error {
		fmt.Printf("%s\t%s\t%s\n", m.UID, m.From, m.Subject)
		return nil
	})
}

func searchRun(ctx context.Context, st *store.Store, expr string, folders []string) error {
	ss := search.NewStoreSearch(st)
	if err := ss.SetExpression(expr); err != nil {
		return err
	}
	for _, name := range folders {
		ss.AddFolder(name, search.DefaultFolderOps(st, name))
	}
	if err := ss.Rebuild(ctx); err != nil {
		return err
	}
	items, err := ss.GetItems()
	if err != nil {
		return err
	}
	for _, it := range items {
		fmt.Printf("%s\t%s\n", it.FolderName, it.UID)
	}
	return nil
}

func vcardDump(path string) error {
	text, err := readFile(path)
	if err != nil {
		return err
	}
	v := vcard.Parse(text)
	fmt.Printf("version: %s\n", v.Version())
	for _, a := range v.Attributes {
		fmt.Printf("%s%s = %v\n", groupPrefix(a.Group), a.Name, a.Values)
	}
	return nil
}

func vcardConvert(path, versionArg string) error {
	text, err := readFile(path)
	if err != nil {
		return err
	}
	to := parseVersionArg(versionArg)
	if to == vcard.VersionUnknown {
		return cli.Exit(fmt.Sprintf("Error: unknown version %q", versionArg), 2)
	}
	v := vcard.Parse(text)
	converted := vcard.Convert(v, to)
	fmt.Print(vcard.Serialize(converted, to))
	return nil
}

func parseVersionArg(s string) vcard.CardVersion {
	switch s {
	case "2.1":
		return vcard.Version21
	case "3.0":
		return vcard.Version30
	case "4.0":
		return vcard.Version40
	default:
		return vcard.VersionUnknown
	}
}

func groupPrefix(group string) string {
	if group == "" {
		return ""
	}
	return group + "."
}

func readFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
