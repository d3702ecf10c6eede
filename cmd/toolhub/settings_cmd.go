package main

import (
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/ChamsBouzaiene/toolhub/internal/settings"
)

// SettingsCmd reads and writes the persisted settings.
type SettingsCmd struct {
	Delete bool `short:"d" long:"delete" description:"Delete the setting"`
	Args   struct {
		Key   string `positional-arg-name:"key"`
		Value string `positional-arg-name:"value"`
	} `positional-args:"yes"`
}

func (c *SettingsCmd) Execute(args []string) error {
	if err := cli.open(); err != nil {
		return err
	}
	s, key, value := cli.settings, c.Args.Key, c.Args.Value

	switch {
	case key == "":
		all, err := s.All(cli.ctx)
		if err != nil {
			return err
		}
		keys := settings.Known()
		for k := range all {
			if !slices.Contains(keys, k) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, ok := all[k]
			if !ok {
				v = "(unset)"
			}
			fmt.Fprintf(os.Stdout, "%s = %s\n", k, v)
		}
		return nil
	case c.Delete:
		return s.Delete(cli.ctx, key)
	case value == "":
		v, ok, err := s.Get(cli.ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("setting %s is not set", key)
		}
		fmt.Fprintln(os.Stdout, v)
		return nil
	default:
		return s.Set(cli.ctx, key, value)
	}
}
