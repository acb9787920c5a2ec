package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/keypanel/internal/application"
)

func importCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Add keys from a YAML file (keys: [...]) or a newline-delimited text file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read key file: %w", err)
			}
			values, err := parseKeyFile(args[0], data)
			if err != nil {
				return err
			}
			if len(values) == 0 {
				return fmt.Errorf("no keys found in %s", args[0])
			}

			cfg, err := loadConfig(rf.ConfigPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, keyStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)

			batch := application.NewBatchService(application.NewKeyService(keyStore))
			result := batch.BatchAdd(ctx, values)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, result.Message)
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  %s: %s\n", e.Value, e.Error)
			}
			return nil
		},
	}
}

// keyFile is the YAML import format.
type keyFile struct {
	Keys []string `yaml:"keys"`
}

// parseKeyFile reads keys from a YAML document when name has a YAML
// extension, otherwise one key per line. Blank lines and lines starting with
// # are ignored.
func parseKeyFile(name string, data []byte) ([]string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		var kf keyFile
		if err := yaml.Unmarshal(data, &kf); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		return compact(kf.Keys), nil
	}

	var values []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		values = append(values, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return compact(values), nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || strings.HasPrefix(v, "#") {
			continue
		}
		out = append(out, v)
	}
	return out
}
