package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/spatialdb/internal/docstore"
	"github.com/sells-group/spatialdb/internal/feature"
)

var (
	outputFormat string
	keepRevs     bool
)

// bulkRow is the printable form of a docstore.BulkResult.
type bulkRow struct {
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
	Rev   string `json:"rev,omitempty" yaml:"rev,omitempty"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

func bulkRows(results []docstore.BulkResult) ([]bulkRow, int) {
	rows := make([]bulkRow, len(results))
	failed := 0
	for i, r := range results {
		rows[i] = bulkRow{ID: r.ID, Rev: r.Rev}
		if r.Err != nil {
			rows[i].Error = r.Err.Error()
			failed++
		}
	}
	return rows, failed
}

var addCmd = &cobra.Command{
	Use:   "add <file.geojson>",
	Short: "Store and index one GeoJSON feature, collection or geometry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := readInput(args[0])
		if err != nil {
			return err
		}
		f, err := feature.Parse(data)
		if err != nil {
			return err
		}

		s, err := openSession(ctx, "cli")
		if err != nil {
			return err
		}
		defer s.Close()

		res, err := s.db.Add(ctx, f, docstore.WriteOptions{KeepRevs: keepRevs})
		if err != nil {
			return eris.Wrap(err, "add")
		}
		zap.L().Info("feature added", zap.String("id", res.ID), zap.String("rev", res.Rev))
		return printResult(cmd.OutOrStdout(), outputFormat, bulkRow{ID: res.ID, Rev: res.Rev})
	},
}

var loadCmd = &cobra.Command{
	Use:   "load <file.json>",
	Short: "Bulk-load a JSON array of GeoJSON objects",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := readInput(args[0])
		if err != nil {
			return err
		}
		fs, err := feature.ParseMany(data)
		if err != nil {
			return err
		}

		s, err := openSession(ctx, "cli")
		if err != nil {
			return err
		}
		defer s.Close()

		results, err := s.db.Load(ctx, fs, docstore.WriteOptions{KeepRevs: keepRevs})
		if err != nil {
			return eris.Wrap(err, "load")
		}
		rows, failed := bulkRows(results)
		zap.L().Info("load complete", zap.Int("written", len(rows)-failed), zap.Int("failed", failed))
		return printResult(cmd.OutOrStdout(), outputFormat, rows)
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <id> [id...]",
	Short: "Delete documents and drop their index entries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openSession(ctx, "cli")
		if err != nil {
			return err
		}
		defer s.Close()

		if len(args) == 1 {
			res, err := s.db.Remove(ctx, args[0])
			if err != nil {
				return eris.Wrap(err, "remove")
			}
			return printResult(cmd.OutOrStdout(), outputFormat, bulkRow{ID: res.ID, Rev: res.Rev})
		}

		results, err := s.db.Unload(ctx, args)
		if err != nil {
			return eris.Wrap(err, "unload")
		}
		rows, failed := bulkRows(results)
		zap.L().Info("unload complete", zap.Int("removed", len(rows)-failed), zap.Int("failed", failed))
		return printResult(cmd.OutOrStdout(), outputFormat, rows)
	},
}

func init() {
	for _, c := range []*cobra.Command{addCmd, loadCmd, removeCmd} {
		c.Flags().StringVarP(&outputFormat, "output", "o", "json", "output format: json or yaml")
		rootCmd.AddCommand(c)
	}
	addCmd.Flags().BoolVar(&keepRevs, "keep-revs", false, "store the given _rev values as-is (replication)")
	loadCmd.Flags().BoolVar(&keepRevs, "keep-revs", false, "store the given _rev values as-is (replication)")
}
