package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/spatialdb/internal/docstore"
	"github.com/sells-group/spatialdb/internal/shapefile"
)

var (
	importEncoding  string
	importIDField   string
	importBatchSize int
)

var importCmd = &cobra.Command{
	Use:   "import <file.shp>",
	Short: "Bulk-load the records of an ESRI shapefile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if importBatchSize < 1 {
			return eris.New("--batch-size must be >= 1")
		}
		encoding := importEncoding
		if encoding == "" {
			encoding = cfg.Import.Encoding
		}

		fs, err := shapefile.Read(args[0], shapefile.Options{Encoding: encoding, IDField: importIDField})
		if err != nil {
			return err
		}

		s, err := openSession(ctx, "cli")
		if err != nil {
			return err
		}
		defer s.Close()

		var written, failed int
		for start := 0; start < len(fs); start += importBatchSize {
			end := min(start+importBatchSize, len(fs))
			results, err := s.db.Load(ctx, fs[start:end], docstore.WriteOptions{})
			if err != nil {
				return eris.Wrapf(err, "import batch at record %d", start)
			}
			rows, n := bulkRows(results)
			written += len(rows) - n
			failed += n
			for _, r := range rows {
				if r.Error != "" {
					zap.L().Warn("record not imported", zap.String("id", r.ID), zap.String("error", r.Error))
				}
			}
		}

		zap.L().Info("import complete",
			zap.String("shapefile", args[0]),
			zap.Int("written", written),
			zap.Int("failed", failed),
		)
		return printResult(cmd.OutOrStdout(), outputFormat, map[string]int{"written": written, "failed": failed})
	},
}

func init() {
	importCmd.Flags().StringVar(&importEncoding, "encoding", "", "DBF attribute charset (default from config)")
	importCmd.Flags().StringVar(&importIDField, "id-field", "", "attribute to use as document id")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 1000, "features per bulk load")
	importCmd.Flags().StringVarP(&outputFormat, "output", "o", "json", "output format: json or yaml")
	rootCmd.AddCommand(importCmd)
}
