package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/spatialdb/internal/feature"
	"github.com/sells-group/spatialdb/internal/predicate"
)

var queryCmd = &cobra.Command{
	Use:   "query <relation> <file.geojson>",
	Short: "List the indexed features standing in a relation to a query geometry",
	Long: `Prints the ids of every indexed feature g for which "query RELATION g" holds.

Relations: contains, coveredby, covers, crosses, disjoint, equals,
intersects, overlaps, touches, within.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rel, err := predicate.ParseRelation(args[0])
		if err != nil {
			return err
		}
		data, err := readInput(args[1])
		if err != nil {
			return err
		}
		q, err := feature.ParseGeometry(data)
		if err != nil {
			return err
		}

		s, err := openSession(ctx, "cli")
		if err != nil {
			return err
		}
		defer s.Close()

		ids, err := s.db.Query(ctx, rel, q)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, map[string][]string{"ids": ids})
	},
}

var verifyRebuild bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare the index with a rebuild from the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		s, err := openSession(ctx, "cli")
		if err != nil {
			return err
		}
		defer s.Close()

		if verifyRebuild {
			if err := s.db.Rebuild(ctx); err != nil {
				return err
			}
		}
		report, err := s.db.Verify(ctx)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, report)
	},
}

func init() {
	queryCmd.Flags().StringVarP(&outputFormat, "output", "o", "json", "output format: json or yaml")
	verifyCmd.Flags().StringVarP(&outputFormat, "output", "o", "json", "output format: json or yaml")
	verifyCmd.Flags().BoolVar(&verifyRebuild, "rebuild", false, "rebuild the index before verifying")
	rootCmd.AddCommand(queryCmd, verifyCmd)
}
