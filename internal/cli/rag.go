package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/chatlink/internal/rag"
	"github.com/xiaot623/gogo/chatlink/internal/render"
)

func newRagCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rag",
		Short: "Manage the knowledge base",
	}
	cmd.AddCommand(
		newRagHealthCmd(a),
		newRagStatsCmd(a),
		newRagPDFsCmd(a),
		newRagUploadCmd(a),
		newRagIngestCmd(a),
		newRagSearchCmd(a),
		newRagDeleteCmd(a),
	)
	return cmd
}

func newRagHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check knowledge-base dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.ragClient().Health(cmd.Context())
			if err != nil {
				return err
			}
			render.New(cmd.OutOrStdout()).Health(resp)
			if !resp.Healthy {
				return fmt.Errorf("knowledge base is unhealthy")
			}
			return nil
		},
	}
}

func newRagStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show collection statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.ragClient().Stats(cmd.Context())
			if err != nil {
				return err
			}
			render.New(cmd.OutOrStdout()).Stats(resp)
			return nil
		},
	}
}

func newRagPDFsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "pdfs",
		Aliases: []string{"ls"},
		Short:   "List uploaded PDFs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.ragClient().ListPDFs(cmd.Context())
			if err != nil {
				return err
			}
			render.New(cmd.OutOrStdout()).PDFs(resp)
			return nil
		},
	}
}

func newRagUploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file.pdf>",
		Short: "Upload a PDF into the knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.ragClient().UploadPDF(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			render.New(cmd.OutOrStdout()).Upload(resp)
			return nil
		},
	}
}

func newRagIngestCmd(a *app) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "ingest <text...>",
		Short: "Add a text document to the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return fmt.Errorf("document text cannot be empty")
			}
			req := &rag.DocumentIngestRequest{
				Documents: []string{text},
				Metadatas: []map[string]any{{"source": source}},
			}
			resp, err := a.ragClient().IngestDocuments(cmd.Context(), req)
			if err != nil {
				return err
			}
			render.New(cmd.OutOrStdout()).Ingest(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "cli", "source recorded in the document metadata")
	return cmd
}

func newRagSearchCmd(a *app) *cobra.Command {
	var limit int
	var threshold float64
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Run a similarity search",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return fmt.Errorf("query cannot be empty")
			}
			req := &rag.DocumentSearchRequest{Query: query, NResults: limit}
			if cmd.Flags().Changed("threshold") {
				req.SimilarityThreshold = &threshold
			}
			resp, err := a.ragClient().Search(cmd.Context(), req)
			if err != nil {
				return err
			}
			render.New(cmd.OutOrStdout()).SearchResults(resp)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "maximum number of results")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "drop results with a distance above this value")
	return cmd
}

func newRagDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.ragClient().DeleteDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			render.New(cmd.OutOrStdout()).Deleted(resp)
			return nil
		},
	}
}
