package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/common"
	"github.com/ternarybob/formrunner/internal/interfaces"
	"github.com/ternarybob/formrunner/internal/services/forms"
	"github.com/ternarybob/formrunner/internal/storage"
)

var (
	importBatch   string
	importReplace bool
	importForm    string
)

var importCmd = &cobra.Command{
	Use:   "import FILE...",
	Short: "Import records from JSON or YAML files",
	Long: `Loads records into the record store. Each file holds a list of objects; the keys
id, batch_id, row_number and result_id are reserved, every other key becomes a form
field value.

With --batch, the imported records are checked against the form definition and every
attachment field naming a missing file is reported.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importBatch, "batch", "", "Batch id assigned to every imported record (overrides batch_id in the file)")
	importCmd.Flags().BoolVar(&importReplace, "replace", false, "Delete the existing records of --batch before importing")
	importCmd.Flags().StringVar(&importForm, "form", "", "Form definition used to check attachment paths (default: batch.default_form)")
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}
	if importReplace && importBatch == "" {
		return fmt.Errorf("--replace requires --batch")
	}

	logger = common.InitLogger(config)

	storageManager, err := storage.NewStorageManager(logger, config)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer storageManager.Close()

	ctx := cmd.Context()

	if importReplace {
		deleted, err := storageManager.RecordStorage().DeleteBatch(ctx, importBatch)
		if err != nil {
			return fmt.Errorf("failed to clear batch %s: %w", importBatch, err)
		}
		logger.Info().Str("batch_id", importBatch).Int("deleted", deleted).Msg("Existing batch records removed")
	}

	total := 0
	for _, path := range args {
		count, err := storageManager.LoadRecordsFromFile(ctx, path, importBatch)
		if err != nil {
			return fmt.Errorf("failed to import %s: %w", path, err)
		}
		total += count
	}

	logger.Info().Int("records", total).Int("files", len(args)).Msg("Import complete")
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d records from %d files\n", total, len(args))

	if importBatch != "" {
		missing := checkBatchAttachments(cmd, storageManager, logger)
		if missing > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Warning: %d attachment files not found (see log)\n", missing)
		}
	}

	if stats, err := storageManager.RecordStats(); err == nil {
		logger.Info().Int("records", stats.Records).Int("pending", stats.Pending).Msg("Record store totals")
	}
	return nil
}

// checkBatchAttachments warns about attachment paths of the imported batch that do
// not exist and returns how many were found. A missing form definition only skips
// the check.
func checkBatchAttachments(cmd *cobra.Command, storageManager interfaces.StorageManager, logger arbor.ILogger) int {
	formName := importForm
	if formName == "" {
		formName = config.Batch.DefaultForm
	}

	formService := forms.NewService(logger)
	if _, err := formService.LoadFromDir(config.Forms.DefinitionsDir); err != nil {
		logger.Warn().Err(err).Msg("Failed to load form definitions - attachment check skipped")
		return 0
	}
	def, err := formService.Get(formName)
	if err != nil {
		logger.Debug().Err(err).Str("form", formName).Msg("Attachment check skipped")
		return 0
	}

	records, err := storageManager.RecordStorage().FindByBatch(cmd.Context(), importBatch)
	if err != nil {
		logger.Warn().Err(err).Str("batch_id", importBatch).Msg("Failed to read batch - attachment check skipped")
		return 0
	}

	missing := forms.CheckAttachments(def, records)
	for _, m := range missing {
		logger.Warn().
			Str("batch_id", importBatch).
			Str("record_id", m.RecordID).
			Int("row", m.RowNumber).
			Str("field", m.Field).
			Str("path", m.Path).
			Str("reason", m.Reason).
			Msg("Attachment file not found")
	}
	return len(missing)
}
