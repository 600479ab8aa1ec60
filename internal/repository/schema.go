package repository

import (
	"context"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	batchesTable = "batches"
	filesTable   = "files"
)

var (
	// BatchesColumns holds the columns for the "batches" table.
	BatchesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "status", Type: field.TypeString, Size: 32, Default: "queued"},
		{Name: "created_at", Type: field.TypeTime},
	}
	// BatchesTable holds the schema information for the "batches" table.
	BatchesTable = &schema.Table{
		Name:       batchesTable,
		Columns:    BatchesColumns,
		PrimaryKey: []*schema.Column{BatchesColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "batch_status",
				Unique:  false,
				Columns: []*schema.Column{BatchesColumns[1]},
			},
		},
	}
	// FilesColumns holds the columns for the "files" table.
	FilesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "filename", Type: field.TypeString, Size: 255},
		{Name: "position", Type: field.TypeInt},
		{Name: "status", Type: field.TypeString, Size: 32, Default: "queued"},
		{Name: "payload", Type: field.TypeJSON, Nullable: true},
		{Name: "redacted_filename", Type: field.TypeString, Size: 255, Nullable: true},
		{Name: "error_message", Type: field.TypeString, Size: 2147483647, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "batch_id", Type: field.TypeUUID},
	}
	// FilesTable holds the schema information for the "files" table.
	FilesTable = &schema.Table{
		Name:       filesTable,
		Columns:    FilesColumns,
		PrimaryKey: []*schema.Column{FilesColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "files_batches_files",
				Columns:    []*schema.Column{FilesColumns[8]},
				RefColumns: []*schema.Column{BatchesColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{
				Name:    "file_batch_id_position",
				Unique:  true,
				Columns: []*schema.Column{FilesColumns[8], FilesColumns[2]},
			},
		},
	}
	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		BatchesTable,
		FilesTable,
	}
)

func init() {
	FilesTable.ForeignKeys[0].RefTable = BatchesTable
}

// Migrate creates or updates the Record Store tables.
func Migrate(ctx context.Context, drv *entsql.Driver, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	m, err := schema.NewMigrate(drv)
	if err != nil {
		logger.Error("failed to init migration", "error", err)
		return err
	}
	if err := m.Create(ctx, Tables...); err != nil {
		logger.Error("schema migration failed", "error", err)
		return err
	}
	logger.Info("schema migration complete", "tables", len(Tables))
	return nil
}
