// Package export writes distillation corpora to Parquet for offline
// analysis and training pipelines.
package export

import (
	"context"
	"encoding/json"
	"os"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/apache/arrow/go/v13/parquet"
	"github.com/apache/arrow/go/v13/parquet/pqarrow"

	"github.com/XiaoConstantine/engram-go/pkg/episodic"
	"github.com/XiaoConstantine/engram-go/pkg/errors"
	"github.com/XiaoConstantine/engram-go/pkg/store"
)

// corpusSchema is the flat column layout of an exported corpus. List
// fields are serialized as JSON text so any Parquet reader can consume
// the file without nested-type support.
var corpusSchema = arrow.NewSchema([]arrow.Field{
	{Name: "distillation_id", Type: arrow.BinaryTypes.String},
	{Name: "source", Type: arrow.BinaryTypes.String},
	{Name: "type", Type: arrow.BinaryTypes.String},
	{Name: "statement", Type: arrow.BinaryTypes.String},
	{Name: "refined_statement", Type: arrow.BinaryTypes.String},
	{Name: "archive_reason", Type: arrow.BinaryTypes.String},
	{Name: "domains", Type: arrow.BinaryTypes.String},
	{Name: "triggers", Type: arrow.BinaryTypes.String},
	{Name: "confidence", Type: arrow.PrimitiveTypes.Float64},
	{Name: "unified_score", Type: arrow.PrimitiveTypes.Float64},
	{Name: "suppressed", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "times_used", Type: arrow.PrimitiveTypes.Int64},
	{Name: "times_helped", Type: arrow.PrimitiveTypes.Int64},
	{Name: "created_at", Type: arrow.PrimitiveTypes.Int64},
}, nil)

// WriteCorpusParquet exports up to limit active distillations, best
// confidence first, followed by up to limit archived rows, to a
// Parquet file at path. It returns the number of rows written.
func WriteCorpusParquet(ctx context.Context, s *store.Store, path string, limit int) (int, error) {
	active, err := s.GetHighConfidenceDistillations(ctx, episodic.MinConfidence, limit)
	if err != nil {
		return 0, err
	}
	archived, err := s.GetArchivedDistillations(ctx, limit)
	if err != nil {
		return 0, err
	}

	builder := array.NewRecordBuilder(memory.DefaultAllocator, corpusSchema)
	defer builder.Release()

	for _, d := range active {
		appendRow(builder, d, "active")
	}
	for _, d := range archived {
		appendRow(builder, d, "archive")
	}

	record := builder.NewRecord()
	defer record.Release()
	table := array.NewTableFromRecords(corpusSchema, []arrow.Record{record})
	defer table.Release()

	f, err := os.Create(path)
	if err != nil {
		return 0, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to create export file"),
			errors.Fields{"path": path},
		)
	}
	defer f.Close()

	chunkSize := table.NumRows()
	if chunkSize == 0 {
		chunkSize = 1
	}
	if err := pqarrow.WriteTable(table, f, chunkSize, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps()); err != nil {
		return 0, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to write parquet table"),
			errors.Fields{"path": path},
		)
	}
	return len(active) + len(archived), nil
}

func appendRow(builder *array.RecordBuilder, d *episodic.Distillation, source string) {
	builder.Field(0).(*array.StringBuilder).Append(d.DistillationID)
	builder.Field(1).(*array.StringBuilder).Append(source)
	builder.Field(2).(*array.StringBuilder).Append(string(d.Type))
	builder.Field(3).(*array.StringBuilder).Append(d.Statement)
	builder.Field(4).(*array.StringBuilder).Append(d.RefinedStatement)
	builder.Field(5).(*array.StringBuilder).Append(d.ArchiveReason)
	builder.Field(6).(*array.StringBuilder).Append(jsonList(d.Domains))
	builder.Field(7).(*array.StringBuilder).Append(jsonList(d.Triggers))
	builder.Field(8).(*array.Float64Builder).Append(d.Confidence)
	unified, suppressed := 0.0, false
	if d.AdvisoryQuality != nil {
		unified = d.AdvisoryQuality.UnifiedScore
		suppressed = d.AdvisoryQuality.Suppressed
	}
	builder.Field(9).(*array.Float64Builder).Append(unified)
	builder.Field(10).(*array.BooleanBuilder).Append(suppressed)
	builder.Field(11).(*array.Int64Builder).Append(int64(d.TimesUsed))
	builder.Field(12).(*array.Int64Builder).Append(int64(d.TimesHelped))
	builder.Field(13).(*array.Int64Builder).Append(d.CreatedAt.UnixNano())
}

func jsonList(list []string) string {
	data, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(data)
}
