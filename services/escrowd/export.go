package escrowd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetAuditRow struct {
	ID         string `parquet:"name=id, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Seq        int64  `parquet:"name=seq, type=INT64"`
	Type       string `parquet:"name=type, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Attributes string `parquet:"name=attributes, type=UTF8, encoding=PLAIN"`
	PrevHash   string `parquet:"name=prev_hash, type=UTF8, encoding=PLAIN"`
	Hash       string `parquet:"name=hash, type=UTF8, encoding=PLAIN"`
	CreatedAt  int64  `parquet:"name=created_at, type=TIMESTAMP_MILLIS"`
}

// ExportParquet writes every audit row with Seq greater than after to a
// snappy-compressed parquet file at path and returns the row count.
func (s *AuditStore) ExportParquet(ctx context.Context, path string, after uint64) (int, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("audit: export dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("audit: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetAuditRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	written := 0
	for {
		rows, err := s.List(ctx, after, 500)
		if err != nil {
			pw.WriteStop()
			file.Close()
			s.metrics.IncFailure("export")
			return written, err
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			pr := &parquetAuditRow{
				ID:         row.ID,
				Seq:        int64(row.Seq),
				Type:       row.Type,
				Attributes: row.Attributes,
				PrevHash:   row.PrevHash,
				Hash:       row.Hash,
				CreatedAt:  row.CreatedAt.UnixMilli(),
			}
			if err := pw.Write(pr); err != nil {
				pw.WriteStop()
				file.Close()
				s.metrics.IncFailure("export")
				return written, fmt.Errorf("audit: parquet write: %w", err)
			}
			after = row.Seq
			written++
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return written, fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return written, fmt.Errorf("audit: close parquet file: %w", err)
	}
	s.metrics.AddExported(written)
	return written, nil
}
