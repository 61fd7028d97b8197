package writer

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// PriceRow is one exported price history entry.
type PriceRow struct {
	BatchID     string  `parquet:"name=batch_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ProductID   string  `parquet:"name=product_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ProductName string  `parquet:"name=product_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Category    string  `parquet:"name=category, type=BYTE_ARRAY, convertedtype=UTF8"`
	ShopID      string  `parquet:"name=shop_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ShopName    string  `parquet:"name=shop_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Date        string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	ObservedAt  int64   `parquet:"name=observed_at, type=INT64"`
	Price       float64 `parquet:"name=price, type=DOUBLE"`
	Current     float64 `parquet:"name=current, type=DOUBLE"`
	Lowest      float64 `parquet:"name=lowest, type=DOUBLE"`
	Highest     float64 `parquet:"name=highest, type=DOUBLE"`
	Trend       string  `parquet:"name=trend, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExportedAt  int64   `parquet:"name=exported_at, type=INT64"`
}

// memoryFileWriter implements ParquetFile interface for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{
		buffer: &bytes.Buffer{},
	}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

// Seek only reports the current size; the writer never seeks backwards.
func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

func compressionCodec(name string) parquet.CompressionCodec {
	switch name {
	case "snappy", "":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// encodeParquet writes rows into an in-memory parquet file.
func encodeParquet(rows []PriceRow, compression string) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(PriceRow), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}
