package lake

import (
	"bytes"
	"encoding/json"
	"fmt"

	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/hoops-edge/cbbd-lakehouse/internal/normalize"
)

// EncodeParquet serializes rows into a single SNAPPY-compressed parquet
// object with every column optional
func EncodeParquet(columns []normalize.Column, rows []map[string]any) ([]byte, error) {
	buf := &bytes.Buffer{}
	pfw := writerfile.NewWriterFile(buf)

	schemaDef, err := buildParquetSchema(columns)
	if err != nil {
		return nil, err
	}

	pw, err := writer.NewJSONWriter(schemaDef, pfw, 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i, row := range rows {
		encoded, err := json.Marshal(row)
		if err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("failed to encode row %d: %w", i, err)
		}
		if err := pw.Write(string(encoded)); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finish parquet file: %w", err)
	}
	if err := pfw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close parquet buffer: %w", err)
	}
	return buf.Bytes(), nil
}

func buildParquetSchema(columns []normalize.Column) (string, error) {
	fields := make([]map[string]string, 0, len(columns))
	for _, col := range columns {
		fields = append(fields, map[string]string{
			"Tag": fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", col.Name, parquetFieldType(col.Type)),
		})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to build parquet schema: %w", err)
	}
	return string(raw), nil
}

// parquetFieldType maps a logical type to the parquet tag fragment
func parquetFieldType(logical normalize.LogicalType) string {
	switch logical {
	case normalize.TypeBigint:
		return "type=INT64"
	case normalize.TypeInt:
		return "type=INT32"
	case normalize.TypeDouble:
		return "type=DOUBLE"
	case normalize.TypeBoolean:
		return "type=BOOLEAN"
	case normalize.TypeTimestamp:
		return "type=INT64, convertedtype=TIMESTAMP_MILLIS"
	default:
		return "type=BYTE_ARRAY, convertedtype=UTF8"
	}
}
