package exports

import (
	"fmt"
	"io"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"cdpchain/native/cdp"
)

type troveRow struct {
	Index   int64   `parquet:"name=index, type=INT64"`
	Owner   string  `parquet:"name=owner, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status  string  `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Coll    string  `parquet:"name=coll, type=BYTE_ARRAY, convertedtype=UTF8"`
	Debt    string  `parquet:"name=debt, type=BYTE_ARRAY, convertedtype=UTF8"`
	Stake   string  `parquet:"name=stake, type=BYTE_ARRAY, convertedtype=UTF8"`
	NICR    string  `parquet:"name=nicr, type=BYTE_ARRAY, convertedtype=UTF8"`
	ICR     string  `parquet:"name=icr, type=BYTE_ARRAY, convertedtype=UTF8"`
	ICRApx  float64 `parquet:"name=icr_approx, type=DOUBLE"`
	TakenAt string  `parquet:"name=taken_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteTrovesParquet streams the troves to w as a single Snappy compressed
// Parquet file. Exact amounts are kept as decimal strings next to a float
// ICR for quick filtering.
func WriteTrovesParquet(w io.Writer, troves []cdp.TroveView, takenAt time.Time) error {
	fw := writerfile.NewWriterFile(w)
	pw, err := writer.NewParquetWriter(fw, new(troveRow), 1)
	if err != nil {
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	stamp := stampOf(takenAt)
	for i, tr := range troves {
		row := &troveRow{
			Index:   int64(i),
			Owner:   tr.Owner.Hex(),
			Status:  tr.Status.String(),
			Coll:    cdp.FormatDecimal(tr.Coll),
			Debt:    cdp.FormatDecimal(tr.Debt),
			Stake:   cdp.FormatDecimal(tr.Stake),
			NICR:    cdp.FormatDecimal(tr.NICR),
			ICR:     cdp.FormatDecimal(tr.ICR),
			ICRApx:  cdp.ToFloat(tr.ICR),
			TakenAt: stamp,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("exports: parquet flush: %w", err)
	}
	return nil
}
