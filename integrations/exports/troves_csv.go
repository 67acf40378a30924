package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"time"

	"cdpchain/native/cdp"
)

var troveHeader = []string{"index", "owner", "status", "coll", "debt", "stake", "nicr", "icr", "taken_at"}

// TrovesCSV builds a CSV export of the supplied troves and returns the
// serialised data alongside a SHA-256 checksum of the payload. Amounts are
// rendered as 18-decimal strings.
func TrovesCSV(troves []cdp.TroveView, takenAt time.Time) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(troveHeader); err != nil {
		return nil, "", err
	}
	stamp := stampOf(takenAt)
	for i, tr := range troves {
		record := []string{
			fmt.Sprintf("%d", i),
			tr.Owner.Hex(),
			tr.Status.String(),
			cdp.FormatDecimal(tr.Coll),
			cdp.FormatDecimal(tr.Debt),
			cdp.FormatDecimal(tr.Stake),
			cdp.FormatDecimal(tr.NICR),
			cdp.FormatDecimal(tr.ICR),
			stamp,
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

func stampOf(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}
