package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"cdpchain/native/cdp"
)

// TrovesJSONL builds a JSON Lines export of the supplied troves and returns the
// serialised payload alongside a checksum.
func TrovesJSONL(troves []cdp.TroveView, takenAt time.Time) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	stamp := stampOf(takenAt)
	for i, tr := range troves {
		payload := map[string]interface{}{
			"index":    i,
			"owner":    tr.Owner.Hex(),
			"status":   tr.Status.String(),
			"coll":     cdp.FormatDecimal(tr.Coll),
			"debt":     cdp.FormatDecimal(tr.Debt),
			"stake":    cdp.FormatDecimal(tr.Stake),
			"nicr":     cdp.FormatDecimal(tr.NICR),
			"icr":      cdp.FormatDecimal(tr.ICR),
			"taken_at": stamp,
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
