package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"cdpchain/native/cdp"
)

func units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), cdp.DecimalPrecision)
}

func sampleTroves(t *testing.T) []cdp.TroveView {
	t.Helper()
	params := cdp.DefaultParams()
	engine, err := cdp.NewEngine(params, cdp.NewStaticPriceFeed(units(200)))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	for i, coll := range []uint64{100, 50} {
		owner := common.BigToAddress(uint256.NewInt(uint64(0xa0 + i)).ToBig())
		if err := engine.Fund(owner, units(coll)); err != nil {
			t.Fatalf("fund: %v", err)
		}
		if err := engine.OpenTrove(owner, units(coll), units(2000), cdp.DecimalPrecision, cdp.Hint{}); err != nil {
			t.Fatalf("open: %v", err)
		}
	}
	return engine.Troves()
}

var takenAt = time.Unix(1_700_000_000, 0)

func TestTrovesCSV(t *testing.T) {
	data, checksum, err := TrovesCSV(sampleTroves(t), takenAt)
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	sum := sha256.Sum256(data)
	if checksum != hex.EncodeToString(sum[:]) {
		t.Fatalf("checksum mismatch")
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %d lines", len(lines))
	}
	if lines[0] != "index,owner,status,coll,debt,stake,nicr,icr,taken_at" {
		t.Fatalf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], ",active,100,") || !strings.Contains(lines[1], "2023-11-14T22:13:20Z") {
		t.Fatalf("unexpected first row: %s", lines[1])
	}
	if !strings.HasPrefix(lines[2], "1,") || !strings.Contains(lines[2], ",50,") {
		t.Fatalf("unexpected second row: %s", lines[2])
	}
}

func TestTrovesJSONL(t *testing.T) {
	data, checksum, err := TrovesJSONL(sampleTroves(t), takenAt)
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if checksum == "" {
		t.Fatalf("expected checksum")
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two rows, got %d", len(lines))
	}
	var row map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &row); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if row["debt"] != "2210" || row["status"] != "active" {
		t.Fatalf("unexpected payload: %s", lines[0])
	}
}

func TestWriteTrovesParquet(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTrovesParquet(&buf, sampleTroves(t), takenAt); err != nil {
		t.Fatalf("parquet: %v", err)
	}
	out := buf.Bytes()
	if len(out) < 8 || string(out[:4]) != "PAR1" || string(out[len(out)-4:]) != "PAR1" {
		t.Fatalf("output is not a parquet file (%d bytes)", len(out))
	}
}
