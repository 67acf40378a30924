package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"cdpchain/core/types"
	"cdpchain/native/cdp"
	"cdpchain/storage"
)

func e18(units uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(units), cdp.DecimalPrecision)
}

func writeFixture(t *testing.T) (configPath, dbPath string) {
	t.Helper()
	return writeFixtureTo(t, storage.BackendLevelDB, "snapshots")
}

func writeFixtureTo(t *testing.T, backend, name string) (configPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	configPath = filepath.Join(dir, "cdp.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("MinNetDebt = \"1800\"\n[pauses]\n\"cdp.redemption\" = true\n"), 0o600))

	cfg, err := cdp.LoadConfig(configPath)
	require.NoError(t, err)
	params, err := cfg.Params()
	require.NoError(t, err)
	engine, err := cdp.NewEngine(params, cdp.NewStaticPriceFeed(e18(2000)))
	require.NoError(t, err)
	for i, owner := range []common.Address{common.HexToAddress("0xa1"), common.HexToAddress("0xb2")} {
		coll := e18(uint64(10 * (i + 1)))
		require.NoError(t, engine.Fund(owner, coll))
		require.NoError(t, engine.OpenTrove(owner, coll, e18(2000), cdp.DecimalPrecision, cdp.Hint{}))
	}

	dbPath = filepath.Join(dir, name)
	db, err := storage.Open(backend, dbPath)
	require.NoError(t, err)
	_, err = engine.SaveSnapshot(db)
	require.NoError(t, err)
	db.Close()
	return configPath, dbPath
}

func TestValidate(t *testing.T) {
	configPath, _ := writeFixture(t)
	var out bytes.Buffer
	require.NoError(t, run(validateCommand, []string{"-config", configPath}, &out))
	require.Contains(t, out.String(), "MinNetDebt")
	require.Contains(t, out.String(), "cdp.redemption")
	require.Contains(t, out.String(), ": ok")

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte(`CCR = "1.0"`), 0o600))
	require.Error(t, run(validateCommand, []string{"-config", bad}, &out))
}

func TestSnapshotsAndInspect(t *testing.T) {
	configPath, dbPath := writeFixture(t)

	var out bytes.Buffer
	require.NoError(t, run(snapshotsCommand, []string{"-db", dbPath}, &out))
	require.Contains(t, out.String(), "SEQ")
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	out.Reset()
	require.NoError(t, run(inspectCommand, []string{"-config", configPath, "-db", dbPath}, &out))
	report := out.String()
	require.Contains(t, report, "Troves")
	require.Contains(t, report, "normal")
	require.Contains(t, report, common.HexToAddress("0xb2").Hex())

	out.Reset()
	require.NoError(t, run(inspectCommand, []string{"-config", configPath, "-db", dbPath, "-bech32"}, &out))
	owner, err := types.FormatAccount(common.HexToAddress("0xb2"))
	require.NoError(t, err)
	require.Contains(t, out.String(), owner)
	require.NotContains(t, out.String(), common.HexToAddress("0xb2").Hex())

	require.Error(t, run(inspectCommand, []string{"-config", configPath, "-db", dbPath, "-seq", "3"}, &out))
	require.Error(t, run(inspectCommand, []string{"-config", configPath}, &out))
}

func TestSnapshotsFromBoltFile(t *testing.T) {
	configPath, dbPath := writeFixtureTo(t, storage.BackendBolt, "snapshots.db")

	var out bytes.Buffer
	require.NoError(t, run(snapshotsCommand, []string{"-db", dbPath}, &out))
	require.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 2)

	out.Reset()
	require.NoError(t, run(inspectCommand, []string{"-config", configPath, "-db", dbPath}, &out))
	require.Contains(t, out.String(), common.HexToAddress("0xa1").Hex())
}

func TestExport(t *testing.T) {
	configPath, dbPath := writeFixture(t)

	var out bytes.Buffer
	require.NoError(t, run(exportCommand, []string{"-config", configPath, "-db", dbPath, "-format", "csv"}, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "index,owner,status"))

	target := filepath.Join(t.TempDir(), "troves.parquet")
	out.Reset()
	require.NoError(t, run(exportCommand, []string{"-config", configPath, "-db", dbPath, "-format", "parquet", "-out", target}, &out))
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("PAR1")))

	require.Error(t, run(exportCommand, []string{"-config", configPath, "-db", dbPath, "-format", "parquet"}, &out))
	require.Error(t, run(exportCommand, []string{"-config", configPath, "-db", dbPath, "-format", "xml"}, &out))
	require.Error(t, run("unknown", nil, &out))
}
