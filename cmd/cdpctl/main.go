package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/holiman/uint256"

	"cdpchain/core/types"
	"cdpchain/integrations/exports"
	"cdpchain/native/cdp"
	"cdpchain/storage"
)

const (
	validateCommand  = "validate"
	snapshotsCommand = "snapshots"
	inspectCommand   = "inspect"
	exportCommand    = "export"
	defaultConfig    = "./cdp.toml"
	defaultPrice     = "2000"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: cdpctl <%s|%s|%s|%s> [flags]\n", validateCommand, snapshotsCommand, inspectCommand, exportCommand)
}

func run(command string, args []string, out io.Writer) error {
	switch command {
	case validateCommand:
		return runValidate(args, out)
	case snapshotsCommand:
		return runSnapshots(args, out)
	case inspectCommand:
		return runInspect(args, out)
	case exportCommand:
		return runExport(args, out)
	default:
		usage(out)
		return fmt.Errorf("unknown command %q", command)
	}
}

func runValidate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(validateCommand, flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the CDP protocol config")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := cdp.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	params, err := cfg.Params()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "MCR\t%s\n", cdp.FormatDecimal(params.MCR))
	fmt.Fprintf(tw, "CCR\t%s\n", cdp.FormatDecimal(params.CCR))
	fmt.Fprintf(tw, "GasCompensation\t%s\n", cdp.FormatDecimal(params.GasCompensation))
	fmt.Fprintf(tw, "MinNetDebt\t%s\n", cdp.FormatDecimal(params.MinNetDebt))
	fmt.Fprintf(tw, "BorrowingFee\t%s..%s\n", cdp.FormatDecimal(params.BorrowingFeeFloor), cdp.FormatDecimal(params.MaxBorrowingFee))
	fmt.Fprintf(tw, "RedemptionFeeFloor\t%s\n", cdp.FormatDecimal(params.RedemptionFeeFloor))
	fmt.Fprintf(tw, "MaxTroves\t%d\n", params.MaxTroves)
	if paused := cfg.PausedModules(); len(paused) > 0 {
		modules := make([]string, 0, len(paused))
		for module := range paused {
			modules = append(modules, module)
		}
		sort.Strings(modules)
		fmt.Fprintf(tw, "Paused\t%s\n", strings.Join(modules, ","))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: ok\n", *configPath)
	return nil
}

func runSnapshots(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(snapshotsCommand, flag.ContinueOnError)
	dataDir := fs.String("db", "", "Snapshot store: a leveldb directory or a bolt file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	db, err := openStore(*dataDir)
	if err != nil {
		return err
	}
	defer db.Close()
	infos, err := cdp.ListSnapshots(db)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintln(out, "no snapshots")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSIZE\tCHECKSUM")
	for _, info := range infos {
		fmt.Fprintf(tw, "%d\t%d\t%x\n", info.Seq, info.Size, info.Checksum)
	}
	return tw.Flush()
}

// snapshotFlags are shared by the commands that restore a snapshot.
type snapshotFlags struct {
	configPath string
	dataDir    string
	price      string
	seq        int64
}

func (f *snapshotFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", defaultConfig, "Path to the CDP protocol config")
	fs.StringVar(&f.dataDir, "db", "", "Snapshot store: a leveldb directory or a bolt file")
	fs.StringVar(&f.price, "price", defaultPrice, "Collateral price used for ratios")
	fs.Int64Var(&f.seq, "seq", -1, "Snapshot sequence to load (default latest)")
}

func (f *snapshotFlags) restore() (*cdp.Engine, cdp.SnapshotInfo, error) {
	cfg, err := cdp.LoadConfig(f.configPath)
	if err != nil {
		return nil, cdp.SnapshotInfo{}, err
	}
	params, err := cfg.Params()
	if err != nil {
		return nil, cdp.SnapshotInfo{}, err
	}
	price, err := cdp.ParseDecimal(f.price)
	if err != nil {
		return nil, cdp.SnapshotInfo{}, fmt.Errorf("price: %w", err)
	}
	engine, err := cdp.NewEngine(params, cdp.NewStaticPriceFeed(price))
	if err != nil {
		return nil, cdp.SnapshotInfo{}, err
	}
	db, err := openStore(f.dataDir)
	if err != nil {
		return nil, cdp.SnapshotInfo{}, err
	}
	defer db.Close()
	var info cdp.SnapshotInfo
	if f.seq < 0 {
		info, err = engine.LoadSnapshot(db)
	} else {
		info, err = engine.LoadSnapshotAt(db, uint64(f.seq))
	}
	if err != nil {
		return nil, cdp.SnapshotInfo{}, err
	}
	return engine, info, nil
}

func runInspect(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(inspectCommand, flag.ContinueOnError)
	var flags snapshotFlags
	flags.register(fs)
	bech := fs.Bool("bech32", false, "Print trove owners as bech32 accounts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	engine, info, err := flags.restore()
	if err != nil {
		return err
	}
	system, err := engine.System()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Snapshot\t%d (%x)\n", info.Seq, info.Checksum[:8])
	fmt.Fprintf(tw, "Price\t%s\n", cdp.FormatDecimal(system.Price))
	fmt.Fprintf(tw, "Mode\t%s\n", system.Mode)
	fmt.Fprintf(tw, "TCR\t%s\n", cdp.FormatDecimal(system.TCR))
	fmt.Fprintf(tw, "Troves\t%d\n", system.TroveCount)
	fmt.Fprintf(tw, "Debt\t%s\n", cdp.FormatDecimal(new(uint256.Int).Add(system.Active.Debt, system.Default.Debt)))
	fmt.Fprintf(tw, "Collateral\t%s\n", cdp.FormatDecimal(new(uint256.Int).Add(system.Active.Coll, system.Default.Coll)))
	fmt.Fprintf(tw, "StabilityDeposits\t%s\n", cdp.FormatDecimal(system.PoolDeposits))
	fmt.Fprintf(tw, "BaseRate\t%s\n", cdp.FormatDecimal(system.BaseRate))
	if err := tw.Flush(); err != nil {
		return err
	}
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nOWNER\tCOLL\tDEBT\tICR")
	for _, owner := range engine.SortedTroves() {
		view := engine.Trove(owner)
		name := owner.Hex()
		if *bech {
			if name, err = types.FormatAccount(owner); err != nil {
				return err
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, cdp.FormatDecimal(view.Coll), cdp.FormatDecimal(view.Debt), cdp.FormatDecimal(view.ICR))
	}
	return tw.Flush()
}

func runExport(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(exportCommand, flag.ContinueOnError)
	var flags snapshotFlags
	flags.register(fs)
	format := fs.String("format", "csv", "Export format: csv, jsonl or parquet")
	output := fs.String("out", "", "Output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	engine, _, err := flags.restore()
	if err != nil {
		return err
	}
	dst := out
	if *output != "" {
		file, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer file.Close()
		dst = file
	}
	troves := engine.Troves()
	takenAt := time.Now().UTC()
	switch strings.ToLower(*format) {
	case "csv", "jsonl":
		render := exports.TrovesCSV
		if strings.EqualFold(*format, "jsonl") {
			render = exports.TrovesJSONL
		}
		payload, checksum, err := render(troves, takenAt)
		if err != nil {
			return err
		}
		if _, err := dst.Write(payload); err != nil {
			return err
		}
		if *output != "" {
			fmt.Fprintf(out, "wrote %s (sha256 %s)\n", *output, checksum)
		}
		return nil
	case "parquet":
		if *output == "" {
			return errors.New("parquet export requires -out")
		}
		return exports.WriteTrovesParquet(dst, troves, takenAt)
	default:
		return fmt.Errorf("unsupported format %q", *format)
	}
}

// openStore picks the backend from what is on disk: a directory is a
// LevelDB store and a regular file is a bbolt store.
func openStore(path string) (storage.Database, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("-db is required")
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	if fi.IsDir() {
		return storage.Open(storage.BackendLevelDB, path)
	}
	return storage.Open(storage.BackendBolt, path)
}
