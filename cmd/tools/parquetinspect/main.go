package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"

	"cosmossdk.io/math"
	"github.com/parquet-go/parquet-go"

	archive "github.com/rexbrahh/irma-engine/sinks/parquet"
)

type summary struct {
	Dataset          string   `json:"dataset"`
	TotalRows        int      `json:"total_rows"`
	EmptySymbol      int      `json:"empty_symbol"`
	MissingTimestamp int      `json:"missing_timestamp"`
	BadAmount        int      `json:"bad_amount"`
	PriceInversions  int      `json:"price_inversions"`
	SequenceGaps     int      `json:"sequence_gaps"`
	UniqueSymbols    []string `json:"unique_symbols"`
}

func main() {
	pattern := flag.String("pattern", "", "glob pattern selecting parquet files to inspect")
	dataset := flag.String("dataset", "trades", "archive dataset: trades or prices")
	flag.Parse()

	if *pattern == "" {
		log.Fatal("pattern is required")
	}

	files, err := filepath.Glob(*pattern)
	if err != nil {
		log.Fatalf("glob parquet files: %v", err)
	}
	if len(files) == 0 {
		log.Fatalf("no parquet files match pattern %s", *pattern)
	}

	sum := summary{Dataset: *dataset}
	symbols := make(map[string]struct{})
	var lastSeq uint64

	for _, path := range files {
		switch *dataset {
		case "trades":
			err = inspectFile(path, func(row *archive.TradeRow) {
				processTrade(row, &sum, symbols, &lastSeq)
			})
		case "prices":
			err = inspectFile(path, func(row *archive.PriceRow) {
				processPrice(row, &sum, symbols)
			})
		default:
			log.Fatalf("unknown dataset %q", *dataset)
		}
		if err != nil {
			log.Fatalf("inspect %s: %v", path, err)
		}
	}

	sum.UniqueSymbols = toSortedSlice(symbols)

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&sum); err != nil {
		log.Fatalf("encode summary: %v", err)
	}
}

func inspectFile[T any](path string, process func(*T)) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewGenericReader[T](file)
	defer reader.Close()

	rows := make([]T, 128)

	for {
		n, err := reader.Read(rows)
		for i := 0; i < n; i++ {
			process(&rows[i])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read parquet rows: %w", err)
		}
	}
	return nil
}

func processTrade(row *archive.TradeRow, sum *summary, symbols map[string]struct{}, lastSeq *uint64) {
	sum.TotalRows++
	countSymbol(row.Symbol, sum, symbols)
	if row.Timestamp.IsZero() {
		sum.MissingTimestamp++
	}
	for _, v := range []string{row.Amount, row.Backing, row.Circulation} {
		if amount, ok := math.NewIntFromString(v); !ok || amount.IsNegative() {
			sum.BadAmount++
			break
		}
	}
	if *lastSeq != 0 && row.Sequence != *lastSeq+1 {
		sum.SequenceGaps++
	}
	*lastSeq = row.Sequence
	if row.MintPrice < row.RedemptionPrice {
		sum.PriceInversions++
	}
}

func processPrice(row *archive.PriceRow, sum *summary, symbols map[string]struct{}) {
	sum.TotalRows++
	countSymbol(row.Symbol, sum, symbols)
	if row.Timestamp.IsZero() {
		sum.MissingTimestamp++
	}
	if row.MintPrice < row.RedemptionPrice {
		sum.PriceInversions++
	}
}

func countSymbol(symbol string, sum *summary, symbols map[string]struct{}) {
	if symbol == "" {
		sum.EmptySymbol++
		return
	}
	symbols[symbol] = struct{}{}
}

func toSortedSlice(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for value := range set {
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
