package parquet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/snappy"

	"github.com/rexbrahh/irma-engine/protocol"
)

var ErrWriterDisabled = errors.New("parquet writer disabled: missing configuration")

const (
	datasetTrades = "trades"
	datasetPrices = "prices"
)

// TradeRow is the archived form of a ledger entry. Amounts are decimal
// strings of base units.
type TradeRow struct {
	Sequence        uint64    `parquet:"seq"`
	Timestamp       time.Time `parquet:"ts,timestamp(millisecond)"`
	Symbol          string    `parquet:"symbol,dict"`
	Direction       string    `parquet:"direction,dict"`
	Signer          string    `parquet:"signer"`
	Amount          string    `parquet:"amount"`
	Backing         string    `parquet:"backing"`
	Circulation     string    `parquet:"circulation"`
	MintPrice       float64   `parquet:"mint_price"`
	RedemptionPrice float64   `parquet:"redemption_price"`
}

// PriceRow records the prices of one reserve after an engine event.
type PriceRow struct {
	Timestamp       time.Time `parquet:"ts,timestamp(millisecond)"`
	Revision        uint64    `parquet:"revision"`
	Symbol          string    `parquet:"symbol,dict"`
	Action          string    `parquet:"action,dict"`
	MintPrice       float64   `parquet:"mint_price"`
	RedemptionPrice float64   `parquet:"redemption_price"`
}

// Writer buffers archive rows and uploads one Parquet object per dataset on
// every flush.
type Writer struct {
	cfg Config

	mu        sync.Mutex
	trades    []TradeRow
	prices    []PriceRow
	lastSeq   uint64
	uploader  s3manageriface.UploaderAPI
	now       func() time.Time
	lastFlush time.Time
}

// NewWriter validates configuration and prepares a Writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, ErrWriterDisabled
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg := &aws.Config{
		Endpoint:         aws.String(cfg.Endpoint),
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(true),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return newWriter(cfg, s3manager.NewUploader(sess), time.Now), nil
}

func newWriter(cfg Config, uploader s3manageriface.UploaderAPI, now func() time.Time) *Writer {
	return &Writer{
		cfg:       cfg,
		uploader:  uploader,
		now:       now,
		lastFlush: now(),
	}
}

// AppendEvent buffers the rows an engine event contributes and reports how
// many were added. Trades already archived by sequence are skipped.
func (w *Writer) AppendEvent(ev protocol.Event) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch ev.Kind {
	case protocol.EventTrade:
		if ev.Trade == nil || ev.Trade.Sequence <= w.lastSeq {
			return 0
		}
		w.trades = append(w.trades, tradeRow(*ev.Trade))
		w.lastSeq = ev.Trade.Sequence
		w.prices = append(w.prices, priceRow(ev, ev.Trade.MintPrice, ev.Trade.RedemptionPrice))
		return 2
	case protocol.EventPrice, protocol.EventReserve:
		if ev.Symbol == "" || ev.MintPrice == 0 {
			return 0
		}
		w.prices = append(w.prices, priceRow(ev, ev.MintPrice, ev.RedemptionPrice))
		return 1
	default:
		return 0
	}
}

// Due reports whether the buffer has reached BatchRows or the flush interval
// has elapsed with rows pending.
func (w *Writer) Due() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	buffered := len(w.trades) + len(w.prices)
	if buffered == 0 {
		return false
	}
	return buffered >= w.cfg.BatchRows || w.now().Sub(w.lastFlush) >= w.cfg.FlushInterval
}

func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

func (w *Writer) Close() error {
	return w.Flush(context.Background())
}

func (w *Writer) flushLocked(ctx context.Context) error {
	now := w.now()
	if len(w.trades) > 0 {
		if err := upload(ctx, w, datasetTrades, now, w.trades); err != nil {
			return err
		}
		w.trades = w.trades[:0]
	}
	if len(w.prices) > 0 {
		if err := upload(ctx, w, datasetPrices, now, w.prices); err != nil {
			return err
		}
		w.prices = w.prices[:0]
	}
	w.lastFlush = now
	return nil
}

func upload[T any](ctx context.Context, w *Writer, dataset string, now time.Time, rows []T) error {
	body, err := encodeRows(rows)
	if err != nil {
		return fmt.Errorf("encode %s: %w", dataset, err)
	}

	_, err = w.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(w.cfg.Bucket),
		Key:         aws.String(w.objectKey(dataset, now)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("upload parquet to s3: %w", err)
	}
	return nil
}

func encodeRows[T any](rows []T) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf, parquet.Compression(&snappy.Codec{}))
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (w *Writer) objectKey(dataset string, now time.Time) string {
	prefix := strings.TrimSuffix(w.cfg.Prefix, "/")
	now = now.UTC()
	filename := fmt.Sprintf("%s-%d.parquet", dataset, now.UnixNano())
	return path.Join(prefix, "dataset="+dataset, "date="+now.Format("2006-01-02"), filename)
}

func tradeRow(rec protocol.TradeRecord) TradeRow {
	return TradeRow{
		Sequence:        rec.Sequence,
		Timestamp:       rec.At,
		Symbol:          rec.Symbol,
		Direction:       string(rec.Direction),
		Signer:          rec.Signer.String(),
		Amount:          intString(rec.Amount),
		Backing:         intString(rec.Backing),
		Circulation:     intString(rec.Circulation),
		MintPrice:       rec.MintPrice,
		RedemptionPrice: rec.RedemptionPrice,
	}
}

func priceRow(ev protocol.Event, mint, redemption float64) PriceRow {
	return PriceRow{
		Timestamp:       ev.At,
		Revision:        ev.Revision,
		Symbol:          ev.Symbol,
		Action:          string(ev.Kind) + ":" + ev.Action,
		MintPrice:       mint,
		RedemptionPrice: redemption,
	}
}

func intString(v math.Int) string {
	if v.IsNil() {
		return "0"
	}
	return v.String()
}
