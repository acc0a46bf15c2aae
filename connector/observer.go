package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rexbrahh/irma-engine/observability"
	"github.com/rexbrahh/irma-engine/protocol"
)

// Observer routes pair observations to the oracle of the pair's venue.
type Observer struct {
	oracles map[protocol.VenueKind]PriceOracle
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewObserver registers oracles by the venue they report.
func NewObserver(logger *zap.Logger, metrics *observability.Metrics, oracles ...PriceOracle) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Observer{
		oracles: make(map[protocol.VenueKind]PriceOracle, len(oracles)),
		logger:  logger.Named("observer"),
		metrics: metrics,
	}
	for _, oracle := range oracles {
		o.oracles[oracle.Venue()] = oracle
	}
	return o
}

// ObservePair implements protocol.PairObserver.
func (o *Observer) ObservePair(ctx context.Context, venue protocol.VenueKind, pair solana.PublicKey) (protocol.PairObservation, error) {
	oracle, ok := o.oracles[venue]
	if !ok {
		return protocol.PairObservation{}, fmt.Errorf("%w: %q", ErrUnsupportedVenue, venue)
	}
	start := time.Now()
	obs, err := oracle.Observe(ctx, pair)
	o.metrics.ObserveVenueRead(string(venue), time.Since(start), err)
	if err != nil {
		return protocol.PairObservation{}, err
	}
	o.logger.Debug("pair observed",
		zap.String("venue", string(venue)),
		zap.String("pair", pair.String()),
		zap.Float64("price", obs.Price),
		zap.Uint64("slot", obs.Slot))
	return obs, nil
}
