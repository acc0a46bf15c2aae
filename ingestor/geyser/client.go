package geyser

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

const (
	// ReplaySlotWindow defines how many slots to replay on reconnect
	ReplaySlotWindow = 64
	// ReconnectBackoff is the delay between reconnect attempts
	ReconnectBackoff = 5 * time.Second
)

// tokenAuth implements PerRPCCredentials for x-token authentication
type tokenAuth struct {
	token    string
	insecure bool
}

func (t tokenAuth) GetRequestMetadata(ctx context.Context, in ...string) (map[string]string, error) {
	if t.token == "" {
		return nil, nil
	}
	return map[string]string{"x-token": t.token}, nil
}

func (t tokenAuth) RequireTransportSecurity() bool {
	return !t.insecure
}

// Client streams account updates for a fixed set of accounts from a
// Yellowstone endpoint, reconnecting with a short slot replay.
type Client struct {
	cfg    *Config
	logger *zap.Logger
	conn   *grpc.ClientConn
	client pb.GeyserClient
	ctx    context.Context
	cancel context.CancelFunc

	backoff time.Duration
}

// NewClient creates a new Geyser client with the provided configuration
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("geyser config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:     cfg,
		logger:  logger.Named("geyser"),
		ctx:     ctx,
		cancel:  cancel,
		backoff: ReconnectBackoff,
	}, nil
}

// Name identifies the stream source in logs.
func (c *Client) Name() string { return "geyser" }

// Connect establishes the gRPC connection to the Geyser endpoint
func (c *Client) Connect() error {
	transport := credentials.NewTLS(&tls.Config{})
	if c.cfg.Insecure {
		transport = insecure.NewCredentials()
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(transport),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(64 * 1024 * 1024),
		),
		grpc.WithPerRPCCredentials(tokenAuth{token: c.cfg.APIKey, insecure: c.cfg.Insecure}),
	}

	conn, err := grpc.DialContext(c.ctx, c.cfg.Endpoint, opts...) //nolint:staticcheck // DialContext remains viable for gRPC 1.x
	if err != nil {
		return fmt.Errorf("failed to dial geyser: %w", err)
	}

	c.conn = conn
	c.client = pb.NewGeyserClient(conn)
	return nil
}

// Subscribe starts streaming the configured accounts.
func (c *Client) Subscribe(startSlot uint64) (<-chan *pb.SubscribeUpdate, <-chan error) {
	updateCh := make(chan *pb.SubscribeUpdate, 100)
	errCh := make(chan error, 1)

	go c.subscribeLoop(startSlot, updateCh, errCh)

	return updateCh, errCh
}

func (c *Client) subscribeLoop(startSlot uint64, updateCh chan<- *pb.SubscribeUpdate, errCh chan<- error) {
	defer close(updateCh)
	defer close(errCh)

	currentSlot := startSlot

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		replaySlot := currentSlot
		if currentSlot > ReplaySlotWindow {
			replaySlot = currentSlot - ReplaySlotWindow
		}

		c.logger.Info("starting account subscription",
			zap.Uint64("slot", currentSlot),
			zap.Uint64("replay_from", replaySlot),
			zap.Int("accounts", len(c.cfg.Accounts)))

		req := buildSubscribeRequest(c.cfg, replaySlot)

		stream, err := c.client.Subscribe(c.ctx)
		if err != nil {
			c.logger.Warn("failed to create subscription", zap.Error(err))
			c.report(errCh, fmt.Errorf("subscribe failed: %w", err))
			if !c.wait() {
				return
			}
			continue
		}

		if err := stream.Send(req); err != nil {
			c.logger.Warn("failed to send subscribe request", zap.Error(err))
			c.report(errCh, fmt.Errorf("send request failed: %w", err))
			if !c.wait() {
				return
			}
			continue
		}

		lastSlot := c.processStream(stream, updateCh, errCh)
		if lastSlot > currentSlot {
			currentSlot = lastSlot
		}

		c.logger.Info("stream ended, reconnecting", zap.Uint64("slot", currentSlot))
		if !c.wait() {
			return
		}
	}
}

// report forwards err without blocking the loop when nobody drains errCh.
func (c *Client) report(errCh chan<- error, err error) {
	select {
	case errCh <- err:
	default:
	}
}

func (c *Client) wait() bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(c.backoff):
		return true
	}
}

// buildSubscribeRequest filters the stream down to the watched accounts plus
// slot notifications.
func buildSubscribeRequest(cfg *Config, startSlot uint64) *pb.SubscribeRequest {
	accounts := make(map[string]*pb.SubscribeRequestFilterAccounts)
	for name, key := range cfg.Accounts {
		accounts[name] = &pb.SubscribeRequestFilterAccounts{
			Account: []string{key},
			Owner:   []string{},
			Filters: []*pb.SubscribeRequestFilterAccountsFilter{},
		}
	}

	commitment := pb.CommitmentLevel_CONFIRMED
	req := &pb.SubscribeRequest{
		Slots: map[string]*pb.SubscribeRequestFilterSlots{
			"client": {},
		},
		Accounts:           accounts,
		Transactions:       map[string]*pb.SubscribeRequestFilterTransactions{},
		TransactionsStatus: map[string]*pb.SubscribeRequestFilterTransactions{},
		Entry:              map[string]*pb.SubscribeRequestFilterEntry{},
		Blocks:             map[string]*pb.SubscribeRequestFilterBlocks{},
		BlocksMeta:         map[string]*pb.SubscribeRequestFilterBlocksMeta{},
		AccountsDataSlice:  []*pb.SubscribeRequestAccountsDataSlice{},
		Commitment:         &commitment,
	}
	if startSlot > 0 {
		req.FromSlot = &startSlot
	}
	return req
}

func (c *Client) processStream(stream pb.Geyser_SubscribeClient, updateCh chan<- *pb.SubscribeUpdate, errCh chan<- error) uint64 {
	var lastSlot uint64

	for {
		select {
		case <-c.ctx.Done():
			return lastSlot
		default:
		}

		update, err := stream.Recv()
		if err == io.EOF {
			c.logger.Info("stream closed by server")
			return lastSlot
		}
		if err != nil {
			c.logger.Warn("stream receive error", zap.Error(err))
			c.report(errCh, fmt.Errorf("stream recv failed: %w", err))
			return lastSlot
		}

		if slot := extractSlotFromUpdate(update); slot > lastSlot {
			lastSlot = slot
		}

		select {
		case updateCh <- update:
		case <-c.ctx.Done():
			return lastSlot
		}
	}
}

func extractSlotFromUpdate(update *pb.SubscribeUpdate) uint64 {
	switch u := update.UpdateOneof.(type) {
	case *pb.SubscribeUpdate_Slot:
		return u.Slot.Slot
	case *pb.SubscribeUpdate_Account:
		return u.Account.Slot
	default:
		return 0
	}
}

// Close gracefully shuts down the client
func (c *Client) Close() error {
	c.cancel()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
