package geyser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"

	"github.com/rexbrahh/irma-engine/connector"
	"github.com/rexbrahh/irma-engine/observability"
)

// stubClient implements ClientInterface for watcher tests.
type stubClient struct {
	name         string
	connectErr   error
	updates      []*pb.SubscribeUpdate
	streamErr    error
	connectCount int
	closeCount   int
}

func (s *stubClient) Connect() error {
	s.connectCount++
	return s.connectErr
}

func (s *stubClient) Subscribe(uint64) (<-chan *pb.SubscribeUpdate, <-chan error) {
	updates := make(chan *pb.SubscribeUpdate, len(s.updates))
	errs := make(chan error, 1)
	if s.streamErr != nil {
		errs <- s.streamErr
	}
	close(errs)
	for _, u := range s.updates {
		updates <- u
	}
	close(updates)
	return updates, errs
}

func (s *stubClient) Close() error {
	s.closeCount++
	return nil
}

func (s *stubClient) Name() string { return s.name }

func accountUpdate(key, owner solana.PublicKey, data []byte, slot uint64) *pb.SubscribeUpdate {
	return &pb.SubscribeUpdate{
		UpdateOneof: &pb.SubscribeUpdate_Account{
			Account: &pb.SubscribeUpdateAccount{
				Account: &pb.SubscribeUpdateAccountInfo{
					Pubkey: key.Bytes(),
					Owner:  owner.Bytes(),
					Data:   data,
				},
				Slot: slot,
			},
		},
	}
}

func TestWatcherAppliesAccountUpdates(t *testing.T) {
	pair := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	client := &stubClient{
		name: "stub",
		updates: []*pb.SubscribeUpdate{
			accountUpdate(pair, owner, []byte{1, 2}, 10),
			{UpdateOneof: &pb.SubscribeUpdate_Slot{Slot: &pb.SubscribeUpdateSlot{Slot: 11}}},
			accountUpdate(pair, owner, []byte{9}, 9),
			accountUpdate(pair, owner, []byte{3, 4}, 12),
		},
		streamErr: errors.New("transient"),
	}
	cache := connector.NewWatchCache(nil)
	metrics := observability.NewMetrics(nil, nil)
	w := NewWatcherWithClient(client, cache, metrics, nil)

	if err := w.Run(context.Background(), 0); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if client.connectCount != 1 || client.closeCount != 1 {
		t.Fatalf("connect=%d close=%d", client.connectCount, client.closeCount)
	}

	acct, err := cache.FetchAccount(context.Background(), pair)
	if err != nil {
		t.Fatalf("FetchAccount: %v", err)
	}
	if acct.Slot != 12 || string(acct.Data) != string([]byte{3, 4}) {
		t.Fatalf("unexpected cached account: slot=%d data=%v", acct.Slot, acct.Data)
	}
	if acct.Owner != owner {
		t.Fatalf("owner = %s, want %s", acct.Owner, owner)
	}

	expected := `
# HELP irma_watcher_account_updates_total Account updates received from the geyser stream.
# TYPE irma_watcher_account_updates_total counter
irma_watcher_account_updates_total{applied="false"} 1
irma_watcher_account_updates_total{applied="true"} 2
`
	if err := testutil.GatherAndCompare(metrics.Gatherer, strings.NewReader(expected), "irma_watcher_account_updates_total"); err != nil {
		t.Fatalf("metrics mismatch: %v", err)
	}
}

func TestWatcherConnectFailure(t *testing.T) {
	client := &stubClient{name: "stub", connectErr: errors.New("refused")}
	w := NewWatcherWithClient(client, connector.NewWatchCache(nil), nil, nil)
	if err := w.Run(context.Background(), 0); err == nil {
		t.Fatal("expected connect error")
	}
}

func TestWatcherIgnoresMalformedUpdates(t *testing.T) {
	w := NewWatcherWithClient(&stubClient{}, connector.NewWatchCache(nil), nil, nil)
	bad := &pb.SubscribeUpdate{UpdateOneof: &pb.SubscribeUpdate_Account{
		Account: &pb.SubscribeUpdateAccount{Account: &pb.SubscribeUpdateAccountInfo{Pubkey: []byte{1}}, Slot: 1},
	}}
	if w.HandleUpdate(bad) {
		t.Fatal("short pubkey must not be applied")
	}
	if w.HandleUpdate(&pb.SubscribeUpdate{}) {
		t.Fatal("empty update must not be applied")
	}
}

func TestBuildSubscribeRequestFiltersAccounts(t *testing.T) {
	cfg := &Config{Endpoint: "localhost:10000", APIKey: "key"}
	pair := solana.NewWallet().PublicKey()
	cfg.Watch("usdc-irma", pair)

	req := buildSubscribeRequest(cfg, 0)
	if req.FromSlot != nil {
		t.Fatalf("slot 0 must not set FromSlot")
	}
	filter, ok := req.Accounts["usdc-irma"]
	if !ok || len(filter.Account) != 1 || filter.Account[0] != pair.String() {
		t.Fatalf("unexpected account filter: %+v", req.Accounts)
	}
	if req.GetCommitment() != pb.CommitmentLevel_CONFIRMED {
		t.Fatalf("commitment = %v", req.GetCommitment())
	}

	req = buildSubscribeRequest(cfg, 500)
	if req.FromSlot == nil || *req.FromSlot != 500 {
		t.Fatalf("FromSlot = %v, want 500", req.FromSlot)
	}
}

func TestConfigFromYAML(t *testing.T) {
	pair := solana.NewWallet().PublicKey()
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	doc := "accounts:\n  usdc-irma: " + pair.String() + "\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("GEYSER_ENDPOINT", "grpc.example.com:443")
	t.Setenv("GEYSER_API_KEY", "abcdefghijkl")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	keys, err := cfg.PublicKeys()
	if err != nil || len(keys) != 1 || keys[0] != pair {
		t.Fatalf("PublicKeys = %v, %v", keys, err)
	}
	if s := cfg.String(); strings.Contains(s, "abcdefghijkl") || !strings.Contains(s, "abcd****ijkl") {
		t.Fatalf("api key not masked: %s", s)
	}

	cfg.Accounts["broken"] = "not-a-key"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected invalid account error")
	}
}
