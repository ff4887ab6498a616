package client_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jmerrifield20/ledgerclient/internal/ledgertest"
	"github.com/jmerrifield20/ledgerclient/internal/metrics"
	"github.com/jmerrifield20/ledgerclient/pkg/api"
	"github.com/jmerrifield20/ledgerclient/pkg/client"
	"github.com/jmerrifield20/ledgerclient/pkg/state"
	"github.com/jmerrifield20/ledgerclient/pkg/store"
)

var ctx = context.Background()

// tamperService lets a test rewrite what the ledger returns.
type tamperService struct {
	*ledgertest.Service
	onSetRequest func(*api.VerifiableSetRequest)
	onGetRequest func(*api.VerifiableGetRequest)
	onSet        func(*api.VerifiableTx)
	onGet        func(*api.VerifiableEntry)
}

func (s *tamperService) VerifiableSet(ctx context.Context, db string, req *api.VerifiableSetRequest) (*api.VerifiableTx, error) {
	if s.onSetRequest != nil {
		s.onSetRequest(req)
	}
	vtx, err := s.Service.VerifiableSet(ctx, db, req)
	if err == nil && s.onSet != nil {
		s.onSet(vtx)
	}
	return vtx, err
}

func (s *tamperService) VerifiableGet(ctx context.Context, db string, req *api.VerifiableGetRequest) (*api.VerifiableEntry, error) {
	if s.onGetRequest != nil {
		s.onGetRequest(req)
	}
	ve, err := s.Service.VerifiableGet(ctx, db, req)
	if err == nil && s.onGet != nil {
		s.onGet(ve)
	}
	return ve, err
}

func checkpoint(t *testing.T, c *client.Client) uint64 {
	t.Helper()

	st, err := c.State(ctx)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	return st.TxID
}

func mustVerifiedSet(t *testing.T, c *client.Client, key, value string) *store.TxHeader {
	t.Helper()

	hdr, err := c.VerifiedSet(ctx, []byte(key), []byte(value), nil)
	if err != nil {
		t.Fatalf("VerifiedSet(%s): %v", key, err)
	}
	return hdr
}

func mustVerifiedGet(t *testing.T, c *client.Client, key, want string) {
	t.Helper()

	got, err := c.VerifiedGet(ctx, []byte(key))
	if err != nil {
		t.Fatalf("VerifiedGet(%s): %v", key, err)
	}
	if string(got) != want {
		t.Errorf("VerifiedGet(%s) = %q, want %q", key, got, want)
	}
}

func TestVerifiedSetAndGet(t *testing.T) {
	for _, version := range []int{0, 1} {
		for _, lag := range []uint64{0, 3} {
			t.Run(fmt.Sprintf("v%d/lag%d", version, lag), func(t *testing.T) {
				svc := ledgertest.NewService(ledgertest.WithTxVersion(version), ledgertest.WithLinkingLag(lag))
				c := client.MustNew(svc, client.WithDatabase("accounts"))

				if got := checkpoint(t, c); got != 0 {
					t.Fatalf("fresh checkpoint = %d, want 0", got)
				}

				for i := 1; i <= 10; i++ {
					hdr := mustVerifiedSet(t, c, fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i))
					if hdr.ID != uint64(i) {
						t.Fatalf("tx id = %d, want %d", hdr.ID, i)
					}
					if got := checkpoint(t, c); got != uint64(i) {
						t.Fatalf("checkpoint = %d, want %d", got, i)
					}
				}

				// Older entries are proven as the source; the checkpoint stays.
				mustVerifiedGet(t, c, "key1", "value1")
				mustVerifiedGet(t, c, "key7", "value7")
				if got := checkpoint(t, c); got != 10 {
					t.Errorf("checkpoint after reads = %d, want 10", got)
				}

				// Writes from someone else move the ledger ahead of the
				// checkpoint; a read catches up with them.
				if _, err := svc.Set(ctx, "accounts", &api.SetRequest{KVs: []*api.KeyValue{
					{Key: []byte("key3"), Value: []byte("updated")},
				}}); err != nil {
					t.Fatalf("Set: %v", err)
				}
				mustVerifiedGet(t, c, "key3", "updated")
				if got := checkpoint(t, c); got != 11 {
					t.Errorf("checkpoint after catching up = %d, want 11", got)
				}
			})
		}
	}
}

func TestVerifiedGetAt(t *testing.T) {
	c := client.MustNew(ledgertest.NewService())

	mustVerifiedSet(t, c, "k", "first")
	mustVerifiedSet(t, c, "k", "second")

	got, err := c.VerifiedGetAt(ctx, []byte("k"), 1)
	if err != nil {
		t.Fatalf("VerifiedGetAt: %v", err)
	}
	if string(got) != "first" {
		t.Errorf("VerifiedGetAt = %q, want first", got)
	}
	mustVerifiedGet(t, c, "k", "second")
}

func TestVerifiedGetAt_wrongTx(t *testing.T) {
	svc := &tamperService{Service: ledgertest.NewService()}
	c := client.MustNew(svc)

	mustVerifiedSet(t, c, "k", "first")
	mustVerifiedSet(t, c, "k", "second")

	// The server answers with the latest value instead of the one of tx 1.
	svc.onGetRequest = func(req *api.VerifiableGetRequest) { req.KeyRequest.AtTx = 0 }

	got, err := c.VerifiedGetAt(ctx, []byte("k"), 1)
	if !errors.Is(err, client.ErrCorruptedData) {
		t.Fatalf("VerifiedGetAt = %q, %v; want ErrCorruptedData", got, err)
	}
	if got := checkpoint(t, c); got != 2 {
		t.Errorf("checkpoint = %d, want 2", got)
	}
}

func TestVerifiedSet_metadataDropped(t *testing.T) {
	svc := &tamperService{Service: ledgertest.NewService()}
	c := client.MustNew(svc)

	svc.onSetRequest = func(req *api.VerifiableSetRequest) {
		for _, kv := range req.SetRequest.KVs {
			kv.Metadata = nil
		}
	}

	md := store.NewKVMetadata()
	if err := md.ExpiresAt(time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	_, err := c.VerifiedSet(ctx, []byte("session"), []byte("token"), md)
	if !errors.Is(err, client.ErrCorruptedData) {
		t.Fatalf("got %v, want ErrCorruptedData", err)
	}
	if got := checkpoint(t, c); got != 0 {
		t.Errorf("checkpoint = %d, want 0", got)
	}
}

func TestVerifiedSetWithMetadata(t *testing.T) {
	c := client.MustNew(ledgertest.NewService())

	md := store.NewKVMetadata()
	if err := md.AsNonIndexable(true); err != nil {
		t.Fatal(err)
	}
	if err := md.ExpiresAt(time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	if _, err := c.VerifiedSet(ctx, []byte("session"), []byte("token"), md); err != nil {
		t.Fatalf("VerifiedSet: %v", err)
	}
	mustVerifiedGet(t, c, "session", "token")

	v0 := client.MustNew(ledgertest.NewService(ledgertest.WithTxVersion(0)))
	_, err := v0.VerifiedSet(ctx, []byte("session"), []byte("token"), md)
	if !errors.Is(err, store.ErrIllegalArguments) {
		t.Errorf("metadata under v0: got %v, want ErrIllegalArguments", err)
	}
	if got := checkpoint(t, v0); got != 0 {
		t.Errorf("checkpoint = %d, want 0", got)
	}
}

func TestVerifiedGetReference(t *testing.T) {
	svc := ledgertest.NewService()
	c := client.MustNew(svc)

	mustVerifiedSet(t, c, "balance", "100")
	mustVerifiedSet(t, c, "balance", "250")

	if _, err := c.SetReference(ctx, []byte("balance@1"), []byte("balance"), 1); err != nil {
		t.Fatalf("SetReference: %v", err)
	}
	if _, err := c.SetReference(ctx, []byte("balance@latest"), []byte("balance"), 0); err != nil {
		t.Fatalf("SetReference: %v", err)
	}

	mustVerifiedGet(t, c, "balance@1", "100")
	mustVerifiedGet(t, c, "balance@latest", "250")

	if got := checkpoint(t, c); got != 4 {
		t.Errorf("checkpoint = %d, want 4", got)
	}
}

func TestVerifiedGet_notFound(t *testing.T) {
	c := client.MustNew(ledgertest.NewService())
	mustVerifiedSet(t, c, "present", "v")

	_, err := c.VerifiedGet(ctx, []byte("absent"))
	if !errors.Is(err, store.ErrKeyNotFound) {
		t.Errorf("got %v, want ErrKeyNotFound", err)
	}
	if got := checkpoint(t, c); got != 1 {
		t.Errorf("checkpoint = %d, want 1", got)
	}
}

func TestVerifiedSet_tampered(t *testing.T) {
	cases := map[string]func(*api.VerifiableTx){
		"entry value digest": func(vtx *api.VerifiableTx) { vtx.Tx.Entries[0].HValue[0] ^= 1 },
		"entries root":       func(vtx *api.VerifiableTx) { vtx.Tx.Header.EH[0] ^= 1 },
		"entry count":        func(vtx *api.VerifiableTx) { vtx.Tx.Header.NEntries = 2 },
		"entry key":          func(vtx *api.VerifiableTx) { vtx.Tx.Entries[0].Key = []byte("\x00other") },
		"target header":      func(vtx *api.VerifiableTx) { vtx.DualProof.TargetTxHeader.Ts++ },
		"target entries root": func(vtx *api.VerifiableTx) {
			vtx.DualProof.TargetTxHeader.EH = make([]byte, 32)
		},
		"linear proof":       func(vtx *api.VerifiableTx) { vtx.DualProof.LinearProof.Terms[0][0] ^= 1 },
		"no linear proof":    func(vtx *api.VerifiableTx) { vtx.DualProof.LinearProof = nil },
		"no dual proof":      func(vtx *api.VerifiableTx) { vtx.DualProof = nil },
		"short digest":       func(vtx *api.VerifiableTx) { vtx.DualProof.SourceTxHeader.PrevAlh = []byte{1} },
		"unknown tx version": func(vtx *api.VerifiableTx) { vtx.Tx.Header.Version = 7 },
		"no transaction":     func(vtx *api.VerifiableTx) { vtx.Tx = nil },
	}

	for name, tamper := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &tamperService{Service: ledgertest.NewService()}
			c := client.MustNew(svc)

			mustVerifiedSet(t, c, "a", "1")
			mustVerifiedSet(t, c, "b", "2")

			svc.onSet = tamper
			_, err := c.VerifiedSet(ctx, []byte("c"), []byte("3"), nil)
			if !errors.Is(err, client.ErrCorruptedData) {
				t.Fatalf("got %v, want ErrCorruptedData", err)
			}
			if got := checkpoint(t, c); got != 2 {
				t.Errorf("checkpoint = %d, want 2", got)
			}
		})
	}
}

func TestVerifiedGet_tampered(t *testing.T) {
	cases := map[string]func(*api.VerifiableEntry){
		"value":           func(ve *api.VerifiableEntry) { ve.Entry.Value = []byte("forged") },
		"entry tx":        func(ve *api.VerifiableEntry) { ve.Entry.Tx++ },
		"metadata":        func(ve *api.VerifiableEntry) { ve.Entry.Metadata = &api.KVMetadata{NonIndexable: true} },
		"inclusion leaf":  func(ve *api.VerifiableEntry) { ve.InclusionProof.Leaf = 1 },
		"no inclusion":    func(ve *api.VerifiableEntry) { ve.InclusionProof = nil },
		"source header":   func(ve *api.VerifiableEntry) { ve.VerifiableTx.DualProof.SourceTxHeader.BlTxID++ },
		"linear proof":    func(ve *api.VerifiableEntry) { ve.VerifiableTx.DualProof.LinearProof.Terms[1][0] ^= 1 },
		"inclusion proof": func(ve *api.VerifiableEntry) { ve.VerifiableTx.DualProof.InclusionProof[0][0] ^= 1 },
		"no dual proof":   func(ve *api.VerifiableEntry) { ve.VerifiableTx.DualProof = nil },
		"no verifiable tx": func(ve *api.VerifiableEntry) {
			ve.VerifiableTx = nil
		},
		"fake reference": func(ve *api.VerifiableEntry) {
			ve.Entry.ReferencedBy = &api.Reference{Tx: ve.Entry.Tx, Key: []byte("a"), AtTx: 1}
		},
	}

	for name, tamper := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &tamperService{Service: ledgertest.NewService()}
			c := client.MustNew(svc)

			mustVerifiedSet(t, c, "a", "1")
			for i := 0; i < 6; i++ {
				mustVerifiedSet(t, c, fmt.Sprintf("filler%d", i), "x")
			}
			before := checkpoint(t, c)

			svc.onGet = tamper
			_, err := c.VerifiedGet(ctx, []byte("a"))
			if !errors.Is(err, client.ErrCorruptedData) {
				t.Fatalf("got %v, want ErrCorruptedData", err)
			}
			if got := checkpoint(t, c); got != before {
				t.Errorf("checkpoint = %d, want %d", got, before)
			}
		})
	}
}

func TestVerifiedGet_forkedHistory(t *testing.T) {
	states := state.NewService(state.NewMemoryStore())

	honest := client.MustNew(ledgertest.NewService(), client.WithStateService(states))
	for i := 0; i < 5; i++ {
		mustVerifiedSet(t, honest, fmt.Sprintf("k%d", i), "honest")
	}

	// Same database, different history.
	forked := ledgertest.NewService()
	for i := 0; i < 8; i++ {
		if _, err := forked.Set(ctx, client.DefaultDatabase, &api.SetRequest{KVs: []*api.KeyValue{
			{Key: []byte(fmt.Sprintf("k%d", i)), Value: []byte("forged")},
		}}); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	c := client.MustNew(forked, client.WithStateService(states))

	_, err := c.VerifiedGet(ctx, []byte("k7"))
	if !errors.Is(err, client.ErrCorruptedData) {
		t.Fatalf("got %v, want ErrCorruptedData", err)
	}
	if got := checkpoint(t, c); got != 5 {
		t.Errorf("checkpoint = %d, want 5", got)
	}
}

func newSigner(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestSignedStates(t *testing.T) {
	key := newSigner(t)
	svc := ledgertest.NewService(ledgertest.WithSigner(key))

	c := client.MustNew(svc, client.WithVerifier(state.NewECDSAVerifier(&key.PublicKey)))
	mustVerifiedSet(t, c, "k", "v")
	mustVerifiedSet(t, c, "k2", "v2")
	mustVerifiedGet(t, c, "k", "v")

	st, err := c.State(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Signature == nil {
		t.Fatal("expected the checkpoint to keep the server signature")
	}

	t.Run("wrong key", func(t *testing.T) {
		other := newSigner(t)
		c := client.MustNew(svc, client.WithVerifier(state.NewECDSAVerifier(&other.PublicKey)))

		_, err := c.VerifiedSet(ctx, []byte("k3"), []byte("v3"), nil)
		if !errors.Is(err, state.ErrInvalidSignature) {
			t.Fatalf("got %v, want ErrInvalidSignature", err)
		}
		if got := checkpoint(t, c); got != 0 {
			t.Errorf("checkpoint = %d, want 0", got)
		}
	})

	t.Run("unsigned", func(t *testing.T) {
		c := client.MustNew(ledgertest.NewService(), client.WithVerifier(state.NewECDSAVerifier(&key.PublicKey)))

		_, err := c.VerifiedSet(ctx, []byte("k"), []byte("v"), nil)
		if !errors.Is(err, state.ErrInvalidSignature) {
			t.Fatalf("got %v, want ErrInvalidSignature", err)
		}
	})
}

func TestNew_options(t *testing.T) {
	svc := ledgertest.NewService()

	if _, err := client.New(nil); err == nil {
		t.Error("expected error for nil service")
	}
	if _, err := client.New(svc, client.WithDatabase("")); err == nil {
		t.Error("expected error for empty database")
	}

	key := newSigner(t)
	_, err := client.New(svc,
		client.WithStateService(state.NewService(state.NewMemoryStore())),
		client.WithVerifier(state.NewECDSAVerifier(&key.PublicKey)),
	)
	if err == nil {
		t.Error("expected error for verifier next to a shared state service")
	}

	c := client.MustNew(svc)
	if c.Database() != client.DefaultDatabase {
		t.Errorf("database = %q, want %q", c.Database(), client.DefaultDatabase)
	}
}

func TestVerifiedSet_concurrent(t *testing.T) {
	c := client.MustNew(ledgertest.NewService())

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := c.VerifiedSet(ctx, []byte(fmt.Sprintf("k%d", i)), []byte("v"), nil); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("VerifiedSet: %v", err)
	}
	if got := checkpoint(t, c); got != n {
		t.Errorf("checkpoint = %d, want %d", got, n)
	}
}

func TestUnverifiedOperations(t *testing.T) {
	c := client.MustNew(ledgertest.NewService(), client.WithDatabase("plain"))

	hdr, err := c.Set(ctx, []byte("k"), []byte("v"))
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if hdr.ID != 1 {
		t.Errorf("tx id = %d, want 1", hdr.ID)
	}

	hdr, err = c.SetAll(ctx, []*api.KeyValue{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	})
	if err != nil {
		t.Fatalf("SetAll: %v", err)
	}
	if hdr.NEntries != 2 {
		t.Errorf("entries = %d, want 2", hdr.NEntries)
	}

	v, err := c.Get(ctx, []byte("b"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "2" {
		t.Errorf("Get = %q, want 2", v)
	}

	health, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}

	if got := checkpoint(t, c); got != 0 {
		t.Errorf("unverified calls moved the checkpoint to %d", got)
	}
}

func TestMetricsRecorded(t *testing.T) {
	rejected := metrics.VerifiedOperations().WithLabelValues("verified_get", metrics.ResultRejected)
	before := testutil.ToFloat64(rejected)

	svc := &tamperService{Service: ledgertest.NewService()}
	c := client.MustNew(svc, client.WithDatabase("metrics"))
	mustVerifiedSet(t, c, "k", "v")

	if got := testutil.ToFloat64(metrics.Checkpoints().WithLabelValues("metrics")); got != 1 {
		t.Errorf("checkpoint gauge = %v, want 1", got)
	}

	svc.onGet = func(ve *api.VerifiableEntry) { ve.Entry.Value = []byte("forged") }
	if _, err := c.VerifiedGet(ctx, []byte("k")); !errors.Is(err, client.ErrCorruptedData) {
		t.Fatalf("got %v, want ErrCorruptedData", err)
	}

	if got := testutil.ToFloat64(rejected) - before; got != 1 {
		t.Errorf("rejected delta = %v, want 1", got)
	}
}
