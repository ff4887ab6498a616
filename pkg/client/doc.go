// Package client is the Go SDK of the ledger service.
//
// Every verified call is checked against a checkpoint the client established
// itself: the id and Alh of the last transaction it verified. The server is
// never trusted; a response that fails any check is rejected with
// ErrCorruptedData and the checkpoint stays where it was.
//
// # Connecting
//
//	transport, err := client.NewHTTPTransport("https://ledger.example.com",
//	    client.WithCredentials("alice", "secret"),
//	    client.WithRateLimit(50, 10),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c, err := client.New(transport, client.WithDatabase("payments"))
//
// # Verified writes and reads
//
//	hdr, err := c.VerifiedSet(ctx, []byte("invoice/42"), []byte("paid"), nil)
//	value, err := c.VerifiedGet(ctx, []byte("invoice/42"))
//	if errors.Is(err, client.ErrCorruptedData) {
//	    // the server lied, or the data was tampered with in transit
//	}
//
// The first verified call of a fresh client trusts the server (there is no
// checkpoint to verify against yet). Persist checkpoints across runs with a
// shared state service:
//
//	fs, _ := state.NewFileStore(os.ExpandEnv("$HOME/.ledgerctl/state"))
//	c, _ := client.New(transport, client.WithStateService(state.NewService(fs)))
//
// # Signed states
//
// When the server signs the states it reports, configure its public key so
// that only signed checkpoints are accepted:
//
//	v, _ := state.LoadECDSAVerifier("server.pub.pem")
//	c, _ := client.New(transport, client.WithVerifier(v))
package client
