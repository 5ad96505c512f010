// perch-server hosts the document store over websocket for local
// multi-client setups: several perchd profiles pointed at one server see
// each other's writes live.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/perch-im/perch/internal/docstore/memstore"
	"github.com/perch-im/perch/internal/docstore/wsstore"
	"github.com/perch-im/perch/internal/identity"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7433", "listen address")
	secret := flag.String("token-secret", "", "shared secret for client tokens (empty disables auth)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var verify func(string) error
	if *secret != "" {
		provider := identity.NewDevProvider([]byte(*secret), identity.Account{})
		verify = func(token string) error {
			_, err := provider.VerifyToken(token)
			return err
		}
	}

	backend := memstore.New()
	defer backend.Close()

	srv := wsstore.NewServer(backend, verify, logger)
	logger.Info("listening", zap.String("addr", *addr))
	if err := http.ListenAndServe(*addr, srv); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
