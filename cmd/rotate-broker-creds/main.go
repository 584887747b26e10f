// rotate-broker-creds persists GROWW_API_KEY/GROWW_API_SECRET into the
// control plane's database, encrypted under DATA_ENCRYPTION_KEY, so the
// control plane uses the rotated credentials the next time it starts,
// without a redeploy. The database path defaults to the control plane's
// default SQLite path and may be given as the first argument.
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"tradeguard/broker"
	"tradeguard/crypto"
	"tradeguard/store"
)

func main() {
	_ = godotenv.Load()

	dbPath := "data/gtt.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}

	creds := broker.CredentialsFromEnv()
	if creds.APIKey == "" || creds.APISecret == "" {
		log.Fatal("GROWW_API_KEY and GROWW_API_SECRET must both be set")
	}

	cs, err := crypto.NewCryptoService()
	if err != nil {
		log.Fatalf("encryption service unavailable: %v", err)
	}
	crypto.SetGlobalCryptoService(cs)

	st, err := store.New(dbPath)
	if err != nil {
		log.Fatalf("failed to open database %s: %v", dbPath, err)
	}
	defer st.Close()

	credStore := broker.NewCredentialStore(st, cs)
	if err := credStore.Save(creds); err != nil {
		log.Fatalf("failed to save credentials: %v", err)
	}

	log.Printf("broker credentials encrypted and saved to %s", dbPath)
}
