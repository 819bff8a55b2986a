package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/pocketpay/transferd/internal/common"
	"github.com/pocketpay/transferd/internal/config"
	"github.com/pocketpay/transferd/internal/fees"
	"github.com/pocketpay/transferd/internal/orchestrator"
	"github.com/pocketpay/transferd/internal/reconcile"
	"github.com/pocketpay/transferd/internal/services/attestation"
	"github.com/pocketpay/transferd/internal/services/custody"
	"github.com/pocketpay/transferd/internal/services/db"
	"github.com/pocketpay/transferd/internal/services/signer"
	"github.com/pocketpay/transferd/internal/services/webhook"
	"github.com/pocketpay/transferd/internal/signing"
	"github.com/pocketpay/transferd/pkg/queue"
	"github.com/pocketpay/transferd/pkg/router"
	"github.com/pocketpay/transferd/pkg/transfer"
)

func main() {
	log.Default().Println("launching transferd...")

	env := flag.String("env", "", "path to .env file")

	confpath := flag.String("confpath", ".", "path to the folder containing chains.json")

	port := flag.Int("port", 3000, "port to listen on")

	poll := flag.Int("poll", 5, "reconciler poll interval in seconds (default: 5)")

	notify := flag.Bool("notify", true, "enable webhook notifications")

	flag.Parse()

	ctx := context.Background()

	conf, err := config.New(ctx, *env)
	if err != nil {
		log.Fatal(err)
	}

	if conf.SentryURL != "" && conf.SentryURL != "x" {
		err = sentry.Init(sentry.ClientOptions{
			Dsn: conf.SentryURL,
			// Set TracesSampleRate to 1.0 to capture 100%
			// of transactions for performance monitoring.
			// We recommend adjusting this value in production,
			TracesSampleRate: 1.0,
		})
		if err != nil {
			log.Fatalf("sentry.Init: %s", err)
		}
		// Flush buffered events before the program terminates.
		defer sentry.Flush(2 * time.Second)
	}

	log.Default().Println("loading chain table...")

	chains, err := config.LoadChains(*confpath)
	if err != nil {
		log.Fatal(err)
	}

	log.Default().Println("starting internal db service...")

	d, err := db.NewDB(conf.DBPath)
	if err != nil {
		log.Fatal(err)
	}
	defer d.Close()

	wm := webhook.NewMessager(conf.WebhookURL, conf.AppName, *notify && conf.WebhookURL != "")

	provider := custody.NewClient(conf.CustodyBaseURL, conf.CustodyAPIKey)

	var remote transfer.RemoteSigner
	if conf.SignerBaseURL != "" {
		remote = signer.NewClient(conf.SignerBaseURL)
	}

	var key *ecdsa.PrivateKey
	if conf.SigningKey != "" {
		key, err = common.HexToPrivateKey(conf.SigningKey)
		if err != nil {
			log.Fatal(err)
		}
	}

	delegate := signing.NewDelegate(key, remote, d.CredentialDB, 2*time.Minute, 30*time.Second)

	pct, minimum, err := conf.ServiceFee()
	if err != nil {
		log.Fatal(err)
	}

	engine := fees.NewEngine(chains, pct, minimum, conf.ServiceFeeEnabled)

	quitAck := make(chan error)

	log.Default().Println("starting submission queue...")

	submitRetries := 3

	submitq := queue.NewService(submitRetries, 100, ctx, wm)

	go func() {
		quitAck <- submitq.Start(queue.NewSubmitter(ctx, d, provider, wm, submitRetries))
	}()
	defer submitq.Close()

	log.Default().Println("starting reconciler...")

	var attest transfer.AttestationService
	if conf.AttestationBaseURL != "" {
		attest = attestation.NewClient(conf.AttestationBaseURL)
	}

	rec := reconcile.New(time.Duration(*poll)*time.Second, chains, d, provider, attest, wm, ctx)

	go func() {
		quitAck <- rec.Start()
	}()
	defer rec.Close()

	log.Default().Println("starting api service...")

	orch := orchestrator.NewService(chains, engine, delegate, provider, d, submitq, wm)

	api := router.NewServer(conf.APIKey, orch)

	go func() {
		quitAck <- api.Start(*port)
	}()

	log.Default().Println("listening on port: ", *port)

	for err := range quitAck {
		if err != nil {
			log.Fatal(err)
		}
	}
}
