package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/google/uuid"

	"course-billing/internal/config"
	"course-billing/internal/domain/model"
	payAdapters "course-billing/internal/infra/adapters/payment"
	"course-billing/internal/infra/api"
	pg "course-billing/internal/infra/db/postgres"
)

// seed inserts a pending payment attempt the way checkout would, then
// prints a bearer token for its user and a sample webhook for manual
// end-to-end testing.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	reset := flag.Bool("reset", false, "truncate payments and entitlements first")
	userID := flag.String("user", "user-1", "user id the attempt belongs to")
	provider := flag.String("provider", payAdapters.ProviderCloudPayments, "yookassa | cloudpayments")
	ref := flag.String("ref", "", "provider reference (random when empty)")
	amount := flag.Int64("amount", 99000, "amount in minor units")
	kind := flag.String("kind", "subscription", "subscription | course")
	tier := flag.String("tier", "basic", "basic | premium")
	courseID := flag.String("course", "", "course id for course purchases")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	if *reset {
		_, err := pool.Exec(ctx, `TRUNCATE payments, user_subscriptions, course_purchases, payment_notifications RESTART IDENTITY CASCADE;`)
		if err != nil {
			log.Fatalf("truncate: %v", err)
		}
		fmt.Println("tables truncated")
	}

	product, err := model.ParseProduct(*kind, *tier, *courseID)
	if err != nil {
		log.Fatalf("product: %v", err)
	}
	if *ref == "" {
		*ref = uuid.NewString()
	}
	p, err := model.NewPaymentAttempt(*ref, *provider, *userID, *amount, "RUB", product)
	if err != nil {
		log.Fatalf("attempt: %v", err)
	}
	if err := pg.NewPaymentRepo(pool).Save(ctx, nil, p); err != nil {
		log.Fatalf("save attempt: %v", err)
	}
	fmt.Printf("seeded pending attempt id=%s ref=%s provider=%s user=%s amount=%d\n", p.ID, p.ProviderReference, p.Provider, p.UserID, p.Amount)

	token, err := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Mint(*userID, 24*time.Hour)
	if err != nil {
		log.Fatalf("mint token: %v", err)
	}
	fmt.Printf("\nAuthorization: Bearer %s\n", token)

	base := fmt.Sprintf("http://localhost:%d", cfg.HTTP.Port)
	switch *provider {
	case payAdapters.ProviderCloudPayments:
		cp, err := payAdapters.NewCloudPayments(cfg.Payment.CloudPayments)
		if err != nil {
			log.Fatalf("cloudpayments: %v", err)
		}
		form := url.Values{}
		form.Set("InvoiceId", p.ProviderReference)
		form.Set("TransactionId", "1001")
		form.Set("Amount", fmt.Sprintf("%d.%02d", *amount/100, *amount%100))
		form.Set("Currency", "RUB")
		form.Set("Status", "Completed")
		body := form.Encode()
		fmt.Printf("\ncurl -X POST %s/webhooks/cloudpayments -H 'Content-HMAC: %s' --data '%s'\n", base, cp.Sign([]byte(body)), body)
	case payAdapters.ProviderYooKassa:
		body := fmt.Sprintf(`{"type":"notification","event":"payment.succeeded","object":{"id":%q,"status":"succeeded","amount":{"value":"%d.%02d","currency":"RUB"}}}`,
			p.ProviderReference, *amount/100, *amount%100)
		fmt.Printf("\ncurl -X POST %s/webhooks/yookassa -H 'Content-Type: application/json' --data '%s'\n", base, body)
	}
}
