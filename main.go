package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"carimbai/api"
	"carimbai/devserver"
	"carimbai/models"
	"carimbai/scanner"
	"carimbai/storage"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: .env file not found, using default environment variables")
	}

	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "staff":
		runStaff(os.Args[2:])
	case "customer":
		runCustomer(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: carimbai <mode> [flags]

modes:
  serve     run the local loyalty dev server
  staff     merchant terminal: scan customer tokens and apply stamps
  customer  customer terminal: show a card's rotating presentation token`)
	os.Exit(2)
}

func baseURL() string {
	url := os.Getenv("API_BASE_URL")
	if url == "" {
		url = "http://localhost:8080/api"
	}
	return url
}

func cacheStore() *storage.FileStore {
	path := os.Getenv("CARIMBAI_CACHE")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		path = filepath.Join(home, ".carimbai.json")
	}
	return storage.NewFileStore(path)
}

func runServe() {
	secret := os.Getenv("TOKEN_SECRET")
	if secret == "" {
		secret = "carimbai-dev-secret"
		log.Println("Warning: TOKEN_SECRET not set, using the dev default")
	}

	ttl := 120 * time.Second
	if raw := os.Getenv("QR_TTL_SECONDS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			log.Fatalf("Invalid QR_TTL_SECONDS: %q", raw)
		}
		ttl = time.Duration(secs) * time.Second
	}
	signer := devserver.NewSigner(secret, ttl)

	var store devserver.Store
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			log.Fatalf("Unable to connect to database: %v\n", err)
		}
		defer pool.Close()
		if err := pool.Ping(context.Background()); err != nil {
			log.Fatalf("Unable to ping database: %v\n", err)
		}
		log.Println("Successfully connected to the database!")
		store = devserver.NewPostgresStore(pool)
	} else {
		mem := devserver.NewMemoryStore()
		if seedPath := os.Getenv("SEED_FILE"); seedPath != "" {
			seed, err := devserver.LoadSeed(seedPath)
			if err != nil {
				log.Fatalf("Unable to load seed file: %v\n", err)
			}
			seed.Apply(mem)
			log.Printf("Seeded %d staff, %d customers, %d cards from %s",
				len(seed.Staff), len(seed.Customers), len(seed.Cards), seedPath)
		}
		store = mem
	}

	router := devserver.NewRouter(store, signer)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Dev server starting on port %s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v\n", err)
	}
}

func runStaff(args []string) {
	flags := flag.NewFlagSet("staff", flag.ExitOnError)
	email := flags.String("email", "", "staff email (omit to reuse the cached session)")
	password := flags.String("password", "", "staff password")
	location := flags.Int64("location", 0, "location id stamps are applied at (required)")
	flags.Parse(args)

	client := api.NewClient(baseURL())
	cache := cacheStore()

	session, err := storage.LoadStaffSession(cache)
	if err != nil {
		log.Fatalf("Failed to read session cache: %v", err)
	}
	if session == nil {
		if *email == "" || *password == "" {
			log.Fatal("No cached session; -email and -password are required")
		}
		fresh, err := client.LoginStaff(context.Background(), *email, *password)
		if err != nil {
			log.Fatalf("Login failed: %v", err)
		}
		if err := storage.SaveStaffSession(cache, fresh); err != nil {
			log.Printf("Warning: could not cache session: %v", err)
		}
		session = &fresh
	}
	log.Printf("Logged in as staff %d (%s)", session.StaffID, session.Role)

	if *location == 0 {
		log.Fatal("A location must be selected before scanning; pass -location")
	}

	controller := scanner.New(scanner.NewLineSource(os.Stdin), client, session.Context(*location))
	controller.OnSettle(func(s scanner.Settlement) {
		printSettlement(s)
		if err := controller.Start(); err != nil {
			log.Printf("Could not resume scanning: %v", err)
		}
	})

	fmt.Println("Paste a scanned token per line (Ctrl-C to quit):")
	if err := controller.Start(); err != nil {
		log.Fatalf("Failed to start scanning: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	<-ctx.Done()

	controller.Close()
	history := controller.History()
	if len(history) > 0 {
		fmt.Printf("\nSession history (%d attempts, most recent first):\n", len(history))
		for _, item := range history {
			fmt.Printf("  %s  card=%s  %d/%d  reward=%v  %s\n",
				item.At.Format(time.Kitchen), item.CardID, item.Stamps, item.Needed, item.RewardIssued, item.Outcome)
		}
	}
}

func printSettlement(s scanner.Settlement) {
	switch {
	case s.DecodeErr != nil:
		fmt.Printf("scan failed: %s\n", s.DecodeErr.Error())
	case s.Result != nil && s.Result.Outcome == models.OutcomeSuccess:
		fmt.Printf("stamp applied: card %s now at %d/%d\n", s.Result.CardID, s.Result.Stamps, s.Result.Needed)
		if s.Result.RewardIssued {
			fmt.Println("reward earned!")
		}
	case s.Result != nil:
		fmt.Printf("attempt failed (%s): %s\n", s.Result.Outcome, s.Result.Message)
	}
}

func runCustomer(args []string) {
	flags := flag.NewFlagSet("customer", flag.ExitOnError)
	name := flags.String("name", "", "customer name")
	email := flags.String("email", "", "customer email")
	phone := flags.String("phone", "", "customer phone")
	provider := flags.String("provider", "", "external provider id")
	cardID := flags.Int64("card", 0, "card to present (defaults to the first active card)")
	flags.Parse(args)

	client := api.NewClient(baseURL())
	cache := cacheStore()

	customer, err := storage.LoadCustomer(cache)
	if err != nil {
		log.Fatalf("Failed to read identity cache: %v", err)
	}
	if customer == nil {
		req := models.CustomerLoginRequest{Name: *name, Email: *email, Phone: *phone, ProviderID: *provider}
		fresh, err := client.LoginOrRegisterCustomer(context.Background(), req)
		if err != nil {
			log.Fatalf("Customer login failed: %v", err)
		}
		if err := storage.SaveCustomer(cache, fresh); err != nil {
			log.Printf("Warning: could not cache identity: %v", err)
		}
		customer = &fresh
	}
	log.Printf("Customer %d", customer.CustomerID)

	cards, err := client.CustomerCards(context.Background(), customer.CustomerID)
	if err != nil {
		log.Fatalf("Failed to list cards: %v", err)
	}
	if len(cards) == 0 {
		log.Fatal("No cards on this account yet")
	}

	fmt.Println("Your cards:")
	for _, card := range cards {
		fmt.Printf("  [%d] %s / %s: %d of %d stamps", card.CardID, card.MerchantName, card.ProgramName, card.StampsCount, card.StampsNeeded)
		if card.HasReward {
			fmt.Printf("  (reward ready: %s)", card.RewardName)
		}
		fmt.Println()
	}

	selected := *cardID
	if selected == 0 {
		for _, card := range cards {
			if card.Status == models.CardActive {
				selected = card.CardID
				break
			}
		}
	}
	if selected == 0 {
		log.Fatal("No active card to present")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	presentToken(ctx, client, selected)
}

// presentToken displays a rotating presentation token: the payload the QR
// would carry plus a live countdown, re-fetching a fresh token whenever the
// current one expires. The remaining time is re-evaluated against the wall
// clock on every tick.
func presentToken(ctx context.Context, client *api.Client, cardID int64) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		token, err := client.IssueToken(ctx, cardID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Fatalf("Failed to issue token: %v", err)
		}

		fmt.Printf("\nShow this code to the merchant:\n%s\n", token.Encode())
		for {
			remaining := token.SecondsRemaining(time.Now())
			if remaining == 0 {
				fmt.Println("\rCode expired, requesting a fresh one")
				break
			}
			fmt.Printf("\rValid for %s ", models.FormatRemaining(remaining))
			select {
			case <-ctx.Done():
				fmt.Println()
				return
			case <-ticker.C:
			}
		}
	}
}
