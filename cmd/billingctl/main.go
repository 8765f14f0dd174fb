// Command billingctl checks PayPal credentials and plan ids from the shell.
//
//	billingctl verify [-env live|sandbox] [plan-id ...]
//	billingctl token  [-env live|sandbox]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dukerupert/duobill/internal/billing"
	"github.com/dukerupert/duobill/internal/billing/paypal"
	"github.com/dukerupert/duobill/internal/config"
	"github.com/dukerupert/duobill/internal/logging"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	logger := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch args[0] {
	case "verify":
		return verify(ctx, cfg, logger, args[1:], stdout, stderr)
	case "token":
		return token(ctx, cfg, logger, args[1:], stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: billingctl verify [-env live|sandbox] [plan-id ...]")
	fmt.Fprintln(w, "       billingctl token  [-env live|sandbox]")
}

func envFlag(fs *flag.FlagSet, cfg *config.Config) *string {
	return fs.String("env", string(cfg.DefaultPayPalEnv()), "PayPal environment (live or sandbox)")
}

func verify(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envName := envFlag(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	env, err := billing.ParseEnvironment(*envName)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	ids := fs.Args()
	if len(ids) == 0 {
		plans, err := cfg.Plans()
		if err != nil {
			fmt.Fprintf(stderr, "plans: %v\n", err)
			return 1
		}
		ids = plans.PayPalPlanIDs()
	}
	if len(ids) == 0 {
		fmt.Fprintln(stderr, "no plan ids given and none configured")
		return 2
	}

	broker := paypal.NewBroker(cfg.PayPalClient(), paypal.WithLogger(logger))
	verifier := paypal.NewVerifier(broker, cfg.PayPalClient(), paypal.WithVerifierLogger(logger))
	results, err := verifier.VerifyPlans(ctx, env, ids)
	if err != nil {
		fmt.Fprintf(stderr, "verify: %v\n", err)
		return 1
	}

	code := 0
	for _, r := range results {
		if !r.OK {
			code = 1
			fmt.Fprintf(stdout, "FAIL %s  %s\n", r.ID, r.Error)
			continue
		}
		cycles := make([]string, 0, len(r.BillingCycles))
		for _, c := range r.BillingCycles {
			cycles = append(cycles, c.Cadence)
		}
		fmt.Fprintf(stdout, "ok   %s  %s  %q  %s\n", r.ID, r.Status, r.Name, strings.Join(cycles, ", "))
	}
	return code
}

func token(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envName := envFlag(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	env, err := billing.ParseEnvironment(*envName)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	broker := paypal.NewBroker(cfg.PayPalClient(), paypal.WithLogger(logger))
	tok, err := broker.AccessToken(ctx, env)
	if err != nil {
		fmt.Fprintf(stderr, "token: %v\n", err)
		return 1
	}
	// The token itself is never printed.
	fmt.Fprintf(stdout, "%s token ok, expires %s\n", env, tok.ExpiresAt.Format(time.RFC3339))
	return 0
}
