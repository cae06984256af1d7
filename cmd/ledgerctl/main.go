// Command ledgerctl is a smoke-driver CLI over the trust kernel's core
// packages. It exercises the whole append -> project -> disclose ->
// reveal path against a real sqlite-backed ledger from the command
// line, dispatching flat subcommands by string match over os.Args
// rather than a flag-per-command framework.
//
// Exit codes: 0 success, 1 verification failure, 2 invalid args,
// 3 policy denial.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kuibu/transparent-company/internal/anchor"
	"github.com/kuibu/transparent-company/internal/disclosure"
	"github.com/kuibu/transparent-company/internal/events"
	"github.com/kuibu/transparent-company/internal/governance"
	"github.com/kuibu/transparent-company/internal/ledger"
	"github.com/kuibu/transparent-company/internal/ledgererr"
	"github.com/kuibu/transparent-company/internal/policy"
	"github.com/kuibu/transparent-company/internal/projection"
	"github.com/kuibu/transparent-company/internal/reveal"
	"github.com/kuibu/transparent-company/pkg/signer"
)

const (
	exitOK           = 0
	exitVerifyFailed = 1
	exitInvalidArgs  = 2
	exitPolicyDenied = 3
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitInvalidArgs)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "demo":
		os.Exit(runDemo(args))
	case "publish":
		os.Exit(runPublish(args))
	case "verify":
		os.Exit(runVerify(args))
	case "reveal-request":
		os.Exit(runRevealRequest(args))
	case "help", "-h", "--help":
		printUsage()
		os.Exit(exitOK)
	default:
		fmt.Fprintf(os.Stderr, "ledgerctl: unknown command %q\n", cmd)
		printUsage()
		os.Exit(exitInvalidArgs)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `ledgerctl: trust-kernel smoke driver

Usage:
  ledgerctl demo           --db=PATH
  ledgerctl verify         --db=PATH
  ledgerctl publish        --db=PATH --gorm-db=PATH --policy=ID --start=RFC3339 --end=RFC3339 [--group-by=a,b]
  ledgerctl reveal-request --gorm-db=PATH --disclosure=ID --subject=NAME --actor-type=human|auditor --actor-id=ID`)
}

func devRegistry() (*signer.Registry, error) {
	seeds := map[signer.Role][]byte{
		signer.RoleAgent:   bytesOf("A"),
		signer.RoleHuman:   bytesOf("H"),
		signer.RoleAuditor: bytesOf("U"),
	}
	return signer.NewRegistry(seeds)
}

func bytesOf(s string) []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = s[0]
	}
	return b
}

// openGormStore opens the gorm-backed disclosure/anchor/reveal schema,
// selecting the real postgres driver for a "postgres://"/"postgresql://"
// DSN and falling back to a sqlite file otherwise, same convention as
// cmd/ledgerd so both binaries can point at the same store.
func openGormStore(dsn string) (*gorm.DB, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	}
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
}

func openLedger(dbPath string) (*ledger.Store, error) {
	reg, err := devRegistry()
	if err != nil {
		return nil, err
	}
	gov, err := governance.NewEngine(governance.DefaultPolicy())
	if err != nil {
		return nil, err
	}
	return ledger.Open(dbPath, reg, gov)
}

// runDemo appends a five-event procurement-to-shipment scenario: a
// procurement, its QC-passed receipt, a customer order, its payment,
// and the resulting shipment. That is enough to exercise governance,
// signing,
// chaining, and projection end to end and leave a chain verify can
// walk.
func runDemo(args []string) int {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	dbPath := fs.String("db", "./ledgerctl-demo.sqlite", "ledger sqlite path")
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}

	store, err := openLedger(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: open ledger: %v\n", err)
		return exitInvalidArgs
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	unitCost := int64(200)
	steps := []struct {
		actorType signer.ActorType
		signer    signer.Role
		eventType events.EventType
		payload   events.Payload
	}{
		{signer.ActorSystem, signer.RoleAgent, events.ProcurementOrdered, events.ProcurementOrderedPayload{
			SupplierID:   "supplier-demo-1",
			Items:        []events.ItemCost{{SKU: "sku-demo-1", Qty: 100, UnitCost: unitCost}},
			ExpectedDate: now.Format("2006-01-02"),
		}},
		{signer.ActorSystem, signer.RoleAgent, events.GoodsReceived, events.GoodsReceivedPayload{
			ProcurementID: "proc-demo-1",
			BatchID:       "batch-demo-1",
			Items:         []events.ItemReceived{{SKU: "sku-demo-1", Qty: 100, ExpiryDate: now.AddDate(1, 0, 0).Format("2006-01-02"), UnitCost: &unitCost}},
			QCPassed:      true,
		}},
		{signer.ActorAgent, signer.RoleAgent, events.OrderPlaced, events.OrderPlacedPayload{
			OrderID:     "order-demo-1",
			CustomerRef: "customer-demo-1",
			Items:       []events.OrderItem{{SKU: "sku-demo-1", Qty: 10, UnitPrice: 500}},
			Channel:     "web",
		}},
		{signer.ActorSystem, signer.RoleAgent, events.PaymentCaptured, events.PaymentCapturedPayload{
			OrderID:     "order-demo-1",
			Amount:      5000,
			Method:      "card",
			ReceiptHash: strings.Repeat("a", 64),
		}},
		{signer.ActorSystem, signer.RoleAgent, events.ShipmentDispatched, events.ShipmentDispatchedPayload{
			OrderID:    "order-demo-1",
			Items:      []events.ShipmentItem{{SKU: "sku-demo-1", Qty: 10}},
			CarrierRef: "carrier-demo-1",
		}},
	}

	for _, step := range steps {
		req := ledger.AppendRequest{
			EventType: step.eventType,
			Actor:     events.Actor{Type: step.actorType, ID: "demo-actor"},
			PolicyID:  "governance_policy_v1",
			Payload:   step.payload,
		}
		row, err := store.Append(ctx, req, step.signer)
		if err != nil {
			var denial *ledgererr.Error
			if errors.As(err, &denial) && denial.Kind == ledgererr.PolicyEnforcement {
				fmt.Fprintf(os.Stderr, "ledgerctl: governance denied %s: %v\n", step.eventType, err)
				return exitPolicyDenied
			}
			fmt.Fprintf(os.Stderr, "ledgerctl: append %s: %v\n", step.eventType, err)
			return exitInvalidArgs
		}
		fmt.Printf("appended seq_id=%d event_type=%s event_hash=%s\n", row.SeqID, row.EventType, row.EventHash)
	}

	ok, err := store.VerifyChain(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: verify chain: %v\n", err)
		return exitVerifyFailed
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "ledgerctl: chain verification failed after demo append")
		return exitVerifyFailed
	}

	rows, err := store.List(ctx, ledger.ListFilter{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: list: %v\n", err)
		return exitInvalidArgs
	}
	proj, err := projection.Rebuild(rows)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: rebuild projection: %v\n", err)
		return exitInvalidArgs
	}
	lot, ok := findLot(proj.Lots(), "sku-demo-1")
	if !ok {
		fmt.Fprintln(os.Stderr, "ledgerctl: expected lot sku-demo-1 not found after demo append")
		return exitInvalidArgs
	}
	fmt.Printf("chain verified: true, sku-demo-1 qty_on_hand=%d (expect 90)\n", lot.QtyOnHand)
	return exitOK
}

func findLot(lots []*projection.InventoryLot, sku string) (*projection.InventoryLot, bool) {
	for _, l := range lots {
		if l.SKU == sku {
			return l, true
		}
	}
	return nil, false
}

func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	dbPath := fs.String("db", "./ledgerctl-demo.sqlite", "ledger sqlite path")
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}

	store, err := openLedger(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: open ledger: %v\n", err)
		return exitInvalidArgs
	}
	defer store.Close()

	ok, err := store.VerifyChain(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: verify chain: %v\n", err)
		return exitVerifyFailed
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "ledgerctl: chain verification FAILED")
		return exitVerifyFailed
	}
	fmt.Println("ledgerctl: chain verification OK")
	return exitOK
}

func runPublish(args []string) int {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	dbPath := fs.String("db", "./ledgerctl-demo.sqlite", "ledger sqlite path")
	gormPath := fs.String("gorm-db", "./ledgerctl-demo.sqlite.gorm", "gorm-backed disclosure/anchor sqlite path")
	policyID := fs.String("policy", "policy_public_v1", "disclosure policy id")
	startRaw := fs.String("start", "", "period start, RFC3339")
	endRaw := fs.String("end", "", "period end, RFC3339")
	groupByRaw := fs.String("group-by", "", "comma-separated group-by dimensions")
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}
	if *startRaw == "" || *endRaw == "" {
		fmt.Fprintln(os.Stderr, "ledgerctl: publish requires --start and --end")
		return exitInvalidArgs
	}
	start, err := time.Parse(time.RFC3339, *startRaw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: parse --start: %v\n", err)
		return exitInvalidArgs
	}
	end, err := time.Parse(time.RFC3339, *endRaw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: parse --end: %v\n", err)
		return exitInvalidArgs
	}
	var groupBy []string
	if *groupByRaw != "" {
		groupBy = strings.Split(*groupByRaw, ",")
	}

	store, err := openLedger(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: open ledger: %v\n", err)
		return exitInvalidArgs
	}
	defer store.Close()

	reg, err := devRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: build registry: %v\n", err)
		return exitInvalidArgs
	}

	catalog, err := policy.DefaultCatalog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: load policy catalog: %v\n", err)
		return exitInvalidArgs
	}
	pol, ok := catalog.Get(*policyID)
	if !ok {
		fmt.Fprintf(os.Stderr, "ledgerctl: unknown policy %q\n", *policyID)
		return exitInvalidArgs
	}
	if !pol.AllowsGroupBy(groupBy) {
		fmt.Fprintf(os.Stderr, "ledgerctl: policy %q does not allow group_by %v\n", *policyID, groupBy)
		return exitPolicyDenied
	}

	ctx := context.Background()
	rows, err := store.List(ctx, ledger.ListFilter{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: list events: %v\n", err)
		return exitInvalidArgs
	}
	proj, err := projection.Rebuild(rows)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: rebuild projection: %v\n", err)
		return exitInvalidArgs
	}

	gormDB, err := openGormStore(*gormPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: open gorm db: %v\n", err)
		return exitInvalidArgs
	}
	if err := disclosure.AutoMigrate(gormDB); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: migrate disclosure: %v\n", err)
		return exitInvalidArgs
	}
	if err := anchor.AutoMigrate(gormDB); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: migrate anchor: %v\n", err)
		return exitInvalidArgs
	}

	anchorService := anchor.New(gormDB, anchor.ModeFake, anchor.NewFakeClient(), false)

	result, err := disclosure.Publish(
		ctx,
		gormDB,
		rows,
		proj.ShipmentCosts(),
		pol,
		start,
		end,
		groupBy,
		reg,
		store,
		anchorService,
		time.Now().UTC(),
	)
	if err != nil {
		var ledgerErr *ledgererr.Error
		if errors.As(err, &ledgerErr) {
			switch ledgerErr.Kind {
			case ledgererr.PeriodTooRecent, ledgererr.GroupByNotAllowed:
				fmt.Fprintf(os.Stderr, "ledgerctl: publish denied: %v\n", err)
				return exitPolicyDenied
			}
		}
		fmt.Fprintf(os.Stderr, "ledgerctl: publish: %v\n", err)
		return exitInvalidArgs
	}

	out, _ := json.MarshalIndent(result.Statement, "", "  ")
	fmt.Println(string(out))
	return exitOK
}

func runRevealRequest(args []string) int {
	fs := flag.NewFlagSet("reveal-request", flag.ContinueOnError)
	gormPath := fs.String("gorm-db", "./ledgerctl-demo.sqlite.gorm", "gorm-backed disclosure/anchor/reveal sqlite path")
	disclosureID := fs.String("disclosure", "", "disclosure id to request a reveal token for")
	subject := fs.String("subject", "", "subject the reveal concerns")
	actorType := fs.String("actor-type", "auditor", "human|auditor")
	actorID := fs.String("actor-id", "auditor-cli", "requesting actor id")
	ttlSeconds := fs.Int("ttl-seconds", 900, "token TTL in seconds")
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}
	if *disclosureID == "" || *subject == "" {
		fmt.Fprintln(os.Stderr, "ledgerctl: reveal-request requires --disclosure and --subject")
		return exitInvalidArgs
	}

	gormDB, err := openGormStore(*gormPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: open gorm db: %v\n", err)
		return exitInvalidArgs
	}
	if err := reveal.AutoMigrate(gormDB); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: migrate reveal: %v\n", err)
		return exitInvalidArgs
	}

	svc := reveal.New(gormDB, []byte("ledgerctl-dev-reveal-signing-key"), time.Duration(*ttlSeconds)*time.Second, nil)

	actor := events.Actor{Type: signer.ActorType(*actorType), ID: *actorID}
	result, err := svc.RequestToken(context.Background(), *disclosureID, *subject, actor)
	if err != nil {
		var ledgerErr *ledgererr.Error
		if errors.As(err, &ledgerErr) && ledgerErr.Kind == ledgererr.PolicyEnforcement {
			fmt.Fprintf(os.Stderr, "ledgerctl: reveal request denied: %v\n", err)
			return exitPolicyDenied
		}
		fmt.Fprintf(os.Stderr, "ledgerctl: request token: %v\n", err)
		return exitInvalidArgs
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	return exitOK
}
