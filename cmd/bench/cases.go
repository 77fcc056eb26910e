// README: Scenario cases: infra checks, delivery lifecycle over HTTP, accept race and create throughput.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	api   *apiClient
	db    *pgxpool.Pool
	redis *redis.Client

	// scenario state, filled in case order
	customer string
	drivers  []string
	orderID  string
	tracking string
	winner   string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg: cfg,
		api: &apiClient{base: cfg.BaseURL, httpc: &http.Client{Timeout: 10 * time.Second}},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: checkPostgres},
		{Name: "Env: Redis connect", Run: checkRedis},
		{Name: "Migration: tables exist", Run: checkTables},
		{Name: "API: health", Run: checkHealth},
		{Name: "Setup: customer and approved drivers", Run: setupAccounts},
		{Name: "Order: create (5000 XOF)", Run: createOrder},
		expectCase("Order: zero price -> 422", http.MethodPost, "/api/orders", roleCustomer, orderBody("0"), http.StatusUnprocessableEntity),
		expectCase("Order: malformed price -> 400", http.MethodPost, "/api/orders", roleCustomer, orderBody("50.001"), http.StatusBadRequest),
		expectCase("Order: unauthenticated -> 401", http.MethodPost, "/api/orders", roleNone, orderBody("5000"), http.StatusUnauthorized),
		{Name: "Concurrency: drivers race to accept one order", Run: raceAccept},
		{Name: "Cancel: after accept -> 409", Run: cancelAfterAccept},
		{Name: "Lifecycle: pickup, transit, deliver", Run: progress},
		{Name: "Lifecycle: deliver twice -> 409", Run: deliverAgain},
		{Name: "Tracking: public history has 5 entries", Run: trackOrder},
		{Name: "Settlement: exactly one ledger row", Run: checkSettlement},
		{Name: "Perf: order create throughput", Run: perfCreate},
	}
}

const (
	roleNone = iota
	roleCustomer
)

func orderBody(price string) map[string]any {
	return map[string]any{
		"pickup_address":   "Plateau, Abidjan",
		"delivery_address": "Cocody, Abidjan",
		"recipient_name":   "bench recipient",
		"recipient_phone":  "+2250700000000",
		"package_type":     "parcel",
		"weight_grams":     1200,
		"urgency":          "standard",
		"price":            price,
	}
}

func checkPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusFail, Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: StatusFail, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func checkTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: StatusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("%d tables", len(tables))}
}

func checkHealth(ctx context.Context, r *Runner) Result {
	resp, err := r.api.call(ctx, http.MethodGet, "/health", "", nil)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if resp.Status != http.StatusOK {
		return Result{Status: StatusFail, Note: resp.note()}
	}
	return Result{Status: StatusPass, Latency: resp.Latency}
}

// setupAccounts creates one customer and cfg.Concurrency drivers. Drivers are
// approved directly in the database since admins are provisioned out of band.
func setupAccounts(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db needed to approve drivers"}
	}
	run := uuid.NewString()[:8]
	_, token, err := r.api.account(ctx, "customer", "customer-"+run+"@bench.local", r.cfg.Password)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	r.customer = token

	for i := 0; i < r.cfg.Concurrency; i++ {
		_, dtoken, err := r.api.account(ctx, "driver", fmt.Sprintf("driver-%s-%d@bench.local", run, i), r.cfg.Password)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		resp, err := r.api.call(ctx, http.MethodPost, "/api/drivers", dtoken, map[string]any{
			"phone":        fmt.Sprintf("+22507%08d", i),
			"vehicle_type": "motorbike",
			"age":          25,
		})
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		if resp.Status != http.StatusCreated {
			return Result{Status: StatusFail, Note: "apply: " + resp.note()}
		}
		if _, err := r.db.Exec(ctx, `UPDATE drivers SET status = 'approved' WHERE id = $1`, resp.str("id")); err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		r.drivers = append(r.drivers, dtoken)
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("drivers=%d", len(r.drivers))}
}

func createOrder(ctx context.Context, r *Runner) Result {
	if r.customer == "" {
		return Result{Status: StatusSkip, Note: "no customer"}
	}
	resp, err := r.api.call(ctx, http.MethodPost, "/api/orders", r.customer, orderBody("5000"))
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if resp.Status != http.StatusCreated {
		return Result{Status: StatusFail, Latency: resp.Latency, Note: resp.note()}
	}
	r.orderID = resp.str("id")
	r.tracking = resp.str("tracking_number")
	return Result{Status: StatusPass, Latency: resp.Latency, Note: r.tracking}
}

func expectCase(name, method, path string, who int, body any, want int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			token := ""
			if who == roleCustomer {
				if r.customer == "" {
					return Result{Status: StatusSkip, Note: "no customer"}
				}
				token = r.customer
			}
			resp, err := r.api.call(ctx, method, path, token, body)
			if err != nil {
				return Result{Status: StatusFail, Note: err.Error()}
			}
			if resp.Status != want {
				return Result{Status: StatusFail, Latency: resp.Latency, Note: resp.note()}
			}
			return Result{Status: StatusPass, Latency: resp.Latency}
		},
	}
}

func raceAccept(ctx context.Context, r *Runner) Result {
	if r.orderID == "" || len(r.drivers) == 0 {
		return Result{Status: StatusSkip, Note: "no order or drivers"}
	}
	path := "/api/drivers/orders/" + r.orderID + "/accept"

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succ      int
		conflicts int
		other     []string
	)
	start := make(chan struct{})
	for _, token := range r.drivers {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			<-start
			resp, err := r.api.call(ctx, http.MethodPost, path, token, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				other = append(other, err.Error())
			case resp.Status == http.StatusOK:
				succ++
				r.winner = token
			case resp.Status == http.StatusConflict && resp.str("error") == "order no longer available":
				conflicts++
			default:
				other = append(other, resp.note())
			}
		}(token)
	}
	began := time.Now()
	close(start)
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d other=%d", succ, conflicts, len(other))
	if succ != 1 || conflicts != len(r.drivers)-1 {
		return Result{Status: StatusFail, Latency: time.Since(began), Note: note}
	}
	return Result{Status: StatusPass, Latency: time.Since(began), Note: note}
}

func cancelAfterAccept(ctx context.Context, r *Runner) Result {
	if r.winner == "" {
		return Result{Status: StatusSkip, Note: "order not accepted"}
	}
	resp, err := r.api.call(ctx, http.MethodPost, "/api/orders/"+r.orderID+"/cancel", r.customer, map[string]any{"reason": "bench"})
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if resp.Status != http.StatusConflict {
		return Result{Status: StatusFail, Note: resp.note()}
	}
	return Result{Status: StatusPass, Latency: resp.Latency}
}

func progress(ctx context.Context, r *Runner) Result {
	if r.winner == "" {
		return Result{Status: StatusSkip, Note: "order not accepted"}
	}
	var total time.Duration
	for _, step := range []string{"pickup", "transit", "deliver"} {
		resp, err := r.api.call(ctx, http.MethodPost, "/api/drivers/orders/"+r.orderID+"/"+step, r.winner, map[string]any{"location": "bench"})
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		total += resp.Latency
		if resp.Status != http.StatusOK {
			return Result{Status: StatusFail, Note: step + ": " + resp.note()}
		}
	}
	return Result{Status: StatusPass, Latency: total}
}

func deliverAgain(ctx context.Context, r *Runner) Result {
	if r.winner == "" {
		return Result{Status: StatusSkip, Note: "order not accepted"}
	}
	resp, err := r.api.call(ctx, http.MethodPost, "/api/drivers/orders/"+r.orderID+"/deliver", r.winner, nil)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if resp.Status != http.StatusConflict {
		return Result{Status: StatusFail, Note: resp.note()}
	}
	return Result{Status: StatusPass, Latency: resp.Latency}
}

func trackOrder(ctx context.Context, r *Runner) Result {
	if r.tracking == "" {
		return Result{Status: StatusSkip, Note: "no order"}
	}
	resp, err := r.api.call(ctx, http.MethodGet, "/api/track/"+r.tracking, "", nil)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	history, _ := resp.Body["history"].([]any)
	if resp.Status != http.StatusOK || len(history) != 5 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("%s history=%d", resp.note(), len(history))}
	}
	return Result{Status: StatusPass, Latency: resp.Latency}
}

func checkSettlement(ctx context.Context, r *Runner) Result {
	if r.db == nil || r.orderID == "" || r.winner == "" {
		return Result{Status: StatusSkip, Note: "no delivered order"}
	}
	var rows int
	var payout string
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(MAX(payout_status), '') FROM settlements WHERE order_id = $1`,
		r.orderID,
	).Scan(&rows, &payout)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if rows != 1 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("rows=%d", rows)}
	}
	return Result{Status: StatusPass, Note: "payout_status=" + payout}
}

func perfCreate(ctx context.Context, r *Runner) Result {
	if r.customer == "" {
		return Result{Status: StatusSkip, Note: "no customer"}
	}
	end := time.Now().Add(r.cfg.Duration)
	var (
		mu       sync.Mutex
		count    int64
		errCount int64
		wg       sync.WaitGroup
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				resp, err := r.api.call(ctx, http.MethodPost, "/api/orders", r.customer, orderBody("1500"))
				mu.Lock()
				if err != nil || resp.Status != http.StatusCreated {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: StatusFail, Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}
