package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/mini-hms/internal/app"
	"github.com/hackgods/mini-hms/internal/config"
	"github.com/hackgods/mini-hms/internal/db"
	"github.com/hackgods/mini-hms/internal/identity"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	PatientLimit int
	HotSlots     int
}

// DataPool holds the actors and slots a run draws from. Tokens are minted
// once up front so workers only pay for the HTTP call.
type DataPool struct {
	Patients []uuid.UUID
	Tokens   map[uuid.UUID]string
	Slots    []uuid.UUID
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Limited   int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeLimited
	outcomeError
)

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case outcomeLimited:
		atomic.AddInt64(&om.Limited, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking   OperationMetrics
	Available OperationMetrics
	Mine      OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	log     *zap.Logger
	metrics Metrics

	// winners counts successful bookings per slot; more than one is a
	// double booking.
	mu      sync.Mutex
	winners map[uuid.UUID]int
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log := app.NewLogger(baseCfg.Env)
	defer func() { _ = log.Sync() }()
	log.Info("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	log.Info("simulation config",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking_ratio", cfg.BookingRatio),
		zap.Int("hot_slots", cfg.HotSlots),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, 4)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	auth := identity.NewAuthenticator(baseCfg.JWTSecret, baseCfg.TokenTTL)
	dataPool, err := loadDataPool(ctx, pgPool, auth, cfg)
	if err != nil {
		log.Fatal("load data pool", zap.Error(err))
	}

	log.Info("data loaded", zap.Int("patients", len(dataPool.Patients)), zap.Int("slots", len(dataPool.Slots)))

	sim := &Simulator{
		config:  cfg,
		pool:    dataPool,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
		winners: make(map[uuid.UUID]int),
	}

	sim.Run()
	sim.PrintReport()

	if doubles := sim.DoubleBookings(); len(doubles) > 0 {
		log.Error("double bookings detected", zap.Int("slots", len(doubles)))
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 20),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.7),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 500),
		HotSlots:     getInt("SIM_HOT_SLOTS", 50),
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HotSlots <= 0 {
		return fmt.Errorf("SIM_HOT_SLOTS must be > 0")
	}
	if cfg.BookingRatio < 0 || cfg.BookingRatio > 1 {
		return fmt.Errorf("SIM_BOOKING_RATIO must be within [0, 1]")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, auth *identity.Authenticator, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{Tokens: make(map[uuid.UUID]string)}

	rows, err := pool.Query(ctx, `
		SELECT id FROM profiles WHERE role = 'patient' LIMIT $1
	`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		token, err := auth.IssueToken(identity.Actor{ID: id, Role: identity.RolePatient})
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("issue token: %w", err)
		}
		dataPool.Patients = append(dataPool.Patients, id)
		dataPool.Tokens[id] = token
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	// A small set of open slots well past the lead window keeps contention
	// high and avoids lead-time rejections during the run.
	rows, err = pool.Query(ctx, `
		SELECT id FROM appointment_slots
		WHERE is_booked = false AND slot_date > current_date
		ORDER BY slot_date, start_time
		LIMIT $1
	`, cfg.HotSlots)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Slots = append(dataPool.Slots, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run cmd/seed first")
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no open slots loaded, run cmd/seed first")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
			if rng.Float64() < s.config.BookingRatio {
				s.doBooking(ctx, rng, patient)
			} else if rng.Intn(2) == 0 {
				s.doRead(ctx, patient, "/slots/available", &s.metrics.Available)
			} else {
				s.doRead(ctx, patient, "/slots/mine", &s.metrics.Mine)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, patient uuid.UUID) {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	start := time.Now()
	status, err := s.do(ctx, http.MethodPost, fmt.Sprintf("/slots/%s/book", slotID), patient)
	latency := time.Since(start)

	if ctx.Err() != nil {
		return
	}

	o := outcomeError
	switch {
	case err != nil:
	case status == http.StatusOK:
		o = outcomeSuccess
		s.mu.Lock()
		s.winners[slotID]++
		s.mu.Unlock()
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		// already booked, overlapping, or inside the lead window
		o = outcomeConflict
	case status == http.StatusTooManyRequests:
		o = outcomeLimited
	}

	s.metrics.Booking.Record(latency, o)
}

func (s *Simulator) doRead(ctx context.Context, patient uuid.UUID, path string, om *OperationMetrics) {
	start := time.Now()
	status, err := s.do(ctx, http.MethodGet, path, patient)
	latency := time.Since(start)

	if ctx.Err() != nil {
		return
	}

	o := outcomeError
	if err == nil && status == http.StatusOK {
		o = outcomeSuccess
	}
	om.Record(latency, o)
}

func (s *Simulator) do(ctx context.Context, method, path string, patient uuid.UUID) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+s.pool.Tokens[patient])

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// DoubleBookings returns the slots that more than one request booked.
func (s *Simulator) DoubleBookings() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []uuid.UUID
	for id, n := range s.winners {
		if n > 1 {
			out = append(out, id)
		}
	}
	return out
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Hot slots: %d\n", len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Book slot", &s.metrics.Booking)
	printOperationReport("List available", &s.metrics.Available)
	printOperationReport("List mine", &s.metrics.Mine)

	s.mu.Lock()
	booked := len(s.winners)
	s.mu.Unlock()
	fmt.Printf("Slots booked: %d of %d\n", booked, len(s.pool.Slots))
	fmt.Printf("Double bookings: %d\n", len(s.DoubleBookings()))
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	limited := atomic.LoadInt64(&om.Limited)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if limited > 0 {
		fmt.Printf("  Rate limited: %d (%.1f%%)\n", limited, pct(limited))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
