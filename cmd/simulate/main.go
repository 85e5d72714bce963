package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logger"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	DeleteRatio  float64
	ReadRatio    float64
	Days         int // booking window, starting tomorrow 08:00 UTC
	DoctorLimit  int
	PostgresDSN  string
}

// offsets the simulator writes start times in; the server must normalise all
// of them to the same UTC instant.
var zones = []*time.Location{
	time.UTC,
	time.FixedZone("IST", 5*3600+1800),
	time.FixedZone("EST", -5*3600),
	time.FixedZone("CET", 3600),
}

var durations = []int{15, 30, 45, 60, 90}

type DataPool struct {
	Patients []int64
	Doctors  []int64
	Base     time.Time

	mu           sync.RWMutex
	appointments []int64
}

func (dp *DataPool) AddAppointment(id int64) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

// TakeAppointment removes and returns a random known appointment.
func (dp *DataPool) TakeAppointment(rng *rand.Rand) (int64, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return 0, false
	}
	idx := rng.Intn(len(dp.appointments))
	id := dp.appointments[idx]
	dp.appointments[idx] = dp.appointments[len(dp.appointments)-1]
	dp.appointments = dp.appointments[:len(dp.appointments)-1]
	return id, true
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (int64, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return 0, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err != nil, status >= 500:
		atomic.AddInt64(&om.Error, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case status >= 400:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Success, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := slices.Clone(om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	max = latencies[len(latencies)-1]
	return avg, p50, p95, max
}

type Metrics struct {
	Booking  OperationMetrics
	Delete   OperationMetrics
	ReadByID OperationMetrics
	ListDay  OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     *zap.Logger
}

func main() {
	_ = godotenv.Load()

	log, err := logger.New(getEnv("LOG_LEVEL", "info"), getEnv("LOG_FORMAT", "console"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	log.Info("simulator starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("delete", cfg.DeleteRatio),
		zap.Float64("read", cfg.ReadRatio))

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dataPool, err := sim.loadDataPool(ctx)
	if err != nil {
		log.Fatal("load data pool", zap.Error(err))
	}
	sim.pool = dataPool
	log.Info("data pool loaded", zap.Int("patients", len(dataPool.Patients)), zap.Int("doctors", len(dataPool.Doctors)))

	sim.Run()
	sim.PrintReport()

	if overlaps := sim.Verify(context.Background()); overlaps > 0 {
		log.Error("schedule verification failed", zap.Int("overlapping_pairs", overlaps))
		_ = log.Sync()
		os.Exit(2)
	}
	log.Info("schedule verification passed")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.6),
		DeleteRatio:  getFloat("SIM_DELETE_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		Days:         getInt("SIM_DAYS", 3),
		DoctorLimit:  getInt("SIM_DOCTOR_LIMIT", 20),
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.DeleteRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.DeleteRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Days <= 0 {
		return fmt.Errorf("SIM_DAYS must be > 0")
	}
	return nil
}

// loadDataPool reads patients and active doctors through the API. A small
// doctor set keeps contention on each schedule high.
func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	var patients []struct {
		ID int64 `json:"id"`
	}
	if err := s.getJSON(ctx, "/patients", &patients); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	var doctors []struct {
		ID       int64 `json:"id"`
		IsActive bool  `json:"is_active"`
	}
	if err := s.getJSON(ctx, "/doctors", &doctors); err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}

	dp := &DataPool{}
	for _, p := range patients {
		dp.Patients = append(dp.Patients, p.ID)
	}
	for _, d := range doctors {
		if d.IsActive && len(dp.Doctors) < s.config.DoctorLimit {
			dp.Doctors = append(dp.Doctors, d.ID)
		}
	}

	if len(dp.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run cmd/seed first")
	}
	if len(dp.Doctors) == 0 {
		return nil, fmt.Errorf("no active doctors loaded, run cmd/seed first")
	}

	tomorrow := time.Now().UTC().AddDate(0, 0, 1)
	dp.Base = time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 8, 0, 0, 0, time.UTC)
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation")

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

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.DeleteRatio:
			s.doDelete(ctx, rng)
		case rng.Intn(2) == 0:
			s.doReadByID(ctx, rng)
		default:
			s.doListDay(ctx, rng)
		}
	}
}

// doBooking picks a 15 minute grid point between 08:00 and 18:00 UTC on one
// of the simulated days, so many requests collide.
func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	const slotsPerDay = 40

	day := rng.Intn(s.config.Days)
	start := s.pool.Base.AddDate(0, 0, day).Add(time.Duration(rng.Intn(slotsPerDay)*15) * time.Minute)
	zone := zones[rng.Intn(len(zones))]

	body, _ := json.Marshal(map[string]any{
		"patient_id":       s.pool.Patients[rng.Intn(len(s.pool.Patients))],
		"doctor_id":        s.pool.Doctors[rng.Intn(len(s.pool.Doctors))],
		"start_time":       start.In(zone).Format(time.RFC3339),
		"duration_minutes": durations[rng.Intn(len(durations))],
	})

	began := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(began)
	if ctx.Err() != nil {
		return
	}

	status := 0
	if err == nil {
		status = resp.StatusCode
		if status == http.StatusCreated {
			var created struct {
				ID int64 `json:"id"`
			}
			if json.NewDecoder(resp.Body).Decode(&created) == nil && created.ID > 0 {
				s.pool.AddAppointment(created.ID)
			}
		}
		resp.Body.Close()
	}

	s.metrics.Booking.Record(latency, status, err)
}

func (s *Simulator) doDelete(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.TakeAppointment(rng)
	if !ok {
		return
	}
	s.timed(ctx, &s.metrics.Delete, http.MethodDelete, fmt.Sprintf("/appointments/%d", id))
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	s.timed(ctx, &s.metrics.ReadByID, http.MethodGet, fmt.Sprintf("/appointments/%d", id))
}

func (s *Simulator) doListDay(ctx context.Context, rng *rand.Rand) {
	day := s.pool.Base.AddDate(0, 0, rng.Intn(s.config.Days)).Format(time.DateOnly)
	doctor := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	s.timed(ctx, &s.metrics.ListDay, http.MethodGet, fmt.Sprintf("/appointments?date=%s&doctor_id=%d", day, doctor))
}

func (s *Simulator) timed(ctx context.Context, om *OperationMetrics, method, path string) {
	began := time.Now()
	req, _ := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, nil)
	resp, err := s.client.Do(req)
	latency := time.Since(began)
	if ctx.Err() != nil {
		return
	}

	status := 0
	if err == nil {
		status = resp.StatusCode
		resp.Body.Close()
	}
	om.Record(latency, status, err)
}

// Verify checks that no doctor ended up double booked: through the API
// listing, and through a direct store audit when POSTGRES_DSN is set.
func (s *Simulator) Verify(ctx context.Context) int {
	var listed []struct {
		ID              int64     `json:"id"`
		DoctorID        int64     `json:"doctor_id"`
		StartTimeUTC    time.Time `json:"start_time_utc"`
		DurationMinutes int       `json:"duration_minutes"`
	}
	if err := s.getJSON(ctx, "/appointments", &listed); err != nil {
		s.log.Error("list appointments for verification", zap.Error(err))
		return 0
	}

	byDoctor := make(map[int64][]appointment.Appointment)
	for _, a := range listed {
		byDoctor[a.DoctorID] = append(byDoctor[a.DoctorID], appointment.Appointment{
			ID:              a.ID,
			DoctorID:        a.DoctorID,
			StartTimeUTC:    a.StartTimeUTC,
			DurationMinutes: a.DurationMinutes,
		})
	}

	overlaps := 0
	for _, appts := range byDoctor {
		overlaps += len(appointment.FindOverlaps(appts))
	}
	s.log.Info("api verification", zap.Int("appointments", len(listed)), zap.Int("overlapping_pairs", overlaps))

	if s.config.PostgresDSN == "" {
		return overlaps
	}

	pool, err := db.ConnectPostgres(ctx, s.config.PostgresDSN)
	if err != nil {
		s.log.Error("connect postgres for audit", zap.Error(err))
		return overlaps
	}
	defer pool.Close()

	svc := appointment.NewService(appointment.NewPgRepository(pool), nil, s.log.Named("scheduling"))
	pairs, err := svc.AuditSchedules(ctx)
	if err != nil {
		s.log.Error("store audit", zap.Error(err))
		return overlaps
	}
	s.log.Info("store audit", zap.Int("overlapping_pairs", len(pairs)))
	return max(overlaps, len(pairs))
}

func (s *Simulator) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Doctors: %d  Patients: %d  Days: %d\n", len(s.pool.Doctors), len(s.pool.Patients), s.config.Days)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Delete", &s.metrics.Delete)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by day", &s.metrics.ListDay)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	rejected := atomic.LoadInt64(&om.Rejected)
	failed := atomic.LoadInt64(&om.Error)

	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", rejected, pct(rejected))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
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
