package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hackgods/campus-care-coordination/internal/api"
	"github.com/hackgods/campus-care-coordination/internal/appointment"
	"github.com/hackgods/campus-care-coordination/internal/config"
	"github.com/hackgods/campus-care-coordination/internal/hub"
	"github.com/hackgods/campus-care-coordination/internal/identity"
	"github.com/hackgods/campus-care-coordination/internal/logging"
)

type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	Listeners      int
	Students       int
	Providers      int
	BookingRatio   float64
	DecisionRatio  float64
	AmbulanceRatio float64
	AlertRatio     float64
	ReadRatio      float64
}

type actor struct {
	id    identity.Identity
	token string
}

// pool tracks what the run has created so later operations have targets.
type pool struct {
	students  []actor
	providers []actor

	mu         sync.Mutex
	pending    []ownedID // appointments awaiting a decision
	confirmed  []ownedID
	ambulances []uuid.UUID
}

type ownedID struct {
	id    uuid.UUID
	owner int // index into students
}

func (p *pool) add(list *[]ownedID, v ownedID) {
	p.mu.Lock()
	*list = append(*list, v)
	p.mu.Unlock()
}

// take removes and returns a random entry.
func (p *pool) take(list *[]ownedID) (ownedID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(*list) == 0 {
		return ownedID{}, false
	}
	i := rand.Intn(len(*list))
	v := (*list)[i]
	(*list)[i] = (*list)[len(*list)-1]
	*list = (*list)[:len(*list)-1]
	return v, true
}

func (p *pool) addAmbulance(id uuid.UUID) {
	p.mu.Lock()
	p.ambulances = append(p.ambulances, id)
	p.mu.Unlock()
}

func (p *pool) takeAmbulance() (uuid.UUID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ambulances) == 0 {
		return uuid.Nil, false
	}
	id := p.ambulances[0]
	p.ambulances = p.ambulances[1:]
	return id, true
}

type Simulator struct {
	config  SimConfig
	pool    *pool
	client  *http.Client
	metrics *Metrics
	log     zerolog.Logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Env, cfg.LogLevel, "simulate")

	simCfg := SimConfig{
		APIBaseURL:     getEnv("SIM_API_URL", "http://localhost:8080"),
		Duration:       getDuration("SIM_DURATION", 60*time.Second),
		Workers:        getInt("SIM_WORKERS", 20),
		Listeners:      getInt("SIM_LISTENERS", 50),
		Students:       getInt("SIM_STUDENTS", 200),
		Providers:      getInt("SIM_PROVIDERS", 5),
		BookingRatio:   getFloat("SIM_BOOKING_RATIO", 0.35),
		DecisionRatio:  getFloat("SIM_DECISION_RATIO", 0.25),
		AmbulanceRatio: getFloat("SIM_AMBULANCE_RATIO", 0.1),
		AlertRatio:     getFloat("SIM_ALERT_RATIO", 0.02),
		ReadRatio:      getFloat("SIM_READ_RATIO", 0.28),
	}

	logger.Info().
		Str("api", simCfg.APIBaseURL).
		Dur("duration", simCfg.Duration).
		Int("workers", simCfg.Workers).
		Int("listeners", simCfg.Listeners).
		Msg("starting simulation")

	if simCfg.Students < 1 || simCfg.Providers < 1 {
		logger.Fatal().Msg("SIM_STUDENTS and SIM_PROVIDERS must be at least 1")
	}

	p, err := newPool(identity.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer), simCfg.Students, simCfg.Providers, simCfg.Duration)
	if err != nil {
		logger.Fatal().Err(err).Msg("mint tokens")
	}

	sim := &Simulator{
		config:  simCfg,
		pool:    p,
		client:  &http.Client{Timeout: 10 * time.Second},
		metrics: &Metrics{},
		log:     logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, simCfg.Duration)
	defer cancel()

	sim.Run(ctx)
	sim.PrintReport()
}

func newPool(v *identity.Verifier, students, providers int, ttl time.Duration) (*pool, error) {
	p := &pool{}
	mint := func(role identity.Role) (actor, error) {
		id := identity.Identity{UserID: uuid.New(), Role: role}
		tok, err := v.Sign(id, ttl+time.Minute)
		return actor{id: id, token: tok}, err
	}
	for i := 0; i < students; i++ {
		a, err := mint(identity.RoleStudent)
		if err != nil {
			return nil, err
		}
		p.students = append(p.students, a)
	}
	for i := 0; i < providers; i++ {
		a, err := mint(identity.RoleProvider)
		if err != nil {
			return nil, err
		}
		p.providers = append(p.providers, a)
	}
	return p, nil
}

func (s *Simulator) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for i := 0; i < s.config.Listeners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.listen(ctx, i)
		}(i)
	}

	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}

	wg.Wait()
}

func (s *Simulator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rand.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.book(ctx)
		case r < s.config.BookingRatio+s.config.DecisionRatio:
			s.decide(ctx)
		case r < s.config.BookingRatio+s.config.DecisionRatio+s.config.AmbulanceRatio:
			s.ambulance(ctx)
		case r < s.config.BookingRatio+s.config.DecisionRatio+s.config.AmbulanceRatio+s.config.AlertRatio:
			s.alert(ctx)
		case r < s.config.BookingRatio+s.config.DecisionRatio+s.config.AmbulanceRatio+s.config.AlertRatio+s.config.ReadRatio:
			s.list(ctx)
		default:
			if rand.Intn(2) == 0 {
				s.reschedule(ctx)
			} else {
				s.resolve(ctx)
			}
		}

		time.Sleep(time.Duration(rand.Intn(50)) * time.Millisecond)
	}
}

func (s *Simulator) book(ctx context.Context) {
	idx := rand.Intn(len(s.pool.students))
	services := appointment.Offerings()
	req := api.CreateAppointmentRequest{
		Service:   string(services[rand.Intn(len(services))]),
		StartTime: futureSlot(),
		Notes:     gofakeit.Adjective() + " " + gofakeit.Noun(),
	}

	var appt struct {
		ID uuid.UUID `json:"id"`
	}
	status, latency, err := s.call(ctx, s.pool.students[idx], http.MethodPost, "/api/v1/appointments", req, &appt)
	s.metrics.Book.Record(latency, err == nil && status == http.StatusCreated, rejected(status))
	if err == nil && status == http.StatusCreated {
		s.pool.add(&s.pool.pending, ownedID{id: appt.ID, owner: idx})
	}
}

func (s *Simulator) decide(ctx context.Context) {
	target, ok := s.pool.take(&s.pool.pending)
	if !ok {
		return
	}
	decision := string(appointment.DecisionConfirm)
	if rand.Intn(5) == 0 {
		decision = string(appointment.DecisionDeny)
	}

	path := fmt.Sprintf("/api/v1/appointments/%s/decision", target.id)
	status, latency, err := s.call(ctx, s.randomProvider(), http.MethodPost, path, api.DecisionRequest{Decision: decision}, nil)
	ok = err == nil && status == http.StatusOK
	s.metrics.Decide.Record(latency, ok, rejected(status))
	if ok && decision == string(appointment.DecisionConfirm) {
		s.pool.add(&s.pool.confirmed, target)
	}
}

func (s *Simulator) reschedule(ctx context.Context) {
	target, ok := s.pool.take(&s.pool.confirmed)
	if !ok {
		return
	}
	path := fmt.Sprintf("/api/v1/appointments/%s/reschedule", target.id)
	status, latency, err := s.call(ctx, s.pool.students[target.owner], http.MethodPost, path,
		api.RescheduleRequest{StartTime: futureSlot()}, nil)
	ok = err == nil && status == http.StatusOK
	s.metrics.Reschedule.Record(latency, ok, rejected(status))
	if ok {
		// Rescheduling sends the appointment back for a decision.
		s.pool.add(&s.pool.pending, target)
	}
}

func (s *Simulator) ambulance(ctx context.Context) {
	body := api.AmbulanceRequestBody{Details: gofakeit.Adjective() + " " + gofakeit.Noun()}
	if rand.Intn(2) == 0 {
		body.Address = gofakeit.Street() + ", " + gofakeit.City()
	} else {
		lat, lon := 40.0+rand.Float64()*0.05, -74.0+rand.Float64()*0.05
		body.Latitude, body.Longitude = &lat, &lon
	}

	var req struct {
		ID uuid.UUID `json:"id"`
	}
	student := s.pool.students[rand.Intn(len(s.pool.students))]
	status, latency, err := s.call(ctx, student, http.MethodPost, "/api/v1/ambulance-requests", body, &req)
	s.metrics.Ambulance.Record(latency, err == nil && status == http.StatusCreated, rejected(status))
	if err == nil && status == http.StatusCreated {
		s.pool.addAmbulance(req.ID)
	}
}

func (s *Simulator) resolve(ctx context.Context) {
	id, ok := s.pool.takeAmbulance()
	if !ok {
		return
	}
	path := fmt.Sprintf("/api/v1/ambulance-requests/%s/resolve", id)
	status, latency, err := s.call(ctx, s.randomProvider(), http.MethodPost, path, nil, nil)
	s.metrics.Resolve.Record(latency, err == nil && status == http.StatusOK, rejected(status))
}

func (s *Simulator) alert(ctx context.Context) {
	priorities := []string{"LOW", "MEDIUM", "HIGH"}
	req := api.CreateAlertRequest{
		Content:         fmt.Sprintf("The %s at %s is %s.", gofakeit.Noun(), gofakeit.Street(), gofakeit.Adjective()),
		Priority:        priorities[rand.Intn(len(priorities))],
		DurationSeconds: 30 + rand.Intn(120),
	}
	status, latency, err := s.call(ctx, s.randomProvider(), http.MethodPost, "/api/v1/alerts", req, nil)
	s.metrics.Alert.Record(latency, err == nil && status == http.StatusCreated, rejected(status))
}

func (s *Simulator) list(ctx context.Context) {
	var who actor
	if rand.Intn(4) == 0 {
		who = s.randomProvider()
	} else {
		who = s.pool.students[rand.Intn(len(s.pool.students))]
	}
	status, latency, err := s.call(ctx, who, http.MethodGet, "/api/v1/appointments?limit=20", nil, nil)
	s.metrics.List.Record(latency, err == nil && status == http.StatusOK, false)
}

// listen holds a websocket open, asks for a snapshot and records how long
// each live event took to arrive after it was committed.
func (s *Simulator) listen(ctx context.Context, n int) {
	var who actor
	if n%5 == 0 && len(s.pool.providers) > 0 {
		who = s.pool.providers[n%len(s.pool.providers)]
	} else {
		who = s.pool.students[n%len(s.pool.students)]
	}

	u, err := url.Parse(s.config.APIBaseURL)
	if err != nil {
		s.log.Error().Err(err).Msg("parse api url")
		return
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"

	header := http.Header{}
	header.Set("Authorization", "Bearer "+who.token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn().Err(err).Int("listener", n).Msg("websocket dial failed")
		}
		return
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	if err := conn.WriteJSON(api.ClientFrame{Type: "snapshot"}); err != nil {
		return
	}

	for {
		var f hub.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Type != hub.FrameEvent || f.Event == nil {
			continue
		}
		s.metrics.Delivery.Record(time.Since(f.Event.OccurredAt), true, false)
	}
}

// call sends one request as a and decodes a 2xx body into out.
func (s *Simulator) call(ctx context.Context, a actor, method, path string, in, out any) (int, time.Duration, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, 0, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, body)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode/100 == 2 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, err
		}
		return resp.StatusCode, latency, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, latency, nil
}

func (s *Simulator) randomProvider() actor {
	return s.pool.providers[rand.Intn(len(s.pool.providers))]
}

func rejected(status int) bool {
	return status == http.StatusConflict || status == http.StatusTooManyRequests
}

func futureSlot() time.Time {
	now := time.Now().UTC().Truncate(15 * time.Minute)
	return now.Add(time.Duration(4+rand.Intn(14*24*4)) * 15 * time.Minute)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
