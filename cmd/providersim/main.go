// Command providersim is a standalone mock upstream provider implementing
// the key/action form API the panel integrates with. It exists for local
// development: point a registered provider at it and the reconciliation
// engine can be exercised end to end without a real reseller account.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type simConfig struct {
	Port   string `envconfig:"PORT" default:"9090"`
	APIKey string `envconfig:"API_KEY" default:"sim-key"`

	// Flakiness knobs. PlaceFailRate is the probability an "add" call is
	// rejected; CancelRate is the probability a placed order ends up
	// cancelled instead of completing.
	PlaceFailRate float64 `envconfig:"PLACE_FAIL_RATE" default:"0.1"`
	CancelRate    float64 `envconfig:"CANCEL_RATE" default:"0.05"`

	// DeliveryDuration is how long an order takes from placement to full
	// delivery.
	DeliveryDuration time.Duration `envconfig:"DELIVERY_DURATION" default:"2m"`

	MinLatency time.Duration `envconfig:"MIN_LATENCY" default:"5ms"`
	MaxLatency time.Duration `envconfig:"MAX_LATENCY" default:"150ms"`
}

type simOrder struct {
	id         int
	quantity   int
	startCount int
	placedAt   time.Time
	cancelled  bool
}

type simulator struct {
	cfg    simConfig
	mu     sync.Mutex
	nextID int
	orders map[string]*simOrder
}

func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

func main() {
	var cfg simConfig
	if err := envconfig.Process("SIM", &cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to load simulator configuration")
	}

	sim := &simulator{
		cfg:    cfg,
		nextID: 10000,
		orders: make(map[string]*simOrder),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.POST("/", sim.handle)
	router.POST("/api/v2", sim.handle)

	log.Info().
		Str("port", cfg.Port).
		Float64("place_fail_rate", cfg.PlaceFailRate).
		Float64("cancel_rate", cfg.CancelRate).
		Msg("provider simulator listening")

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("simulator exited")
	}
}

func (s *simulator) handle(c *gin.Context) {
	s.simulateLatency()

	if c.PostForm("key") != s.cfg.APIKey {
		c.JSON(200, gin.H{"error": "Invalid API key"})
		return
	}

	switch c.PostForm("action") {
	case "add":
		s.handleAdd(c)
	case "status":
		s.handleStatus(c)
	case "balance":
		c.JSON(200, gin.H{"balance": "1250.40", "currency": "USD"})
	case "services":
		s.handleServices(c)
	default:
		c.JSON(200, gin.H{"error": "Unknown action"})
	}
}

func (s *simulator) handleAdd(c *gin.Context) {
	if rand.Float64() < s.cfg.PlaceFailRate {
		c.JSON(200, gin.H{"error": "Order temporarily unavailable"})
		return
	}

	quantity, err := strconv.Atoi(c.PostForm("quantity"))
	if err != nil || quantity <= 0 {
		c.JSON(200, gin.H{"error": "Invalid quantity"})
		return
	}

	s.mu.Lock()
	s.nextID++
	order := &simOrder{
		id:         s.nextID,
		quantity:   quantity,
		startCount: rand.Intn(5000),
		placedAt:   time.Now(),
		cancelled:  rand.Float64() < s.cfg.CancelRate,
	}
	s.orders[strconv.Itoa(order.id)] = order
	s.mu.Unlock()

	log.Info().Int("order", order.id).Int("quantity", quantity).Bool("will_cancel", order.cancelled).Msg("order placed")
	c.JSON(200, gin.H{"order": order.id})
}

func (s *simulator) handleStatus(c *gin.Context) {
	s.mu.Lock()
	order, ok := s.orders[c.PostForm("order")]
	s.mu.Unlock()

	if !ok {
		c.JSON(200, gin.H{"error": "Order not found"})
		return
	}

	elapsed := time.Since(order.placedAt)
	progress := float64(elapsed) / float64(s.cfg.DeliveryDuration)
	if progress > 1 {
		progress = 1
	}

	status := "In progress"
	switch {
	case order.cancelled && progress > 0.5:
		status = "Cancelled"
		progress = 0.5
	case progress >= 1:
		status = "Completed"
	}

	delivered := int(float64(order.quantity) * progress)
	c.JSON(200, gin.H{
		"status":      status,
		"start_count": strconv.Itoa(order.startCount),
		"current":     strconv.Itoa(order.startCount + delivered),
		"remains":     strconv.Itoa(order.quantity - delivered),
		"charge":      fmt.Sprintf("%d", order.quantity),
	})
}

func (s *simulator) handleServices(c *gin.Context) {
	c.JSON(200, []gin.H{
		{"service": "101", "name": "Followers - HQ", "category": "Followers", "rate": "2.40", "min": "50", "max": "50000"},
		{"service": "102", "name": "Video Views", "category": "Views", "rate": "0.90", "min": "100", "max": "1000000"},
		{"service": "103", "name": "Likes - Instant", "category": "Likes", "rate": "1.10", "min": "20", "max": "20000"},
	})
}

func (s *simulator) simulateLatency() {
	span := s.cfg.MaxLatency - s.cfg.MinLatency
	if span <= 0 {
		return
	}
	time.Sleep(s.cfg.MinLatency + time.Duration(rand.Int63n(int64(span))))
}
