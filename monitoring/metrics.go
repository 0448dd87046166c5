package monitoring

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	waitingUsers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "waiting_room_waiting_users",
			Help: "Current waiting list length per event",
		},
		[]string{"event_id"},
	)

	activeSlots = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "waiting_room_active_slots",
			Help: "Current live active slots per event",
		},
		[]string{"event_id"},
	)

	queueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waiting_room_operations_total",
			Help: "Total queue operations by outcome",
		},
		[]string{"operation", "event_id", "status"},
	)

	reclaimedSlots = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waiting_room_reclaimed_slots_total",
			Help: "Total expired slots reclaimed by the worker",
		},
		[]string{"event_id"},
	)

	promotedUsers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waiting_room_promoted_users_total",
			Help: "Total waiting users promoted to active",
		},
		[]string{"event_id"},
	)

	workerPassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waiting_room_worker_pass_seconds",
			Help:    "Duration of one worker pass per event",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"event_id"},
	)
)

type Monitor struct {
	redis *redis.Client
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	return &Monitor{redis: redisClient}
}

// Collect periodically samples the per-event gauges from Redis until the
// context is cancelled.
func (m *Monitor) Collect(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.collectQueueGauges(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) collectQueueGauges(ctx context.Context) {
	eventIDs, err := m.redis.SMembers(ctx, "queue:events").Result()
	if err != nil {
		return
	}

	now := strconv.FormatInt(time.Now().Unix(), 10)

	for _, eventID := range eventIDs {
		waiting, _ := m.redis.LLen(ctx, "queue:waiting:"+eventID).Result()
		waitingUsers.WithLabelValues(eventID).Set(float64(waiting))

		active, _ := m.redis.ZCount(ctx, "queue:active:"+eventID, now, "+inf").Result()
		activeSlots.WithLabelValues(eventID).Set(float64(active))
	}
}

func (m *Monitor) TrackQueueOperation(operation, eventID, status string) {
	queueOperations.WithLabelValues(operation, eventID, status).Inc()
}

// TrackWorkerPass records the outcome of one per-event worker pass.
func (m *Monitor) TrackWorkerPass(eventID string, duration time.Duration, reclaimed, promoted int) {
	workerPassDuration.WithLabelValues(eventID).Observe(duration.Seconds())
	reclaimedSlots.WithLabelValues(eventID).Add(float64(reclaimed))
	promotedUsers.WithLabelValues(eventID).Add(float64(promoted))
}
