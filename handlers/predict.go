package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"taxiflow/errors"
	"taxiflow/features"
	"taxiflow/metrics"
	"taxiflow/services"
)

const predictionTTL = 10 * time.Minute

type PredictHandler struct {
	models *services.ModelService
	cache  *services.CacheService
}

func NewPredictHandler(models *services.ModelService, cache *services.CacheService) *PredictHandler {
	return &PredictHandler{models: models, cache: cache}
}

type PredictResponse struct {
	Duration        float64 `json:"duration"`
	PickupLocation  int64   `json:"pickup_location"`
	DropoffLocation int64   `json:"dropoff_location"`
	TripDistance    float64 `json:"trip_distance"`
}

func (h *PredictHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"model_loaded": h.models.Loaded(),
		"service":      "taxiflow duration prediction",
	})
}

func (h *PredictHandler) Predict(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no JSON data provided"})
		return
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var ride map[string]interface{}
	if err := dec.Decode(&ride); err != nil || ride == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
		return
	}

	trip, err := features.ParseTrip(ride)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	vec := features.Prepare(trip)
	resp := PredictResponse{
		PickupLocation:  trip.PULocationID,
		DropoffLocation: trip.DOLocationID,
		TripDistance:    trip.TripDistance,
	}

	ctx := c.Request.Context()
	key := fmt.Sprintf("predict:%s:%s", vec.PUDO, strconv.FormatFloat(vec.TripDistance, 'f', -1, 64))
	var cached float64
	if err := h.cache.Get(ctx, key, &cached); err == nil {
		metrics.APIPredictions.WithLabelValues("cache").Inc()
		resp.Duration = cached
		c.JSON(http.StatusOK, resp)
		return
	}

	model, err := h.models.Get()
	if err != nil {
		metrics.APIPredictionErrors.Inc()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model not available"})
		return
	}
	preds, err := model.Predict([]features.Vector{vec})
	if err != nil {
		metrics.APIPredictionErrors.Inc()
		status := http.StatusInternalServerError
		if errors.Is(err, errors.ErrTransform) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	resp.Duration = preds[0]
	metrics.APIPredictions.WithLabelValues("model").Inc()
	log.Debug().Str("pu_do", vec.PUDO).Float64("duration", resp.Duration).Msg("prediction served")
	go func() {
		_ = h.cache.Set(context.Background(), key, resp.Duration, predictionTTL)
	}()
	c.JSON(http.StatusOK, resp)
}
