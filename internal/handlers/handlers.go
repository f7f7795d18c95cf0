package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/Brownie44l1/clothing-api/internal/classifier"
	"github.com/Brownie44l1/clothing-api/internal/metrics"
	"github.com/Brownie44l1/clothing-api/internal/model"
)

// StatusClientClosedRequest is logged and counted when the caller goes away
// before a prediction finishes.
const StatusClientClosedRequest = 499

// Predictor classifies the image behind a URL.
type Predictor interface {
	Predict(ctx context.Context, url string) (*model.Result, error)
}

type serving struct {
	predictor Predictor
}

// Handler answers every route. It starts out not ready; Serve flips it to
// ready exactly once.
type Handler struct {
	state  atomic.Pointer[serving]
	logger klog.Logger
}

func NewHandler(logger klog.Logger) *Handler {
	return &Handler{logger: logger}
}

// Serve installs the predictor and marks the handler ready.
func (h *Handler) Serve(p Predictor) {
	if h.state.CompareAndSwap(nil, &serving{predictor: p}) {
		metrics.ModelReady.Set(1)
		h.logger.Info("model ready, accepting traffic")
	}
}

func (h *Handler) Ready() bool {
	return h.state.Load() != nil
}

// Router builds the gin engine with both routes plus /metrics.
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(h.logger), gin.Recovery())

	router.GET("/health", h.Health)
	router.POST("/predict", h.Predict)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	return router
}

func (h *Handler) Health(c *gin.Context) {
	if !h.Ready() {
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
			Error:   classifier.ReasonNotReady,
			Message: "model is still loading",
		})
		return
	}
	c.JSON(http.StatusOK, model.HealthResponse{Status: "healthy"})
}

func (h *Handler) Predict(c *gin.Context) {
	st := h.state.Load()
	if st == nil {
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
			Error:   classifier.ReasonNotReady,
			Message: "model is still loading",
		})
		return
	}

	var req model.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, &classifier.ValidationError{Err: err})
		return
	}

	result, err := st.predictor.Predict(c.Request.Context(), req.URL)
	if err != nil {
		h.fail(c, err)
		return
	}

	metrics.Predictions.WithLabelValues("ok").Inc()
	klog.FromContext(c.Request.Context()).V(1).Info("prediction",
		"url", req.URL, "topClass", result.TopClass, "topProbability", result.TopProbability)
	c.JSON(http.StatusOK, result)
}

func (h *Handler) fail(c *gin.Context, err error) {
	logger := klog.FromContext(c.Request.Context())

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if c.Request.Context().Err() != nil {
			metrics.Predictions.WithLabelValues("canceled").Inc()
			logger.V(1).Info("client went away before prediction finished")
			c.AbortWithStatus(StatusClientClosedRequest)
			return
		}
	}

	status, reason := StatusFor(err)
	metrics.Predictions.WithLabelValues(reason).Inc()
	if status >= http.StatusInternalServerError {
		logger.Error(err, "prediction failed", "reason", reason)
	} else {
		logger.V(1).Info("rejected prediction request", "reason", reason, "err", err.Error())
	}
	c.JSON(status, model.ErrorResponse{Error: reason, Message: err.Error()})
}

// StatusFor maps a prediction error to its HTTP status and reason string.
func StatusFor(err error) (int, string) {
	var (
		validationErr *classifier.ValidationError
		fetchErr      *classifier.FetchError
		decodeErr     *classifier.DecodeError
		inferenceErr  *classifier.InferenceError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusUnprocessableEntity, classifier.ReasonValidation
	case errors.As(err, &fetchErr):
		return http.StatusBadRequest, classifier.ReasonFetch
	case errors.As(err, &decodeErr):
		return http.StatusUnsupportedMediaType, classifier.ReasonDecode
	case errors.As(err, &inferenceErr):
		return http.StatusInternalServerError, classifier.ReasonInference
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func requestLogger(base klog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-Id", id)

		logger := base.WithValues("requestID", id)
		c.Request = c.Request.WithContext(klog.NewContext(c.Request.Context(), logger))

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		logger.V(2).Info("request", "method", c.Request.Method, "route", route,
			"status", status, "latency", time.Since(start))
	}
}
