package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"booner/internal/analysis/features"
	"booner/internal/executor"
	"booner/internal/gateway/venue"
	"booner/internal/monitor"
	"booner/internal/pipeline"
	"booner/internal/store"
	"booner/internal/types"

	"github.com/gin-gonic/gin"
)

// ErrUnsupported is returned by engine methods the running configuration
// cannot serve, e.g. price injection on a live venue.
var ErrUnsupported = errors.New("not supported by this engine")

// ErrBadRequest marks caller mistakes that map to HTTP 400.
var ErrBadRequest = errors.New("bad request")

// Engine is what the HTTP surface drives.
type Engine interface {
	HandleSignal(ctx context.Context, req SignalRequest) (SignalResult, error)
	UpdateTrend(ctx context.Context, req TrendRequest) (types.Trend, error)
	UpdatePrice(ctx context.Context, req PriceRequest) error
	Decisions(ctx context.Context, asset string, limit int) ([]store.DecisionRecord, error)
	Positions(ctx context.Context, filter store.PositionFilter) ([]types.Position, error)
	Weights(ctx context.Context, asset, strategy string) (types.PillarWeights, error)
	WeightHistory(ctx context.Context, asset, strategy string, limit int) ([]store.WeightHistoryRecord, error)
	WeightDrift(ctx context.Context, asset, strategy string) (map[string]float64, error)
	Cooldown(ctx context.Context, asset string) (time.Duration, error)
	Poll(ctx context.Context) ([]monitor.CheckResult, error)
}

// SignalRequest carries either a scored FeatureVector or raw candles the
// engine derives one from.
type SignalRequest struct {
	Asset     string               `json:"asset"`
	Strategy  string               `json:"strategy"`
	Direction types.Direction      `json:"direction"`
	Size      float64              `json:"size,omitempty"`
	DryRun    bool                 `json:"dry_run,omitempty"`
	Features  *types.FeatureVector `json:"features,omitempty"`
	Candles   []features.Candle    `json:"candles,omitempty"`
	Sentiment *float64             `json:"sentiment,omitempty"`
}

// Execution describes what happened after the decision.
type Execution string

const (
	ExecutionSkipped Execution = "skipped"
	ExecutionDryRun  Execution = "dry_run"
	ExecutionOpened  Execution = "opened"
	ExecutionRefused Execution = "refused"
	ExecutionFailed  Execution = "failed"
)

type SignalResult struct {
	Decision  pipeline.Decision `json:"decision"`
	Execution Execution         `json:"execution"`
	Position  *types.Position   `json:"position,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// TrendRequest sets a correlated asset's trend directly or from candles.
type TrendRequest struct {
	Asset   string            `json:"asset"`
	Trend   types.Trend       `json:"trend,omitempty"`
	Candles []features.Candle `json:"candles,omitempty"`
}

type PriceRequest struct {
	Asset string  `json:"asset"`
	Bid   float64 `json:"bid"`
	Ask   float64 `json:"ask"`
}

type checkView struct {
	PositionID string            `json:"position_id"`
	Action     monitor.Action    `json:"action"`
	Reason     types.CloseReason `json:"reason,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type Router struct {
	engine Engine
}

func NewRouter(engine Engine) *Router {
	return &Router{engine: engine}
}

// Register mounts the routes under group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/signals", r.handleSignal)
	group.POST("/trends", r.handleTrend)
	group.POST("/prices", r.handlePrice)
	group.GET("/decisions", r.handleDecisions)
	group.GET("/positions", r.handlePositions)
	group.POST("/positions/check", r.handlePoll)
	group.GET("/cooldowns/:asset", r.handleCooldown)
	group.GET("/weights/:asset/:strategy", r.handleWeights)
	group.GET("/weights/:asset/:strategy/history", r.handleWeightHistory)
	group.GET("/weights/:asset/:strategy/drift", r.handleWeightDrift)
}

func (r *Router) handleSignal(c *gin.Context) {
	var req SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := r.engine.HandleSignal(c.Request.Context(), req)
	if err != nil && res.Decision.ID == "" {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if err != nil {
		status = errorStatus(err)
		res.Error = err.Error()
	}
	c.JSON(status, res)
}

func (r *Router) handleTrend(c *gin.Context) {
	var req TrendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	trend, err := r.engine.UpdateTrend(c.Request.Context(), req)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": types.NormalizeAsset(req.Asset), "trend": trend})
}

func (r *Router) handlePrice(c *gin.Context) {
	var req PriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.engine.UpdatePrice(c.Request.Context(), req); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleDecisions(c *gin.Context) {
	limit := parseLimit(c, 100, 500)
	recs, err := r.engine.Decisions(c.Request.Context(), c.Query("asset"), limit)
	if err != nil {
		log.Errorf("list decisions failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": recs, "count": len(recs)})
}

func (r *Router) handlePositions(c *gin.Context) {
	filter := store.PositionFilter{
		Status:   types.PositionStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		Asset:    c.Query("asset"),
		Strategy: c.Query("strategy"),
		Limit:    parseLimit(c, 100, 500),
	}
	positions, err := r.engine.Positions(c.Request.Context(), filter)
	if err != nil {
		log.Errorf("list positions failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

func (r *Router) handlePoll(c *gin.Context) {
	results, err := r.engine.Poll(c.Request.Context())
	views := make([]checkView, 0, len(results))
	for _, res := range results {
		v := checkView{PositionID: res.PositionID, Action: res.Action, Reason: res.Reason}
		if res.Err != nil {
			v.Error = res.Err.Error()
		}
		views = append(views, v)
	}
	body := gin.H{"results": views}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (r *Router) handleCooldown(c *gin.Context) {
	asset := types.NormalizeAsset(c.Param("asset"))
	remaining, err := r.engine.Cooldown(c.Request.Context(), asset)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"asset":             asset,
		"active":            remaining > 0,
		"remaining_seconds": int64(remaining.Round(time.Second) / time.Second),
	})
}

func (r *Router) handleWeights(c *gin.Context) {
	asset, strat := weightKey(c)
	w, err := r.engine.Weights(c.Request.Context(), asset, strat)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": asset, "strategy": strat, "weights": w})
}

func (r *Router) handleWeightHistory(c *gin.Context) {
	asset, strat := weightKey(c)
	recs, err := r.engine.WeightHistory(c.Request.Context(), asset, strat, parseLimit(c, 50, 500))
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": asset, "strategy": strat, "history": recs})
}

func (r *Router) handleWeightDrift(c *gin.Context) {
	asset, strat := weightKey(c)
	drift, err := r.engine.WeightDrift(c.Request.Context(), asset, strat)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": asset, "strategy": strat, "drift": drift})
}

func weightKey(c *gin.Context) (string, string) {
	return types.NormalizeAsset(c.Param("asset")), types.NormalizeStrategy(c.Param("strategy"))
}

func parseLimit(c *gin.Context, def, max int) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, pipeline.ErrInvalidSignal), errors.Is(err, pipeline.ErrNoPillarOverlap):
		return http.StatusBadRequest
	case errors.Is(err, executor.ErrDuplicateInProgress), errors.Is(err, executor.ErrCooldownActive):
		return http.StatusConflict
	case errors.Is(err, ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded), venue.IsKind(err, venue.KindTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, new(*venue.Error)):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
